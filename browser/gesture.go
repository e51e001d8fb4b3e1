package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/ewjdev/anyclick/gesture"
)

//go:embed gesture.js
var gestureJS []byte

const bindingName = "__anyclick_binding"

// wireEvent is the JSON shape sent by gesture.js over the binding.
type wireEvent struct {
	Kind     string  `json:"kind"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Touches  int     `json:"touches"`
	Button   int     `json:"button"`
	Modifier bool    `json:"modifier"`
	IsTouch  bool    `json:"isTouch"`
	Target   *struct {
		Selector  string   `json:"selector"`
		Tag       string   `json:"tag"`
		ID        string   `json:"id"`
		Classes   []string `json:"classes"`
		Ignored   bool     `json:"ignored"`
		Ancestors []string `json:"ancestors"`
	} `json:"target"`
}

var wireKinds = map[string]gesture.Kind{
	"contextmenu": gesture.KindContextMenu,
	"touchstart":  gesture.KindTouchStart,
	"touchmove":   gesture.KindTouchMove,
	"touchend":    gesture.KindTouchEnd,
	"touchcancel": gesture.KindTouchCancel,
	"click":       gesture.KindClick,
	"pointerdown": gesture.KindPointerDown,
}

// Forwarder injects gesture.js into a tab and feeds binding calls into a
// gesture detector.
type Forwarder struct {
	tab      *Tab
	detector *gesture.Detector
	log      *slog.Logger
	cancel   context.CancelFunc
}

// NewForwarder wires a tab to a detector. Call Start to inject and listen.
func NewForwarder(tab *Tab, detector *gesture.Detector, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{tab: tab, detector: detector, log: log}
}

// Start registers the runtime binding, starts the listener, and injects
// the page script.
func (f *Forwarder) Start(ctx context.Context) error {
	page := f.tab.Page

	if err := (proto.RuntimeAddBinding{Name: bindingName}.Call(page)); err != nil {
		f.log.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.listen(lctx)

	if _, err := page.Context(ctx).Eval(string(gestureJS)); err != nil {
		cancel()
		return fmt.Errorf("browser: inject gesture.js: %w", err)
	}

	f.detector.Attach()
	f.log.Debug("browser: gesture forwarder started", "url", f.tab.PageURL, "tab", f.tab.TabID)
	return nil
}

// Stop detaches the detector and stops the listener.
func (f *Forwarder) Stop() {
	f.detector.Detach()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Forwarder) listen(ctx context.Context) {
	page := f.tab.Page
	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var raw wireEvent
		if err := json.Unmarshal([]byte(e.Payload), &raw); err != nil {
			f.log.Warn("browser: malformed gesture event", "error", err)
			return
		}
		f.dispatch(ctx, raw)
	})
	wait()
}

func (f *Forwarder) dispatch(ctx context.Context, raw wireEvent) {
	kind, ok := wireKinds[raw.Kind]
	if !ok {
		f.log.Warn("browser: unknown gesture kind", "kind", raw.Kind)
		return
	}

	ev := gesture.Event{
		Kind:        kind,
		X:           raw.X,
		Y:           raw.Y,
		Touches:     raw.Touches,
		Button:      raw.Button,
		HasModifier: raw.Modifier,
		IsTouch:     raw.IsTouch,
		Time:        time.Now(),
	}
	if t := raw.Target; t != nil {
		sel := t.Selector
		ev.Target = &gesture.Target{
			Selector:  sel,
			Tag:       t.Tag,
			ID:        t.ID,
			Classes:   t.Classes,
			Ignored:   t.Ignored,
			Ancestors: t.Ancestors,
			Attached: func() bool {
				actx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				return f.tab.Attached(actx, sel)
			},
		}
	}

	f.detector.Handle(ev)
}

// SuppressNextContextMenu flags the page so the synthetic contextmenu that
// trails a long-press is swallowed. Call from the menu callback when the
// trigger was touch-originated.
func (f *Forwarder) SuppressNextContextMenu(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := f.tab.Page.Context(sctx).Eval(`() => { window.__anyclick_suppress = true; }`); err != nil {
		f.log.Debug("browser: suppress flag failed", "error", err)
	}
}
