package gesture

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// State is the touch-path state of the detector. The mouse path is
// stateless and never leaves Idle.
type State int

const (
	StateIdle State = iota
	StateTouchArmed
	StateTouchTriggered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTouchArmed:
		return "touch-armed"
	case StateTouchTriggered:
		return "touch-triggered"
	}
	return "unknown"
}

// TargetFilter decides whether an element qualifies as a capture target.
type TargetFilter func(*Target) bool

// DefaultTargetFilter rejects nil targets, the document root/body, and
// elements carrying the capture-ignore marker.
func DefaultTargetFilter(t *Target) bool {
	if t == nil || t.Ignored {
		return false
	}
	switch t.Tag {
	case "html", "body":
		return false
	}
	return true
}

// MenuFunc is the caller-supplied menu callback. Returning true means the
// menu was shown and the native context menu must be suppressed; false lets
// the native menu through (e.g. a disabled scope).
type MenuFunc func(MenuEvent, *Target) bool

// ResultFunc receives the outcome of a submission for the pending element.
type ResultFunc func(err error)

// Options tunes the detector.
type Options struct {
	// HoldDuration is the touch-hold time before triggering. Default: 500ms.
	HoldDuration time.Duration
	// MoveThreshold is the touch travel in px that cancels arming, allowing
	// normal scrolling. Default: 10.
	MoveThreshold float64
	// TargetFilter overrides DefaultTargetFilter.
	TargetFilter TargetFilter
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.HoldDuration <= 0 {
		o.HoldDuration = 500 * time.Millisecond
	}
	if o.MoveThreshold <= 0 {
		o.MoveThreshold = 10
	}
	if o.TargetFilter == nil {
		o.TargetFilter = DefaultTargetFilter
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Detector is the gesture state machine. Safe for concurrent use; the hold
// timer fires on its own goroutine.
type Detector struct {
	mu   sync.Mutex
	opts Options

	onMenu   MenuFunc
	onResult ResultFunc

	attached  bool
	container string // scope selector, "" = unscoped

	state   State
	pending *Target

	// Touch bookkeeping, valid only while state != Idle.
	holdTimer   *time.Timer
	holdGen     uint64 // invalidates late timer fires after a reset
	startX      float64
	startY      float64
	startTarget *Target
}

// New creates a Detector with the given menu callback.
func New(opts Options, onMenu MenuFunc) *Detector {
	opts.defaults()
	return &Detector{opts: opts, onMenu: onMenu}
}

// SetResultCallback installs the submission-result callback.
func (d *Detector) SetResultCallback(fn ResultFunc) {
	d.mu.Lock()
	d.onResult = fn
	d.mu.Unlock()
}

// Attach enables event processing. Idempotent.
func (d *Detector) Attach() {
	d.mu.Lock()
	d.attached = true
	d.mu.Unlock()
}

// Detach disables event processing and releases all state, including the
// pending element. Safe to call without a prior Attach.
func (d *Detector) Detach() {
	d.mu.Lock()
	d.attached = false
	d.resetTouchLocked()
	d.pending = nil
	d.mu.Unlock()
}

// SetContainer scopes the detector to a container selector ("" unscopes).
// The attach state is preserved; transient touch state is reset, as a real
// listener re-attachment would do.
func (d *Detector) SetContainer(selector string) {
	d.mu.Lock()
	d.container = selector
	d.resetTouchLocked()
	d.mu.Unlock()
}

// State returns the current touch-path state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// PendingElement returns the armed element, or nil.
func (d *Detector) PendingElement() *Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// ClearPendingElement releases the armed element.
func (d *Detector) ClearPendingElement() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

// SubmissionResult reports the outcome of submitting the pending element.
// A successful submission consumes the pending slot.
func (d *Detector) SubmissionResult(err error) {
	d.mu.Lock()
	if err == nil {
		d.pending = nil
	}
	fn := d.onResult
	d.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Handle processes one normalized event. The returned bool is the
// "consumed" signal: a scoped detector that handled an event reports true so
// outer detectors do not double-fire, and a contextmenu reported as consumed
// must have its native menu suppressed.
func (d *Detector) Handle(ev Event) bool {
	d.mu.Lock()

	if !d.attached {
		d.mu.Unlock()
		return false
	}

	// Container scoping applies to gesture-initiating events only; state
	// resets must run regardless of where the finishing event lands.
	if d.container != "" && (ev.Kind == KindContextMenu || ev.Kind == KindTouchStart) {
		if !ev.Target.contains(d.container) {
			d.mu.Unlock()
			return false
		}
	}

	switch ev.Kind {
	case KindContextMenu:
		return d.handleContextMenuLocked(ev)
	case KindTouchStart:
		d.handleTouchStartLocked(ev)
		d.mu.Unlock()
		return false
	case KindTouchMove:
		d.handleTouchMoveLocked(ev)
		d.mu.Unlock()
		return false
	case KindTouchEnd, KindTouchCancel, KindClick:
		d.resetTouchLocked()
		d.mu.Unlock()
		return false
	case KindPointerDown:
		if !ev.IsTouch {
			d.resetTouchLocked()
		}
		d.mu.Unlock()
		return false
	}

	d.mu.Unlock()
	return false
}

// handleContextMenuLocked is entered with the lock held and releases it.
func (d *Detector) handleContextMenuLocked(ev Event) bool {
	// Heuristic: a contextmenu without modifiers and without the right
	// mouse button is touch-originated. Best-effort on hybrid devices.
	touchOrigin := !ev.HasModifier && ev.Button != 2

	if touchOrigin && d.state == StateTouchTriggered {
		// The synthetic menu already fired; swallow the native event.
		d.mu.Unlock()
		return true
	}

	if touchOrigin && d.state == StateTouchArmed {
		// Short-circuit the remaining hold time.
		target := d.startTarget
		x, y := d.startX, d.startY
		if !target.attached() {
			d.resetTouchLocked()
			d.mu.Unlock()
			return true
		}
		d.stopHoldTimerLocked()
		d.state = StateTouchTriggered
		d.pending = target
		menu := d.onMenu
		d.opts.Logger.Debug("gesture: hold short-circuited by contextmenu", "selector", target.Selector)
		d.mu.Unlock()

		if menu != nil {
			menu(MenuEvent{X: x, Y: y, IsTouch: true}, target)
		}
		return true
	}

	// Mouse path (also the fallback for an idle touch-flavored event).
	if !d.opts.TargetFilter(ev.Target) {
		d.mu.Unlock()
		return false
	}

	d.pending = ev.Target
	menu := d.onMenu
	d.opts.Logger.Debug("gesture: contextmenu on target", "selector", ev.Target.Selector)
	d.mu.Unlock()

	if menu == nil {
		return false
	}
	return menu(MenuEvent{X: ev.X, Y: ev.Y, IsTouch: false}, ev.Target)
}

func (d *Detector) handleTouchStartLocked(ev Event) {
	if ev.Touches != 1 {
		// Multi-touch never arms and cancels anything in flight.
		d.resetTouchLocked()
		return
	}
	if !d.opts.TargetFilter(ev.Target) {
		return
	}

	d.resetTouchLocked()
	d.state = StateTouchArmed
	d.startX, d.startY = ev.X, ev.Y
	d.startTarget = ev.Target
	d.opts.Logger.Debug("gesture: touch armed", "selector", ev.Target.Selector)

	d.holdGen++
	gen := d.holdGen
	d.holdTimer = time.AfterFunc(d.opts.HoldDuration, func() {
		d.onHoldExpired(gen)
	})
}

func (d *Detector) handleTouchMoveLocked(ev Event) {
	if d.state != StateTouchArmed {
		return
	}
	dx := ev.X - d.startX
	dy := ev.Y - d.startY
	if math.Hypot(dx, dy) > d.opts.MoveThreshold {
		// The user is scrolling.
		d.opts.Logger.Debug("gesture: touch moved past threshold, disarmed")
		d.resetTouchLocked()
	}
}

// onHoldExpired fires on the timer goroutine. The generation guard makes a
// timer that lost the Stop race a no-op.
func (d *Detector) onHoldExpired(gen uint64) {
	d.mu.Lock()
	if gen != d.holdGen || d.state != StateTouchArmed {
		d.mu.Unlock()
		return
	}

	target := d.startTarget
	if !target.attached() {
		d.resetTouchLocked()
		d.mu.Unlock()
		return
	}

	d.state = StateTouchTriggered
	d.pending = target
	x, y := d.startX, d.startY
	menu := d.onMenu
	d.opts.Logger.Debug("gesture: hold expired, menu triggered", "selector", target.Selector)
	d.mu.Unlock()

	if menu != nil {
		menu(MenuEvent{X: x, Y: y, IsTouch: true}, target)
	}
}

// resetTouchLocked returns the touch path to Idle and releases every piece
// of touch bookkeeping. The pending element is not touched — it is consumed
// by submission or an explicit clear.
func (d *Detector) resetTouchLocked() {
	d.stopHoldTimerLocked()
	d.state = StateIdle
	d.startX, d.startY = 0, 0
	d.startTarget = nil
}

func (d *Detector) stopHoldTimerLocked() {
	d.holdGen++ // invalidate any in-flight fire
	if d.holdTimer != nil {
		d.holdTimer.Stop()
		d.holdTimer = nil
	}
}
