package gesture

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testHold      = 50 * time.Millisecond
	testThreshold = 10.0
)

// menuRecorder counts menu invocations and records the last event.
type menuRecorder struct {
	mu      sync.Mutex
	count   int
	last    MenuEvent
	target  *Target
	handled bool
}

func (m *menuRecorder) fn(ev MenuEvent, t *Target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	m.last = ev
	m.target = t
	return m.handled
}

func (m *menuRecorder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *menuRecorder) lastEvent() MenuEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func newTestDetector(t *testing.T, rec *menuRecorder) *Detector {
	t.Helper()
	d := New(Options{HoldDuration: testHold, MoveThreshold: testThreshold}, rec.fn)
	d.Attach()
	return d
}

func button() *Target {
	return &Target{Selector: "#btn", Tag: "button", Ancestors: []string{"#form", "body"}}
}

func touchStart(x, y float64, target *Target) Event {
	return Event{Kind: KindTouchStart, X: x, Y: y, Touches: 1, Target: target}
}

func TestMouseContextMenuTriggers(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	consumed := d.Handle(Event{Kind: KindContextMenu, X: 40, Y: 50, Button: 2, Target: button()})
	if !consumed {
		t.Fatal("handled menu must suppress the native menu")
	}
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want 1", rec.calls())
	}
	ev := rec.lastEvent()
	if ev.IsTouch || ev.X != 40 || ev.Y != 50 {
		t.Fatalf("unexpected menu event: %+v", ev)
	}
	if d.PendingElement() == nil {
		t.Fatal("pending element not set")
	}
	if d.State() != StateIdle {
		t.Fatal("mouse path must not leave Idle")
	}
}

func TestMouseContextMenuNotHandledAllowsNative(t *testing.T) {
	rec := &menuRecorder{handled: false}
	d := newTestDetector(t, rec)

	if d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: button()}) {
		t.Fatal("unhandled menu must let the native menu through")
	}
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want 1", rec.calls())
	}
}

func TestTargetFilterRejectsSilently(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	for _, target := range []*Target{
		nil,
		{Tag: "body"},
		{Tag: "html"},
		{Tag: "div", Ignored: true},
	} {
		if d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: target}) {
			t.Fatalf("filtered target %+v must not be consumed", target)
		}
	}
	if rec.calls() != 0 {
		t.Fatalf("menu calls = %d, want 0", rec.calls())
	}
	if d.PendingElement() != nil {
		t.Fatal("pending must stay nil for filtered targets")
	}
}

func TestTouchHoldFires(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(touchStart(100, 100, button()))
	if d.State() != StateTouchArmed {
		t.Fatalf("state = %v, want TouchArmed", d.State())
	}

	time.Sleep(testHold + 30*time.Millisecond)

	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want 1", rec.calls())
	}
	ev := rec.lastEvent()
	if !ev.IsTouch || ev.X != 100 || ev.Y != 100 {
		t.Fatalf("unexpected menu event: %+v", ev)
	}
	if d.State() != StateTouchTriggered {
		t.Fatalf("state = %v, want TouchTriggered", d.State())
	}
	if d.PendingElement() == nil {
		t.Fatal("pending element not set")
	}

	d.Handle(Event{Kind: KindTouchEnd})
	if d.State() != StateIdle {
		t.Fatal("touchend must return to Idle")
	}
	if d.PendingElement() == nil {
		t.Fatal("pending survives touchend until consumed")
	}
}

func TestTouchMoveUnderThresholdStillFires(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(touchStart(100, 100, button()))
	time.Sleep(10 * time.Millisecond)
	// Distance ≈ 5.8px, under the 10px threshold.
	d.Handle(Event{Kind: KindTouchMove, X: 105, Y: 103})

	time.Sleep(testHold + 30*time.Millisecond)
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want 1 (hold must still fire)", rec.calls())
	}
}

func TestTouchMoveOverThresholdCancels(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(touchStart(100, 100, button()))
	// Distance 15px, over the threshold: this is a scroll.
	d.Handle(Event{Kind: KindTouchMove, X: 100, Y: 115})

	if d.State() != StateIdle {
		t.Fatalf("state = %v, want Idle after scroll", d.State())
	}

	time.Sleep(testHold + 30*time.Millisecond)
	if rec.calls() != 0 {
		t.Fatalf("menu calls = %d, want 0", rec.calls())
	}
}

func TestAtMostOneTriggerPerTouchCycle(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(touchStart(10, 10, button()))
	time.Sleep(testHold + 30*time.Millisecond)

	// A native contextmenu synthesized by the browser after the hold.
	if !d.Handle(Event{Kind: KindContextMenu, Button: 0, Target: button()}) {
		t.Fatal("touch-origin contextmenu after trigger must be suppressed")
	}
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want exactly 1 per cycle", rec.calls())
	}

	d.Handle(Event{Kind: KindTouchEnd})
	if d.State() != StateIdle {
		t.Fatal("state must return to Idle")
	}
}

func TestContextMenuShortCircuitsHold(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(touchStart(20, 30, button()))

	// Touch-origin contextmenu arrives while still armed: fire immediately.
	if !d.Handle(Event{Kind: KindContextMenu, Button: 0, Target: button()}) {
		t.Fatal("short-circuited contextmenu must be consumed")
	}
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want 1", rec.calls())
	}
	ev := rec.lastEvent()
	if !ev.IsTouch || ev.X != 20 || ev.Y != 30 {
		t.Fatalf("menu event must use the recorded start position: %+v", ev)
	}
	if d.State() != StateTouchTriggered {
		t.Fatalf("state = %v, want TouchTriggered", d.State())
	}

	// The hold timer must not fire a second time.
	time.Sleep(testHold + 30*time.Millisecond)
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d after timer window, want 1", rec.calls())
	}
}

func TestResetEvents(t *testing.T) {
	resets := []Event{
		{Kind: KindTouchEnd},
		{Kind: KindTouchCancel},
		{Kind: KindClick},
		{Kind: KindPointerDown, IsTouch: false},
	}
	for _, reset := range resets {
		t.Run(reset.Kind.String(), func(t *testing.T) {
			rec := &menuRecorder{handled: true}
			d := newTestDetector(t, rec)

			d.Handle(touchStart(0, 0, button()))
			d.Handle(reset)

			if d.State() != StateIdle {
				t.Fatalf("state = %v, want Idle after %v", d.State(), reset.Kind)
			}
			time.Sleep(testHold + 30*time.Millisecond)
			if rec.calls() != 0 {
				t.Fatalf("menu calls = %d, want 0 after reset", rec.calls())
			}
		})
	}
}

func TestTouchPointerDownDoesNotReset(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(touchStart(0, 0, button()))
	d.Handle(Event{Kind: KindPointerDown, IsTouch: true})

	if d.State() != StateTouchArmed {
		t.Fatalf("state = %v, touch pointerdown must not cancel arming", d.State())
	}
}

func TestMultiTouchNeverArms(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.Handle(Event{Kind: KindTouchStart, Touches: 2, Target: button()})
	if d.State() != StateIdle {
		t.Fatal("multi-touch must not arm")
	}

	d.Handle(touchStart(0, 0, button()))
	d.Handle(Event{Kind: KindTouchStart, Touches: 2, Target: button()})
	if d.State() != StateIdle {
		t.Fatal("a second finger must cancel arming")
	}
}

func TestDetachedTargetAtFire(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	gone := button()
	gone.Attached = func() bool { return false }

	d.Handle(touchStart(0, 0, gone))
	time.Sleep(testHold + 30*time.Millisecond)

	if rec.calls() != 0 {
		t.Fatal("detached element must not trigger")
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", d.State())
	}
}

func TestContainerScoping(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)
	d.SetContainer("#panel")

	outside := &Target{Selector: "#other", Tag: "span", Ancestors: []string{"body"}}
	inside := &Target{Selector: "#inner", Tag: "span", Ancestors: []string{"#panel", "body"}}

	if d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: outside}) {
		t.Fatal("event outside the container must be ignored")
	}
	if rec.calls() != 0 {
		t.Fatal("outside event must not reach the callback")
	}

	if !d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: inside}) {
		t.Fatal("event inside the container must be handled and consumed")
	}
	if rec.calls() != 1 {
		t.Fatalf("menu calls = %d, want 1", rec.calls())
	}

	d.Handle(touchStart(0, 0, outside))
	if d.State() != StateIdle {
		t.Fatal("touchstart outside the container must not arm")
	}
}

func TestNewGestureSupersedes(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	first := button()
	second := &Target{Selector: "#second", Tag: "a"}

	d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: first})
	d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: second})

	if got := d.PendingElement(); got != second {
		t.Fatalf("pending = %v, want the superseding target", got)
	}
}

func TestAttachDetachIdempotent(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := New(Options{HoldDuration: testHold}, rec.fn)

	d.Detach() // detach without attach is safe
	d.Detach()

	if d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: button()}) {
		t.Fatal("detached detector must ignore events")
	}

	d.Attach()
	d.Attach()
	if !d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: button()}) {
		t.Fatal("attached detector must handle events")
	}

	d.Handle(touchStart(0, 0, button()))
	d.Detach()
	if d.State() != StateIdle || d.PendingElement() != nil {
		t.Fatal("detach must release all state")
	}
	time.Sleep(testHold + 30*time.Millisecond)
	if rec.calls() != 1 {
		t.Fatal("hold timer must not fire after detach")
	}
}

func TestSetContainerPreservesAttachState(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	d.SetContainer("#panel")
	inside := &Target{Selector: "#x", Tag: "span", Ancestors: []string{"#panel"}}
	if !d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: inside}) {
		t.Fatal("detector must remain attached after SetContainer")
	}
}

func TestSubmissionResult(t *testing.T) {
	rec := &menuRecorder{handled: true}
	d := newTestDetector(t, rec)

	var got atomic.Value
	d.SetResultCallback(func(err error) { got.Store(err == nil) })

	d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: button()})

	d.SubmissionResult(errors.New("boom"))
	if d.PendingElement() == nil {
		t.Fatal("failed submission must keep the pending element")
	}
	if ok, _ := got.Load().(bool); ok {
		t.Fatal("result callback saw success for a failure")
	}

	d.SubmissionResult(nil)
	if d.PendingElement() != nil {
		t.Fatal("successful submission must clear the pending element")
	}
}

func TestLoggerRecordsTransitions(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rec := &menuRecorder{handled: true}
	d := New(Options{HoldDuration: testHold, MoveThreshold: testThreshold, Logger: log}, rec.fn)
	d.Attach()

	d.Handle(Event{Kind: KindContextMenu, Button: 2, Target: button()})
	d.Handle(touchStart(100, 100, button()))
	time.Sleep(testHold + 30*time.Millisecond)

	out := buf.String()
	for _, want := range []string{"contextmenu on target", "touch armed", "hold expired"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "#btn") {
		t.Fatalf("log output missing target selector:\n%s", out)
	}
}
