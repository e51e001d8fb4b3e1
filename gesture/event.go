// Package gesture turns raw pointer/touch/mouse events into a single,
// de-duplicated "show capture menu for element E at (x,y)" signal.
//
// The detector is an explicit finite-state machine. The touch path moves
// Idle → TouchArmed → TouchTriggered; the mouse path is stateless. Exactly
// one pending element exists at any time — a new gesture supersedes an
// unconsumed prior one.
package gesture

import "time"

// Kind discriminates normalized DOM events fed into the detector.
type Kind int

const (
	KindContextMenu Kind = iota
	KindTouchStart
	KindTouchMove
	KindTouchEnd
	KindTouchCancel
	KindClick
	KindPointerDown
)

func (k Kind) String() string {
	switch k {
	case KindContextMenu:
		return "contextmenu"
	case KindTouchStart:
		return "touchstart"
	case KindTouchMove:
		return "touchmove"
	case KindTouchEnd:
		return "touchend"
	case KindTouchCancel:
		return "touchcancel"
	case KindClick:
		return "click"
	case KindPointerDown:
		return "pointerdown"
	}
	return "unknown"
}

// Target identifies the DOM element an event landed on. The host side (the
// page bridge) fills it from the live document; tests construct it directly.
type Target struct {
	Selector  string
	Tag       string
	ID        string
	Classes   []string
	Ignored   bool     // element carries the capture-ignore marker
	Ancestors []string // ancestor selectors, nearest first

	// Attached reports whether the element is still part of the document.
	// nil means "assume attached".
	Attached func() bool
}

// attached resolves the liveness check with its nil default.
func (t *Target) attached() bool {
	if t == nil {
		return false
	}
	if t.Attached == nil {
		return true
	}
	return t.Attached()
}

// contains reports whether sel names the target itself or one of its
// ancestors. Used for container scoping.
func (t *Target) contains(sel string) bool {
	if t == nil {
		return false
	}
	if t.Selector == sel {
		return true
	}
	for _, a := range t.Ancestors {
		if a == sel {
			return true
		}
	}
	return false
}

// Event is one normalized DOM event.
type Event struct {
	Kind        Kind
	X, Y        float64
	Touches     int  // active touch points for touch events
	Button      int  // mouse button for contextmenu (2 = right)
	HasModifier bool // any of alt/ctrl/shift/meta held
	IsTouch     bool // pointer type for pointerdown
	Target      *Target
	Time        time.Time
}

// MenuEvent is the normalized "show the menu here" signal handed to the
// menu callback.
type MenuEvent struct {
	X, Y    float64
	IsTouch bool
}
