// Package submit composes element context and screenshots into a
// CapturePayload and delivers it through an injected adapter, gated by a
// cooldown rate limiter. The direct path surfaces failures immediately;
// deferred delivery goes through the queue.
package submit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited marks a submission attempted inside the cooldown window.
// It is surfaced to the caller and never reaches the adapter.
var ErrRateLimited = errors.New("submit: rate limited, cooldown active")

// RateLimiter gates submission frequency with a single cooldown timestamp.
type RateLimiter struct {
	mu       sync.Mutex
	last     time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter with the given cooldown. A zero cooldown
// disables limiting.
func NewRateLimiter(cooldown time.Duration) *RateLimiter {
	return &RateLimiter{cooldown: cooldown, now: time.Now}
}

// IsRateLimited reports whether a submission right now would be inside the
// cooldown. Exactly at the cooldown boundary is not limited.
func (r *RateLimiter) IsRateLimited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cooldown <= 0 || r.last.IsZero() {
		return false
	}
	return r.now().Sub(r.last) < r.cooldown
}

// MarkSubmission records a successful submission as the cooldown anchor.
func (r *RateLimiter) MarkSubmission() {
	r.mu.Lock()
	r.last = r.now()
	r.mu.Unlock()
}

// Reset clears the cooldown anchor.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	r.last = time.Time{}
	r.mu.Unlock()
}
