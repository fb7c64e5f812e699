package refresh

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff tracks the delay before the next calendar fetch.
//
// The ceiling doubles as the steady refresh interval: every success resets
// the delay to it. The first failure after a success drops to the floor;
// further consecutive failures double the delay, capped at the ceiling.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration

	// steps is nil outside a failure streak.
	steps retry.Backoff
}

// NewBackoff returns a Backoff at steady state. A floor above the ceiling is
// clamped to the ceiling.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	if floor <= 0 || floor > ceiling {
		floor = ceiling
	}
	return &Backoff{floor: floor, ceiling: ceiling}
}

// Succeeded ends any failure streak and returns the steady interval.
func (b *Backoff) Succeeded() time.Duration {
	b.steps = nil
	return b.ceiling
}

// Failed advances the failure streak and returns the next delay.
func (b *Backoff) Failed() time.Duration {
	if b.steps == nil {
		b.steps = retry.WithCappedDuration(b.ceiling, retry.NewExponential(b.floor))
	}
	next, stop := b.steps.Next()
	if stop || next <= 0 {
		return b.ceiling
	}
	return next
}
