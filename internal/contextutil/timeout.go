package contextutil

import (
	"context"
	"time"
)

// WithTimeout returns parent if d<=0; otherwise wraps it with a timeout.
//
// A nil parent is treated as context.Background() to avoid panics in downstream code.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, d)
}

// WithStep bounds a single protocol step by d and by an overall deadline.
// The earlier of the two wins; a zero deadline means "no overall bound".
func WithStep(parent context.Context, d time.Duration, deadline time.Time) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d > 0 {
		stepEnd := time.Now().Add(d)
		if deadline.IsZero() || stepEnd.Before(deadline) {
			deadline = stepEnd
		}
	}
	if deadline.IsZero() {
		return parent, func() {}
	}
	return context.WithDeadline(parent, deadline)
}
