// Package clock provides the blocking delay used between mux writes and
// acquisitions.
package clock

import (
	"context"
	"time"
)

// Sleeper blocks for a duration. Implementations return early with the
// context's error if it is cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real sleeps on a timer.
type Real struct{}

// Sleep waits for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
