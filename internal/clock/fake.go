package clock

import (
	"context"
	"time"
)

// FakeSleeper records requested delays without blocking.
type FakeSleeper struct {
	// Calls contains every requested duration in order.
	Calls []time.Duration

	// Total is the sum of all requested durations.
	Total time.Duration

	// OnSleep, if set, is invoked for every call before the context check.
	OnSleep func(d time.Duration)
}

// Sleep records d and returns immediately.
func (f *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.Calls = append(f.Calls, d)
	f.Total += d
	if f.OnSleep != nil {
		f.OnSleep(d)
	}
	return ctx.Err()
}

// Count returns how many times d was requested.
func (f *FakeSleeper) Count(d time.Duration) int {
	n := 0
	for _, c := range f.Calls {
		if c == d {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (f *FakeSleeper) Reset() {
	f.Calls = nil
	f.Total = 0
}
