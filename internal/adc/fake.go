package adc

import (
	"context"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// FakeSource is a test double returning values computed from the address.
type FakeSource struct {
	// Value computes the sample for addr. n is the number of previous
	// acquisitions for the same address.
	Value func(addr logic.Address, n int) uint16

	// Calls counts acquisitions per address.
	Calls map[logic.Address]int

	// Total counts all acquisitions.
	Total int

	// AcquireError, if set, will be returned by Acquire.
	AcquireError error

	// FailAt, if positive, makes the FailAt-th acquisition (1-based) return
	// AcquireError or ErrTimeout.
	FailAt int

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeSource creates a FakeSource using value.
func NewFakeSource(value func(addr logic.Address, n int) uint16) *FakeSource {
	return &FakeSource{Value: value, Calls: make(map[logic.Address]int)}
}

// ConstantPerGroup returns a value function yielding levels[primary] for
// every channel of the group.
func ConstantPerGroup(levels [logic.Groups]uint16) func(logic.Address, int) uint16 {
	return func(addr logic.Address, _ int) uint16 {
		return levels[addr.Primary]
	}
}

// Acquire returns the next computed value.
func (f *FakeSource) Acquire(ctx context.Context, addr logic.Address) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.Total++
	if f.FailAt > 0 && f.Total == f.FailAt {
		if f.AcquireError != nil {
			return 0, f.AcquireError
		}
		return 0, ErrTimeout
	}
	if f.FailAt == 0 && f.AcquireError != nil {
		return 0, f.AcquireError
	}
	if f.Value == nil {
		return 0, ErrNoSamples
	}
	if f.Calls == nil {
		f.Calls = make(map[logic.Address]int)
	}
	n := f.Calls[addr]
	f.Calls[addr] = n + 1
	return f.Value(addr, n), nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}
