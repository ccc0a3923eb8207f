package adc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// Bounded limits every Acquire of the wrapped source to Timeout.
// At most one conversion is in flight: a conversion still pending when its
// timeout expires keeps the slot until it returns, and later calls wait for
// the slot within their own timeout. A hung source therefore costs one
// goroutine, not one per call.
type Bounded struct {
	source  Source
	timeout time.Duration
	slot    chan struct{}
}

// WithTimeout wraps src. A non-positive timeout returns src unchanged.
func WithTimeout(src Source, timeout time.Duration) Source {
	if timeout <= 0 {
		return src
	}
	return &Bounded{source: src, timeout: timeout, slot: make(chan struct{}, 1)}
}

type result struct {
	value uint16
	err   error
}

// Acquire runs the wrapped conversion and waits at most the timeout for it,
// including any wait for a previous conversion to finish.
func (b *Bounded) Acquire(ctx context.Context, addr logic.Address) (uint16, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return 0, b.contextError(ctx, addr, "previous conversion still pending")
	}

	done := make(chan result, 1)
	go func() {
		v, err := b.source.Acquire(ctx, addr)
		<-b.slot
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, b.timeoutError(addr, "")
		}
		return r.value, r.err
	case <-ctx.Done():
		return 0, b.contextError(ctx, addr, "")
	}
}

func (b *Bounded) contextError(ctx context.Context, addr logic.Address, why string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return b.timeoutError(addr, why)
	}
	return ctx.Err()
}

func (b *Bounded) timeoutError(addr logic.Address, why string) error {
	if why != "" {
		return fmt.Errorf("acquire %s after %v, %s: %w", addr, b.timeout, why, ErrTimeout)
	}
	return fmt.Errorf("acquire %s after %v: %w", addr, b.timeout, ErrTimeout)
}

// Close closes the wrapped source.
func (b *Bounded) Close() error {
	return b.source.Close()
}
