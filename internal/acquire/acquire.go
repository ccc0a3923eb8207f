// Package acquire turns raw conversions into filtered readings: a burst
// trimmed mean (Stage-1) combined across repeated bursts (Stage-2).
package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/mux-scanner/internal/adc"
	"github.com/sweeney/mux-scanner/internal/clock"
	"github.com/sweeney/mux-scanner/internal/logic"
)

// Timing holds the delays inside one aggregated reading.
type Timing struct {
	InputSettle    time.Duration // before the warm-up samples of each burst
	SampleInterval time.Duration // after every counted sample
	BurstInterval  time.Duration // after every burst
}

// DefaultTiming matches the reference firmware.
var DefaultTiming = Timing{
	InputSettle:    2 * time.Millisecond,
	SampleInterval: 1 * time.Millisecond,
	BurstInterval:  5 * time.Millisecond,
}

// DefaultBurstSize is the number of counted samples per burst.
const DefaultBurstSize = 8

// Sampler acquires filtered readings from the currently selected channel.
// It never writes the mux: callers select the address and wait for it to
// settle first.
type Sampler struct {
	src       adc.Source
	sleeper   clock.Sleeper
	timing    Timing
	burstSize int
}

// NewSampler creates a Sampler. burstSize is clamped to 1..logic.MaxBurst.
func NewSampler(src adc.Source, sleeper clock.Sleeper, timing Timing, burstSize int) *Sampler {
	if burstSize < 1 {
		burstSize = 1
	}
	if burstSize > logic.MaxBurst {
		burstSize = logic.MaxBurst
	}
	return &Sampler{src: src, sleeper: sleeper, timing: timing, burstSize: burstSize}
}

// BurstSize returns the number of counted samples per burst.
func (s *Sampler) BurstSize() int {
	return s.burstSize
}

// Burst is Stage-1: settle, discard logic.WarmupSamples conversions, take
// BurstSize samples and return their trimmed mean.
func (s *Sampler) Burst(ctx context.Context, addr logic.Address) (uint16, error) {
	if err := s.sleeper.Sleep(ctx, s.timing.InputSettle); err != nil {
		return 0, err
	}

	for i := 0; i < logic.WarmupSamples; i++ {
		if _, err := s.src.Acquire(ctx, addr); err != nil {
			return 0, fmt.Errorf("warm-up sample %d: %w", i, err)
		}
	}

	var buf [logic.MaxBurst]uint16
	burst := buf[:s.burstSize]
	for i := range burst {
		v, err := s.src.Acquire(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		burst[i] = v
		if err := s.sleeper.Sleep(ctx, s.timing.SampleInterval); err != nil {
			return 0, err
		}
	}

	return logic.TrimmedMean(burst), nil
}

// Read is Stage-2: logic.AggregateBursts bursts of the same channel with the
// single lowest and highest burst result dropped.
func (s *Sampler) Read(ctx context.Context, addr logic.Address) (uint16, error) {
	var readings [logic.AggregateBursts]uint16
	for i := range readings {
		v, err := s.Burst(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("read %s burst %d: %w", addr, i, err)
		}
		readings[i] = v
		if err := s.sleeper.Sleep(ctx, s.timing.BurstInterval); err != nil {
			return 0, err
		}
	}
	return logic.DropExtremes(readings[:]), nil
}
