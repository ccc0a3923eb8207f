package adc

import (
	"context"
	"math/rand"
	"sync"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// SimulatedConfig shapes the simulated signal.
type SimulatedConfig struct {
	// Baselines is the mean count of each primary group.
	Baselines [logic.Groups]uint16
	// Noise is the standard deviation of per-sample noise, in counts.
	Noise float64
	// SpikeChance is the probability that a sample is replaced by a full-scale
	// or zero spike.
	SpikeChance float64
	// Seed makes runs reproducible.
	Seed int64
}

// DefaultSimulatedConfig puts the quietest group at index 5.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Baselines:   [logic.Groups]uint16{620, 540, 700, 480, 660, 310, 590, 450},
		Noise:       6,
		SpikeChance: 0.02,
		Seed:        1,
	}
}

// SimulatedSource generates noisy conversions so the daemon can run without
// hardware. Each secondary channel sits a few counts above its group baseline.
type SimulatedSource struct {
	mu  sync.Mutex
	cfg SimulatedConfig
	rng *rand.Rand
}

// NewSimulatedSource creates a source from cfg.
func NewSimulatedSource(cfg SimulatedConfig) *SimulatedSource {
	return &SimulatedSource{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Acquire returns baseline + channel offset + noise, clamped to 0..MaxCount.
func (s *SimulatedSource) Acquire(ctx context.Context, addr logic.Address) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.SpikeChance > 0 && s.rng.Float64() < s.cfg.SpikeChance {
		if s.rng.Intn(2) == 0 {
			return 0, nil
		}
		return MaxCount, nil
	}

	v := float64(s.cfg.Baselines[addr.Primary&0x07]) + float64(addr.Secondary&0x07)*2
	v += s.rng.NormFloat64() * s.cfg.Noise
	switch {
	case v < 0:
		v = 0
	case v > MaxCount:
		v = MaxCount
	}
	return uint16(v + 0.5), nil
}

// Close is a no-op.
func (s *SimulatedSource) Close() error { return nil }
