package control

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/mux-scanner/internal/clock"
	"github.com/sweeney/mux-scanner/internal/logic"
)

// DefaultRescanEvery is the number of monitor cycles between sweeps.
const DefaultRescanEvery = 20

// DefaultAddressSettle is waited after every mux address write.
const DefaultAddressSettle = 400 * time.Millisecond

// Config holds the loop cadence.
type Config struct {
	StartupDelay   time.Duration // before the first sweep
	PostSweepDelay time.Duration // after every sweep attempt
	CycleDelay     time.Duration // after every monitor pass
	RescanEvery    int           // monitor cycles between sweeps
}

// DefaultConfig matches the reference firmware.
func DefaultConfig() Config {
	return Config{
		StartupDelay:   500 * time.Millisecond,
		PostSweepDelay: 1000 * time.Millisecond,
		CycleDelay:     500 * time.Millisecond,
		RescanEvery:    DefaultRescanEvery,
	}
}

// Loop calibrates once, then monitors the selected group forever, sweeping
// again every RescanEvery cycles.
type Loop struct {
	scanner   *Scanner
	monitor   *Monitor
	sleeper   clock.Sleeper
	cfg       Config
	log       *zap.Logger
	observers []Observer

	state State
}

// NewLoop creates a Loop. A RescanEvery below 1 uses DefaultRescanEvery.
func NewLoop(scanner *Scanner, monitor *Monitor, sleeper clock.Sleeper, cfg Config, log *zap.Logger, observers ...Observer) *Loop {
	if cfg.RescanEvery < 1 {
		cfg.RescanEvery = DefaultRescanEvery
	}
	return &Loop{
		scanner:   scanner,
		monitor:   monitor,
		sleeper:   sleeper,
		cfg:       cfg,
		log:       log,
		observers: observers,
		state:     State{Phase: logic.PhaseStartup},
	}
}

// State returns a copy of the loop state. Only call it from the loop
// goroutine (for example from an Observer) or after Run returned.
func (l *Loop) State() State {
	return l.state
}

// Run blocks until ctx is cancelled and returns ctx's error.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.sleeper.Sleep(ctx, l.cfg.StartupDelay); err != nil {
		return err
	}
	if err := l.Calibrate(ctx); err != nil {
		return err
	}

	for {
		if err := l.MonitorOnce(ctx); err != nil {
			return err
		}
		if err := l.sleeper.Sleep(ctx, l.cfg.CycleDelay); err != nil {
			return err
		}
		l.state.Cycle++

		if l.state.Cycle%l.cfg.RescanEvery == 0 {
			l.log.Info("rescanning", zap.Int("cycle", l.state.Cycle))
			if err := l.Calibrate(ctx); err != nil {
				return err
			}
		}
	}
}

// Calibrate runs sweeps until one completes. Once a group has been selected
// a single failed sweep keeps the previous selection. Only context errors are
// returned.
func (l *Loop) Calibrate(ctx context.Context) error {
	l.setPhase(logic.PhaseCalibrating)
	defer l.setPhase(logic.PhaseMonitoring)

	for {
		sweep, err := l.scanner.Sweep(ctx, &l.state)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			l.state.Failures++
			l.log.Error("sweep failed", zap.Error(err), zap.Bool("have_selection", l.state.Selection.Valid))
			for _, o := range l.observers {
				o.Failed(logic.PhaseCalibrating, err)
			}
		} else {
			l.log.Info("sweep complete",
				zap.Int("sweep", sweep.Number),
				zap.Uint8("group", sweep.Selection.Group),
				zap.Uint16("average", sweep.Selection.Average),
				zap.Bool("changed", sweep.Changed()),
				zap.Duration("took", sweep.Duration))
			for _, o := range l.observers {
				o.SweepCompleted(sweep)
			}
		}

		if err := l.sleeper.Sleep(ctx, l.cfg.PostSweepDelay); err != nil {
			return err
		}
		if l.state.Selection.Valid {
			return nil
		}
	}
}

// MonitorOnce runs one monitor pass. A failed pass is logged and reported to
// observers; only context errors are returned.
func (l *Loop) MonitorOnce(ctx context.Context) error {
	report, err := l.monitor.Pass(ctx, &l.state)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.state.Failures++
		l.log.Warn("monitor pass failed", zap.Error(err), zap.Int("cycle", l.state.Cycle))
		for _, o := range l.observers {
			o.Failed(logic.PhaseMonitoring, err)
		}
		if errors.Is(err, ErrNoSelection) {
			return l.Calibrate(ctx)
		}
		return nil
	}

	report.Cycle = l.state.Cycle + 1
	l.log.Debug("report", zap.Uint8("group", report.Group), zap.Uint16s("readings", report.Readings[:]))
	for _, o := range l.observers {
		o.ReportCompleted(report)
	}
	return nil
}

func (l *Loop) setPhase(p logic.Phase) {
	if l.state.Phase == p {
		return
	}
	l.state.Phase = p
	for _, o := range l.observers {
		o.PhaseChanged(p)
	}
}
