package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/mux-scanner/internal/clock"
	"github.com/sweeney/mux-scanner/internal/logic"
	"github.com/sweeney/mux-scanner/internal/mux"
)

// Monitor reports the eight channels of the selected group to the sink.
type Monitor struct {
	mux     mux.Controller
	reader  Reader
	sleeper clock.Sleeper
	settle  time.Duration
	scale   logic.Scale
	sink    Sink
	log     *zap.Logger
	now     func() time.Time
}

// NewMonitor creates a Monitor writing one line per channel to sink.
func NewMonitor(m mux.Controller, r Reader, sleeper clock.Sleeper, settle time.Duration, scale logic.Scale, sink Sink, log *zap.Logger) *Monitor {
	return &Monitor{mux: m, reader: r, sleeper: sleeper, settle: settle, scale: scale, sink: sink, log: log, now: time.Now}
}

// Pass reads secondary channels 0..7 of st.Selection.Group and writes each as
// a voltage line. A failed sink write is logged and the pass continues; a
// failed reading ends the pass. st is not modified.
func (m *Monitor) Pass(ctx context.Context, st *State) (Report, error) {
	if !st.Selection.Valid {
		return Report{}, ErrNoSelection
	}

	report := Report{Group: st.Selection.Group}
	for c := uint8(0); c < logic.ChannelsPerGroup; c++ {
		addr := logic.Address{Primary: report.Group, Secondary: c}
		v, err := selectAndRead(ctx, m.mux, m.reader, m.sleeper, m.settle, addr)
		if err != nil {
			return report, fmt.Errorf("monitor: %w", err)
		}

		volts := m.scale.Volts(v)
		report.Readings[c] = v
		report.Volts[c] = volts

		if err := m.sink.WriteLine(logic.FormatLine(volts)); err != nil {
			m.log.Warn("write report line", zap.Stringer("addr", addr), zap.Error(err))
			continue
		}
		report.Written++
	}
	report.Time = m.now()

	return report, nil
}
