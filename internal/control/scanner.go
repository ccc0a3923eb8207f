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

// Scanner sweeps all 64 addresses and selects the group with the lowest
// average. A sweep is silent: nothing reaches the output sink.
type Scanner struct {
	mux     mux.Controller
	reader  Reader
	sleeper clock.Sleeper
	settle  time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewScanner creates a Scanner. settle is waited after every address write.
func NewScanner(m mux.Controller, r Reader, sleeper clock.Sleeper, settle time.Duration, log *zap.Logger) *Scanner {
	return &Scanner{mux: m, reader: r, sleeper: sleeper, settle: settle, log: log, now: time.Now}
}

// Sweep reads every address into a scratch matrix. Only when all 64 readings
// succeed are st.Matrix, st.Averages and st.Selection replaced; on error st is
// left as it was.
func (s *Scanner) Sweep(ctx context.Context, st *State) (Sweep, error) {
	started := s.now()

	var m logic.Matrix
	var averages [logic.Groups]uint16
	var sel logic.GroupSelector

	for p := uint8(0); p < logic.Groups; p++ {
		var sum uint32
		for c := uint8(0); c < logic.ChannelsPerGroup; c++ {
			addr := logic.Address{Primary: p, Secondary: c}
			v, err := selectAndRead(ctx, s.mux, s.reader, s.sleeper, s.settle, addr)
			if err != nil {
				return Sweep{}, fmt.Errorf("sweep: %w", err)
			}
			m[p][c] = v
			sum += uint32(v)
		}

		averages[p] = uint16(sum / logic.ChannelsPerGroup)
		if sel.Offer(p, averages[p]) {
			s.log.Debug("new lowest group", zap.Uint8("group", p), zap.Uint16("average", averages[p]))
		}
	}

	sweep := Sweep{
		Matrix:    m,
		Averages:  averages,
		Selection: sel.Result(),
		Previous:  st.Selection,
		Started:   started,
		Duration:  s.now().Sub(started),
		Number:    st.Sweeps + 1,
	}

	st.Matrix = m
	st.Averages = averages
	st.Selection = sweep.Selection
	st.Sweeps++

	return sweep, nil
}

// selectAndRead writes the address, waits for the muxes to settle and takes
// one aggregated reading.
func selectAndRead(ctx context.Context, m mux.Controller, r Reader, sleeper clock.Sleeper, settle time.Duration, addr logic.Address) (uint16, error) {
	if err := m.Select(addr); err != nil {
		return 0, fmt.Errorf("select %s: %w", addr, err)
	}
	if err := sleeper.Sleep(ctx, settle); err != nil {
		return 0, err
	}
	v, err := r.Read(ctx, addr)
	if err != nil {
		return 0, err
	}
	return v, nil
}
