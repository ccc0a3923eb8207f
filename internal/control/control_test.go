package control

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/mux-scanner/internal/acquire"
	"github.com/sweeney/mux-scanner/internal/adc"
	"github.com/sweeney/mux-scanner/internal/clock"
	"github.com/sweeney/mux-scanner/internal/logic"
	"github.com/sweeney/mux-scanner/internal/mux"
)

const settle = DefaultAddressSettle

// lineSink records every line written.
type lineSink struct {
	lines []string
	err   error
}

func (s *lineSink) WriteLine(line string) error {
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

type harness struct {
	mux     *mux.FakeController
	src     *adc.FakeSource
	sleeper *clock.FakeSleeper
	sink    *lineSink
	scanner *Scanner
	monitor *Monitor
}

func newHarness(value func(logic.Address, int) uint16) *harness {
	h := &harness{
		mux:     mux.NewFakeController(),
		src:     adc.NewFakeSource(value),
		sleeper: &clock.FakeSleeper{},
		sink:    &lineSink{},
	}
	sampler := acquire.NewSampler(h.src, h.sleeper, acquire.DefaultTiming, acquire.DefaultBurstSize)
	h.scanner = NewScanner(h.mux, sampler, h.sleeper, settle, zap.NewNop())
	h.monitor = NewMonitor(h.mux, sampler, h.sleeper, settle, logic.DefaultScale, h.sink, zap.NewNop())
	return h
}

func TestSweepSelectsLowestGroup(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{500, 480, 470, 200, 460, 900, 300, 250}))
	var st State

	sweep, err := h.scanner.Sweep(context.Background(), &st)
	require.NoError(t, err)

	assert.Equal(t, logic.Selection{Group: 3, Average: 200, Valid: true}, st.Selection)
	assert.Equal(t, st.Selection, sweep.Selection)
	assert.Equal(t, uint16(900), st.Matrix[5][7])
	assert.Equal(t, [logic.Groups]uint16{500, 480, 470, 200, 460, 900, 300, 250}, st.Averages)
	assert.Equal(t, 1, st.Sweeps)
	assert.True(t, sweep.Changed())
	assert.Empty(t, h.sink.lines, "sweeps are silent")
}

func TestSweepVisitsEveryAddressInOrder(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{1, 1, 1, 1, 1, 1, 1, 1}))
	var st State

	_, err := h.scanner.Sweep(context.Background(), &st)
	require.NoError(t, err)

	require.Len(t, h.mux.Writes, logic.Channels)
	for i, addr := range h.mux.Writes {
		assert.Equal(t, logic.Address{Primary: uint8(i / 8), Secondary: uint8(i % 8)}, addr)
	}
	assert.Equal(t, logic.Channels, h.sleeper.Count(settle))
	for addr, n := range h.src.Calls {
		assert.Equal(t, logic.AggregateBursts*(logic.WarmupSamples+acquire.DefaultBurstSize), n, "address %s", addr)
	}
}

func TestSweepTieResolvesToLowerIndex(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{500, 480, 120, 700, 460, 120, 300, 250}))
	var st State

	_, err := h.scanner.Sweep(context.Background(), &st)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), st.Selection.Group)
}

func TestSweepSettlesBeforeEveryAcquisition(t *testing.T) {
	var events []string
	h := newHarness(func(logic.Address, int) uint16 {
		events = append(events, "acquire")
		return 10
	})
	h.mux.OnSelect = func(logic.Address) { events = append(events, "select") }
	h.sleeper.OnSleep = func(d time.Duration) {
		if d == settle {
			events = append(events, "settle")
		}
	}
	var st State

	_, err := h.scanner.Sweep(context.Background(), &st)
	require.NoError(t, err)

	for i, e := range events {
		if e == "select" {
			require.Less(t, i+1, len(events))
			assert.Equal(t, "settle", events[i+1], "event %d", i)
		}
	}
}

func TestFailedSweepLeavesStateUntouched(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{500, 480, 470, 200, 460, 900, 300, 250}))
	var st State
	_, err := h.scanner.Sweep(context.Background(), &st)
	require.NoError(t, err)
	before := st

	// New levels would select group 0, but the sweep dies half way through.
	h.src.Value = adc.ConstantPerGroup([logic.Groups]uint16{10, 480, 470, 200, 460, 900, 300, 250})
	h.src.Total = 0
	h.src.FailAt = 40 * logic.AggregateBursts * (logic.WarmupSamples + acquire.DefaultBurstSize)

	_, err = h.scanner.Sweep(context.Background(), &st)
	require.Error(t, err)
	assert.ErrorIs(t, err, adc.ErrTimeout)
	assert.Equal(t, before, st)
}

func TestMonitorPassEndToEnd(t *testing.T) {
	levels := [logic.Groups]uint16{700, 650, 300, 400, 800, 500, 350, 900}
	h := newHarness(adc.ConstantPerGroup(levels))
	var st State

	_, err := h.scanner.Sweep(context.Background(), &st)
	require.NoError(t, err)
	require.Equal(t, uint8(2), st.Selection.Group)
	before := st

	h.mux.Reset()
	report, err := h.monitor.Pass(context.Background(), &st)
	require.NoError(t, err)

	require.Len(t, h.sink.lines, logic.ChannelsPerGroup)
	for _, line := range h.sink.lines {
		assert.Equal(t, "1.465\r\n", line)
	}
	assert.Equal(t, 8, report.Written)
	assert.Equal(t, uint8(2), report.Group)
	for c, addr := range h.mux.Writes {
		assert.Equal(t, logic.Address{Primary: 2, Secondary: uint8(c)}, addr)
	}
	assert.Equal(t, before, st, "monitor does not mutate state")
}

func TestMonitorWithoutSelection(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{1}))
	_, err := h.monitor.Pass(context.Background(), &State{})
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Empty(t, h.mux.Writes)
}

func TestMonitorSinkErrorContinues(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{300}))
	h.sink.err = errors.New("port gone")
	st := State{Selection: logic.Selection{Group: 0, Valid: true}}

	report, err := h.monitor.Pass(context.Background(), &st)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Written)
	assert.Len(t, h.mux.Writes, logic.ChannelsPerGroup, "every channel is still read")
	assert.InDelta(t, 1.46484375, report.Volts[7], 1e-9)
}

// recorder logs loop notifications and cancels after a number of reports.
type recorder struct {
	events     []string
	phases     []logic.Phase
	failures   []error
	stopAfter  int
	reports    int
	lastReport Report
	cancel     context.CancelFunc
}

func (r *recorder) PhaseChanged(p logic.Phase) { r.phases = append(r.phases, p) }

func (r *recorder) SweepCompleted(Sweep) { r.events = append(r.events, "sweep") }

func (r *recorder) ReportCompleted(rep Report) {
	r.events = append(r.events, "report")
	r.reports++
	r.lastReport = rep
	if r.stopAfter > 0 && r.reports >= r.stopAfter {
		r.cancel()
	}
}

func (r *recorder) Failed(p logic.Phase, err error) {
	r.events = append(r.events, "failed:"+string(p))
	r.failures = append(r.failures, err)
}

func runLoopUntil(t *testing.T, h *harness, cfg Config, reports int) (*recorder, *Loop, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{stopAfter: reports, cancel: cancel}
	loop := NewLoop(h.scanner, h.monitor, h.sleeper, cfg, zap.NewNop(), rec)
	err := loop.Run(ctx)
	return rec, loop, err
}

func TestLoopRescansAfterEveryTwentyCycles(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{700, 650, 300, 400, 800, 500, 350, 900}))

	rec, loop, err := runLoopUntil(t, h, DefaultConfig(), 41)
	assert.ErrorIs(t, err, context.Canceled)

	var want []string
	want = append(want, "sweep")
	for block := 0; block < 2; block++ {
		for i := 0; i < 20; i++ {
			want = append(want, "report")
		}
		want = append(want, "sweep")
	}
	want = append(want, "report")
	assert.Equal(t, strings.Join(want, ","), strings.Join(rec.events, ","))

	st := loop.State()
	assert.Equal(t, 3, st.Sweeps)
	assert.Equal(t, 40, st.Cycle)
	assert.Equal(t, 41, rec.lastReport.Cycle)
	assert.Len(t, h.sink.lines, 41*logic.ChannelsPerGroup)
}

func TestLoopCustomRescanCadence(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{700, 650, 300, 400, 800, 500, 350, 900}))
	cfg := DefaultConfig()
	cfg.RescanEvery = 3

	rec, _, _ := runLoopUntil(t, h, cfg, 7)
	assert.Equal(t, "sweep,report,report,report,sweep,report,report,report,sweep,report", strings.Join(rec.events, ","))
}

func TestLoopDelays(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{1}))
	cfg := Config{StartupDelay: 501 * time.Millisecond, PostSweepDelay: 1001 * time.Millisecond, CycleDelay: 499 * time.Millisecond, RescanEvery: 20}

	_, _, _ = runLoopUntil(t, h, cfg, 2)

	require.NotEmpty(t, h.sleeper.Calls)
	assert.Equal(t, 501*time.Millisecond, h.sleeper.Calls[0])
	assert.Equal(t, 1, h.sleeper.Count(1001*time.Millisecond))
	// The second report cancels; its cycle delay still runs and sees the cancel.
	assert.Equal(t, 2, h.sleeper.Count(499*time.Millisecond))
}

func TestLoopPhases(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{1}))
	cfg := DefaultConfig()
	cfg.RescanEvery = 1

	rec, _, _ := runLoopUntil(t, h, cfg, 2)
	assert.Equal(t, []logic.Phase{
		logic.PhaseCalibrating, logic.PhaseMonitoring,
		logic.PhaseCalibrating, logic.PhaseMonitoring,
	}, rec.phases[:4])
}

func TestLoopRetriesInitialSweepUntilSuccess(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{9, 8, 7, 6, 5, 4, 3, 2}))
	h.src.FailAt = 1

	rec, loop, _ := runLoopUntil(t, h, DefaultConfig(), 1)
	assert.Equal(t, []string{"failed:CALIBRATING", "sweep", "report"}, rec.events)
	assert.Equal(t, uint8(7), loop.State().Selection.Group)
	assert.Equal(t, 1, loop.State().Failures)
}

func TestLoopKeepsSelectionWhenRescanFails(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{9, 8, 7, 6, 5, 4, 3, 2}))
	cfg := DefaultConfig()
	cfg.RescanEvery = 1

	perSweep := logic.Channels * logic.AggregateBursts * (logic.WarmupSamples + acquire.DefaultBurstSize)
	perPass := logic.ChannelsPerGroup * logic.AggregateBursts * (logic.WarmupSamples + acquire.DefaultBurstSize)
	h.src.FailAt = perSweep + perPass + 1

	rec, loop, _ := runLoopUntil(t, h, cfg, 2)
	assert.Equal(t, []string{"sweep", "report", "failed:CALIBRATING", "report"}, rec.events)
	assert.Equal(t, logic.Selection{Group: 7, Average: 2, Valid: true}, loop.State().Selection)
}

func TestLoopFailedPassStillCountsCycle(t *testing.T) {
	h := newHarness(adc.ConstantPerGroup([logic.Groups]uint16{9, 8, 7, 6, 5, 4, 3, 2}))
	cfg := DefaultConfig()
	cfg.RescanEvery = 2

	perSweep := logic.Channels * logic.AggregateBursts * (logic.WarmupSamples + acquire.DefaultBurstSize)
	h.src.FailAt = perSweep + 1

	rec, _, _ := runLoopUntil(t, h, cfg, 2)
	assert.Equal(t, []string{"sweep", "failed:MONITORING", "report", "sweep", "report"}, rec.events)
}
