// Package control runs the calibration sweep, the monitor pass and the loop
// that alternates between them.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// ErrNoSelection is returned by a monitor pass before any sweep completed.
var ErrNoSelection = errors.New("no group selected")

// Reader produces one aggregated reading of the currently selected channel.
type Reader interface {
	Read(ctx context.Context, addr logic.Address) (uint16, error)
}

// Sink receives formatted report lines.
type Sink interface {
	WriteLine(line string) error
}

// State is owned by the Loop and handed by pointer to the Scanner (which
// replaces Matrix and Selection after a complete sweep) and the Monitor
// (which only reads Selection).
type State struct {
	Phase     logic.Phase
	Matrix    logic.Matrix
	Averages  [logic.Groups]uint16
	Selection logic.Selection
	Cycle     int // monitor cycles since startup
	Sweeps    int // completed sweeps
	Failures  int // failed sweeps and passes
}

// Sweep is the result of one complete calibration pass.
type Sweep struct {
	Matrix    logic.Matrix
	Averages  [logic.Groups]uint16
	Selection logic.Selection
	// Previous is the selection before this sweep; Valid is false on the first.
	Previous logic.Selection
	Started  time.Time
	Duration time.Duration
	Number   int
}

// Changed reports whether the sweep moved the selection to another group.
func (s Sweep) Changed() bool {
	return !s.Previous.Valid || s.Previous.Group != s.Selection.Group
}

// Report is the result of one monitor pass.
type Report struct {
	Group    uint8
	Readings [logic.ChannelsPerGroup]uint16
	Volts    [logic.ChannelsPerGroup]float64
	Cycle    int
	Time     time.Time
	// Written counts lines accepted by the sink.
	Written int
}

// Observer is notified by the Loop. Calls happen on the loop goroutine and
// must not block for long.
type Observer interface {
	PhaseChanged(phase logic.Phase)
	SweepCompleted(sweep Sweep)
	ReportCompleted(report Report)
	Failed(phase logic.Phase, err error)
}

// NopObserver ignores every notification. Embed it to implement part of
// Observer.
type NopObserver struct{}

func (NopObserver) PhaseChanged(logic.Phase)  {}
func (NopObserver) SweepCompleted(Sweep)      {}
func (NopObserver) ReportCompleted(Report)    {}
func (NopObserver) Failed(logic.Phase, error) {}
