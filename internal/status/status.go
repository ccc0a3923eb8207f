// Package status provides a thread-safe view of the scanner state for the
// HTTP status page and MQTT heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/mux-scanner/internal/control"
	"github.com/sweeney/mux-scanner/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type    string
	IP      string
	Status  string
	Gateway string
}

// Config contains daemon configuration for display.
type Config struct {
	Driver       string
	BurstSize    int
	CycleDelayMs int64
	RescanEvery  int
	HeartbeatMs  int64
	SerialPort   string
	Broker       string
	HTTPPort     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Phase     logic.Phase
	Selection logic.Selection
	Matrix    logic.Matrix
	Averages  [logic.Groups]uint16
	LastSweep time.Time

	Report    control.Report
	HasReport bool

	Cycle     int
	Sweeps    int
	Failures  int
	LastError string

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// control.Observer so the loop keeps it current.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

var _ control.Observer = (*Tracker)(nil)

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Phase:     logic.PhaseStartup,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// PhaseChanged records the loop phase.
func (t *Tracker) PhaseChanged(phase logic.Phase) {
	t.mu.Lock()
	t.snap.Phase = phase
	t.mu.Unlock()
}

// SweepCompleted records the new matrix and selection.
func (t *Tracker) SweepCompleted(sweep control.Sweep) {
	t.mu.Lock()
	t.snap.Matrix = sweep.Matrix
	t.snap.Averages = sweep.Averages
	t.snap.Selection = sweep.Selection
	t.snap.Sweeps = sweep.Number
	t.snap.LastSweep = sweep.Started.Add(sweep.Duration)
	t.mu.Unlock()
}

// ReportCompleted records the latest monitor pass.
func (t *Tracker) ReportCompleted(report control.Report) {
	t.mu.Lock()
	t.snap.Report = report
	t.snap.HasReport = true
	t.snap.Cycle = report.Cycle
	t.mu.Unlock()
}

// Failed counts a failed sweep or pass and keeps its message.
func (t *Tracker) Failed(phase logic.Phase, err error) {
	t.mu.Lock()
	t.snap.Failures++
	if err != nil {
		t.snap.LastError = string(phase) + ": " + err.Error()
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
