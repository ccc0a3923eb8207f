package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Phase         string       `json:"phase"`
	Ready         bool         `json:"ready"`
	Group         *uint8       `json:"group,omitempty"`
	Average       uint16       `json:"average"`
	Cycle         int          `json:"cycle"`
	Sweeps        int          `json:"sweeps"`
	Failures      int          `json:"failures"`
	LastError     string       `json:"last_error,omitempty"`
	LastSweep     string       `json:"last_sweep,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Averages      []uint16     `json:"averages,omitempty"`
	Matrix        [][]uint16   `json:"matrix,omitempty"`
	LastReport    *ReportJSON  `json:"last_report,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ReportJSON is the JSON representation of the latest monitor pass.
type ReportJSON struct {
	Timestamp string    `json:"timestamp"`
	Cycle     int       `json:"cycle"`
	Group     uint8     `json:"group"`
	Raw       []uint16  `json:"raw"`
	Volts     []float64 `json:"volts"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type    string `json:"type"`
	IP      string `json:"ip"`
	Status  string `json:"status"`
	Gateway string `json:"gateway"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Driver       string `json:"driver"`
	BurstSize    int    `json:"burst_size"`
	CycleDelayMs int64  `json:"cycle_delay_ms"`
	RescanEvery  int    `json:"rescan_every"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	SerialPort   string `json:"serial_port,omitempty"`
	Broker       string `json:"broker"`
	HTTPPort     string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	phase := string(snap.Phase)
	if phase == "" {
		phase = string(logic.PhaseStartup)
	}

	inner := StatusInner{
		Phase:         phase,
		Ready:         snap.Selection.Valid,
		Cycle:         snap.Cycle,
		Sweeps:        snap.Sweeps,
		Failures:      snap.Failures,
		LastError:     snap.LastError,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Driver:       snap.Config.Driver,
			BurstSize:    snap.Config.BurstSize,
			CycleDelayMs: snap.Config.CycleDelayMs,
			RescanEvery:  snap.Config.RescanEvery,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			SerialPort:   snap.Config.SerialPort,
			Broker:       snap.Config.Broker,
			HTTPPort:     snap.Config.HTTPPort,
		},
	}

	if snap.Selection.Valid {
		group := snap.Selection.Group
		inner.Group = &group
		inner.Average = snap.Selection.Average
		inner.LastSweep = snap.LastSweep.UTC().Format(time.RFC3339)

		averages := snap.Averages
		inner.Averages = averages[:]
		inner.Matrix = make([][]uint16, logic.Groups)
		for g := range inner.Matrix {
			row := snap.Matrix[g]
			inner.Matrix[g] = row[:]
		}
	}

	if snap.HasReport {
		raw := snap.Report.Readings
		volts := snap.Report.Volts
		inner.LastReport = &ReportJSON{
			Timestamp: snap.Report.Time.UTC().Format(time.RFC3339),
			Cycle:     snap.Report.Cycle,
			Group:     snap.Report.Group,
			Raw:       raw[:],
			Volts:     volts[:],
		}
	}

	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:    snap.Network.Type,
			IP:      snap.Network.IP,
			Status:  snap.Network.Status,
			Gateway: snap.Network.Gateway,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// The matrix is left out to keep heartbeats small.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	inner.Matrix = nil
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
