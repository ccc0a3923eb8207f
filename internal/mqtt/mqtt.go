// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/mux-scanner/internal/control"
	"github.com/sweeney/mux-scanner/internal/logic"
)

// DefaultTopicPrefix is prepended to every topic.
const DefaultTopicPrefix = "sensors/mux-scanner"

// Topics are the MQTT topics used by the publisher.
type Topics struct {
	Report      string // one message per monitor pass
	Calibration string // retained, one message per sweep
	System      string // lifecycle events
}

// NewTopics builds the topic set under prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Report:      prefix + "/report",
		Calibration: prefix + "/calibration",
		System:      prefix + "/system",
	}
}

// Publisher publishes loop results to MQTT.
type Publisher interface {
	// PublishReport sends the voltages of one monitor pass.
	// Returns error if publishing fails (should not crash the process).
	PublishReport(report control.Report) error

	// PublishCalibration sends the result of a sweep.
	PublishCalibration(sweep control.Sweep) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ReportPayload is the MQTT message for a monitor pass.
type ReportPayload struct {
	Report ReportInner `json:"report"`
}

// ReportInner contains the report details.
type ReportInner struct {
	Timestamp string           `json:"timestamp"`
	Group     uint8            `json:"group"`
	Cycle     int              `json:"cycle"`
	Channels  []ChannelReading `json:"channels"`
}

// ChannelReading is one channel of a report.
type ChannelReading struct {
	Channel uint8   `json:"channel"`
	Raw     uint16  `json:"raw"`
	Volts   float64 `json:"volts"`
}

// FormatReportPayload creates the JSON payload for a monitor pass.
func FormatReportPayload(r control.Report) ([]byte, error) {
	channels := make([]ChannelReading, logic.ChannelsPerGroup)
	for c := range channels {
		channels[c] = ChannelReading{
			Channel: uint8(c),
			Raw:     r.Readings[c],
			Volts:   r.Volts[c],
		}
	}
	payload := ReportPayload{
		Report: ReportInner{
			Timestamp: r.Time.UTC().Format(time.RFC3339),
			Group:     r.Group,
			Cycle:     r.Cycle,
			Channels:  channels,
		},
	}
	return json.Marshal(payload)
}

// CalibrationPayload is the MQTT message for a completed sweep.
type CalibrationPayload struct {
	Calibration CalibrationInner `json:"calibration"`
}

// CalibrationInner contains the sweep details.
type CalibrationInner struct {
	Timestamp     string     `json:"timestamp"`
	Sweep         int        `json:"sweep"`
	Group         uint8      `json:"group"`
	Average       uint16     `json:"average"`
	PreviousGroup *uint8     `json:"previous_group,omitempty"`
	Changed       bool       `json:"changed"`
	DurationMs    int64      `json:"duration_ms"`
	Averages      []uint16   `json:"averages"`
	Matrix        [][]uint16 `json:"matrix"`
}

// FormatCalibrationPayload creates the JSON payload for a sweep.
func FormatCalibrationPayload(s control.Sweep) ([]byte, error) {
	matrix := make([][]uint16, logic.Groups)
	for g := range matrix {
		row := s.Matrix[g]
		matrix[g] = row[:]
	}
	averages := s.Averages

	inner := CalibrationInner{
		Timestamp:  s.Started.UTC().Format(time.RFC3339),
		Sweep:      s.Number,
		Group:      s.Selection.Group,
		Average:    s.Selection.Average,
		Changed:    s.Changed(),
		DurationMs: s.Duration.Milliseconds(),
		Averages:   averages[:],
		Matrix:     matrix,
	}
	if s.Previous.Valid {
		prev := s.Previous.Group
		inner.PreviousGroup = &prev
	}
	return json.Marshal(CalibrationPayload{Calibration: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
