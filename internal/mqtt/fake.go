package mqtt

import (
	"github.com/sweeney/mux-scanner/internal/control"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Reports contains all monitor passes that were published.
	Reports []control.Report

	// Calibrations contains all sweeps that were published.
	Calibrations []control.Sweep

	// Payloads contains the JSON payloads of reports and calibrations, in order.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishReport and PublishCalibration.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishReport records the report.
func (f *FakePublisher) PublishReport(report control.Report) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Reports = append(f.Reports, report)

	payload, err := FormatReportPayload(report)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// PublishCalibration records the sweep.
func (f *FakePublisher) PublishCalibration(sweep control.Sweep) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Calibrations = append(f.Calibrations, sweep)

	payload, err := FormatCalibrationPayload(sweep)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.Reports = nil
	f.Calibrations = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
