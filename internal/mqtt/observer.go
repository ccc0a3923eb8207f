package mqtt

import (
	"go.uber.org/zap"

	"github.com/sweeney/mux-scanner/internal/control"
)

// Observer publishes loop results. Publish failures are logged and never
// reach the loop.
type Observer struct {
	control.NopObserver
	pub Publisher
	log *zap.Logger
}

var _ control.Observer = (*Observer)(nil)

// NewObserver creates an Observer publishing through pub.
func NewObserver(pub Publisher, log *zap.Logger) *Observer {
	return &Observer{pub: pub, log: log}
}

// SweepCompleted publishes the calibration result.
func (o *Observer) SweepCompleted(sweep control.Sweep) {
	if err := o.pub.PublishCalibration(sweep); err != nil {
		o.log.Warn("publish calibration", zap.Int("sweep", sweep.Number), zap.Error(err))
	}
}

// ReportCompleted publishes the monitor pass.
func (o *Observer) ReportCompleted(report control.Report) {
	if err := o.pub.PublishReport(report); err != nil {
		o.log.Warn("publish report", zap.Int("cycle", report.Cycle), zap.Error(err))
	}
}
