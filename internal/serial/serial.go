// Package serial carries report lines to the host: one "%1.3f\r\n" line per
// monitored channel over a UART, or to any io.Writer.
package serial

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	bugst "go.bug.st/serial"
	"go.uber.org/zap"
)

// DefaultBaudRate matches the reference host tooling.
const DefaultBaudRate = 9600

// Writer writes whole lines to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteLine writes line in a single Write call. Lines already carry their
// "\r\n" terminator.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := io.WriteString(w.w, line)
	if err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("write line: short write %d of %d", n, len(line))
	}
	return nil
}

// Port is an open UART, 8N1, no flow control.
type Port struct {
	*Writer
	port bugst.Port
}

// OpenPort opens name at baud, retrying with exponential backoff for up to
// maxWait (USB adapters may enumerate after the daemon starts).
func OpenPort(ctx context.Context, name string, baud int, maxWait time.Duration, log *zap.Logger) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}

	var port bugst.Port
	open := func() error {
		p, err := bugst.Open(name, mode)
		if err != nil {
			return err
		}
		port = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	notify := func(err error, next time.Duration) {
		log.Warn("serial port not ready, retrying", zap.String("port", name), zap.Duration("next", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(open, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}

	log.Info("serial port open", zap.String("port", name), zap.Int("baud", baud))
	return &Port{Writer: NewWriter(port), port: port}, nil
}

// Close closes the UART.
func (p *Port) Close() error {
	return p.port.Close()
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}
