//go:build linux

package mux

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// RealController drives the select lines through the Linux GPIO character device.
type RealController struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

// NewRealController requests the six select lines as outputs, initially low
// (address 0/0).
func NewRealController(chipName string, offsets [Lines]int) (*RealController, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("mux-scanner"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(offsets[:], gpiocdev.AsOutput(lineValues(0)...))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request select lines %v: %w", offsets, err)
	}

	return &RealController{
		chip:  chip,
		lines: lines,
	}, nil
}

// Select writes all six lines in a single request so both muxes switch together.
func (c *RealController) Select(addr logic.Address) error {
	if err := c.lines.SetValues(lineValues(Encode(addr))); err != nil {
		return fmt.Errorf("set select lines for %s: %w", addr, err)
	}
	return nil
}

// Close drives the lines low and reconfigures them as inputs with pull-down
// (Raspberry Pi boot defaults) before releasing them.
func (c *RealController) Close() error {
	var errs []error

	if c.lines != nil {
		if err := c.lines.SetValues(lineValues(0)); err != nil {
			errs = append(errs, fmt.Errorf("reset select lines: %w", err))
		}
		if err := c.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure select lines: %w", err))
		}
		if err := c.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close select lines: %w", err))
		}
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
