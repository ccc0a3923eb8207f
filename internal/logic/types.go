// Package logic contains the pure acquisition math: trimmed-mean filtering,
// group selection and voltage conversion.
// This package has NO external dependencies (no GPIO, SPI, MQTT, OS, or time.Sleep).
package logic

import (
	"errors"
	"fmt"
)

// Address space of the two cascaded 3-bit multiplexers.
const (
	Groups           = 8 // primary mux positions
	ChannelsPerGroup = 8 // secondary mux positions
	Channels         = Groups * ChannelsPerGroup
)

// Filter limits.
const (
	// MaxBurst is the capacity of a Stage-1 burst.
	MaxBurst = 16

	// WarmupSamples are acquired and thrown away before every burst so that
	// residual charge from the previous channel has decayed.
	WarmupSamples = 3

	// AggregateBursts is the number of Stage-1 readings combined by Stage-2.
	AggregateBursts = 10
)

// ErrAddressRange is returned by NewAddress for components outside [0,7].
var ErrAddressRange = errors.New("address out of range")

// Address identifies one of the 64 sources: a primary group and a secondary
// channel within it.
type Address struct {
	Primary   uint8
	Secondary uint8
}

// NewAddress validates and builds an Address. Loops over the address space
// construct Address literals directly; this is for values given on the
// command line.
func NewAddress(primary, secondary int) (Address, error) {
	if primary < 0 || primary >= Groups {
		return Address{}, fmt.Errorf("primary %d: %w", primary, ErrAddressRange)
	}
	if secondary < 0 || secondary >= ChannelsPerGroup {
		return Address{}, fmt.Errorf("secondary %d: %w", secondary, ErrAddressRange)
	}
	return Address{Primary: uint8(primary), Secondary: uint8(secondary)}, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d", a.Primary, a.Secondary)
}

// Matrix holds one aggregated reading per address, indexed [primary][secondary].
type Matrix [Groups][ChannelsPerGroup]uint16

// Selection is the outcome of a sweep: the primary group with the lowest
// average and that average.
type Selection struct {
	Group   uint8
	Average uint16
	// Valid is false until the first complete sweep.
	Valid bool
}

// Phase is the control loop state.
type Phase string

const (
	PhaseStartup     Phase = "STARTUP"
	PhaseCalibrating Phase = "CALIBRATING"
	PhaseMonitoring  Phase = "MONITORING"
)
