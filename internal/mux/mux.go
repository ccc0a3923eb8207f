// Package mux drives the two cascaded 3-bit analog multiplexers.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package mux

import (
	"errors"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// ErrUnsupported is returned where no GPIO backend exists.
var ErrUnsupported = errors.New("mux: not supported on this platform (requires Linux)")

// Controller selects one of the 64 sources.
type Controller interface {
	// Select drives the select lines for addr. Writing the same address twice
	// is electrically a no-op. The caller owns the settling delay.
	Select(addr logic.Address) error

	// Close releases GPIO resources.
	Close() error
}

// Lines is the number of select lines: three for the secondary mux followed
// by three for the primary mux.
const Lines = 6

// Default line offsets on gpiochip0 (BCM numbering), bit 0 first.
var DefaultLineOffsets = [Lines]int{5, 6, 13, 19, 20, 21}

// Encode packs an address into the 6-bit select code: secondary in bits 0-2,
// primary in bits 3-5.
func Encode(addr logic.Address) uint8 {
	return (addr.Secondary & 0x07) | (addr.Primary&0x07)<<3
}

// Decode is the inverse of Encode.
func Decode(code uint8) logic.Address {
	return logic.Address{Primary: (code >> 3) & 0x07, Secondary: code & 0x07}
}

// lineValues expands a select code into one value per line, bit 0 first.
func lineValues(code uint8) []int {
	values := make([]int, Lines)
	for i := range values {
		values[i] = int(code>>i) & 1
	}
	return values
}
