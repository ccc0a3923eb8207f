package logic

import (
	"fmt"
	"sort"
)

// TrimmedMean sorts the burst, drops the lowest and highest len/4 samples and
// returns the integer mean of what remains. Bursts shorter than four samples
// are not trimmed at all. The input slice is sorted in place.
// An empty burst returns 0.
func TrimmedMean(burst []uint16) uint16 {
	n := len(burst)
	if n == 0 {
		return 0
	}
	sort.Slice(burst, func(i, j int) bool { return burst[i] < burst[j] })

	discard := n / 4
	kept := burst[discard : n-discard]

	var sum uint32
	for _, v := range kept {
		sum += uint32(v)
	}
	return uint16(sum / uint32(len(kept)))
}

// DropExtremes sums the readings, subtracts the single minimum and the single
// maximum once each, and divides by len-2. It expects exactly AggregateBursts
// readings; fewer than three cannot be trimmed and return their plain mean.
func DropExtremes(readings []uint16) uint16 {
	n := len(readings)
	if n == 0 {
		return 0
	}

	var sum uint32
	lo, hi := readings[0], readings[0]
	for _, v := range readings {
		sum += uint32(v)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if n < 3 {
		return uint16(sum / uint32(n))
	}

	sum = sum - uint32(lo) - uint32(hi)
	return uint16(sum / uint32(n-2))
}

// Scale converts aggregated counts into volts.
type Scale struct {
	VRef      float64 // volts at full scale
	FullScale float64 // counts corresponding to VRef
}

// DefaultScale matches a 10-bit converter referenced to 5 V.
var DefaultScale = Scale{VRef: 5.0, FullScale: 1024}

// Volts returns reading * VRef / FullScale.
func (s Scale) Volts(reading uint16) float64 {
	return float64(reading) * s.VRef / s.FullScale
}

// FormatLine renders one voltage as a serial output line.
func FormatLine(volts float64) string {
	return fmt.Sprintf("%1.3f\r\n", volts)
}
