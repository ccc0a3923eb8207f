// Package adc provides the sample source: one raw conversion of whatever
// physical channel the multiplexers currently route to the converter.
package adc

import (
	"context"
	"errors"

	"github.com/sweeney/mux-scanner/internal/logic"
)

var (
	// ErrTimeout is returned when a conversion does not complete in time.
	ErrTimeout = errors.New("adc: conversion timed out")

	// ErrNoSamples is returned by FakeSource when it has nothing to return.
	ErrNoSamples = errors.New("adc: no samples configured")
)

// MaxCount is the largest raw value of the 10-bit converter.
const MaxCount = 1023

// Source produces one raw conversion.
type Source interface {
	// Acquire blocks until a conversion of the currently routed channel is
	// ready. addr is the address the caller believes is selected; hardware
	// sources do not need it.
	Acquire(ctx context.Context, addr logic.Address) (uint16, error)

	// Close releases the converter.
	Close() error
}
