//go:build !linux

package mux

import "github.com/sweeney/mux-scanner/internal/logic"

// RealController is not available on non-Linux platforms.
type RealController struct{}

// NewRealController returns an error on non-Linux platforms.
func NewRealController(chipName string, offsets [Lines]int) (*RealController, error) {
	return nil, ErrUnsupported
}

// Select is not implemented on non-Linux platforms.
func (c *RealController) Select(addr logic.Address) error {
	return ErrUnsupported
}

// Close is not implemented on non-Linux platforms.
func (c *RealController) Close() error {
	return nil
}
