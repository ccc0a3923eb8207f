package mux

import "github.com/sweeney/mux-scanner/internal/logic"

// FakeController is a test double that records every address written.
type FakeController struct {
	// Writes contains every address passed to Select, in order.
	Writes []logic.Address

	// Codes contains the encoded select code for each write.
	Codes []uint8

	// SelectError, if set, will be returned by Select.
	SelectError error

	// OnSelect, if set, is invoked after a successful write.
	OnSelect func(addr logic.Address)

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeController creates an empty FakeController.
func NewFakeController() *FakeController {
	return &FakeController{}
}

// Select records the address.
func (f *FakeController) Select(addr logic.Address) error {
	if f.SelectError != nil {
		return f.SelectError
	}
	f.Writes = append(f.Writes, addr)
	f.Codes = append(f.Codes, Encode(addr))
	if f.OnSelect != nil {
		f.OnSelect(addr)
	}
	return nil
}

// Current returns the last address written, and false if nothing was written.
func (f *FakeController) Current() (logic.Address, bool) {
	if len(f.Writes) == 0 {
		return logic.Address{}, false
	}
	return f.Writes[len(f.Writes)-1], true
}

// Close marks the controller as closed.
func (f *FakeController) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeController) Reset() {
	f.Writes = nil
	f.Codes = nil
	f.Closed = false
}
