package mux

import (
	"sync"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// Simulated keeps the current select code in memory. It backs the simulated
// sample source when no GPIO chip is present.
type Simulated struct {
	mu       sync.Mutex
	code     uint8
	selected bool
}

// NewSimulated creates a Simulated controller with all lines low.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Select stores the encoded address.
func (s *Simulated) Select(addr logic.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = Encode(addr)
	s.selected = true
	return nil
}

// Current returns the selected address, and false before the first Select or
// after Close.
func (s *Simulated) Current() (logic.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Decode(s.code), s.selected
}

// Close drives every line low.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = 0
	s.selected = false
	return nil
}
