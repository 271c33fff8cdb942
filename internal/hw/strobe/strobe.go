package strobe

import (
	"time"

	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/gpio"
)

// Strobe drives an external flash over a single sync line:
// - GND: connected to Raspberry Pi ground
// - SYNC: fire by pulling to LOW
//
// Fire sequence:
// 1. SYNC to LOW (closes the sync contact, flash fires)
// 2. Hold for the pulse duration
// 3. SYNC back to HIGH
type Strobe struct {
	gpio  gpio.Driver
	pin   int
	pulse time.Duration // sync contact hold time
}

// New creates a GPIO-controlled flash strobe on the given sync pin.
// pulse is how long the sync line is held active.
func New(g gpio.Driver, pin int, pulse time.Duration) *Strobe {
	_ = g.SetupOutput(pin)

	// The line idles HIGH (inactive)
	_ = g.WritePin(pin, gpio.High)

	if pulse <= 0 {
		pulse = 30 * time.Millisecond
	}
	return &Strobe{
		gpio:  g,
		pin:   pin,
		pulse: pulse,
	}
}

// Fire pulses the sync line once.
// Sequence: SYNC LOW -> hold -> SYNC HIGH
func (s *Strobe) Fire() error {
	debug.Verbose("Strobe: firing (pin %d -> LOW)", s.pin)
	if err := s.gpio.WritePin(s.pin, gpio.Low); err != nil {
		return err
	}

	time.Sleep(s.pulse)

	debug.Verbose("Strobe: releasing (pin %d -> HIGH)", s.pin)
	if err := s.gpio.WritePin(s.pin, gpio.High); err != nil {
		return err
	}

	debug.Trace("Strobe: fired")
	return nil
}
