// Package logic contains the pure firefly timing logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// State represents the logical state of a firefly.
type State string

const (
	StateDark State = "DARK"
	StateLit  State = "LIT"
)

// EventType represents a firefly transition or fault.
type EventType string

const (
	EventLightOn  EventType = "LIGHT_ON"
	EventLightOff EventType = "LIGHT_OFF"
	EventFault    EventType = "FAULT"
)

// Event describes something that happened to a single firefly.
type Event struct {
	Timestamp time.Time
	Label     string
	Type      EventType
	State     State
	// Flashes is the number of times the firefly has lit, including this one.
	Flashes int
	// NextDelay is the freshly drawn pending delay (LIGHT_OFF only).
	NextDelay time.Duration
	// Err is the fault description (FAULT only).
	Err string
}

// Output drives one digital output channel.
type Output interface {
	// Set drives the channel high (true) or low (false).
	Set(on bool) error
}

// Source yields pseudorandom float64 values in [0, 1).
// *rand.Rand from math/rand and math/rand/v2 both satisfy it.
type Source interface {
	Float64() float64
}

// ErrInvalidTiming is wrapped by every Timing validation error.
var ErrInvalidTiming = errors.New("invalid timing")

// Timing holds the flash timing shared by every firefly.
type Timing struct {
	// Light is how long a firefly stays lit.
	Light time.Duration
	// MinDark and MaxDark bound the random dark interval, before Light is added.
	MinDark time.Duration
	MaxDark time.Duration
}

// Reference timing values.
const (
	DefaultLight   = 500 * time.Millisecond
	DefaultMinDark = 5 * time.Second
	DefaultMaxDark = 10 * time.Second
)

// DefaultTiming returns the reference timing.
func DefaultTiming() Timing {
	return Timing{
		Light:   DefaultLight,
		MinDark: DefaultMinDark,
		MaxDark: DefaultMaxDark,
	}
}

// Validate rejects non-positive durations and inverted dark bounds.
func (t Timing) Validate() error {
	if t.Light <= 0 {
		return fmt.Errorf("%w: light duration must be positive, got %v", ErrInvalidTiming, t.Light)
	}
	if t.MinDark <= 0 {
		return fmt.Errorf("%w: min dark time must be positive, got %v", ErrInvalidTiming, t.MinDark)
	}
	if t.MaxDark <= 0 {
		return fmt.Errorf("%w: max dark time must be positive, got %v", ErrInvalidTiming, t.MaxDark)
	}
	if t.MinDark > t.MaxDark {
		return fmt.Errorf("%w: min dark time %v exceeds max dark time %v", ErrInvalidTiming, t.MinDark, t.MaxDark)
	}
	return nil
}

// HardwareFault reports a failed write to a firefly's output channel.
type HardwareFault struct {
	Label string
	On    bool
	Err   error
}

func (f *HardwareFault) Error() string {
	return fmt.Sprintf("firefly %s: set output %s: %v", f.Label, stateFor(f.On), f.Err)
}

func (f *HardwareFault) Unwrap() error {
	return f.Err
}

func stateFor(lit bool) State {
	if lit {
		return StateLit
	}
	return StateDark
}
