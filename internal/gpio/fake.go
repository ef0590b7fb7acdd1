package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// FakeOutput is a test double that records every value written to it.
type FakeOutput struct {
	mu sync.Mutex

	// Writes contains every value successfully written, in order.
	Writes []bool

	// SetError, if set, will be returned by Set() and nothing is recorded.
	SetError error
}

// Set records the written value.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, on)
	return nil
}

// Value returns the last written value, or false if nothing was written.
func (f *FakeOutput) Value() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Writes) == 0 {
		return false
	}
	return f.Writes[len(f.Writes)-1]
}

// Count returns how many times the given value was written.
func (f *FakeOutput) Count(on bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, w := range f.Writes {
		if w == on {
			n++
		}
	}
	return n
}

// FailWith makes subsequent writes fail with err (nil clears the failure).
func (f *FakeOutput) FailWith(err error) {
	f.mu.Lock()
	f.SetError = err
	f.mu.Unlock()
}

// FakeBank is a Bank backed by FakeOutputs.
type FakeBank struct {
	// Lines holds one FakeOutput per pin.
	Lines []*FakeOutput

	pins []int

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeBank creates a FakeBank with one FakeOutput per pin.
func NewFakeBank(pins []int) (*FakeBank, error) {
	if err := ValidatePins(pins); err != nil {
		return nil, err
	}
	b := &FakeBank{pins: append([]int(nil), pins...)}
	for range pins {
		b.Lines = append(b.Lines, &FakeOutput{})
	}
	return b, nil
}

// Outputs returns the fake lines as Outputs.
func (b *FakeBank) Outputs() []Output {
	outs := make([]Output, len(b.Lines))
	for i, l := range b.Lines {
		outs[i] = l
	}
	return outs
}

// Pins returns the configured pins.
func (b *FakeBank) Pins() []int {
	return b.pins
}

// Close drives every line low and marks the bank as closed. Like RealBank it
// keeps going past a failing line and returns the joined errors.
func (b *FakeBank) Close() error {
	var errs []error
	for i, l := range b.Lines {
		if err := l.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", b.pins[i], err))
		}
	}
	b.Closed = true
	return errors.Join(errs...)
}
