//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "fireflies"

// RealBank drives output lines on actual hardware using Linux GPIO character device.
type RealBank struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
	pins  []int
}

// realOutput is a single requested line.
type realOutput struct {
	line *gpiocdev.Line
	pin  int
}

// NewRealBank requests every pin on the named chip as an output, initially low.
func NewRealBank(chipName string, pins []int) (*RealBank, error) {
	if err := ValidatePins(pins); err != nil {
		return nil, err
	}

	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	b := &RealBank{chip: chip, pins: append([]int(nil), pins...)}
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		b.lines = append(b.lines, line)
	}
	return b, nil
}

// Outputs returns one Output per requested line.
func (b *RealBank) Outputs() []Output {
	outs := make([]Output, len(b.lines))
	for i, line := range b.lines {
		outs[i] = &realOutput{line: line, pin: b.pins[i]}
	}
	return outs
}

// Pins returns the requested line offsets.
func (b *RealBank) Pins() []int {
	return b.pins
}

// Set drives the line high or low.
func (o *realOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Lines are driven low and then reconfigured to input with pull-down
// (matching Pi boot defaults) before closing, so no LED is left lit.
func (b *RealBank) Close() error {
	var errs []error

	for i, line := range b.lines {
		pin := b.pins[i]
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", pin, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	b.lines = nil

	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}

	return errors.Join(errs...)
}
