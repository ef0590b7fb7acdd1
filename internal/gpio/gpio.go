// Package gpio provides GPIO output lines with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Output drives a single digital output line.
type Output interface {
	// Set drives the line high (true) or low (false).
	Set(on bool) error
}

// Bank is a set of output lines claimed together.
type Bank interface {
	// Outputs returns one Output per pin, in pin order.
	Outputs() []Output

	// Pins returns the line offsets backing Outputs.
	Pins() []int

	// Close drives every line low and releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultPins are the BCM pin numbers of the eight firefly LEDs.
var DefaultPins = []int{5, 6, 12, 13, 16, 19, 20, 26}

// ValidatePins rejects empty, negative and duplicate pin lists.
// Each line must be owned by exactly one firefly.
func ValidatePins(pins []int) error {
	if len(pins) == 0 {
		return fmt.Errorf("no pins configured")
	}
	seen := make(map[int]bool, len(pins))
	for _, p := range pins {
		if p < 0 {
			return fmt.Errorf("invalid pin %d", p)
		}
		if seen[p] {
			return fmt.Errorf("pin %d configured more than once", p)
		}
		seen[p] = true
	}
	return nil
}
