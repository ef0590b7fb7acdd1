//go:build !linux

package gpio

import "errors"

// RealBank is not available on non-Linux platforms.
type RealBank struct{}

// NewRealBank returns an error on non-Linux platforms.
func NewRealBank(chipName string, pins []int) (*RealBank, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Outputs returns no outputs on non-Linux platforms.
func (b *RealBank) Outputs() []Output {
	return nil
}

// Pins returns no pins on non-Linux platforms.
func (b *RealBank) Pins() []int {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (b *RealBank) Close() error {
	return nil
}
