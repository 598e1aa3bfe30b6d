//go:build !linux

package gpio

import (
	"fmt"

	"github.com/sweeney/psu-off/internal/pinmap"
)

// DefaultChip is the GPIO character device carrying the header lines.
const DefaultChip = "gpiochip0"

// ChipDriver is not available on non-Linux platforms.
type ChipDriver struct{}

// NewChipDriver returns ErrHardwareUnavailable on non-Linux platforms.
func NewChipDriver(name string) (*ChipDriver, error) {
	return nil, fmt.Errorf("%w: %s requires Linux", ErrHardwareUnavailable, name)
}

// Mode reports no addressing mode.
func (d *ChipDriver) Mode() pinmap.Mode {
	return pinmap.ModeNone
}

// RequestOutput is not implemented on non-Linux platforms.
func (d *ChipDriver) RequestOutput(int, int) (Line, error) {
	return nil, ErrHardwareUnavailable
}

// Close is not implemented on non-Linux platforms.
func (d *ChipDriver) Close() error {
	return nil
}
