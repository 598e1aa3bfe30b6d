//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device carrying the header lines.
const DefaultChip = "gpiochip0"

const consumer = "psu-off"

// ChipDriver claims lines from a Linux GPIO character device.
// Lines are addressed by offset, which is the BCM number on the Pi header.
type ChipDriver struct {
	chip *gpiocdev.Chip
}

// NewChipDriver opens the named chip.
func NewChipDriver(name string) (*ChipDriver, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumer))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: open chip %s: %v", ErrHardwareUnavailable, name, err)
		}
		return nil, fmt.Errorf("%w: open chip %s: %v", ErrDriver, name, err)
	}
	return &ChipDriver{chip: chip}, nil
}

// Mode reports BCM numbering.
func (d *ChipDriver) Mode() pinmap.Mode {
	return pinmap.ModeLogical
}

// RequestOutput claims the line at offset pin as an output.
func (d *ChipDriver) RequestOutput(pin, initial int) (Line, error) {
	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request line %d: %w", pin, err)
	}
	return line, nil
}

// Close releases the chip.
func (d *ChipDriver) Close() error {
	if d.chip == nil {
		return nil
	}
	if err := d.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return nil
}
