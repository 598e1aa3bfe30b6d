// Package pinmap translates Raspberry Pi header pins between physical
// (BOARD) and logical (BCM) numbering for each board revision.
// It has no hardware dependencies.
package pinmap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPin is returned when a pin does not exist on the revision's header.
	ErrInvalidPin = errors.New("pinmap: invalid pin")

	// ErrNoAddressingMode is returned by Resolve when the GPIO subsystem
	// reports no addressing mode. It is a configuration error; retrying will not help.
	ErrNoAddressingMode = errors.New("pinmap: no active addressing mode")
)

// Revision identifies the header layout of a board.
type Revision int

const (
	Rev1 Revision = 1
	Rev2 Revision = 2
	Rev3 Revision = 3
)

func (r Revision) String() string {
	switch r {
	case Rev1, Rev2, Rev3:
		return fmt.Sprintf("rev%d", int(r))
	default:
		return "UNKNOWN"
	}
}

// Mode is a pin numbering convention.
type Mode string

const (
	ModeNone     Mode = ""
	ModePhysical Mode = "BOARD"
	ModeLogical  Mode = "BCM"
)

// ParseMode accepts BOARD or BCM, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ModePhysical):
		return ModePhysical, nil
	case string(ModeLogical):
		return ModeLogical, nil
	default:
		return ModeNone, fmt.Errorf("pinmap: unknown numbering mode %q (want BOARD or BCM)", s)
	}
}

// unavailable marks a header position with no GPIO behind it.
const unavailable = -1

// Index is the physical header position, value is the BCM number.
var (
	rev1Table = [41]int{-1, -1, -1, 0, -1, 1, -1, 4, 14, -1, 15, 17, 18, 21, -1, 22, 23, -1, 24, 10, -1, 9, 25, 11, 8, -1, 7, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	rev2Table = [41]int{-1, -1, -1, 2, -1, 3, -1, 4, 14, -1, 15, 17, 18, 27, -1, 22, 23, -1, 24, 10, -1, 9, 25, 11, 8, -1, 7, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	rev3Table = [41]int{-1, -1, -1, 2, -1, 3, -1, 4, 14, -1, 15, 17, 18, 27, -1, 22, 23, -1, 24, 10, -1, 9, 25, 11, 8, -1, 7, -1, -1, 5, -1, 6, 12, 13, -1, 19, 16, 26, 20, -1, 21}
)

// Table returns a copy of the revision's header table.
// Unknown revisions use the 40-pin layout.
func Table(rev Revision) [41]int {
	switch rev {
	case Rev1:
		return rev1Table
	case Rev2:
		return rev2Table
	default:
		return rev3Table
	}
}

// ToLogical maps a physical header pin to its BCM number.
func ToLogical(rev Revision, physical int) (int, error) {
	table := Table(rev)
	if physical < 0 || physical >= len(table) || table[physical] == unavailable {
		return 0, fmt.Errorf("%w: physical pin %d has no GPIO on %s", ErrInvalidPin, physical, rev)
	}
	return table[physical], nil
}

// ToPhysical maps a BCM number back to its header position.
func ToPhysical(rev Revision, logical int) (int, error) {
	if logical >= 0 {
		for physical, id := range Table(rev) {
			if id == logical {
				return physical, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: BCM %d is not on the %s header", ErrInvalidPin, logical, rev)
}

// Resolve converts pin from the configured numbering into the numbering
// the GPIO subsystem is actively using.
func Resolve(configured, active Mode, rev Revision, pin int) (int, error) {
	switch {
	case active == ModeNone:
		return 0, ErrNoAddressingMode
	case configured == active:
		return pin, nil
	case configured == ModePhysical && active == ModeLogical:
		return ToLogical(rev, pin)
	case configured == ModeLogical && active == ModePhysical:
		return ToPhysical(rev, pin)
	default:
		return 0, fmt.Errorf("pinmap: cannot resolve from %q to %q", configured, active)
	}
}
