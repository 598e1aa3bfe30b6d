package pinmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CPUInfoPath is where the kernel reports the board revision code.
const CPUInfoPath = "/proc/cpuinfo"

const (
	newStyleFlag = 1 << 23
	revCodeMask  = 0xFFFFFF // drops warranty/overvoltage bits
)

// DetectRevision reads the board revision from a cpuinfo-formatted file.
func DetectRevision(path string) (Revision, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	code, err := readRevisionCode(f)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRevision(code)
}

func readRevisionCode(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "Revision" {
			return strings.TrimSpace(value), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no Revision field")
}

// ParseRevision maps a hexadecimal board revision code to a header revision.
// Codes 0002-0003 are Rev1, 0004-000f are Rev2, everything newer is Rev3.
func ParseRevision(code string) (Revision, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(code), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("pinmap: bad revision code %q: %w", code, err)
	}
	n &= revCodeMask
	if n&newStyleFlag != 0 {
		return Rev3, nil
	}
	switch {
	case n == 0x2 || n == 0x3:
		return Rev1, nil
	case n >= 0x4 && n <= 0xf:
		return Rev2, nil
	default:
		return Rev3, nil
	}
}
