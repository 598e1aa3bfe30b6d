//go:build !linux

package host

import (
	"context"
	"errors"
)

// Syscall is only supported on Linux.
type Syscall struct{}

func (Syscall) Shutdown(context.Context) error {
	return errors.New("host: syscall shutdown requires Linux")
}
