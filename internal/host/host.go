// Package host asks the operating system to power down.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
)

// DefaultCommand is the shutdown command run by Command.
const DefaultCommand = "sudo shutdown -h now"

// Shutdowner requests an operating system shutdown. The request is
// fire-and-forget; a nil error only means it was issued.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Method selects a Shutdowner implementation.
type Method string

const (
	MethodCommand Method = "command"
	MethodSyscall Method = "syscall"
	MethodNone    Method = "none"
)

// New returns the Shutdowner for method.
func New(method Method, command string, logger *slog.Logger) (Shutdowner, error) {
	switch method {
	case MethodCommand, "":
		return NewCommand(command, logger)
	case MethodSyscall:
		return Syscall{}, nil
	case MethodNone:
		return Noop{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("host: unknown shutdown method %q", method)
	}
}

// Command runs an external command, "sudo shutdown -h now" by default.
type Command struct {
	args   []string
	logger *slog.Logger
}

// NewCommand parses command with shell quoting rules.
func NewCommand(command string, logger *slog.Logger) (*Command, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("host: parse shutdown command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("host: empty shutdown command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{args: args, logger: logger.With("component", "host")}, nil
}

// Args returns the parsed argv.
func (c *Command) Args() []string {
	return append([]string(nil), c.args...)
}

// Shutdown runs the command and waits briefly for it to exit.
func (c *Command) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	c.logger.Info("requesting host shutdown", "command", strings.Join(c.args, " "))
	out, err := exec.CommandContext(ctx, c.args[0], c.args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("host: %s: %w: %s", c.args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Noop logs instead of shutting down. Useful on development machines.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Shutdown(context.Context) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("host shutdown requested but disabled by configuration")
	return nil
}

// Fake records shutdown requests for tests.
type Fake struct {
	mu    sync.Mutex
	calls int

	// Err, if set, is returned by Shutdown.
	Err error
}

func (f *Fake) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.Err
}

// Calls returns how many times Shutdown was called.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
