// Package printer defines the printer collaborator the power controller
// consumes: job state, heater readings and heater targets.
package printer

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Printer is the subset of printer control the daemon needs.
type Printer interface {
	IsPrinting(ctx context.Context) (bool, error)
	IsPaused(ctx context.Context) (bool, error)

	// Temperatures returns the current heater readings keyed by heater id
	// ("tool0", "tool1", "bed", ...).
	Temperatures(ctx context.Context) (Snapshot, error)

	// SetHeaterTarget sets the target temperature of a heater.
	SetHeaterTarget(ctx context.Context, heater string, target float64) error
}

// Snapshot maps heater id to its latest reading.
type Snapshot map[string]Heater

// Heater holds a raw heater reading. Values come straight from the
// printer host and may be missing or non-numeric.
type Heater struct {
	Target any `json:"target"`
	Actual any `json:"actual"`
}

// TargetValue returns the target temperature if it is numeric.
func (h Heater) TargetValue() (float64, bool) {
	return number(h.Target)
}

// ActualValue returns the measured temperature if it is numeric.
func (h Heater) ActualValue() (float64, bool) {
	return number(h.Actual)
}

// IsTool reports whether id names an extruder heater.
func IsTool(id string) bool {
	return strings.HasPrefix(id, "tool")
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
