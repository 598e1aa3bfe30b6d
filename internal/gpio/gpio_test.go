package gpio

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sweeney/psu-off/internal/pinmap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigureIdleLevel(t *testing.T) {
	tests := []struct {
		name     string
		invert   bool
		wantIdle int
		wantTrig int
	}{
		{"normal", false, 0, 1},
		{"inverted", true, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFakeDriver()
			r := NewRelay(d, testLogger())

			err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17, Invert: tt.invert}, pinmap.Rev3)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			line := d.Last()
			if line == nil {
				t.Fatal("expected a claimed line")
			}
			if line.Pin != 17 {
				t.Errorf("pin: got %d, want 17", line.Pin)
			}
			if line.Level() != tt.wantIdle {
				t.Errorf("idle level: got %d, want %d", line.Level(), tt.wantIdle)
			}

			if err := r.Off(); err != nil {
				t.Fatalf("off: %v", err)
			}
			if line.Level() != tt.wantTrig {
				t.Errorf("off level: got %d, want %d", line.Level(), tt.wantTrig)
			}
		})
	}
}

func TestConfigureTranslatesBoardPin(t *testing.T) {
	d := NewFakeDriver()
	r := NewRelay(d, testLogger())

	// Physical pin 11 is BCM 17 on every revision.
	if err := r.Configure(PinConfig{Mode: pinmap.ModePhysical, Pin: 11}, pinmap.Rev2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.Last().Pin; got != 17 {
		t.Errorf("line: got %d, want 17", got)
	}
}

func TestReconfigureReleasesPrevious(t *testing.T) {
	d := NewFakeDriver()
	r := NewRelay(d, testLogger())

	if err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17}, pinmap.Rev3); err != nil {
		t.Fatal(err)
	}
	first := d.Last()

	if err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 27}, pinmap.Rev3); err != nil {
		t.Fatal(err)
	}
	second := d.Last()

	if !first.IsClosed() {
		t.Error("first line should be released before claiming the second")
	}
	if second.IsClosed() {
		t.Error("second line should still be claimed")
	}
	if cfg, ok := r.Claimed(); !ok || cfg.Pin != 27 {
		t.Errorf("Claimed: got (%+v, %v), want pin 27", cfg, ok)
	}
}

func TestConfigureInvalidPin(t *testing.T) {
	d := NewFakeDriver()
	r := NewRelay(d, testLogger())

	err := r.Configure(PinConfig{Mode: pinmap.ModePhysical, Pin: 1}, pinmap.Rev3)
	if !errors.Is(err, pinmap.ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if len(d.Lines) != 0 {
		t.Errorf("expected no line claimed, got %d", len(d.Lines))
	}
	if _, ok := r.Claimed(); ok {
		t.Error("expected nothing claimed")
	}
	if err := r.Off(); err != nil {
		t.Errorf("Off without a claim should be a no-op, got %v", err)
	}
}

func TestConfigureNoHardware(t *testing.T) {
	r := NewRelay(nil, testLogger())

	err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17}, pinmap.Rev3)
	if !errors.Is(err, ErrHardwareUnavailable) {
		t.Fatalf("expected ErrHardwareUnavailable, got %v", err)
	}
	if err := r.Off(); err != nil {
		t.Errorf("Off should be a no-op, got %v", err)
	}
}

func TestConfigureDriverError(t *testing.T) {
	d := NewFakeDriver()
	d.RequestError = errors.New("device busy")
	r := NewRelay(d, testLogger())

	err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17}, pinmap.Rev3)
	if !errors.Is(err, ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
	if _, ok := r.Claimed(); ok {
		t.Error("expected nothing claimed")
	}
}

func TestConfigureFailureReleasesPrevious(t *testing.T) {
	d := NewFakeDriver()
	r := NewRelay(d, testLogger())

	if err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17}, pinmap.Rev3); err != nil {
		t.Fatal(err)
	}
	first := d.Last()

	if err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 99}, pinmap.Rev3); err != nil {
		// BCM 99 is passed through untranslated; the fake accepts it.
		t.Fatal(err)
	}
	if !first.IsClosed() {
		t.Error("previous line should be released")
	}
}

func TestOffDriverError(t *testing.T) {
	d := NewFakeDriver()
	r := NewRelay(d, testLogger())
	if err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17}, pinmap.Rev3); err != nil {
		t.Fatal(err)
	}
	d.Last().SetError = errors.New("EIO")

	if err := r.Off(); !errors.Is(err, ErrDriver) {
		t.Errorf("expected ErrDriver, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	d := NewFakeDriver()
	r := NewRelay(d, testLogger())
	if err := r.Configure(PinConfig{Mode: pinmap.ModeLogical, Pin: 17}, pinmap.Rev3); err != nil {
		t.Fatal(err)
	}

	if err := r.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := r.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if !d.Last().IsClosed() {
		t.Error("line should be closed")
	}
	if got := d.Last().Values(); len(got) != 1 {
		t.Errorf("release must not drive the line, got values %v", got)
	}
}
