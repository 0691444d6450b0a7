package gateway_test

import (
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/dantte-lp/smgw/internal/gateway"
)

func defaultThrottle() gateway.ThrottleConfig {
	return gateway.ThrottleConfig{
		Threshold: gateway.DefaultThrottleThreshold,
		Timespan:  gateway.DefaultThrottleTimespan,
	}
}

// forward simulates one fully processed datagram and reports whether the
// gate let it through.
func forward(g *gateway.ThrottleGate) bool {
	if !g.PreCheck() {
		return false
	}
	g.RecordSuccess()
	return true
}

// TestThrottleGateThreshold verifies that three messages within the
// timespan pass, the fourth is suppressed and the gate re-opens after the
// timespan elapses without activity.
func TestThrottleGateThreshold(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := gateway.NewThrottleGate(defaultThrottle())

		for i := range 3 {
			if !forward(g) {
				t.Fatalf("message %d suppressed, want forwarded", i+1)
			}
			time.Sleep(time.Second)
		}

		if forward(g) {
			t.Fatal("4th message forwarded, want suppressed")
		}
		if s := g.Snapshot(); s.State != gateway.ThrottleSuppressed || s.Counter != 3 {
			t.Fatalf("snapshot = %+v, want Suppressed with counter 3", s)
		}

		// Exactly one timespan after the last forward: still suppressed.
		time.Sleep(29 * time.Second)
		if forward(g) {
			t.Fatal("message at timespan boundary forwarded, want suppressed")
		}

		time.Sleep(time.Second)
		if !forward(g) {
			t.Fatal("message after timespan suppressed, want forwarded")
		}
		if s := g.Snapshot(); s.State != gateway.ThrottleActive || s.Counter != 1 {
			t.Errorf("snapshot = %+v, want Active with counter 1", s)
		}
	})
}

// TestThrottleGateSlidingActivity verifies that steady traffic keeps the
// counter alive because each forward refreshes lastActivity.
func TestThrottleGateSlidingActivity(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := gateway.NewThrottleGate(defaultThrottle())

		for i := range 3 {
			if !forward(g) {
				t.Fatalf("message %d suppressed", i+1)
			}
			time.Sleep(20 * time.Second)
		}

		if forward(g) {
			t.Error("4th message forwarded within timespan of the 3rd, want suppressed")
		}
	})
}

// TestThrottleGateSuppressFor verifies the administrative override: the
// gate stays suppressed for the requested duration and re-opens after it.
func TestThrottleGateSuppressFor(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := gateway.NewThrottleGate(defaultThrottle())

		if !forward(g) {
			t.Fatal("first message suppressed")
		}

		g.SuppressFor(5 * time.Minute)
		if s := g.Snapshot(); s.State != gateway.ThrottleSuppressed {
			t.Fatalf("state after SuppressFor = %s, want suppressed", s.State)
		}

		time.Sleep(4*time.Minute + 59*time.Second)
		if g.PreCheck() {
			t.Fatal("gate active before suppression elapsed")
		}

		time.Sleep(2 * time.Second)
		if !g.PreCheck() {
			t.Fatal("gate suppressed after suppression elapsed")
		}
	})
}

func TestThrottleGateSnapshotAfterSuppressionElapsed(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := gateway.NewThrottleGate(defaultThrottle())

		g.SuppressFor(time.Minute)
		if s := g.Snapshot(); s.State != gateway.ThrottleSuppressed {
			t.Fatalf("state after SuppressFor = %s, want suppressed", s.State)
		}

		// No PreCheck in between: the snapshot alone must see the expiry.
		time.Sleep(10 * time.Minute)

		s := g.Snapshot()
		if s.State != gateway.ThrottleActive {
			t.Errorf("state after suppression elapsed = %s, want active", s.State)
		}
		if s.Counter != gateway.DefaultThrottleThreshold {
			t.Errorf("counter = %d, want %d (snapshot must not reset it)", s.Counter, gateway.DefaultThrottleThreshold)
		}
	})
}

func TestThrottleGateWithClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := gateway.NewThrottleGate(
		gateway.ThrottleConfig{Threshold: 1, Timespan: time.Minute},
		gateway.WithThrottleClock(func() time.Time { return now }),
	)

	if !forward(g) {
		t.Fatal("first message suppressed")
	}
	if forward(g) {
		t.Fatal("second message forwarded with threshold 1")
	}
	if got := g.Snapshot().LastActivity; !got.Equal(now) {
		t.Errorf("LastActivity = %v, want %v", got, now)
	}

	now = now.Add(time.Minute + time.Nanosecond)
	if !forward(g) {
		t.Error("message after timespan suppressed")
	}
}

func TestThrottleConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     gateway.ThrottleConfig
		wantErr error
	}{
		{name: "default", cfg: defaultThrottle()},
		{name: "zero threshold", cfg: gateway.ThrottleConfig{Threshold: 0, Timespan: time.Second}, wantErr: gateway.ErrInvalidThreshold},
		{name: "zero timespan", cfg: gateway.ThrottleConfig{Threshold: 1}, wantErr: gateway.ErrInvalidTimespan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestThrottleStateString(t *testing.T) {
	t.Parallel()

	if got := gateway.ThrottleActive.String(); got != "active" {
		t.Errorf("ThrottleActive.String() = %q", got)
	}
	if got := gateway.ThrottleSuppressed.String(); got != "suppressed" {
		t.Errorf("ThrottleSuppressed.String() = %q", got)
	}
}
