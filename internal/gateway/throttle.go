package gateway

import (
	"errors"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Throttle State
// -------------------------------------------------------------------------

// ThrottleState is the state of a listener's throttle gate.
type ThrottleState uint8

const (
	// ThrottleActive forwards authenticated messages.
	ThrottleActive ThrottleState = iota

	// ThrottleSuppressed drops every datagram before it is decoded.
	ThrottleSuppressed
)

// String returns the lowercase state name.
func (s ThrottleState) String() string {
	switch s {
	case ThrottleActive:
		return "active"
	case ThrottleSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Default throttle parameters.
const (
	DefaultThrottleThreshold = 3
	DefaultThrottleTimespan  = 30 * time.Second
)

// Throttle errors.
var (
	// ErrInvalidThreshold indicates a non-positive throttle threshold.
	ErrInvalidThreshold = errors.New("throttle threshold must be >= 1")

	// ErrInvalidTimespan indicates a non-positive throttle timespan.
	ErrInvalidTimespan = errors.New("throttle timespan must be > 0")
)

// ThrottleConfig holds the throttle gate parameters.
type ThrottleConfig struct {
	// Threshold is the number of forwarded messages allowed per Timespan.
	Threshold int

	// Timespan is the idle period after which the counter resets.
	Timespan time.Duration
}

// Validate checks the throttle parameters.
func (c ThrottleConfig) Validate() error {
	if c.Threshold < 1 {
		return ErrInvalidThreshold
	}
	if c.Timespan <= 0 {
		return ErrInvalidTimespan
	}
	return nil
}

// -------------------------------------------------------------------------
// Throttle Gate
// -------------------------------------------------------------------------

// ThrottleGate limits the forward rate of one listener.
//
// Every successful forward increments a counter. Once the counter reaches
// the threshold the gate is suppressed until no message has been forwarded
// for longer than the timespan. The receive loop calls PreCheck and
// RecordSuccess; SuppressFor is called from the command path. All methods
// are safe for concurrent use.
type ThrottleGate struct {
	mu           sync.Mutex
	counter      int
	lastActivity time.Time
	enabled      bool

	threshold int
	timespan  time.Duration

	now func() time.Time
}

// ThrottleOption configures optional ThrottleGate parameters.
type ThrottleOption func(*ThrottleGate)

// WithThrottleClock sets a custom time source for the gate.
func WithThrottleClock(now func() time.Time) ThrottleOption {
	return func(g *ThrottleGate) {
		g.now = now
	}
}

// NewThrottleGate creates an Active gate. The zero lastActivity makes the
// first PreCheck reset the counter.
func NewThrottleGate(cfg ThrottleConfig, opts ...ThrottleOption) *ThrottleGate {
	g := &ThrottleGate{
		enabled:   true,
		threshold: cfg.Threshold,
		timespan:  cfg.Timespan,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PreCheck updates the gate before a datagram is processed and reports
// whether the gate is Active.
func (g *ThrottleGate) PreCheck() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	switch {
	case now.Sub(g.lastActivity) > g.timespan:
		g.counter = 0
		g.lastActivity = now
		g.enabled = true
	case g.counter >= g.threshold:
		g.enabled = false
	}
	return g.enabled
}

// RecordSuccess counts one forwarded message.
func (g *ThrottleGate) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	g.lastActivity = g.now()
}

// SuppressFor forces the gate into the Suppressed state for roughly d.
// After d has elapsed the regular reset in PreCheck re-enables the gate.
func (g *ThrottleGate) SuppressFor(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter = g.threshold
	g.lastActivity = g.now().Add(d - g.timespan)
	g.enabled = false
}

// ThrottleSnapshot is a point-in-time view of a ThrottleGate.
type ThrottleSnapshot struct {
	State        ThrottleState
	Counter      int
	LastActivity time.Time
	Threshold    int
	Timespan     time.Duration
}

// Snapshot returns the current gate state. The state is evaluated against
// the clock as PreCheck would, so an expired suppression reads as Active
// even before the next datagram arrives. The counter is left untouched.
func (g *ThrottleGate) Snapshot() ThrottleSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := ThrottleActive
	if g.now().Sub(g.lastActivity) <= g.timespan && g.counter >= g.threshold {
		state = ThrottleSuppressed
	}
	return ThrottleSnapshot{
		State:        state,
		Counter:      g.counter,
		LastActivity: g.lastActivity,
		Threshold:    g.threshold,
		Timespan:     g.timespan,
	}
}
