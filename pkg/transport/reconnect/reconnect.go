// Package reconnect implements SyncKit's transport reconnection state
// machine (spec §4.5): exponential backoff with jitter on top of
// github.com/cenkalti/backoff/v4, and the heartbeat ping/pong liveness
// check that drives a transition into Reconnecting on timeout.
package reconnect

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is one node of the transport's connection state machine (spec
// §4.5/§5): Idle → Connecting → Connected ⇄ Reconnecting → Failed.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Config mirrors spec §4.5/§6's reconnect.{initial,max,multiplier,
// maxAttempts} and heartbeat.{interval,timeout} options.
type Config struct {
	Initial           time.Duration
	Max               time.Duration
	Multiplier        float64
	MaxAttempts       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultConfig matches spec §4.5's stated defaults exactly.
func DefaultConfig() Config {
	return Config{
		Initial:           1 * time.Second,
		Max:               30 * time.Second,
		Multiplier:        1.5,
		MaxAttempts:       8,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}

// Machine tracks connection state and hands out the next backoff delay
// per spec §4.5's formula: delay = min(maxDelay, initial*multiplier^
// attempt) * (1 + rand(-0.1, 0.1)) — exactly what
// backoff.ExponentialBackOff computes with RandomizationFactor 0.1.
type Machine struct {
	mu      sync.Mutex
	cfg     Config
	state   State
	attempt int
	boff    *backoff.ExponentialBackOff
}

// New creates a reconnect state machine starting in Idle.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, state: Idle}
	m.resetBackoff()
	return m
}

func (m *Machine) resetBackoff() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.Initial
	b.MaxInterval = m.cfg.Max
	b.Multiplier = m.cfg.Multiplier
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // unbounded; MaxAttempts governs the cap instead
	b.Reset()
	m.boff = b
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the number of reconnect attempts made since the last
// successful connection (or since construction).
func (m *Machine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connecting transitions Idle/Reconnecting → Connecting, for the
// caller about to dial.
func (m *Machine) Connecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Connecting
}

// Connected transitions → Connected and resets the attempt counter and
// backoff schedule, since a successful connection clears prior
// failures.
func (m *Machine) Connected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Connected
	m.attempt = 0
	m.resetBackoff()
}

// NextDelay reports the delay before the next reconnect attempt and
// transitions to Reconnecting, or reports ok=false and transitions to
// Failed once MaxAttempts is exhausted (spec §4.5: "After cap → state
// Failed; no auto-recovery until caller invokes reconnect").
func (m *Machine) NextDelay() (delay time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt >= m.cfg.MaxAttempts {
		m.state = Failed
		return 0, false
	}
	m.attempt++
	m.state = Reconnecting
	return m.boff.NextBackOff(), true
}

// ForceReconnect is the explicit caller-invoked recovery path out of
// Failed (spec §4.5: "no auto-recovery until caller invokes
// reconnect").
func (m *Machine) ForceReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempt = 0
	m.resetBackoff()
	m.state = Idle
}

// Heartbeat tracks ping/pong liveness on one connection (spec §4.5:
// "PING every heartbeatInterval; expect PONG within heartbeatTimeout.
// Timeout → transition to Reconnecting").
type Heartbeat struct {
	mu           sync.Mutex
	interval     time.Duration
	timeout      time.Duration
	lastPongAt   time.Time
	pingSentAt   time.Time
	pingInFlight bool
}

// NewHeartbeat creates a heartbeat tracker with the given interval and
// timeout.
func NewHeartbeat(interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{interval: interval, timeout: timeout, lastPongAt: time.Now()}
}

// Sent records that a PING was just sent.
func (h *Heartbeat) Sent(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingInFlight = true
	h.pingSentAt = now
}

// Received records that a PONG arrived, clearing the in-flight ping.
func (h *Heartbeat) Received(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingInFlight = false
	h.lastPongAt = now
}

// Expired reports whether the in-flight ping has gone unanswered
// longer than the configured timeout, as of now.
func (h *Heartbeat) Expired(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pingInFlight && now.Sub(h.pingSentAt) > h.timeout
}

// Interval returns the configured ping cadence.
func (h *Heartbeat) Interval() time.Duration { return h.interval }
