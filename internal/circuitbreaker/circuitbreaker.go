// Package circuitbreaker implements a consecutive-failure circuit breaker
// in front of the upstream client, reducing failover latency from seconds
// (timeout + network) to nanoseconds (state check).
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows probe requests through to test recovery.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold  int           // consecutive failures to trip (default 5)
	OpenTimeout       time.Duration // time in OPEN before HALF_OPEN (default 30s)
	HalfOpenSuccesses int           // consecutive HALF_OPEN successes to close (default 3)
}

// DefaultConfig returns the spec's default thresholds (§4.7).
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
		HalfOpenSuccesses: 3,
	}
}

// Breaker is a single CLOSED/OPEN/HALF_OPEN state machine (spec §3, §4.7).
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	successesInHalfOpen int
	lastFailureTime     time.Time
	openedAt            time.Time
	lastUsed            time.Time

	failureThreshold  int
	openTimeout       time.Duration
	halfOpenSuccesses int
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 3
	}
	return &Breaker{
		state:             StateClosed,
		failureThreshold:  cfg.FailureThreshold,
		openTimeout:       cfg.OpenTimeout,
		halfOpenSuccesses: cfg.HalfOpenSuccesses,
		lastUsed:          time.Now(),
	}
}

// State returns the current breaker state without advancing OPEN->HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// CanExecute reports whether a request may proceed. In OPEN, once
// openTimeout has elapsed it transitions to HALF_OPEN and allows the
// request through as the probe (spec Invariant 6: the check that crosses
// the reset window is itself the transition).
func (b *Breaker) CanExecute() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.openTimeout {
			b.state = StateHalfOpen
			b.successesInHalfOpen = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.successesInHalfOpen++
		if b.successesInHalfOpen >= b.halfOpenSuccesses {
			b.state = StateClosed
			b.successesInHalfOpen = 0
		}
	}
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.successesInHalfOpen = 0
		b.consecutiveFailures = 0
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
			b.consecutiveFailures = 0
		}
	}
}

// LastUsed returns the time of last activity, for stale eviction.
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	t := b.lastUsed
	b.mu.Unlock()
	return t
}
