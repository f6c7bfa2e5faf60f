package store

import (
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/clock"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the failure-detection and recovery behavior.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures within FailureWindow before tripping
	FailureWindow    time.Duration
	Cooldown         time.Duration // time open before probing half-open
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    10 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// breaker implements the closed -> open -> half-open -> closed state
// machine. It is a leaf lock: it never calls out to another component
// while held.
type breaker struct {
	mu sync.Mutex
	cfg BreakerConfig
	clk clock.Clock

	state            BreakerState
	consecutiveFails int
	firstFailAt      time.Time
	openedAt         time.Time
	halfOpenInFlight bool
}

func newBreaker(cfg BreakerConfig, clk clock.Clock) *breaker {
	return &breaker{cfg: cfg, clk: clk, state: BreakerClosed}
}

// Allow reports whether a request may proceed, and if so, whether it is
// the single permitted half-open probe.
func (b *breaker) Allow() (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, false
	case BreakerOpen:
		if b.clk.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.halfOpenInFlight = true
			return true, true
		}
		return false, false
	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			// At most one in-flight half-open probe at a time.
			return false, false
		}
		b.halfOpenInFlight = true
		return true, true
	default:
		return false, false
	}
}

// RecordSuccess reports a successful call. In half-open, this closes the
// breaker and resets counters; in closed, it just resets the failure
// streak.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.halfOpenInFlight = false
		b.consecutiveFails = 0
	case BreakerClosed:
		b.consecutiveFails = 0
	case BreakerOpen:
		// A stray success after the cooldown raced Allow(); treat it the
		// same as a half-open success.
		b.state = BreakerClosed
		b.consecutiveFails = 0
	}
}

// RecordFailure reports a failed call, tripping the breaker when the
// consecutive-failure threshold is reached within the failure window, or
// immediately re-opening from half-open.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenInFlight = false
		b.trip(now)
		return
	case BreakerOpen:
		return
	}

	if b.consecutiveFails == 0 || now.Sub(b.firstFailAt) > b.cfg.FailureWindow {
		b.firstFailAt = now
		b.consecutiveFails = 0
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.trip(now)
	}
}

func (b *breaker) trip(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.consecutiveFails = 0
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
