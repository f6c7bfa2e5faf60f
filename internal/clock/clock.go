// Package clock gives every component an injectable notion of time, so
// deadline/timer logic (breaker cooldowns, ack/exec/progress timeouts,
// starvation thresholds) can be tested without sleeping.
package clock

import "time"

// Clock is a small capability interface passed explicitly to constructors
// as an explicit collaborator, rather than reaching for package-level
// time.Now.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of *time.Timer Arbiter needs, so fakes can
// control firing deterministically.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time                       { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time      { return r.t.C }
func (r *realTimer) Stop() bool               { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
