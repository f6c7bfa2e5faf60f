package orchestrator

import "time"

// Config bundles the orchestrator's timing and retry policy.
type Config struct {
	AckWindow       time.Duration
	ProgressIdle    time.Duration
	MaxExtension    time.Duration
	RetryPenalty    time.Duration // delay before a re-queued task becomes eligible again
	StarvationAfter time.Duration // forwarded to the queue's dequeue-time priority bump

	// NonRetriableGates names gate results (by GateResult.Name) whose
	// failure is never worth retrying regardless of remaining attempts —
	// e.g. an acceptance-criteria mismatch that a re-run of the same agent
	// cannot fix. Nil means every failure is retriable up to maxAttempts.
	NonRetriableGates map[string]bool
}

func DefaultConfig() Config {
	return Config{
		AckWindow:       30 * time.Second,
		ProgressIdle:    2 * time.Minute,
		MaxExtension:    5 * time.Minute,
		RetryPenalty:    5 * time.Second,
		StarvationAfter: 5 * time.Minute,
	}
}
