// Package queue implements the task queue (C4): a bounded priority queue
// with FIFO-within-priority ordering and admission control, built in the
// same per-entity shape as a flat task list but keyed by priority
// class instead of sorted on every insert.
package queue

import (
	"time"

	"github.com/arbiter-hq/arbiter/internal/registry"
)

// Priority is one of the four ordinal priority classes, low to critical.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// bump returns the next priority class up, capped at PriorityCritical.
func (p Priority) bump() Priority {
	if p >= PriorityCritical {
		return PriorityCritical
	}
	return p + 1
}

// Budget bounds how much of the repo/tokens a task is allowed to touch.
type Budget struct {
	MaxFiles  int `json:"maxFiles"`
	MaxLoc    int `json:"maxLoc"`
	MaxTokens int `json:"maxTokens,omitempty"`
}

// Task is one unit of work submitted to the queue. RequiredCapabilities
// reuses the registry's Capabilities shape directly since both sides of
// the match (the registry's matchScore) compare the same fields.
type Task struct {
	ID                   string                `json:"id"`
	Description          string                `json:"description"`
	Type                 string                `json:"type"`
	Priority             Priority              `json:"priority"`
	TimeoutMs            int64                 `json:"timeoutMs"`
	Budget               Budget                `json:"budget"`
	RequiredCapabilities registry.Capabilities `json:"requiredCapabilities"`
	Metadata             map[string]string     `json:"metadata,omitempty"`
	CreatedAt            time.Time             `json:"createdAt"`
	EnqueuedAt           time.Time             `json:"enqueuedAt"`
	Attempts             int                   `json:"attempts"`
	MaxAttempts          int                   `json:"maxAttempts"`
}

// WaitTime returns how long the task has been sitting in the queue as of
// now.
func (t Task) WaitTime(now time.Time) time.Duration {
	if t.EnqueuedAt.IsZero() {
		return 0
	}
	return now.Sub(t.EnqueuedAt)
}
