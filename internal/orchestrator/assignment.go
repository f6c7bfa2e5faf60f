// Package orchestrator implements the task orchestrator (C5): the
// assignment state machine, deadline/retry/reassignment engine, and the
// agent-load bookkeeping that ties the queue, registry, router, and
// verdict generator together.
package orchestrator

import (
	"time"

	"github.com/arbiter-hq/arbiter/internal/verdict"
)

// State is one of the assignment's non-terminal or terminal states. There
// is no explicit "Pending" state here: a task with no assignment is simply
// sitting in the queue and has no Assignment record at all; one is created
// the moment Assign succeeds.
type State string

const (
	StateAssigned  State = "assigned"
	StateRunning   State = "running"
	StateVerifying State = "verifying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// TimeoutType records which of the three independent deadlines fired.
type TimeoutType string

const (
	TimeoutAck      TimeoutType = "ack"
	TimeoutProgress TimeoutType = "progress"
	TimeoutExec     TimeoutType = "exec"
)

// Assignment is owned exclusively by the orchestrator; every other
// component holds a snapshot, never a live reference.
type Assignment struct {
	ID                    string
	TaskID                string
	AgentID               string
	State                 State
	CreatedAt             time.Time
	AckDeadline           time.Time
	ExecDeadline          time.Time
	LastProgressAt        time.Time
	Progress              float64
	AttemptNumber         int
	PreviousAssignmentIDs []string
	Artifacts             map[string]interface{}
	Verdict               *verdict.Verdict
	TimeoutType           TimeoutType
	AcknowledgmentTimeMs  int64

	loadDecremented bool
}

// ackTimedOut reports whether the assignment is still Assigned past its
// ack deadline.
func (a *Assignment) ackTimedOut(now time.Time) bool {
	return a.State == StateAssigned && !a.AckDeadline.IsZero() && now.After(a.AckDeadline)
}

// execTimedOut reports whether the assignment has run past its exec
// deadline while not yet terminal.
func (a *Assignment) execTimedOut(now time.Time) bool {
	return !a.State.Terminal() && !a.ExecDeadline.IsZero() && now.After(a.ExecDeadline)
}

// progressTimedOut reports whether a Running assignment has gone silent
// past progressIdleMs since its last progress report.
func (a *Assignment) progressTimedOut(now time.Time, progressIdle time.Duration) bool {
	if a.State != StateRunning || progressIdle <= 0 {
		return false
	}
	return now.Sub(a.LastProgressAt) >= progressIdle
}
