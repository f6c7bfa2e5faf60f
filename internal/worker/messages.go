package worker

import (
	"time"

	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/verdict"
)

// AssignmentDescriptor is pushed to an agent's assign subject once the
// orchestrator creates an Assignment. It carries everything the agent
// needs to start work without calling back into Arbiter first.
type AssignmentDescriptor struct {
	AssignmentID  string            `json:"assignmentId"`
	TaskID        string            `json:"taskId"`
	AttemptNumber int               `json:"attemptNumber"`
	Description   string            `json:"description"`
	Type          string            `json:"type"`
	Budget        queue.Budget      `json:"budget"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	AckDeadline   time.Time         `json:"ackDeadline"`
	ExecDeadline  time.Time         `json:"execDeadline"`
}

// AckRequest is published by an agent to confirm it has picked up an
// assignment, optionally asking for extra exec time up front.
type AckRequest struct {
	AssignmentID string `json:"assignmentId"`
	AgentID      string `json:"agentId"`
	ExtensionMs  int64  `json:"extensionMs,omitempty"`
}

// ProgressRequest reports fractional completion, [0,1].
type ProgressRequest struct {
	AssignmentID string  `json:"assignmentId"`
	AgentID      string  `json:"agentId"`
	Progress     float64 `json:"progress"`
}

// SubmitRequest delivers the finished artifact metrics for verdict
// generation. Waiver is optional; the generator honors it only when every
// failing gate is non-critical and the waiver is signed and unexpired.
type SubmitRequest struct {
	AssignmentID string                  `json:"assignmentId"`
	AgentID      string                  `json:"agentId"`
	Spec         verdict.WorkingSpec     `json:"spec"`
	Metrics      verdict.ArtifactMetrics `json:"metrics"`
	Waiver       *verdict.Waiver         `json:"waiver,omitempty"`
}

// Reply is the generic envelope every ack/progress/submit handler sends
// back over the request's reply subject.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	State string `json:"state,omitempty"`
}
