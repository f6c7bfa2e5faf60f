// Package worker is the worker endpoint: it pushes assignment descriptors
// to agents and accepts their ack/progress/submit callbacks over NATS,
// translating between wire messages and internal/orchestrator calls.
package worker

import "fmt"

// Subject patterns. Use fmt.Sprintf(SubjectXxx, agentID) to address one
// agent's inbox, or the matching Subscribe pattern to receive from every
// agent via a single subscription.
const (
	SubjectAssign      = "arbiter.agent.%s.assign"
	SubjectAck         = "arbiter.agent.%s.ack"
	SubjectProgress    = "arbiter.agent.%s.progress"
	SubjectSubmit      = "arbiter.agent.%s.submit"
	SubjectAllAck      = "arbiter.agent.*.ack"
	SubjectAllProgress = "arbiter.agent.*.progress"
	SubjectAllSubmit   = "arbiter.agent.*.submit"
)

func assignSubject(agentID string) string   { return fmt.Sprintf(SubjectAssign, agentID) }
func ackSubject(agentID string) string      { return fmt.Sprintf(SubjectAck, agentID) }
func progressSubject(agentID string) string { return fmt.Sprintf(SubjectProgress, agentID) }
func submitSubject(agentID string) string   { return fmt.Sprintf(SubjectSubmit, agentID) }
