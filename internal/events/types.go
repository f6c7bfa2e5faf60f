package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is a dotted event type string drawn from the closed registry below.
// Components never emit an ad hoc type string outside this set.
type Type string

// Severity classifies an event for alerting/audit purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Topic families, each owned by exactly one publishing component per the
// concurrency model: task.* by the orchestrator (C5), agent.* by the
// registry (C2), security.* by the security gate (C3), system.* by the
// resilient store (C1), caws.* by the verdict generator (C7).
const (
	TopicTask     = "task"
	TopicAgent    = "agent"
	TopicSecurity = "security"
	TopicSystem   = "system"
	TopicCaws     = "caws"
)

const (
	TaskAssigned   Type = "task.assigned"
	TaskCompleted  Type = "task.completed"
	TaskFailed     Type = "task.failed"
	TaskTimeout    Type = "task.timeout"
	TaskReassigned Type = "task.reassigned"
	TaskQueueFull  Type = "task.queue_full"
	TaskQueueClear Type = "task.queue_cleared"
	TaskCancelled  Type = "task.cancelled"

	AgentRegistered     Type = "agent.registered"
	AgentUnregistered   Type = "agent.unregistered"
	AgentLoadChanged    Type = "agent.load_changed"
	AgentUpdateFailed   Type = "agent.update_failed"
	AgentPerformanceSet Type = "agent.performance_updated"
	AgentStale          Type = "agent.stale_removed"

	SecurityRateLimited Type = "security.rate_limit_exceeded"
	SecurityAuthzFailed Type = "security.authz_failed"
	SecurityCrossTenant Type = "security.cross_tenant_access"
	SecurityAudit       Type = "security.audit"

	SystemDegraded      Type = "system.degraded"
	SystemResourceAlert Type = "system.resource_alert"
	SystemBreakerOpen   Type = "system.breaker_open"
	SystemBreakerClosed Type = "system.breaker_closed"
	SystemEventsDropped Type = "system.events_dropped"
	SystemReconcileFail Type = "system.reconcile_failed"

	CawsVerdictProduced Type = "caws.verdict_produced"
)

// AllTypes returns every defined event type, used by tests and by
// subscribers that want to subscribe to "everything".
func AllTypes() []Type {
	return []Type{
		TaskAssigned, TaskCompleted, TaskFailed, TaskTimeout, TaskReassigned,
		TaskQueueFull, TaskQueueClear, TaskCancelled,
		AgentRegistered, AgentUnregistered, AgentLoadChanged, AgentUpdateFailed,
		AgentPerformanceSet, AgentStale,
		SecurityRateLimited, SecurityAuthzFailed, SecurityCrossTenant, SecurityAudit,
		SystemDegraded, SystemResourceAlert, SystemBreakerOpen, SystemBreakerClosed,
		SystemEventsDropped, SystemReconcileFail,
		CawsVerdictProduced,
	}
}

// Event is the envelope every publisher emits. Payload is whatever the
// publisher passed: a domain value (e.g. a registry.Agent) for some types,
// a map[string]interface{} or map[string]string for most others.
type Event struct {
	ID            string      `json:"id"`
	Type          Type        `json:"type"`
	Timestamp     time.Time   `json:"ts"`
	CorrelationID string      `json:"correlationId"`
	Severity      Severity    `json:"severity"`
	Payload       interface{} `json:"payload"`
}

// New stamps an auto-generated ID and timestamp onto an event. When
// correlationID is empty a fresh one is minted, so every event always
// carries one (per the error-handling design's "every error carries the
// correlationId of the originating request").
func New(t Type, severity Severity, correlationID string, payload interface{}) Event {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return Event{
		ID:            uuid.New().String(),
		Type:          t,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Severity:      severity,
		Payload:       payload,
	}
}
