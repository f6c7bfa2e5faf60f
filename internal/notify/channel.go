// Package notify fans critical and warning events out to operator-facing
// notification channels — an OS toast, a structured log line, and an
// in-memory dashboard banner — the same router/channel split the teacher
// uses for its own alerting, generalized from dashboard-specific events to
// Arbiter's closed event-type registry.
package notify

import "github.com/arbiter-hq/arbiter/internal/events"

// Channel is one notification sink. ShouldNotify lets a channel opt out of
// events it doesn't care about without the router needing to know its
// filtering rules.
type Channel interface {
	Name() string
	ShouldNotify(ev events.Event) bool
	Send(ev events.Event) error
}
