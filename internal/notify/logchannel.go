package notify

import (
	"log"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// LogChannel is the always-available notification sink: it writes one line
// per matching event via the injected logger. Generalized from the
// teacher's terminal-title-flash notifier (which grabs an operator's
// attention by rewriting the window title) to a structured log line,
// since Arbiter runs headless with no attached terminal to flash.
type LogChannel struct {
	logger *log.Logger
}

func NewLogChannel(logger *log.Logger) *LogChannel {
	if logger == nil {
		logger = log.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) ShouldNotify(ev events.Event) bool {
	return ev.Severity == events.SeverityWarning || ev.Severity == events.SeverityError || ev.Severity == events.SeverityCritical
}

func (c *LogChannel) Send(ev events.Event) error {
	c.logger.Printf("[ALERT][%s] %s: %v", ev.Severity, ev.Type, ev.Payload)
	return nil
}
