// Package alerts checks queue and registry health against configured
// thresholds and publishes a system-topic event the first time a
// threshold is crossed, suppressing repeats of the same alert for a
// cooldown window. Adapted from the teacher's metrics.AlertEngine, which
// did the same threshold-check-plus-dedup over per-agent token/idle/reject
// counters; here the checks are generalized to Arbiter's queue depth,
// agent staleness, and registry-wide success rate.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/clock"
	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/registry"
)

// Config bounds the conditions the Checker raises an alert for. A zero
// field disables that particular check.
type Config struct {
	QueueDepthMax   int
	StaleAgentAfter time.Duration
	SuccessRateMin  float64
	Cooldown        time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueDepthMax:   0,
		StaleAgentAfter: 0,
		SuccessRateMin:  0,
		Cooldown:        5 * time.Minute,
	}
}

// Checker evaluates queue and registry snapshots against Config and
// publishes events.SystemResourceAlert to the bus, deduplicated per alert
// key within Cooldown so a sustained condition doesn't flood the bus.
type Checker struct {
	cfg Config
	bus *events.Bus
	clk clock.Clock

	mu     sync.Mutex
	recent map[string]time.Time
}

func New(cfg Config, bus *events.Bus, clk clock.Clock) *Checker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Checker{cfg: cfg, bus: bus, clk: clk, recent: make(map[string]time.Time)}
}

func (c *Checker) shouldAlert(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	for k, t := range c.recent {
		if now.Sub(t) > c.cfg.Cooldown {
			delete(c.recent, k)
		}
	}
	if t, ok := c.recent[key]; ok && now.Sub(t) <= c.cfg.Cooldown {
		return false
	}
	c.recent[key] = now
	return true
}

func (c *Checker) publish(severity events.Severity, detail map[string]interface{}) {
	c.bus.Publish(events.TopicSystem, events.New(events.SystemResourceAlert, severity, "", detail))
}

// CheckQueueDepth alerts once per cooldown window while the queue holds at
// least QueueDepthMax tasks.
func (c *Checker) CheckQueueDepth(depth int) {
	if c.cfg.QueueDepthMax <= 0 || depth < c.cfg.QueueDepthMax {
		return
	}
	if !c.shouldAlert("queue_depth") {
		return
	}
	c.publish(events.SeverityWarning, map[string]interface{}{
		"alert":   "queue_depth",
		"depth":   depth,
		"message": fmt.Sprintf("queue depth %d at or above threshold %d", depth, c.cfg.QueueDepthMax),
	})
}

// CheckAgentHealth alerts once per cooldown window per agent that hasn't
// reported activity within StaleAgentAfter.
func (c *Checker) CheckAgentHealth(agents []registry.Agent, now time.Time) {
	if c.cfg.StaleAgentAfter <= 0 {
		return
	}
	for _, a := range agents {
		if a.LastActiveAt.IsZero() || now.Sub(a.LastActiveAt) < c.cfg.StaleAgentAfter {
			continue
		}
		key := "agent_stale_" + a.ID
		if !c.shouldAlert(key) {
			continue
		}
		c.publish(events.SeverityWarning, map[string]interface{}{
			"alert":        "agent_stale",
			"agentId":      a.ID,
			"idleDuration": now.Sub(a.LastActiveAt).String(),
			"message":      fmt.Sprintf("agent %s has not reported activity in %s", a.ID, now.Sub(a.LastActiveAt)),
		})
	}
}

// CheckSuccessRate alerts once per cooldown window while the registry's
// average success rate falls below SuccessRateMin.
func (c *Checker) CheckSuccessRate(stats registry.Stats) {
	if c.cfg.SuccessRateMin <= 0 || stats.TotalAgents == 0 {
		return
	}
	if stats.AverageSuccessRate >= c.cfg.SuccessRateMin {
		return
	}
	if !c.shouldAlert("success_rate") {
		return
	}
	c.publish(events.SeverityCritical, map[string]interface{}{
		"alert":       "success_rate",
		"successRate": stats.AverageSuccessRate,
		"message":     fmt.Sprintf("average success rate %.2f below threshold %.2f", stats.AverageSuccessRate, c.cfg.SuccessRateMin),
	})
}
