// Package config loads Arbiter's startup configuration from a single YAML
// file into one immutable Config value, mirroring the teacher's
// teams.yaml/types.TeamsConfig split: the data shape carries yaml tags and
// lives next to the logic that validates and resolves it, and a thin
// loader function reads the file and unmarshals it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arbiter-hq/arbiter/internal/orchestrator"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/router"
	"github.com/arbiter-hq/arbiter/internal/security"
	"github.com/arbiter-hq/arbiter/internal/store"
	"github.com/arbiter-hq/arbiter/internal/verdict"
)

// Config is the top-level shape of arbiter.yaml. Durations are expressed
// in whole milliseconds rather than time.Duration so the file stays plain
// YAML scalars, the same choice the teacher makes for AlertThresholds
// (IdleTimeMaxSeconds as a plain int rather than a duration string).
type Config struct {
	Store        StoreSection        `yaml:"store"`
	Queue        QueueSection        `yaml:"queue"`
	Orchestrator OrchestratorSection `yaml:"orchestrator"`
	Security     SecuritySection     `yaml:"security"`
	Verdict      VerdictSection      `yaml:"verdict"`
	Router       RouterSection       `yaml:"router"`
	Server       ServerSection       `yaml:"server"`
	Audit        AuditSection        `yaml:"audit"`
	Alerts       AlertsSection       `yaml:"alerts"`
}

type StoreSection struct {
	Breaker         BreakerSection `yaml:"breaker"`
	Retry           RetrySection   `yaml:"retry"`
	ShadowCapacity  int            `yaml:"shadowCapacity"`
	PendingCapacity int            `yaml:"pendingCapacity"`
	ProbeIntervalMs int64          `yaml:"probeIntervalMs"`
}

type BreakerSection struct {
	FailureThreshold int   `yaml:"failureThreshold"`
	FailureWindowMs  int64 `yaml:"failureWindowMs"`
	CooldownMs       int64 `yaml:"cooldownMs"`
}

type RetrySection struct {
	MaxAttempts int     `yaml:"maxAttempts"`
	BaseDelayMs int64   `yaml:"baseDelayMs"`
	MaxDelayMs  int64   `yaml:"maxDelayMs"`
	Multiplier  float64 `yaml:"multiplier"`
	Jitter      bool    `yaml:"jitter"`
}

type QueueSection struct {
	Capacity          int              `yaml:"capacity"`
	Admission         AdmissionSection `yaml:"admission"`
	StarvationAfterMs int64            `yaml:"starvationAfterMs"`
}

type AdmissionSection struct {
	MaxDescriptionLen int      `yaml:"maxDescriptionLen"`
	MaxMetadataBytes  int      `yaml:"maxMetadataBytes"`
	AllowedTaskTypes  []string `yaml:"allowedTaskTypes"` // empty/absent means no restriction
}

// OrchestratorSection's four deadline fields plus Security's two rate
// limit sections form the hot-reload subset: the only parts of Config a
// running process will pick up via Manager.Reload without a restart.
type OrchestratorSection struct {
	AckWindowMs       int64    `yaml:"ackWindowMs"`
	ProgressIdleMs    int64    `yaml:"progressIdleMs"`
	MaxExtensionMs    int64    `yaml:"maxExtensionMs"`
	RetryPenaltyMs    int64    `yaml:"retryPenaltyMs"`
	StarvationAfterMs int64    `yaml:"starvationAfterMs"`
	NonRetriableGates []string `yaml:"nonRetriableGates"`
}

type SecuritySection struct {
	IdentityRateLimit  RateLimitSection           `yaml:"identityRateLimit"`
	OperationRateLimit RateLimitSection           `yaml:"operationRateLimit"`
	Identities         map[string]IdentitySection `yaml:"identities"` // token -> identity, for security.StaticVerifier
}

type IdentitySection struct {
	ID     string   `yaml:"id"`
	Tenant string   `yaml:"tenant"`
	Roles  []string `yaml:"roles"`
}

type RateLimitSection struct {
	Capacity   int     `yaml:"capacity"`
	RefillPerS float64 `yaml:"refillPerS"`
}

type VerdictSection struct {
	WeightsByTier map[string]WeightsSection `yaml:"weightsByTier"` // keyed by verdict.RiskTier string value
	FallbackScore float64                   `yaml:"fallbackScore"`
}

type WeightsSection struct {
	Coverage      float64 `yaml:"coverage"`
	Budget        float64 `yaml:"budget"`
	Acceptance    float64 `yaml:"acceptance"`
	LintTypecheck float64 `yaml:"lintTypecheck"`
	NonFunctional float64 `yaml:"nonFunctional"`
}

type RouterSection struct {
	MatchScore float64 `yaml:"matchScore"`
	Load       float64 `yaml:"load"`
	Recency    float64 `yaml:"recency"`
}

// ServerSection addresses the transport layers built on top of these
// domain components (worker endpoint over NATS, HTTP observer/command API).
type ServerSection struct {
	HTTPAddr  string `yaml:"httpAddr"`
	NATSURL   string `yaml:"natsUrl"`
	NATSPort  int    `yaml:"natsPort"` // only used when embedNats is true
	EmbedNATS bool   `yaml:"embedNats"`
	AuditDir  string `yaml:"auditDir"`
	DBPath    string `yaml:"dbPath"`
}

// AuditSection configures the append-only JSON-Lines event sink: one
// subdirectory per topic family, rotated by size and age.
type AuditSection struct {
	RotateMB      int   `yaml:"rotateMB"`
	RetentionDays int   `yaml:"retentionDays"`
	FlushEveryMs  int64 `yaml:"flushEveryMs"`
}

// AlertsSection configures the threshold checks that watch queue depth,
// agent staleness, and registry-wide success rate, publishing a
// system.resource_alert event when a bound is crossed. A zero field
// disables that particular check rather than alerting at zero.
type AlertsSection struct {
	QueueDepthMax     int     `yaml:"queueDepthMax"`
	StaleAgentAfterMs int64   `yaml:"staleAgentAfterMs"`
	SuccessRateMin    float64 `yaml:"successRateMin"`
	CooldownMs        int64   `yaml:"cooldownMs"`
	CheckIntervalMs   int64   `yaml:"checkIntervalMs"`
}

// Load reads and parses path into a Config and validates it. It does not
// apply any default: every field used at runtime must be present in the
// file or explicitly zero-valued as intended.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks every section's bounds, matching the teacher's
// AlertThresholds.Validate style: one plain error per violated bound,
// first violation wins.
func (c Config) Validate() error {
	if c.Store.ShadowCapacity < 1 {
		return fmt.Errorf("store.shadowCapacity must be at least 1")
	}
	if c.Store.PendingCapacity < 1 {
		return fmt.Errorf("store.pendingCapacity must be at least 1")
	}
	if c.Store.ProbeIntervalMs < 100 {
		return fmt.Errorf("store.probeIntervalMs must be at least 100")
	}
	if c.Store.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("store.breaker.failureThreshold must be at least 1")
	}
	if c.Store.Breaker.FailureWindowMs < 1 {
		return fmt.Errorf("store.breaker.failureWindowMs must be at least 1")
	}
	if c.Store.Breaker.CooldownMs < 1 {
		return fmt.Errorf("store.breaker.cooldownMs must be at least 1")
	}
	if c.Store.Retry.MaxAttempts < 1 {
		return fmt.Errorf("store.retry.maxAttempts must be at least 1")
	}
	if c.Store.Retry.Multiplier < 1 {
		return fmt.Errorf("store.retry.multiplier must be at least 1")
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1")
	}
	if c.Queue.Admission.MaxDescriptionLen < 1 {
		return fmt.Errorf("queue.admission.maxDescriptionLen must be at least 1")
	}
	if c.Queue.Admission.MaxMetadataBytes < 1 {
		return fmt.Errorf("queue.admission.maxMetadataBytes must be at least 1")
	}
	if c.Orchestrator.AckWindowMs < 1 {
		return fmt.Errorf("orchestrator.ackWindowMs must be at least 1")
	}
	if c.Orchestrator.ProgressIdleMs < 1 {
		return fmt.Errorf("orchestrator.progressIdleMs must be at least 1")
	}
	if c.Orchestrator.MaxExtensionMs < 0 {
		return fmt.Errorf("orchestrator.maxExtensionMs must not be negative")
	}
	if c.Orchestrator.RetryPenaltyMs < 0 {
		return fmt.Errorf("orchestrator.retryPenaltyMs must not be negative")
	}
	if c.Security.IdentityRateLimit.Capacity < 1 || c.Security.IdentityRateLimit.RefillPerS <= 0 {
		return fmt.Errorf("security.identityRateLimit must have capacity >= 1 and refillPerS > 0")
	}
	if c.Security.OperationRateLimit.Capacity < 1 || c.Security.OperationRateLimit.RefillPerS <= 0 {
		return fmt.Errorf("security.operationRateLimit must have capacity >= 1 and refillPerS > 0")
	}
	for tier, w := range c.Verdict.WeightsByTier {
		if w.Coverage < 0 || w.Budget < 0 || w.Acceptance < 0 || w.LintTypecheck < 0 || w.NonFunctional < 0 {
			return fmt.Errorf("verdict.weightsByTier[%s] must not contain a negative weight", tier)
		}
	}
	if c.Verdict.FallbackScore < 0 || c.Verdict.FallbackScore > 1 {
		return fmt.Errorf("verdict.fallbackScore must be in [0,1]")
	}
	if c.Router.MatchScore < 0 || c.Router.Load < 0 || c.Router.Recency < 0 {
		return fmt.Errorf("router weights must not be negative")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.httpAddr must be set")
	}
	if c.Server.AuditDir != "" {
		if c.Audit.RotateMB < 1 {
			return fmt.Errorf("audit.rotateMB must be at least 1")
		}
		if c.Audit.RetentionDays < 1 {
			return fmt.Errorf("audit.retentionDays must be at least 1")
		}
		if c.Audit.FlushEveryMs < 1 {
			return fmt.Errorf("audit.flushEveryMs must be at least 1")
		}
	}
	alertsEnabled := c.Alerts.QueueDepthMax > 0 || c.Alerts.StaleAgentAfterMs > 0 || c.Alerts.SuccessRateMin > 0
	if alertsEnabled && c.Alerts.CheckIntervalMs < 1 {
		return fmt.Errorf("alerts.checkIntervalMs must be at least 1 when an alert threshold is set")
	}
	return nil
}
