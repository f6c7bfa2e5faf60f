package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/security"
)

// DeadlineSetter is the one hot-reload method the orchestrator exposes;
// satisfied by *orchestrator.Orchestrator.
type DeadlineSetter interface {
	SetDeadlines(ackWindow, progressIdle, maxExtension, retryPenalty time.Duration)
}

// LimitSetter is the one hot-reload method the security gate exposes;
// satisfied by *security.Gate.
type LimitSetter interface {
	SetLimits(cfg security.Config)
}

// Manager holds the most recently loaded Config behind a mutex, matching
// the teacher's AlertChecker.SetThresholds/GetThresholds pair: a plain
// guarded setter rather than an atomic pointer swap, since only two
// components (the orchestrator's deadlines, the gate's rate limits) are
// actually live-reloadable.
type Manager struct {
	path   string
	logger *log.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewManager loads path once and returns a Manager wrapping the result.
func NewManager(path string, logger *log.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{path: path, logger: logger, cfg: *cfg}, nil
}

// Current returns the most recently loaded Config.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the file Manager was constructed with, validates it,
// and on success stores it as Current and pushes the hot-reload subset
// (orchestrator deadlines, gate rate limits) into the two live targets.
// Everything else in the new file — capacity, breaker thresholds, weight
// vectors — is only visible to components built fresh from Current()
// afterward; it is never pushed into ones already running, since none of
// C1/C4/C6/C7 expose a way to resize or reweight themselves in place.
func (m *Manager) Reload(orch DeadlineSetter, gate LimitSetter) error {
	cfg, err := Load(m.path)
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.cfg = *cfg
	m.mu.Unlock()

	if orch != nil {
		orch.SetDeadlines(ms(cfg.Orchestrator.AckWindowMs), ms(cfg.Orchestrator.ProgressIdleMs),
			ms(cfg.Orchestrator.MaxExtensionMs), ms(cfg.Orchestrator.RetryPenaltyMs))
	}
	if gate != nil {
		gate.SetLimits(cfg.ToSecurityConfig())
	}
	m.logger.Printf("[CONFIG] reloaded %s", m.path)
	return nil
}
