package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/arberr"
	"github.com/arbiter-hq/arbiter/internal/clock"
	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/store"
)

const (
	agentKeyPrefix = "agent:"
	indexKey       = "agent:index"
)

func agentKey(id string) string { return agentKeyPrefix + id }

// Registry is the durable catalog of agents (C2), built entirely on top of
// a ResilientStore. All mutations funnel through a per-agent mutex;
// queries read snapshots without taking it.
type Registry struct {
	store *store.ResilientStore
	bus   *events.Bus
	clk   clock.Clock

	agentLocks *keyLocks
	idxMu      sync.Mutex

	logger *log.Logger
}

func New(s *store.ResilientStore, bus *events.Bus, clk clock.Clock, logger *log.Logger) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		store:      s,
		bus:        bus,
		clk:        clk,
		agentLocks: newKeyLocks(),
		logger:     logger,
	}
}

func (r *Registry) publish(t events.Type, severity events.Severity, correlationID string, payload interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.TopicAgent, events.New(t, severity, correlationID, payload))
}

// Register inserts a new agent record. If id already exists, it fails with
// a Conflict error unless idempotent is true, in which case the existing
// record is returned unchanged.
func (r *Registry) Register(ctx context.Context, agent Agent, idempotent bool) (Agent, error) {
	unlock := r.agentLocks.Lock(agent.ID)
	defer unlock()

	if existing, err := r.loadAgent(ctx, agent.ID); err == nil {
		if idempotent {
			return existing, nil
		}
		return Agent{}, arberr.New(arberr.KindConflict, "agent_exists", fmt.Sprintf("agent %s already registered", agent.ID))
	} else if !arberr.Is(err, arberr.KindNotFound) {
		return Agent{}, err
	}

	now := r.clk.Now()
	agent.RegisteredAt = now
	agent.LastActiveAt = now
	agent.CurrentLoad.recompute(agent.MaxConcurrent)

	if err := r.writeAgentAndIndex(ctx, agent, true); err != nil {
		return Agent{}, err
	}

	r.publish(events.AgentRegistered, events.SeverityInfo, "", agent)
	return agent, nil
}

// Unregister removes the record and cascades the deletion into the index.
// Ongoing assignments are rejected with AgentGone the next time the
// orchestrator touches them, not here; the registry only owns the catalog.
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	unlock := r.agentLocks.Lock(id)
	defer unlock()

	if _, err := r.loadAgent(ctx, id); err != nil {
		if arberr.Is(err, arberr.KindNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := r.writeAgentAndIndex(ctx, Agent{ID: id}, false); err != nil {
		return false, err
	}

	r.publish(events.AgentUnregistered, events.SeverityInfo, "", map[string]string{"id": id})
	return true, nil
}

// GetProfile returns a value snapshot of the agent, or NotFound.
func (r *Registry) GetProfile(ctx context.Context, id string) (Agent, error) {
	return r.loadAgent(ctx, id)
}

// QueryByCapability scores and filters every registered agent against q.
func (r *Registry) QueryByCapability(ctx context.Context, q CapabilityQuery) ([]Match, error) {
	agents, err := r.allAgents(ctx)
	if err != nil {
		return nil, err
	}
	return queryMatches(agents, q), nil
}

// UpdatePerformance applies the incremental running-average rule inside a
// single durable transaction; a failure emits agent.update_failed and is
// returned to the caller.
func (r *Registry) UpdatePerformance(ctx context.Context, id string, success bool, quality float64, latencyMs float64) (Agent, error) {
	unlock := r.agentLocks.Lock(id)
	defer unlock()

	agent, err := r.loadAgent(ctx, id)
	if err != nil {
		return Agent{}, err
	}

	sample := 0.0
	if success {
		sample = 1.0
	}
	h := &agent.PerformanceHistory
	n := float64(h.TaskCount)
	h.SuccessRate += (sample - h.SuccessRate) / (n + 1)
	h.AverageQuality += (quality - h.AverageQuality) / (n + 1)
	h.AverageLatency += (latencyMs - h.AverageLatency) / (n + 1)
	h.TaskCount++
	agent.LastActiveAt = r.clk.Now()

	if err := r.writeAgentTx(ctx, agent); err != nil {
		r.publish(events.AgentUpdateFailed, events.SeverityError, "", map[string]interface{}{"id": id, "error": err.Error()})
		return Agent{}, err
	}

	r.publish(events.AgentPerformanceSet, events.SeverityInfo, "", agent)
	return agent, nil
}

// UpdateLoad applies an atomic delta to active/queued task counts,
// clamping negative results to 0, and recomputes utilizationPercent.
func (r *Registry) UpdateLoad(ctx context.Context, id string, deltaActive, deltaQueued int) (Agent, error) {
	unlock := r.agentLocks.Lock(id)
	defer unlock()

	agent, err := r.loadAgent(ctx, id)
	if err != nil {
		return Agent{}, err
	}

	agent.CurrentLoad.ActiveTasks = clampNonNegative(agent.CurrentLoad.ActiveTasks + deltaActive)
	agent.CurrentLoad.QueuedTasks = clampNonNegative(agent.CurrentLoad.QueuedTasks + deltaQueued)
	agent.CurrentLoad.recompute(agent.MaxConcurrent)
	agent.LastActiveAt = r.clk.Now()

	if err := r.writeAgentTx(ctx, agent); err != nil {
		return Agent{}, err
	}

	r.publish(events.AgentLoadChanged, events.SeverityInfo, "", agent)
	return agent, nil
}

// UpdateSpecialization applies the same incremental rule scoped to one
// specialization entry, creating it at LevelNovice if absent.
func (r *Registry) UpdateSpecialization(ctx context.Context, id, specType string, success bool, quality float64) (Agent, error) {
	unlock := r.agentLocks.Lock(id)
	defer unlock()

	agent, err := r.loadAgent(ctx, id)
	if err != nil {
		return Agent{}, err
	}

	idx := -1
	for i, s := range agent.Capabilities.Specializations {
		if s.Type == specType {
			idx = i
			break
		}
	}
	if idx == -1 {
		agent.Capabilities.Specializations = append(agent.Capabilities.Specializations, Specialization{
			Type:  specType,
			Level: LevelNovice,
		})
		idx = len(agent.Capabilities.Specializations) - 1
	}

	sample := 0.0
	if success {
		sample = 1.0
	}
	s := &agent.Capabilities.Specializations[idx]
	n := float64(s.TaskCount)
	s.SuccessRate += (sample - s.SuccessRate) / (n + 1)
	s.AverageQuality += (quality - s.AverageQuality) / (n + 1)
	s.TaskCount++
	agent.LastActiveAt = r.clk.Now()

	if err := r.writeAgentTx(ctx, agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// GetStats returns totals, average success rate, and average utilization
// across every registered agent.
func (r *Registry) GetStats(ctx context.Context) (Stats, error) {
	agents, err := r.allAgents(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalAgents: len(agents), LastUpdated: r.clk.Now()}
	if len(agents) == 0 {
		return stats, nil
	}
	var successSum, utilSum float64
	for _, a := range agents {
		successSum += a.PerformanceHistory.SuccessRate
		utilSum += a.CurrentLoad.UtilizationPercent
	}
	stats.AverageSuccessRate = successSum / float64(len(agents))
	stats.AverageUtilization = utilSum / float64(len(agents))
	return stats, nil
}

// ListAgents returns a value snapshot of every registered agent. Used by
// the status/metrics read API; callers get point-in-time copies, never a
// live reference.
func (r *Registry) ListAgents(ctx context.Context) ([]Agent, error) {
	return r.allAgents(ctx)
}

// SweepStale force-unregisters agents whose LastActiveAt is older than
// staleAfter, bounded and event-emitting rather than silent.
func (r *Registry) SweepStale(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	agents, err := r.allAgents(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := r.clk.Now().Add(-staleAfter)
	var removed []string
	for _, a := range agents {
		if a.LastActiveAt.After(cutoff) {
			continue
		}
		existed, err := r.Unregister(ctx, a.ID)
		if err != nil {
			r.logger.Printf("[REGISTRY] ERROR: stale sweep failed to unregister %s: %v", a.ID, err)
			continue
		}
		if existed {
			removed = append(removed, a.ID)
			r.publish(events.AgentStale, events.SeverityWarning, "", map[string]string{"id": a.ID})
		}
	}
	return removed, nil
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func (r *Registry) loadAgent(ctx context.Context, id string) (Agent, error) {
	rec, _, err := r.store.Read(ctx, agentKey(id))
	if err != nil {
		return Agent{}, translateStoreErr(id, err)
	}
	var a Agent
	if err := json.Unmarshal(rec.Value, &a); err != nil {
		return Agent{}, arberr.Wrap(arberr.KindInternal, "decode_failed", "decode agent record", err)
	}
	return a, nil
}

func (r *Registry) allAgents(ctx context.Context) ([]Agent, error) {
	ids, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	agents := make([]Agent, 0, len(ids))
	for _, id := range ids {
		a, err := r.loadAgent(ctx, id)
		if err != nil {
			if arberr.Is(err, arberr.KindNotFound) {
				continue
			}
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func (r *Registry) loadIndex(ctx context.Context) ([]string, error) {
	rec, _, err := r.store.Read(ctx, indexKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(rec.Value, &ids); err != nil {
		return nil, arberr.Wrap(arberr.KindInternal, "decode_failed", "decode agent index", err)
	}
	return ids, nil
}

// writeAgentAndIndex is used by Register/Unregister, which both mutate the
// shared index alongside the per-agent record inside a single durable
// transaction so the index never lags the catalog.
func (r *Registry) writeAgentAndIndex(ctx context.Context, agent Agent, add bool) error {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	ids, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}

	next := ids[:0:0]
	found := false
	for _, id := range ids {
		if id == agent.ID {
			found = true
			if add {
				next = append(next, id)
			}
			continue
		}
		next = append(next, id)
	}
	if add && !found {
		next = append(next, agent.ID)
	}
	sort.Strings(next)

	idxJSON, err := json.Marshal(next)
	if err != nil {
		return arberr.Wrap(arberr.KindInternal, "encode_failed", "encode agent index", err)
	}

	ops := []store.Op{{Kind: store.OpPut, Key: indexKey, Value: idxJSON}}
	if add {
		agentJSON, err := json.Marshal(agent)
		if err != nil {
			return arberr.Wrap(arberr.KindInternal, "encode_failed", "encode agent record", err)
		}
		ops = append(ops, store.Op{Kind: store.OpPut, Key: agentKey(agent.ID), Value: agentJSON})
	} else {
		ops = append(ops, store.Op{Kind: store.OpDelete, Key: agentKey(agent.ID)})
	}

	return r.store.Transaction(ctx, ops)
}

// writeAgentTx persists a single agent record as a one-op durable
// transaction; every single-record mutator (UpdatePerformance, UpdateLoad,
// UpdateSpecialization) goes through this so a write is never observed
// half-applied.
func (r *Registry) writeAgentTx(ctx context.Context, agent Agent) error {
	body, err := json.Marshal(agent)
	if err != nil {
		return arberr.Wrap(arberr.KindInternal, "encode_failed", "encode agent record", err)
	}
	return r.store.Transaction(ctx, []store.Op{{Kind: store.OpPut, Key: agentKey(agent.ID), Value: body}})
}

// translateStoreErr maps a store-layer error into an arberr: NotFound when
// the underlying Durable reported store.ErrNotFound, Unavailable
// otherwise (breaker open, durable I/O failure). Leaves the cause chain
// intact so errors.Is/errors.As still reach the original error.
func translateStoreErr(id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return arberr.Wrap(arberr.KindNotFound, "agent_not_found", fmt.Sprintf("agent %s", id), err)
	}
	return arberr.Wrap(arberr.KindUnavailable, "store_unavailable", fmt.Sprintf("agent %s", id), err)
}
