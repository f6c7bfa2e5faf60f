// Package router implements the router (C6): a pure scoring function that
// picks one agent from a candidate list already filtered and matchScored
// by the registry. It never calls back into the registry, the queue, or
// the store — Pick and Explain are pure functions of their arguments.
package router

import (
	"sort"
	"time"

	"github.com/arbiter-hq/arbiter/internal/registry"
)

// Weights tunes the three scoring components. They need not sum to 1;
// only their relative magnitude matters since the result is used purely
// for ranking, never compared across calls.
type Weights struct {
	MatchScore float64
	Load       float64
	Recency    float64
}

func DefaultWeights() Weights {
	return Weights{MatchScore: 0.70, Load: 0.20, Recency: 0.10}
}

// Candidate pairs an agent with its registry-computed matchScore, the
// output shape of registry.QueryByCapability.
type Candidate struct {
	Agent      registry.Agent
	MatchScore float64
}

// Scored is one candidate's final composite score plus its components,
// returned by Explain for audit purposes.
type Scored struct {
	AgentID        string  `json:"agentId"`
	MatchScore     float64 `json:"matchScore"`
	LoadTerm       float64 `json:"loadTerm"`
	RecencyTerm    float64 `json:"recencyTerm"`
	CompositeScore float64 `json:"compositeScore"`
}

// Router picks one agent per task. It holds no state beyond its weights
// and carries no dependency on C1/C2/C4; every input arrives by value.
type Router struct {
	weights Weights
}

func New(weights Weights) *Router {
	return &Router{weights: weights}
}

// Pick selects one agent from candidates, excluding any agent id present
// in exclusions (e.g. an agent that just failed this task). now is used
// to compute the recency bonus; it is supplied rather than read from a
// clock so Pick stays a pure function. Returns false if every candidate
// was excluded.
func (r *Router) Pick(candidates []Candidate, exclusions map[string]bool, now time.Time) (registry.Agent, bool) {
	scored := r.rank(candidates, exclusions, now)
	if len(scored) == 0 {
		return registry.Agent{}, false
	}
	for _, c := range candidates {
		if c.Agent.ID == scored[0].AgentID {
			return c.Agent, true
		}
	}
	return registry.Agent{}, false
}

// Explain returns the top n scored candidates with their component
// breakdown, for audit events only; it is never consulted by Pick for
// correctness.
func (r *Router) Explain(candidates []Candidate, exclusions map[string]bool, now time.Time, n int) []Scored {
	scored := r.rank(candidates, exclusions, now)
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

func (r *Router) rank(candidates []Candidate, exclusions map[string]bool, now time.Time) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if exclusions != nil && exclusions[c.Agent.ID] {
			continue
		}
		loadTerm := 1 - c.Agent.CurrentLoad.UtilizationPercent/100
		recencyTerm := recencyBonus(c.Agent.LastActiveAt, now)
		composite := r.weights.MatchScore*c.MatchScore + r.weights.Load*loadTerm + r.weights.Recency*recencyTerm
		scored = append(scored, Scored{
			AgentID:        c.Agent.ID,
			MatchScore:     c.MatchScore,
			LoadTerm:       loadTerm,
			RecencyTerm:    recencyTerm,
			CompositeScore: composite,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].CompositeScore != scored[j].CompositeScore {
			return scored[i].CompositeScore > scored[j].CompositeScore
		}
		return scored[i].AgentID < scored[j].AgentID
	})
	return scored
}

// recencyBonus grows from 0 (just assigned) toward 1 (never assigned, or
// assigned long ago) over a one-hour horizon, spreading load across agents
// that have been idle longest.
func recencyBonus(lastActive, now time.Time) float64 {
	if lastActive.IsZero() {
		return 1
	}
	const horizon = time.Hour
	since := now.Sub(lastActive)
	if since <= 0 {
		return 0
	}
	if since >= horizon {
		return 1
	}
	return float64(since) / float64(horizon)
}
