package router

import (
	"testing"
	"time"

	"github.com/arbiter-hq/arbiter/internal/registry"
)

func agentWith(id string, utilization, successRate float64, lastActive time.Time) registry.Agent {
	return registry.Agent{
		ID:           id,
		CurrentLoad:  registry.Load{UtilizationPercent: utilization},
		LastActiveAt: lastActive,
		PerformanceHistory: registry.PerformanceHistory{
			SuccessRate: successRate,
		},
	}
}

func TestRouter_PicksHighestComposite(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{Agent: agentWith("low-match", 0, 1, time.Time{}), MatchScore: 0.2},
		{Agent: agentWith("high-match", 0, 1, time.Time{}), MatchScore: 0.9},
	}

	picked, ok := r.Pick(candidates, nil, now)
	if !ok || picked.ID != "high-match" {
		t.Fatalf("expected high-match to win, got %+v ok=%v", picked, ok)
	}
}

func TestRouter_ExcludesListedAgents(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{Agent: agentWith("a", 0, 1, time.Time{}), MatchScore: 0.9},
		{Agent: agentWith("b", 0, 1, time.Time{}), MatchScore: 0.5},
	}

	picked, ok := r.Pick(candidates, map[string]bool{"a": true}, now)
	if !ok || picked.ID != "b" {
		t.Fatalf("expected b after excluding a, got %+v ok=%v", picked, ok)
	}
}

func TestRouter_AllExcludedReturnsFalse(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{{Agent: agentWith("a", 0, 1, time.Time{}), MatchScore: 0.9}}
	_, ok := r.Pick(candidates, map[string]bool{"a": true}, now)
	if ok {
		t.Fatal("expected no candidate to be selectable")
	}
}

func TestRouter_TieBreaksLexicographically(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{Agent: agentWith("zebra", 50, 0.8, now.Add(-30 * time.Minute)), MatchScore: 0.6},
		{Agent: agentWith("apple", 50, 0.8, now.Add(-30 * time.Minute)), MatchScore: 0.6},
	}

	picked, ok := r.Pick(candidates, nil, now)
	if !ok || picked.ID != "apple" {
		t.Fatalf("expected apple to win an exact tie, got %+v ok=%v", picked, ok)
	}
}

func TestRouter_LowerUtilizationPreferredAtEqualMatch(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{Agent: agentWith("busy", 90, 0.8, time.Time{}), MatchScore: 0.5},
		{Agent: agentWith("idle", 10, 0.8, time.Time{}), MatchScore: 0.5},
	}

	picked, ok := r.Pick(candidates, nil, now)
	if !ok || picked.ID != "idle" {
		t.Fatalf("expected idle agent to win on load term, got %+v ok=%v", picked, ok)
	}
}

func TestRouter_RecencyBonusFavorsLongIdleAgents(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{Agent: agentWith("just-assigned", 0, 0.8, now), MatchScore: 0.5},
		{Agent: agentWith("idle-for-days", 0, 0.8, now.Add(-48 * time.Hour)), MatchScore: 0.5},
	}

	picked, ok := r.Pick(candidates, nil, now)
	if !ok || picked.ID != "idle-for-days" {
		t.Fatalf("expected long-idle agent to win recency bonus, got %+v ok=%v", picked, ok)
	}
}

func TestRouter_ExplainReturnsTopNWithComponents(t *testing.T) {
	r := New(DefaultWeights())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{Agent: agentWith("a", 0, 1, time.Time{}), MatchScore: 0.9},
		{Agent: agentWith("b", 0, 1, time.Time{}), MatchScore: 0.5},
		{Agent: agentWith("c", 0, 1, time.Time{}), MatchScore: 0.1},
	}

	explained := r.Explain(candidates, nil, now, 2)
	if len(explained) != 2 {
		t.Fatalf("expected top 2, got %d", len(explained))
	}
	if explained[0].AgentID != "a" {
		t.Fatalf("expected a to rank first, got %s", explained[0].AgentID)
	}
	if explained[0].MatchScore != 0.9 {
		t.Fatalf("expected matchScore component preserved, got %f", explained[0].MatchScore)
	}
}

func TestRouter_EmptyCandidatesReturnsFalse(t *testing.T) {
	r := New(DefaultWeights())
	_, ok := r.Pick(nil, nil, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	if ok {
		t.Fatal("expected no pick from an empty candidate list")
	}
}
