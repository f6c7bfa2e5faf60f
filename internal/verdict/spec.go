// Package verdict implements the verdict generator (C7): it consumes a
// working spec and artifact-derived metrics and produces a pass/fail/waiver
// decision with a weighted quality score and a full gate breakdown.
package verdict

import (
	"fmt"
	"time"
)

// RiskTier is the working spec's declared risk level; it selects both the
// coverage threshold and (optionally) the gate weight vector.
type RiskTier int

const (
	RiskTier1 RiskTier = 1
	RiskTier2 RiskTier = 2
	RiskTier3 RiskTier = 3
)

// AcceptanceCriterion is one Given/When/Then row from the working spec.
type AcceptanceCriterion struct {
	ID    string `json:"id"`
	Given string `json:"given"`
	When  string `json:"when"`
	Then  string `json:"then"`
}

// NonFunctionalTarget declares a bound (e.g. "p95 latency ms <= 300") that
// is only evaluated when the matching measurement is supplied.
type NonFunctionalTarget struct {
	Name      string  `json:"name"`
	UpperBound float64 `json:"upperBound"`
}

// Scope lists what the working spec declares in and out of bounds.
type Scope struct {
	In  []string `json:"in"`
	Out []string `json:"out"`
}

// WorkingSpec is the quality contract a task's artifacts are verified
// against.
type WorkingSpec struct {
	ID             string                `json:"id"`
	RiskTier       RiskTier              `json:"riskTier"`
	Mode           string                `json:"mode"`
	BlastRadius    string                `json:"blastRadius"`
	Scope          Scope                 `json:"scope"`
	Invariants     []string              `json:"invariants"`
	Acceptance     []AcceptanceCriterion `json:"acceptance"`
	NonFunctional  []NonFunctionalTarget `json:"nonFunctional"`
	Contracts      []string              `json:"contracts"`
}

// Validate checks the working spec's own bounds, matching config.Config's
// Validate style: one plain error per violated bound, first violation wins.
func (s WorkingSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("working spec: id must be set")
	}
	if s.RiskTier != RiskTier1 && s.RiskTier != RiskTier2 && s.RiskTier != RiskTier3 {
		return fmt.Errorf("working spec: riskTier must be 1, 2, or 3, got %d", s.RiskTier)
	}
	if s.Mode == "" {
		return fmt.Errorf("working spec: mode must be set")
	}
	for i, a := range s.Acceptance {
		if a.ID == "" {
			return fmt.Errorf("working spec: acceptance[%d].id must be set", i)
		}
		if a.Given == "" || a.When == "" || a.Then == "" {
			return fmt.Errorf("working spec: acceptance[%d] (%s) must set given, when, and then", i, a.ID)
		}
	}
	for i, nf := range s.NonFunctional {
		if nf.Name == "" {
			return fmt.Errorf("working spec: nonFunctional[%d].name must be set", i)
		}
	}
	return nil
}

// Waiver is a signed exception allowing a non-critical gate failure to
// still produce decision=waiver instead of fail.
type Waiver struct {
	Reason    string    `json:"reason"`
	SignedBy  string    `json:"signedBy"`
	Signature string    `json:"signature"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (w *Waiver) validAt(now time.Time) bool {
	return w != nil && w.Signature != "" && now.Before(w.ExpiresAt)
}

// ArtifactMetrics is everything measured off the submitted artifacts that
// the gates need.
type ArtifactMetrics struct {
	Coverage           float64            `json:"coverage"`
	MutationKillRate   *float64           `json:"mutationKillRate,omitempty"`
	LintPass           bool               `json:"lintPass"`
	TypeCheckPass      bool               `json:"typeCheckPass"`
	FilesChanged       int                `json:"filesChanged"`
	LocChanged         int                `json:"locChanged"`
	AcceptanceResults  map[string]bool    `json:"acceptanceResults"`
	NonFunctionalValues map[string]float64 `json:"nonFunctionalValues"`
}
