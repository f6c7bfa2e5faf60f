package verdict

import (
	"time"

	"github.com/arbiter-hq/arbiter/internal/clock"
)

// Decision is the verdict outcome.
type Decision string

const (
	DecisionPass   Decision = "pass"
	DecisionFail   Decision = "fail"
	DecisionWaiver Decision = "waiver"
)

// Weights is the fixed, documented gate-weight vector for one risk tier:
// the quality score is a weighted mean of gate contributions.
type Weights struct {
	Coverage      float64
	Budget        float64
	Acceptance    float64
	LintTypecheck float64
	NonFunctional float64
}

func (w Weights) sum() float64 {
	return w.Coverage + w.Budget + w.Acceptance + w.LintTypecheck + w.NonFunctional
}

// Config bundles the per-tier weight vectors and the legacy fallback
// behavior (see the Open Question decision in DESIGN.md) used when a
// working spec declares a risk tier this config has no explicit vector
// for.
type Config struct {
	WeightsByTier map[RiskTier]Weights
	// FallbackScore is returned as qualityScore when the spec's risk tier
	// has no weight vector here, or its weights sum to zero; it is
	// operator-configurable rather than a silent hardcoded constant.
	FallbackScore float64
}

// DefaultConfig weights every tier identically: coverage 0.30, budget
// 0.20, acceptance 0.30, lint/type-check 0.15, and the non-critical
// non-functional gate 0.05. Weights move only the quality score; the
// decision comes from gate pass/fail alone (see Generate's decision rule).
func DefaultConfig() Config {
	w := Weights{Coverage: 0.30, Budget: 0.20, Acceptance: 0.30, LintTypecheck: 0.15, NonFunctional: 0.05}
	return Config{
		WeightsByTier: map[RiskTier]Weights{
			RiskTier1: w,
			RiskTier2: w,
			RiskTier3: w,
		},
		FallbackScore: 0.5,
	}
}

func (c Config) weightsFor(tier RiskTier) (Weights, bool) {
	w, ok := c.WeightsByTier[tier]
	return w, ok
}

// Verdict is the outcome of running a generator over one submission.
type Verdict struct {
	Decision     Decision     `json:"decision"`
	QualityScore float64      `json:"qualityScore"`
	GateResults  []GateResult `json:"gateResults"`
	Reasons      []string     `json:"reasons"`
	ProducedBy   string       `json:"producedBy"`
	ProducedAt   time.Time    `json:"producedAt"`
	WaiverReason string       `json:"waiverReason,omitempty"`
}

// Generator produces verdicts. It holds no durable state and makes no
// external calls; Generate is a pure function of its arguments plus the
// injected clock, the same purity discipline the router holds itself to.
type Generator struct {
	cfg Config
	clk clock.Clock
}

func New(cfg Config, clk clock.Clock) *Generator {
	return &Generator{cfg: cfg, clk: clk}
}

// Generate runs every gate, computes the weighted quality score, and
// decides pass/fail/waiver: pass iff every gate passes; waiver iff any
// non-critical gate fails and a valid unexpired waiver is supplied;
// otherwise fail. budgetMaxFiles/budgetMaxLoc come from the task's
// declared budget ceiling.
func (g *Generator) Generate(spec WorkingSpec, m ArtifactMetrics, budgetMaxFiles, budgetMaxLoc int, waiver *Waiver, producedBy string) Verdict {
	gates := []GateResult{
		coverageGate(spec, m),
		budgetGate(spec, m, budgetMaxFiles, budgetMaxLoc),
		acceptanceGate(spec, m),
		lintTypeGate(m),
		nonFunctionalGate(spec, m),
	}

	weights, ok := g.cfg.weightsFor(spec.RiskTier)
	score := g.cfg.FallbackScore
	if ok && weights.sum() > 0 {
		score = weightedScore(gates, weights)
	}

	allPassed := true
	anyCriticalFailed := false
	anyNonCriticalFailed := false
	var reasons []string
	for _, gr := range gates {
		if gr.Passed {
			continue
		}
		allPassed = false
		if gr.Critical {
			anyCriticalFailed = true
		} else {
			anyNonCriticalFailed = true
		}
		reasons = append(reasons, gr.Reason)
	}

	now := g.clk.Now()
	decision := DecisionFail
	waiverReason := ""
	switch {
	case allPassed:
		decision = DecisionPass
	case !anyCriticalFailed && anyNonCriticalFailed && waiver.validAt(now):
		decision = DecisionWaiver
		waiverReason = waiver.Reason
	}

	return Verdict{
		Decision:     decision,
		QualityScore: score,
		GateResults:  gates,
		Reasons:      reasons,
		ProducedBy:   producedBy,
		ProducedAt:   now,
		WaiverReason: waiverReason,
	}
}

func weightedScore(gates []GateResult, w Weights) float64 {
	byName := make(map[string]float64, len(gates))
	for _, g := range gates {
		byName[g.Name] = g.Contribution
	}
	total := w.Coverage*byName["coverage"] +
		w.Budget*byName["budget"] +
		w.Acceptance*byName["acceptance"] +
		w.LintTypecheck*byName["lint_typecheck"] +
		w.NonFunctional*byName["nonFunctional"]
	return total / w.sum()
}
