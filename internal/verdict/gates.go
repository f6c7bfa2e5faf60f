package verdict

import "fmt"

// GateResult is one gate's outcome with its raw inputs, always present in
// Verdict.GateResults regardless of pass/fail so nothing is decided by a
// hidden heuristic.
type GateResult struct {
	Name         string                 `json:"name"`
	Passed       bool                   `json:"passed"`
	Critical     bool                   `json:"critical"`
	Contribution float64                `json:"contribution"`
	Inputs       map[string]interface{} `json:"inputs"`
	Reason       string                 `json:"reason,omitempty"`
}

// coverageThreshold is the fixed per-tier minimum.
func coverageThreshold(tier RiskTier) float64 {
	switch tier {
	case RiskTier1:
		return 0.90
	case RiskTier2:
		return 0.80
	default:
		return 0.70
	}
}

func coverageGate(spec WorkingSpec, m ArtifactMetrics) GateResult {
	threshold := coverageThreshold(spec.RiskTier)
	passed := m.Coverage >= threshold
	contribution := 0.0
	if threshold > 0 {
		contribution = clamp01(m.Coverage / threshold)
	}
	g := GateResult{
		Name:         "coverage",
		Passed:       passed,
		Critical:     true,
		Contribution: contribution,
		Inputs:       map[string]interface{}{"coverage": m.Coverage, "threshold": threshold},
	}
	if !passed {
		g.Reason = fmt.Sprintf("coverage %.2f below tier-%d threshold %.2f", m.Coverage, spec.RiskTier, threshold)
	}
	return g
}

func budgetGate(spec WorkingSpec, m ArtifactMetrics, budgetMaxFiles, budgetMaxLoc int) GateResult {
	fileFrac, locFrac := 0.0, 0.0
	if budgetMaxFiles > 0 {
		fileFrac = float64(m.FilesChanged) / float64(budgetMaxFiles)
	}
	if budgetMaxLoc > 0 {
		locFrac = float64(m.LocChanged) / float64(budgetMaxLoc)
	}
	passed := fileFrac <= 1.0 && locFrac <= 1.0
	worst := fileFrac
	if locFrac > worst {
		worst = locFrac
	}
	g := GateResult{
		Name:         "budget",
		Passed:       passed,
		Critical:     true,
		Contribution: clamp01(1 - max0(worst-1)),
		Inputs: map[string]interface{}{
			"filesChanged": m.FilesChanged, "maxFiles": budgetMaxFiles,
			"locChanged": m.LocChanged, "maxLoc": budgetMaxLoc,
		},
	}
	if !passed {
		g.Reason = fmt.Sprintf("budget usage exceeded: files=%.2f loc=%.2f (ceiling 1.0)", fileFrac, locFrac)
	}
	return g
}

func acceptanceGate(spec WorkingSpec, m ArtifactMetrics) GateResult {
	total := len(spec.Acceptance)
	failed := 0
	for _, c := range spec.Acceptance {
		if !m.AcceptanceResults[c.ID] {
			failed++
		}
	}
	passed := failed == 0
	contribution := 1.0
	if total > 0 {
		contribution = float64(total-failed) / float64(total)
	}
	g := GateResult{
		Name:         "acceptance",
		Passed:       passed,
		Critical:     true,
		Contribution: contribution,
		Inputs:       map[string]interface{}{"total": total, "failed": failed},
	}
	if !passed {
		g.Reason = fmt.Sprintf("%d of %d acceptance criteria failed", failed, total)
	}
	return g
}

// nonFunctionalGate evaluates only the targets for which a measurement was
// supplied and checks each against its declared upper bound; unmeasured
// targets neither pass nor fail. A spec with no targets, or none measured,
// passes trivially with full contribution.
func nonFunctionalGate(spec WorkingSpec, m ArtifactMetrics) GateResult {
	evaluated := 0
	violations := 0
	inputs := map[string]interface{}{}
	for _, target := range spec.NonFunctional {
		value, measured := m.NonFunctionalValues[target.Name]
		if !measured {
			continue
		}
		evaluated++
		inputs[target.Name] = map[string]float64{"value": value, "upperBound": target.UpperBound}
		if value > target.UpperBound {
			violations++
		}
	}
	passed := violations == 0
	contribution := 1.0
	if evaluated > 0 {
		contribution = float64(evaluated-violations) / float64(evaluated)
	}
	g := GateResult{
		Name:         "nonFunctional",
		Passed:       passed,
		Critical:     false,
		Contribution: contribution,
		Inputs:       inputs,
	}
	if !passed {
		g.Reason = fmt.Sprintf("%d of %d measured non-functional targets violated", violations, evaluated)
	}
	return g
}

func lintTypeGate(m ArtifactMetrics) GateResult {
	passed := m.LintPass && m.TypeCheckPass
	contribution := 0.0
	switch {
	case m.LintPass && m.TypeCheckPass:
		contribution = 1.0
	case m.LintPass || m.TypeCheckPass:
		contribution = 0.5
	}
	g := GateResult{
		Name:         "lint_typecheck",
		Passed:       passed,
		Critical:     true,
		Contribution: contribution,
		Inputs:       map[string]interface{}{"lintPass": m.LintPass, "typeCheckPass": m.TypeCheckPass},
	}
	if !passed {
		g.Reason = "lint or type-check failed"
	}
	return g
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
