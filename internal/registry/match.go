package registry

import "sort"

// CapabilityQuery narrows which agents QueryByCapability considers.
type CapabilityQuery struct {
	TaskType        string
	Languages       []string
	Specializations []string
	MaxUtilization  *float64
	MinSuccessRate  *float64
}

// Match pairs a candidate agent with its computed matchScore.
type Match struct {
	Agent      Agent
	MatchScore float64
}

// matchScore implements the fixed, documented scoring formula. Returns 0
// when the task type is not among the agent's capabilities.
func matchScore(a Agent, q CapabilityQuery) float64 {
	if !contains(a.Capabilities.TaskTypes, q.TaskType) {
		return 0
	}

	langOverlap := overlapRatio(q.Languages, a.Capabilities.Languages)
	specOverlap := overlapRatio(q.Specializations, specializationTypes(a))
	utilizationTerm := 1 - a.CurrentLoad.UtilizationPercent/100

	return 0.50*1 +
		0.20*langOverlap +
		0.15*specOverlap +
		0.10*utilizationTerm +
		0.05*a.PerformanceHistory.SuccessRate
}

// overlapRatio = |required ∩ available| / max(1, |required|). An empty
// required set therefore contributes 0.
func overlapRatio(required, available []string) float64 {
	if len(required) == 0 {
		return 0
	}
	avail := make(map[string]struct{}, len(available))
	for _, v := range available {
		avail[v] = struct{}{}
	}
	matched := 0
	for _, r := range required {
		if _, ok := avail[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func specializationTypes(a Agent) []string {
	out := make([]string, len(a.Capabilities.Specializations))
	for i, s := range a.Capabilities.Specializations {
		out[i] = s.Type
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// queryMatches filters candidates by the query's constraints, excludes
// (not downscores) violators of MaxUtilization/MinSuccessRate, scores the
// survivors, and sorts deterministically by (matchScore desc, successRate
// desc, id asc).
func queryMatches(agents []Agent, q CapabilityQuery) []Match {
	var out []Match
	for _, a := range agents {
		if q.MaxUtilization != nil && a.CurrentLoad.UtilizationPercent > *q.MaxUtilization {
			continue
		}
		if q.MinSuccessRate != nil && a.PerformanceHistory.SuccessRate < *q.MinSuccessRate {
			continue
		}
		score := matchScore(a, q)
		if score <= 0 {
			continue
		}
		out = append(out, Match{Agent: a, MatchScore: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchScore != out[j].MatchScore {
			return out[i].MatchScore > out[j].MatchScore
		}
		if out[i].Agent.PerformanceHistory.SuccessRate != out[j].Agent.PerformanceHistory.SuccessRate {
			return out[i].Agent.PerformanceHistory.SuccessRate > out[j].Agent.PerformanceHistory.SuccessRate
		}
		return out[i].Agent.ID < out[j].Agent.ID
	})
	return out
}
