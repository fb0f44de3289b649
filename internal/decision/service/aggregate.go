package service

import (
	"math"
	"sort"

	"complyd/internal/decision/models"
	policy "complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

const (
	mandatoryWeight = 2.0
	optionalWeight  = 1.0
)

// Aggregate combines rule verdicts into a Decision. It is a pure function of
// the verdict set: input order never changes the result.
//
// Verdicts for rules not in rules are ignored. When a rule has several
// verdicts the worst status wins, then the higher confidence.
func Aggregate(verdicts []models.RuleVerdict, rules []policy.Rule) models.Decision {
	// Sum in rule ID order so float rounding is the same for any input order.
	rules = append([]policy.Rule(nil), rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })

	known := make(map[id.RuleID]policy.Rule, len(rules))
	for _, r := range rules {
		known[r.RuleID] = r
	}

	byRule := make(map[id.RuleID]models.RuleVerdict, len(verdicts))
	for _, v := range verdicts {
		if _, ok := known[v.RuleID]; !ok {
			continue
		}
		if prev, seen := byRule[v.RuleID]; seen && !preferred(v, prev) {
			continue
		}
		byRule[v.RuleID] = v
	}

	overrides := applyDependencyConstraint(byRule, known)

	var (
		veto      bool
		gaps      = make([]id.RuleID, 0)
		weighted  float64
		weightSum float64
	)
	for _, r := range rules {
		v, ok := byRule[r.RuleID]

		// Rule 1: any mandatory NON_COMPLIANT vetoes the run.
		if ok && r.Severity == policy.SeverityMandatory && v.Status == models.VerdictNonCompliant {
			veto = true
		}
		// Rule 2: missing or insufficient verdicts are gaps.
		if !ok || !v.Status.Resolved() {
			gaps = append(gaps, r.RuleID)
			continue
		}
		// Rule 3: confidence is weighted over resolved rules only.
		w := optionalWeight
		if r.Severity == policy.SeverityMandatory {
			w = mandatoryWeight
		}
		weighted += w * v.Confidence
		weightSum += w
	}
	gaps = dedupeSorted(gaps)

	d := models.Decision{Gaps: gaps, Overrides: overrides}
	switch {
	case veto:
		d.OverallStatus = models.OverallNonCompliant
	case len(gaps) > 0:
		d.OverallStatus = models.OverallReview
	default:
		d.OverallStatus = models.OverallCompliant
	}
	if weightSum > 0 {
		d.Confidence = math.Round(weighted/weightSum*1e4) / 1e4
	}
	return d
}

func preferred(candidate, current models.RuleVerdict) bool {
	if candidate.Status != current.Status {
		return candidate.Status.Worse(current.Status)
	}
	return candidate.Confidence > current.Confidence
}

// applyDependencyConstraint downgrades COMPLIANT verdicts whose parent rule
// ends NON_COMPLIANT, following chains of dependencies. It rewrites byRule
// and returns the downgraded rule IDs, sorted.
func applyDependencyConstraint(byRule map[id.RuleID]models.RuleVerdict, known map[id.RuleID]policy.Rule) []id.RuleID {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[id.RuleID]int, len(known))
	var overrides []id.RuleID

	var settle func(ruleID id.RuleID) models.VerdictStatus
	settle = func(ruleID id.RuleID) models.VerdictStatus {
		v, ok := byRule[ruleID]
		switch state[ruleID] {
		case done:
			return v.Status
		case visiting:
			// Cycles are rejected when rules load; treat one here as unconstrained.
			return v.Status
		}
		state[ruleID] = visiting
		defer func() { state[ruleID] = done }()
		if !ok {
			for _, p := range known[ruleID].ParentRuleIDs {
				settle(p)
			}
			return ""
		}
		blocked := false
		for _, p := range known[ruleID].ParentRuleIDs {
			if settle(p) == models.VerdictNonCompliant {
				blocked = true
			}
		}
		if blocked && v.Status == models.VerdictCompliant {
			v.Status = models.VerdictNonCompliant
			v.Rationale = "parent rule is NON_COMPLIANT; " + v.Rationale
			byRule[ruleID] = v
			overrides = append(overrides, ruleID)
		}
		return v.Status
	}

	ids := make([]id.RuleID, 0, len(known))
	for rid := range known {
		ids = append(ids, rid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, rid := range ids {
		settle(rid)
	}
	sort.Slice(overrides, func(i, j int) bool { return overrides[i] < overrides[j] })
	return overrides
}

func dedupeSorted(ids []id.RuleID) []id.RuleID {
	out := ids[:0]
	for i, rid := range ids {
		if i > 0 && rid == ids[i-1] {
			continue
		}
		out = append(out, rid)
	}
	return out
}
