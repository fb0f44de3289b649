package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	evidence "complyd/internal/evidence/models"
	"complyd/internal/policy/metrics"
	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
	pkgstrings "complyd/pkg/platform/strings"
)

// DefaultRelevanceThreshold is the minimum detection score for a policy.
const DefaultRelevanceThreshold = 0.3

// fallbackCategory maps evidence types to the policy category tried when
// detection finds nothing.
var fallbackCategory = map[evidence.EvidenceType]string{
	evidence.TypeTestDocumentation:      "test_execution",
	evidence.TypeSecurityReport:         "security_compliance",
	evidence.TypeDeploymentLog:          "deployment_validation",
	evidence.TypeCodeReviewRecord:       "code_review",
	evidence.TypeTechnicalDocumentation: "documentation",
	evidence.TypeUnknown:                "test_execution",
}

// SnapshotSource supplies catalog snapshots. *Catalog implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*models.Snapshot, error)
}

// Resolver determines the applicable policies and rules of a run.
type Resolver struct {
	source    SnapshotSource
	threshold float64
	metrics   *metrics.Metrics
}

func NewResolver(source SnapshotSource, threshold float64, m *metrics.Metrics) *Resolver {
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &Resolver{source: source, threshold: threshold, metrics: m}
}

// Resolve captures one snapshot and resolves against it.
func (r *Resolver) Resolve(ctx context.Context, summary evidence.Summary, explicitIDs []string) (models.Resolution, error) {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return models.Resolution{}, err
	}
	res, mode, err := ResolveIn(snap, summary, explicitIDs, r.threshold)
	r.metrics.IncResolution(mode)
	r.metrics.AddSkipped(len(res.Skipped))
	return res, err
}

// ResolveIn is the pure resolution function over a snapshot. mode reports
// which path produced the result, for metrics.
func ResolveIn(snap *models.Snapshot, summary evidence.Summary, explicitIDs []string, threshold float64) (models.Resolution, string, error) {
	res := models.Resolution{Snapshot: snap}

	if ids := pkgstrings.DedupeAndTrim(explicitIDs); len(ids) > 0 {
		for _, raw := range ids {
			if p, ok := snap.Policy(id.PolicyID(raw)); ok {
				res.Policies = append(res.Policies, p)
			} else {
				res.Skipped = append(res.Skipped, raw)
			}
		}
		if len(res.Policies) == 0 {
			return res, "not_found", fmt.Errorf("%w: none of %v exist", models.ErrPolicyNotFound, ids)
		}
		return res, "explicit", nil
	}

	res.AutoDetected = true
	if detected := detect(snap, summary, threshold); len(detected) > 0 {
		res.Policies = detected
		return res, "detected", nil
	}
	if fallback := byEvidenceType(snap, summary.Types); len(fallback) > 0 {
		res.Policies = fallback
		return res, "fallback", nil
	}
	return res, "not_found", models.ErrPolicyNotFound
}

type scored struct {
	policy models.Descriptor
	score  float64
}

func detect(snap *models.Snapshot, summary evidence.Summary, threshold float64) []models.Descriptor {
	text := strings.ToLower(summary.Text)
	var matches []scored
	for _, p := range snap.Policies {
		s := Relevance(p, text)
		if s >= threshold {
			matches = append(matches, scored{policy: p, score: s})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].policy.PolicyID < matches[j].policy.PolicyID
	})
	out := make([]models.Descriptor, len(matches))
	for i, m := range matches {
		out[i] = m.policy
	}
	return out
}

// Relevance scores a policy against lower-cased evidence text in [0,1]: half
// for the category being mentioned, half for the share of keywords present.
// A policy without keywords is scored on its category alone.
func Relevance(p models.Descriptor, lowerText string) float64 {
	category := 0.0
	if c := strings.ToLower(strings.ReplaceAll(p.Category, "_", " ")); c != "" && strings.Contains(lowerText, c) {
		category = 1
	}
	keywords := pkgstrings.DedupeAndTrimLower(p.Keywords)
	if len(keywords) == 0 {
		return category
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lowerText, kw) {
			hits++
		}
	}
	score := 0.5*category + 0.5*float64(hits)/float64(len(keywords))
	return math.Round(score*1e4) / 1e4
}

func byEvidenceType(snap *models.Snapshot, types []evidence.EvidenceType) []models.Descriptor {
	if len(types) == 0 {
		types = []evidence.EvidenceType{evidence.TypeUnknown}
	}
	wanted := make(map[string]bool)
	for _, t := range types {
		if c, ok := fallbackCategory[t]; ok {
			wanted[c] = true
		}
	}
	var out []models.Descriptor
	for _, p := range snap.Policies {
		if wanted[p.Category] {
			out = append(out, p)
		}
	}
	return out
}

// LoadRules builds the rule arena for the resolved policies from the same
// snapshot they were resolved against.
func (r *Resolver) LoadRules(_ context.Context, res models.Resolution) (*models.RuleSet, error) {
	return LoadRulesIn(res)
}

// LoadRulesIn is LoadRules without a receiver, for callers such as the CLI lint.
func LoadRulesIn(res models.Resolution) (*models.RuleSet, error) {
	if res.Snapshot == nil {
		return nil, fmt.Errorf("resolution has no snapshot")
	}
	include := make(map[id.PolicyID]bool, len(res.Policies))
	for _, p := range res.Policies {
		include[p.PolicyID] = true
	}
	var rules []models.Rule
	for _, rule := range res.Snapshot.Rules {
		if include[rule.PolicyID] {
			rules = append(rules, rule)
		}
	}
	return models.NewRuleSet(rules)
}

// CrossReferences reports categories covered by more than one resolved policy.
// Conflicts between such policies are not resolved; both are evaluated.
func CrossReferences(policies []models.Descriptor) []models.CrossReference {
	byCategory := make(map[string][]id.PolicyID)
	for _, p := range policies {
		byCategory[p.Category] = append(byCategory[p.Category], p.PolicyID)
	}
	var refs []models.CrossReference
	for cat, ids := range byCategory {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		refs = append(refs, models.CrossReference{Category: cat, Policies: ids})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Category < refs[j].Category })
	return refs
}
