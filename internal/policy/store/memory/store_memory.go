package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

// InMemoryStore is a policy store seeded from a catalog file or tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	policies map[id.PolicyID]models.Descriptor
	rules    map[id.PolicyID][]models.Rule
}

func New() *InMemoryStore {
	return &InMemoryStore{
		policies: make(map[id.PolicyID]models.Descriptor),
		rules:    make(map[id.PolicyID][]models.Rule),
	}
}

// NewSeeded builds a store holding the given catalog.
func NewSeeded(policies []models.Descriptor, rules []models.Rule) *InMemoryStore {
	s := New()
	s.Replace(policies, rules)
	return s
}

// Replace swaps the whole catalog atomically.
func (s *InMemoryStore) Replace(policies []models.Descriptor, rules []models.Rule) {
	nextPolicies := make(map[id.PolicyID]models.Descriptor, len(policies))
	for _, p := range policies {
		nextPolicies[p.PolicyID] = p
	}
	nextRules := make(map[id.PolicyID][]models.Rule)
	for _, r := range rules {
		nextRules[r.PolicyID] = append(nextRules[r.PolicyID], r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = nextPolicies
	s.rules = nextRules
}

func (s *InMemoryStore) QueryPolicies(_ context.Context, criteria models.Criteria) ([]models.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Descriptor
	for _, p := range s.policies {
		if criteria.Status != "" && p.Status != criteria.Status {
			continue
		}
		if len(criteria.Categories) > 0 && !slices.Contains(criteria.Categories, p.Category) {
			continue
		}
		if len(criteria.PolicyIDs) > 0 && !slices.Contains(criteria.PolicyIDs, p.PolicyID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

func (s *InMemoryStore) QueryRules(_ context.Context, policyIDs []id.PolicyID) ([]models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Rule
	for _, pid := range policyIDs {
		for _, r := range s.rules[pid] {
			r.ParentRuleIDs = slices.Clone(r.ParentRuleIDs)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}
