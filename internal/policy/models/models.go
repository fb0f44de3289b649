package models

import (
	"errors"
	"time"

	evidence "complyd/internal/evidence/models"
	id "complyd/pkg/domain"
)

// Status is a policy's lifecycle state. Only ACTIVE policies are resolvable.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusDraft   Status = "DRAFT"
	StatusRetired Status = "RETIRED"
)

// Severity weights a rule in aggregation.
type Severity string

const (
	SeverityMandatory Severity = "MANDATORY"
	SeverityOptional  Severity = "OPTIONAL"
)

func (s Severity) IsValid() bool {
	return s == SeverityMandatory || s == SeverityOptional
}

// Descriptor describes one policy.
type Descriptor struct {
	PolicyID id.PolicyID `json:"policy_id" yaml:"policy_id"`
	Name     string      `json:"name" yaml:"name"`
	Category string      `json:"category" yaml:"category"`
	Version  string      `json:"version" yaml:"version"`
	Status   Status      `json:"status" yaml:"status"`
	Keywords []string    `json:"keywords,omitempty" yaml:"keywords"`
}

// Rule is one checkable requirement of a policy.
type Rule struct {
	RuleID             id.RuleID   `json:"rule_id" yaml:"rule_id"`
	PolicyID           id.PolicyID `json:"policy_id" yaml:"policy_id"`
	Description        string      `json:"description" yaml:"description"`
	Severity           Severity    `json:"severity" yaml:"severity"`
	ValidationCriteria string      `json:"validation_criteria" yaml:"validation_criteria"`
	ParentRuleIDs      []id.RuleID `json:"parent_rule_ids,omitempty" yaml:"parent_rule_ids"`
}

// Criteria filters QueryPolicies. Zero fields match everything.
type Criteria struct {
	Status     Status
	Categories []string
	PolicyIDs  []id.PolicyID
}

// Snapshot is an immutable view of the catalog. A run resolves and loads
// rules from exactly one snapshot.
type Snapshot struct {
	Policies []Descriptor
	Rules    []Rule
	LoadedAt time.Time

	byID map[id.PolicyID]int
}

// NewSnapshot indexes policies. Callers must not mutate the slices afterwards.
func NewSnapshot(policies []Descriptor, rules []Rule, loadedAt time.Time) *Snapshot {
	byID := make(map[id.PolicyID]int, len(policies))
	for i, p := range policies {
		byID[p.PolicyID] = i
	}
	return &Snapshot{Policies: policies, Rules: rules, LoadedAt: loadedAt, byID: byID}
}

// Policy looks up a policy by ID.
func (s *Snapshot) Policy(pid id.PolicyID) (Descriptor, bool) {
	i, ok := s.byID[pid]
	if !ok {
		return Descriptor{}, false
	}
	return s.Policies[i], true
}

// Resolution is the outcome of policy resolution for one run.
type Resolution struct {
	Policies []Descriptor
	// Skipped holds explicit IDs that were not found or not active.
	Skipped  []string
	Snapshot *Snapshot
	// AutoDetected is true when policies came from evidence matching.
	AutoDetected bool
}

// CrossReference reports two co-resolved policies that cover the same category.
type CrossReference struct {
	Category string        `json:"category"`
	Policies []id.PolicyID `json:"policies"`
}

// Discovery is what a run would evaluate for some evidence, without
// evaluating it.
type Discovery struct {
	EvidenceTypes   []evidence.EvidenceType
	AutoDetected    bool
	Policies        []Descriptor
	Skipped         []string
	RuleCount       int
	CrossReferences []CrossReference
}

var (
	// ErrPolicyNotFound means no applicable policy could be resolved.
	ErrPolicyNotFound = errors.New("no applicable policy found")
	// ErrRuleCycle means rule dependencies form a cycle.
	ErrRuleCycle = errors.New("rule dependency cycle")
	// ErrDanglingParent means a rule names a parent that is not in its set.
	ErrDanglingParent = errors.New("rule references unknown parent")
	// ErrDuplicateRule means two rules share an ID.
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// ErrLookupFailed wraps policy store failures that survived retries.
var ErrLookupFailed = errors.New("policy store lookup failed")
