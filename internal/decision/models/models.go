package models

import (
	"errors"
	"fmt"

	id "complyd/pkg/domain"
)

// VerdictStatus is the outcome of one rule evaluation.
type VerdictStatus string

const (
	VerdictCompliant            VerdictStatus = "COMPLIANT"
	VerdictNonCompliant         VerdictStatus = "NON_COMPLIANT"
	VerdictInsufficientEvidence VerdictStatus = "INSUFFICIENT_EVIDENCE"
)

func (s VerdictStatus) IsValid() bool {
	switch s {
	case VerdictCompliant, VerdictNonCompliant, VerdictInsufficientEvidence:
		return true
	}
	return false
}

// Resolved reports whether the verdict settles the rule one way or the other.
func (s VerdictStatus) Resolved() bool {
	return s == VerdictCompliant || s == VerdictNonCompliant
}

// rank orders statuses from best to worst for duplicate resolution.
func (s VerdictStatus) rank() int {
	switch s {
	case VerdictNonCompliant:
		return 2
	case VerdictInsufficientEvidence:
		return 1
	default:
		return 0
	}
}

// Worse reports whether s is a worse outcome than other.
func (s VerdictStatus) Worse(other VerdictStatus) bool {
	return s.rank() > other.rank()
}

// OverallStatus is the aggregated outcome of a run.
type OverallStatus string

const (
	OverallCompliant    OverallStatus = "COMPLIANT"
	OverallNonCompliant OverallStatus = "NON_COMPLIANT"
	OverallReview       OverallStatus = "REVIEW"
)

// RuleVerdict is produced once per rule per run and never modified.
type RuleVerdict struct {
	RuleID        id.RuleID     `json:"rule_id"`
	Status        VerdictStatus `json:"status"`
	Confidence    float64       `json:"confidence"`
	CitedEvidence []string      `json:"cited_evidence"`
	Rationale     string        `json:"rationale"`
}

// ErrInvalidVerdict marks a verdict that fails shape validation.
var ErrInvalidVerdict = errors.New("invalid verdict")

// Validate checks the verdict shape.
func (v RuleVerdict) Validate() error {
	switch {
	case !v.Status.IsValid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidVerdict, v.Status)
	case v.Confidence < 0 || v.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidVerdict, v.Confidence)
	case v.Rationale == "":
		return fmt.Errorf("%w: rationale is empty", ErrInvalidVerdict)
	}
	return nil
}

// Insufficient builds the fallback verdict for a rule that could not be
// evaluated.
func Insufficient(ruleID id.RuleID, rationale string) RuleVerdict {
	return RuleVerdict{
		RuleID:        ruleID,
		Status:        VerdictInsufficientEvidence,
		Confidence:    0,
		CitedEvidence: []string{},
		Rationale:     rationale,
	}
}

// Decision is the derived outcome of a run.
type Decision struct {
	OverallStatus OverallStatus `json:"overall_status"`
	Confidence    float64       `json:"confidence"`
	// Gaps lists rules without a resolved verdict, sorted.
	Gaps []id.RuleID `json:"gaps"`
	// Overrides lists COMPLIANT verdicts downgraded because a parent rule
	// was NON_COMPLIANT, sorted.
	Overrides []id.RuleID `json:"overrides,omitempty"`
}
