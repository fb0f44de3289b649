package models

import (
	"time"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	policy "complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

// SubmitRequest starts a run.
type SubmitRequest struct {
	EvidenceRef       evidence.Ref
	ExplicitPolicyIDs []string
}

// Run is a point-in-time copy of a validation run. The live record is owned
// by the orchestrator and changes only through transitions.
type Run struct {
	ID                 id.RunID
	RequestedPolicyIDs []string
	EvidenceRef        evidence.Ref
	EvidenceItems      []*evidence.Item
	State              State
	Policies           []policy.Descriptor
	Verdicts           []decision.RuleVerdict
	Decision           *decision.Decision
	Error              string
	CreatedAt          time.Time
	CompletedAt        time.Time
}

// Result is what callers see for a run. Decision is set only when COMPLETED
// and Error only when FAILED.
type Result struct {
	RunID    id.RunID
	State    State
	Decision *decision.Decision
	Verdicts []decision.RuleVerdict
	Error    string
}

// Pending reports whether the run is still in progress.
func (r Result) Pending() bool {
	return !r.State.IsTerminal()
}
