package handler

import (
	"encoding/json"
	"time"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	"complyd/internal/validation/models"
	dErrors "complyd/pkg/domain-errors"
	audit "complyd/pkg/platform/audit"
	pkgstrings "complyd/pkg/platform/strings"
)

// SubmitRequest is the POST /validations body.
type SubmitRequest struct {
	EvidenceRef       evidence.Ref `json:"evidence_ref"`
	ExplicitPolicyIDs []string     `json:"explicit_policy_ids,omitempty"`
}

// Validate trims and dedupes the inputs. URL format is checked by the service.
func (r *SubmitRequest) Validate() error {
	r.EvidenceRef.URLs = pkgstrings.DedupeAndTrim(r.EvidenceRef.URLs)
	r.ExplicitPolicyIDs = pkgstrings.DedupeAndTrim(r.ExplicitPolicyIDs)
	if len(r.EvidenceRef.URLs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "evidence_ref.urls is required")
	}
	return nil
}

type runStateResponse struct {
	RunID string       `json:"run_id"`
	State models.State `json:"state"`
}

type resultResponse struct {
	RunID    string                 `json:"run_id"`
	State    string                 `json:"state"`
	Decision *decision.Decision     `json:"decision,omitempty"`
	Verdicts []decision.RuleVerdict `json:"verdicts,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func toResultResponse(res models.Result) resultResponse {
	if res.Pending() {
		return resultResponse{RunID: res.RunID.String(), State: "pending"}
	}
	return resultResponse{
		RunID:    res.RunID.String(),
		State:    string(res.State),
		Decision: res.Decision,
		Verdicts: res.Verdicts,
		Error:    res.Error,
	}
}

type auditEventResponse struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      audit.Kind      `json:"kind"`
	Category  string          `json:"category"`
	FromState string          `json:"from_state,omitempty"`
	ToState   string          `json:"to_state,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type auditTrailResponse struct {
	RunID  string               `json:"run_id"`
	Events []auditEventResponse `json:"events"`
}

func toAuditTrailResponse(runID string, events []audit.Event) auditTrailResponse {
	out := auditTrailResponse{RunID: runID, Events: make([]auditEventResponse, len(events))}
	for i, e := range events {
		out.Events[i] = auditEventResponse{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Kind:      e.Kind,
			Category:  string(e.Kind.Category()),
			FromState: e.FromState,
			ToState:   e.ToState,
			Detail:    e.Detail,
			Payload:   e.Payload,
		}
	}
	return out
}
