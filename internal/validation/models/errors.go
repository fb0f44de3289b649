package models

import (
	"errors"

	evidence "complyd/internal/evidence/models"
	policy "complyd/internal/policy/models"
	reasoning "complyd/internal/reasoning/models"
)

// Run error taxonomy. Only evidence and resolver errors fail a run; the rest
// are recovered into gaps or end the run as CANCELLED.
var (
	// ErrTransientLookup is a policy store failure that survived retries.
	ErrTransientLookup = policy.ErrLookupFailed
	// ErrPolicyNotFound means no applicable policy was resolved.
	ErrPolicyNotFound = policy.ErrPolicyNotFound
	// ErrEvidenceFetch means evidence could not be collected or normalized.
	ErrEvidenceFetch = errors.New("evidence fetch error")
	// ErrMalformedVerdict is a reasoning response failing validation.
	ErrMalformedVerdict = reasoning.ErrMalformedVerdict
	// ErrTimeout marks a rule or stage deadline.
	ErrTimeout = errors.New("timeout")
	// ErrCancellationRequested is the cause attached to a cancelled run.
	ErrCancellationRequested = errors.New("cancellation requested")
	// ErrAuditUnavailable means a write-ahead audit event could not be persisted.
	ErrAuditUnavailable = errors.New("audit write failed")
	// ErrRunNotFound means no run with the given ID is known.
	ErrRunNotFound = errors.New("validation run not found")
	// ErrInvalidTransition is a transition outside the table.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// evidence errors that fail a run as ErrEvidenceFetch.
var evidenceErrors = []error{evidence.ErrFetchExhausted, evidence.ErrEmptyEvidence, evidence.ErrNoEvidence}

// IsEvidenceError reports whether err came from evidence collection.
func IsEvidenceError(err error) bool {
	for _, target := range evidenceErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FailureReason classifies the error that failed a run for metrics and logs.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrEvidenceFetch) || IsEvidenceError(err):
		return "evidence"
	case errors.Is(err, ErrTransientLookup):
		return "policy_lookup"
	case errors.Is(err, ErrPolicyNotFound):
		return "policy_not_found"
	case errors.Is(err, policy.ErrRuleCycle):
		return "rule_graph"
	case errors.Is(err, ErrAuditUnavailable):
		return "audit"
	default:
		return "internal"
	}
}
