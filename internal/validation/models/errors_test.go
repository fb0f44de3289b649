package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	evidence "complyd/internal/evidence/models"
	policy "complyd/internal/policy/models"
)

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrapped evidence fetch", fmt.Errorf("%w: %w", ErrEvidenceFetch, evidence.ErrFetchExhausted), "evidence"},
		{"bare empty evidence", evidence.ErrEmptyEvidence, "evidence"},
		{"no evidence urls", fmt.Errorf("collect: %w", evidence.ErrNoEvidence), "evidence"},
		{"policy store outage", fmt.Errorf("resolve: %w", ErrTransientLookup), "policy_lookup"},
		{"nothing applicable", ErrPolicyNotFound, "policy_not_found"},
		{"cyclic rules", fmt.Errorf("%w among [a, b]", policy.ErrRuleCycle), "rule_graph"},
		{"audit outage", fmt.Errorf("%w: disk full", ErrAuditUnavailable), "audit"},
		{"anything else", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureReason(tt.err))
		})
	}
}

func TestIsEvidenceError(t *testing.T) {
	assert.True(t, IsEvidenceError(fmt.Errorf("fetch: %w", evidence.ErrFetchExhausted)))
	assert.False(t, IsEvidenceError(ErrEvidenceFetch), "the run-level wrapper is not a collector error")
	assert.False(t, IsEvidenceError(ErrPolicyNotFound))
}
