package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evidence "complyd/internal/evidence/models"
	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

func testSnapshot() *models.Snapshot {
	policies := []models.Descriptor{
		{PolicyID: "POL-101", Name: "Test evidence", Category: "test_execution", Status: models.StatusActive,
			Keywords: []string{"test plan", "test result", "coverage"}},
		{PolicyID: "POL-201", Name: "Vulnerability mgmt", Category: "security_compliance", Status: models.StatusActive,
			Keywords: []string{"vulnerability", "scan", "cve", "remediation"}},
		{PolicyID: "POL-202", Name: "Pen testing", Category: "security_compliance", Status: models.StatusActive,
			Keywords: []string{"penetration", "scan"}},
		{PolicyID: "POL-301", Name: "Release mgmt", Category: "deployment_validation", Status: models.StatusActive,
			Keywords: []string{"rollback", "release"}},
	}
	rules := []models.Rule{
		{RuleID: "R-101-1", PolicyID: "POL-101", Severity: models.SeverityMandatory},
		{RuleID: "R-101-2", PolicyID: "POL-101", Severity: models.SeverityOptional, ParentRuleIDs: []id.RuleID{"R-101-1"}},
		{RuleID: "R-201-1", PolicyID: "POL-201", Severity: models.SeverityMandatory},
		{RuleID: "R-301-1", PolicyID: "POL-301", Severity: models.SeverityMandatory},
	}
	return models.NewSnapshot(policies, rules, time.Unix(0, 0))
}

type staticSource struct{ snap *models.Snapshot }

func (s staticSource) Snapshot(context.Context) (*models.Snapshot, error) { return s.snap, nil }

func policyIDs(ps []models.Descriptor) []id.PolicyID {
	out := make([]id.PolicyID, len(ps))
	for i, p := range ps {
		out[i] = p.PolicyID
	}
	return out
}

func TestResolve_Explicit(t *testing.T) {
	r := NewResolver(staticSource{testSnapshot()}, 0, nil)

	t.Run("unknown explicit ids are skipped, not fatal", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), evidence.Summary{}, []string{"POL-101", "POL-999"})
		require.NoError(t, err)
		assert.Equal(t, []id.PolicyID{"POL-101"}, policyIDs(res.Policies))
		assert.Equal(t, []string{"POL-999"}, res.Skipped)
		assert.False(t, res.AutoDetected)
	})

	t.Run("request order is preserved and duplicates collapse", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), evidence.Summary{}, []string{"POL-301", " POL-101", "POL-301"})
		require.NoError(t, err)
		assert.Equal(t, []id.PolicyID{"POL-301", "POL-101"}, policyIDs(res.Policies))
	})

	t.Run("explicit ids are never merged with detection", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), evidence.Summary{Text: "vulnerability scan cve remediation"}, []string{"POL-301"})
		require.NoError(t, err)
		assert.Equal(t, []id.PolicyID{"POL-301"}, policyIDs(res.Policies))
	})

	t.Run("all unknown is policy not found", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), evidence.Summary{}, []string{"POL-998", "POL-999"})
		require.ErrorIs(t, err, models.ErrPolicyNotFound)
		assert.Equal(t, []string{"POL-998", "POL-999"}, res.Skipped)
	})
}

func TestResolve_Detection(t *testing.T) {
	r := NewResolver(staticSource{testSnapshot()}, 0.3, nil)

	t.Run("orders by score descending", func(t *testing.T) {
		summary := evidence.Summary{Text: "Security compliance SCAN report: one CVE found, remediation planned. Penetration test pending."}
		res, err := r.Resolve(context.Background(), summary, nil)
		require.NoError(t, err)
		// POL-202: 0.5 + 0.5*2/2 = 1.0; POL-201: 0.5 + 0.5*3/4 = 0.875.
		assert.Equal(t, []id.PolicyID{"POL-202", "POL-201"}, policyIDs(res.Policies))
		assert.True(t, res.AutoDetected)
	})

	t.Run("ties break on policy id", func(t *testing.T) {
		summary := evidence.Summary{Text: "security compliance: scan"}
		res, err := r.Resolve(context.Background(), summary, nil)
		require.NoError(t, err)
		// POL-201: 0.5 + 0.5*1/4 = 0.625; POL-202: 0.5 + 0.5*1/2 = 0.75.
		assert.Equal(t, []id.PolicyID{"POL-202", "POL-201"}, policyIDs(res.Policies))

		tied := models.NewSnapshot([]models.Descriptor{
			{PolicyID: "POL-B", Category: "privacy", Status: models.StatusActive},
			{PolicyID: "POL-A", Category: "privacy", Status: models.StatusActive},
		}, nil, time.Now())
		got, _, err := ResolveIn(tied, evidence.Summary{Text: "privacy notice"}, nil, 0.3)
		require.NoError(t, err)
		assert.Equal(t, []id.PolicyID{"POL-A", "POL-B"}, policyIDs(got.Policies))
	})

	t.Run("falls back to evidence type mapping", func(t *testing.T) {
		summary := evidence.Summary{Text: "nothing relevant", Types: []evidence.EvidenceType{evidence.TypeDeploymentLog}}
		res, err := r.Resolve(context.Background(), summary, nil)
		require.NoError(t, err)
		assert.Equal(t, []id.PolicyID{"POL-301"}, policyIDs(res.Policies))
	})

	t.Run("unknown evidence type falls back to test execution", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), evidence.Summary{Text: "zzz"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []id.PolicyID{"POL-101"}, policyIDs(res.Policies))
	})

	t.Run("no match and no fallback is policy not found", func(t *testing.T) {
		empty := models.NewSnapshot([]models.Descriptor{{PolicyID: "POL-X", Category: "privacy", Status: models.StatusActive}}, nil, time.Now())
		_, _, err := ResolveIn(empty, evidence.Summary{Text: "zzz"}, nil, 0.3)
		assert.ErrorIs(t, err, models.ErrPolicyNotFound)
	})
}

func TestResolve_IsDeterministic(t *testing.T) {
	snap := testSnapshot()
	summary := evidence.Summary{Text: "release rollback scan test plan coverage vulnerability"}
	first, _, err := ResolveIn(snap, summary, nil, 0.2)
	require.NoError(t, err)
	for range 20 {
		again, _, err := ResolveIn(snap, summary, nil, 0.2)
		require.NoError(t, err)
		assert.Equal(t, policyIDs(first.Policies), policyIDs(again.Policies))
	}
}

func TestLoadRules(t *testing.T) {
	snap := testSnapshot()
	res := models.Resolution{Snapshot: snap, Policies: []models.Descriptor{mustPolicy(t, snap, "POL-101")}}

	rs, err := LoadRulesIn(res)
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	child, ok := rs.Index("R-101-2")
	require.True(t, ok)
	parent, _ := rs.Index("R-101-1")
	assert.Equal(t, []int{parent}, rs.Parents(child))

	t.Run("cycles in the store fail loading", func(t *testing.T) {
		cyclic := models.NewSnapshot(snap.Policies, []models.Rule{
			{RuleID: "A", PolicyID: "POL-101", ParentRuleIDs: []id.RuleID{"B"}},
			{RuleID: "B", PolicyID: "POL-101", ParentRuleIDs: []id.RuleID{"A"}},
		}, time.Now())
		_, err := LoadRulesIn(models.Resolution{Snapshot: cyclic, Policies: res.Policies})
		assert.ErrorIs(t, err, models.ErrRuleCycle)
	})
}

func mustPolicy(t *testing.T, snap *models.Snapshot, pid id.PolicyID) models.Descriptor {
	t.Helper()
	p, ok := snap.Policy(pid)
	require.True(t, ok)
	return p
}

func TestCrossReferences(t *testing.T) {
	snap := testSnapshot()
	refs := CrossReferences(snap.Policies)
	require.Len(t, refs, 1)
	assert.Equal(t, "security_compliance", refs[0].Category)
	assert.Equal(t, []id.PolicyID{"POL-201", "POL-202"}, refs[0].Policies)
}
