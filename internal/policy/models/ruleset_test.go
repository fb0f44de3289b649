package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "complyd/pkg/domain"
)

func rule(ruleID string, parents ...string) Rule {
	r := Rule{RuleID: id.RuleID(ruleID), PolicyID: "POL-1", Severity: SeverityMandatory}
	for _, p := range parents {
		r.ParentRuleIDs = append(r.ParentRuleIDs, id.RuleID(p))
	}
	return r
}

func TestNewRuleSet_TopologicalOrder(t *testing.T) {
	// R4 -> R2 -> R1, R3 -> R1, R5 independent
	rs, err := NewRuleSet([]Rule{
		rule("R4", "R2"),
		rule("R2", "R1"),
		rule("R5"),
		rule("R3", "R1"),
		rule("R1"),
	})
	require.NoError(t, err)

	var ids []id.RuleID
	for _, i := range rs.Order() {
		ids = append(ids, rs.Rule(i).RuleID)
	}
	assert.Equal(t, []id.RuleID{"R1", "R2", "R3", "R4", "R5"}, ids)

	r4, ok := rs.Index("R4")
	require.True(t, ok)
	r2, _ := rs.Index("R2")
	assert.Equal(t, []int{r2}, rs.Parents(r4))
	assert.Equal(t, []int{r4}, rs.Children(r2))
}

func TestNewRuleSet_OrderIndependentOfInput(t *testing.T) {
	a, err := NewRuleSet([]Rule{rule("B", "A"), rule("A"), rule("C")})
	require.NoError(t, err)
	b, err := NewRuleSet([]Rule{rule("C"), rule("A"), rule("B", "A")})
	require.NoError(t, err)
	assert.Equal(t, a.Order(), b.Order())
	assert.Equal(t, a.Rules(), b.Rules())
}

func TestNewRuleSet_Rejects(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		_, err := NewRuleSet([]Rule{rule("A", "C"), rule("B", "A"), rule("C", "B"), rule("D")})
		require.ErrorIs(t, err, ErrRuleCycle)
		assert.Contains(t, err.Error(), "A, B, C")
		assert.NotContains(t, err.Error(), "D")
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := NewRuleSet([]Rule{rule("A", "A")})
		assert.ErrorIs(t, err, ErrRuleCycle)
	})

	t.Run("dangling parent", func(t *testing.T) {
		_, err := NewRuleSet([]Rule{rule("A", "ZZ")})
		assert.ErrorIs(t, err, ErrDanglingParent)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := NewRuleSet([]Rule{rule("A"), rule("A")})
		assert.ErrorIs(t, err, ErrDuplicateRule)
	})
}

func TestNewRuleSet_DuplicateParentEdgesCollapse(t *testing.T) {
	rs, err := NewRuleSet([]Rule{rule("A"), rule("B", "A", "A")})
	require.NoError(t, err)
	b, _ := rs.Index("B")
	assert.Len(t, rs.Parents(b), 1)
}

func TestNewRuleSet_Empty(t *testing.T) {
	rs, err := NewRuleSet(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	assert.Empty(t, rs.Order())
}
