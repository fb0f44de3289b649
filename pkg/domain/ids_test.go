package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "complyd/pkg/domain-errors"
)

func TestParseRunID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRunID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseRunID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseRunID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseRunID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, RunID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

func TestParseCatalogIDs(t *testing.T) {
	t.Run("accepts catalog style ids", func(t *testing.T) {
		p, err := ParsePolicyID("POL-ACCESS-01")
		require.NoError(t, err)
		assert.Equal(t, PolicyID("POL-ACCESS-01"), p)

		r, err := ParseRuleID("R-ACCESS-MFA.v2")
		require.NoError(t, err)
		assert.Equal(t, "R-ACCESS-MFA.v2", r.String())
	})

	t.Run("rejects whitespace and leading punctuation", func(t *testing.T) {
		for _, in := range []string{"", " POL", "-POL", "POL 1", strings.Repeat("a", 200)} {
			_, err := ParsePolicyID(in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "input %q", in)
		}
	})
}

func TestNewRunID_IsUniqueAndNonNil(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.False(t, a.IsNil())
	assert.NotEqual(t, a, b)
}
