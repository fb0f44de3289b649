package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complyd/internal/policy/models"
)

func TestLintCatalog(t *testing.T) {
	t.Run("shipped sample catalog is valid", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, lintCatalog(&out, filepath.Join("..", "..", "configs", "policies.yaml")))
		assert.Contains(t, out.String(), "POL-101")
	})

	t.Run("cycle is reported", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - policy_id: POL-1
    name: Looping
    category: test_execution
    version: "1"
    rules:
      - rule_id: R-1
        description: first
        validation_criteria: a
        parent_rule_ids: [R-2]
      - rule_id: R-2
        description: second
        validation_criteria: b
        parent_rule_ids: [R-1]
`), 0o600))

		var out bytes.Buffer
		err := lintCatalog(&out, path)
		require.ErrorIs(t, err, models.ErrRuleCycle)
	})

	t.Run("parent in another policy is dangling", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - policy_id: POL-1
    name: Child
    category: test_execution
    rules:
      - rule_id: R-1
        validation_criteria: a
        parent_rule_ids: [R-2]
  - policy_id: POL-2
    name: Parent
    category: security_compliance
    rules:
      - rule_id: R-2
        validation_criteria: b
`), 0o600))

		var out bytes.Buffer
		err := lintCatalog(&out, path)
		require.Error(t, err)
		assert.Contains(t, out.String(), "POL-1")
		assert.Contains(t, err.Error(), "1 of 2 policies invalid")
	})
}
