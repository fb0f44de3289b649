package catalogfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

const valid = `
policies:
  - policy_id: POL-1
    name: Tests
    category: test_execution
    keywords: [coverage]
    rules:
      - rule_id: R-1
        severity: MANDATORY
      - rule_id: R-2
        parent_rule_ids: [R-1]
  - policy_id: POL-2
    name: Draft
    category: code_review
    status: DRAFT
`

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(valid))
	require.NoError(t, err)
	require.Len(t, cat.Policies, 2)
	assert.Equal(t, models.StatusActive, cat.Policies[0].Status, "status defaults to ACTIVE")
	assert.Equal(t, models.StatusDraft, cat.Policies[1].Status)

	require.Len(t, cat.Rules, 2)
	assert.Equal(t, id.PolicyID("POL-1"), cat.Rules[1].PolicyID, "rules inherit their policy")
	assert.Equal(t, models.SeverityMandatory, cat.Rules[1].Severity, "severity defaults to MANDATORY")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "policies:\n  - policy_id: P\n    category: c\n    colour: red\n", "colour"},
		{"duplicate policy", "policies:\n  - {policy_id: P, category: c}\n  - {policy_id: P, category: c}\n", "duplicate policy id"},
		{"missing category", "policies:\n  - {policy_id: P}\n", "category is required"},
		{"bad severity", "policies:\n  - policy_id: P\n    category: c\n    rules: [{rule_id: R, severity: SOMETIMES}]\n", "unknown severity"},
		{"cycle", "policies:\n  - policy_id: P\n    category: c\n    rules:\n      - {rule_id: A, parent_rule_ids: [B]}\n      - {rule_id: B, parent_rule_ids: [A]}\n", "cycle"},
		{"dangling parent", "policies:\n  - policy_id: P\n    category: c\n    rules: [{rule_id: A, parent_rule_ids: [Z]}]\n", "unknown parent"},
		{"invalid id", "policies:\n  - {policy_id: '../etc', category: c}\n", "policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cat, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cat.Policies)
}

func TestLoad_SampleCatalog(t *testing.T) {
	cat, err := Load(filepath.Join("..", "..", "..", "configs", "policies.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cat.Policies)
	_, err = models.NewRuleSet(cat.Rules)
	assert.NoError(t, err)
}

func TestWatch_ReloadsValidChangesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(valid), 0o600))

	var (
		mu   sync.Mutex
		seen []Catalog
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c Catalog) {
			mu.Lock()
			seen = append(seen, c)
			mu.Unlock()
		})
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("policies: [{policy_id: P}]"), 0o600))
	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, seen, "invalid catalogs are not applied")
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("policies: [{policy_id: P, category: c}]"), 0o600))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && len(seen[0].Policies) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
