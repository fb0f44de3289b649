package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Validation.MaxRuleConcurrency)
	assert.Equal(t, 25000, cfg.Evidence.MaxEvidenceLength)
	assert.Equal(t, 15, cfg.Fusion.TopK)
	assert.InDelta(t, 0.75, cfg.Fusion.MinScore, 1e-9)
	assert.Equal(t, 800, cfg.Fusion.PassageLimit)
	assert.Equal(t, "memory", cfg.Audit.Backend)
	assert.Nil(t, cfg.Audit.KafkaBrokers)
	assert.Equal(t, 60, cfg.RateLimit.SubmitLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.SubmitWindow)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("COMPLYD_ADDR", ":9090")
	t.Setenv("COMPLYD_RULE_TIMEOUT", "15s")
	t.Setenv("COMPLYD_AUDIT_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("COMPLYD_AUDIT_BACKEND", "sqlite")
	t.Setenv("COMPLYD_SUBMIT_RATE_LIMIT", "0")
	t.Setenv("COMPLYD_SIMILARITY_PASSAGE_LIMIT", "300")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Validation.RuleTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.KafkaBrokers)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.Zero(t, cfg.RateLimit.SubmitLimit)
	assert.Equal(t, 300, cfg.Fusion.PassageLimit)
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad duration", "COMPLYD_STAGE_TIMEOUT", "soon", "COMPLYD_STAGE_TIMEOUT"},
		{"bad int", "COMPLYD_FETCH_ATTEMPTS", "three", "COMPLYD_FETCH_ATTEMPTS"},
		{"zero concurrency", "COMPLYD_MAX_RULE_CONCURRENCY", "0", "COMPLYD_MAX_RULE_CONCURRENCY"},
		{"score out of range", "COMPLYD_SIMILARITY_MIN_SCORE", "1.5", "COMPLYD_SIMILARITY_MIN_SCORE"},
		{"zero passage limit", "COMPLYD_SIMILARITY_PASSAGE_LIMIT", "0", "COMPLYD_SIMILARITY_PASSAGE_LIMIT"},
		{"negative rate limit", "COMPLYD_SUBMIT_RATE_LIMIT", "-1", "COMPLYD_SUBMIT_RATE_LIMIT"},
		{"unknown backend", "COMPLYD_AUDIT_BACKEND", "s3", "unknown audit backend"},
		{"postgres without url", "COMPLYD_AUDIT_BACKEND", "postgres", "COMPLYD_AUDIT_DATABASE_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
