package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Validation bounds the orchestrator.
type Validation struct {
	MaxRuleConcurrency int
	GlobalConcurrency  int
	RuleTimeout        time.Duration
	StageTimeout       time.Duration
	RunRetention       time.Duration
	// RetentionSchedule is a cron spec for the registry sweep.
	RetentionSchedule string
}

// Evidence configures fetching and normalization.
type Evidence struct {
	FetchAttempts     int
	FetchTimeout      time.Duration
	BackoffInitial    time.Duration
	MaxEvidenceLength int
	UserAgent         string
}

// Policy configures the catalog and its backing store.
type Policy struct {
	CatalogPath        string
	WatchCatalog       bool
	DatabaseURL        string
	CacheTTL           time.Duration
	RelevanceThreshold float64
}

// Fusion configures similarity retrieval.
type Fusion struct {
	VectorDatabaseURL string
	TopK              int
	MinScore          float64
	PassageLimit      int
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// Reasoning configures the external reasoning capability.
type Reasoning struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// Audit selects the audit store and optional mirror.
type Audit struct {
	// Backend is one of memory, sqlite, postgres.
	Backend      string
	SQLitePath   string
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
}

// RedisConfig configures the policy read-through cache. Empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimit throttles run submissions per client. SubmitLimit 0 disables it.
type RateLimit struct {
	SubmitLimit  int
	SubmitWindow time.Duration
}

// Config is the full process configuration.
type Config struct {
	Server     Server
	Validation Validation
	Evidence   Evidence
	Policy     Policy
	Fusion     Fusion
	Reasoning  Reasoning
	Audit      Audit
	Redis      RedisConfig
	RateLimit  RateLimit
	LogLevel   string
	LogFormat  string
}

// FromEnv builds a Config from COMPLYD_* environment variables so main stays lean.
func FromEnv() (Config, error) {
	r := &reader{}
	cfg := Config{
		Server: Server{
			Addr:            r.str("COMPLYD_ADDR", ":8080"),
			ShutdownTimeout: r.dur("COMPLYD_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Validation: Validation{
			MaxRuleConcurrency: r.int("COMPLYD_MAX_RULE_CONCURRENCY", 4),
			GlobalConcurrency:  r.int("COMPLYD_GLOBAL_CONCURRENCY", 32),
			RuleTimeout:        r.dur("COMPLYD_RULE_TIMEOUT", 60*time.Second),
			StageTimeout:       r.dur("COMPLYD_STAGE_TIMEOUT", 5*time.Minute),
			RunRetention:       r.dur("COMPLYD_RUN_RETENTION", 24*time.Hour),
			RetentionSchedule:  r.str("COMPLYD_RETENTION_SCHEDULE", "@every 10m"),
		},
		Evidence: Evidence{
			FetchAttempts:     r.int("COMPLYD_FETCH_ATTEMPTS", 3),
			FetchTimeout:      r.dur("COMPLYD_FETCH_TIMEOUT", 30*time.Second),
			BackoffInitial:    r.dur("COMPLYD_FETCH_BACKOFF", 500*time.Millisecond),
			MaxEvidenceLength: r.int("COMPLYD_MAX_EVIDENCE_LENGTH", 25000),
			UserAgent:         r.str("COMPLYD_USER_AGENT", "complyd/1.0"),
		},
		Policy: Policy{
			CatalogPath:        r.str("COMPLYD_POLICY_CATALOG", ""),
			WatchCatalog:       r.bool("COMPLYD_POLICY_WATCH", true),
			DatabaseURL:        r.str("COMPLYD_POLICY_DATABASE_URL", ""),
			CacheTTL:           r.dur("COMPLYD_POLICY_CACHE_TTL", 5*time.Minute),
			RelevanceThreshold: r.float("COMPLYD_RELEVANCE_THRESHOLD", 0.3),
		},
		Fusion: Fusion{
			VectorDatabaseURL: r.str("COMPLYD_VECTOR_DATABASE_URL", ""),
			TopK:              r.int("COMPLYD_SIMILARITY_TOP_K", 15),
			MinScore:          r.float("COMPLYD_SIMILARITY_MIN_SCORE", 0.75),
			PassageLimit:      r.int("COMPLYD_SIMILARITY_PASSAGE_LIMIT", 800),
			BreakerFailures:   r.int("COMPLYD_SIMILARITY_BREAKER_FAILURES", 5),
			BreakerCooldown:   r.dur("COMPLYD_SIMILARITY_BREAKER_COOLDOWN", 30*time.Second),
		},
		Reasoning: Reasoning{
			URL:         r.str("COMPLYD_REASONING_URL", ""),
			APIKey:      r.str("COMPLYD_REASONING_API_KEY", ""),
			Timeout:     r.dur("COMPLYD_REASONING_TIMEOUT", 45*time.Second),
			MaxAttempts: r.int("COMPLYD_REASONING_MAX_ATTEMPTS", 3),
		},
		Audit: Audit{
			Backend:      r.str("COMPLYD_AUDIT_BACKEND", "memory"),
			SQLitePath:   r.str("COMPLYD_AUDIT_SQLITE_PATH", "complyd-audit.db"),
			DatabaseURL:  r.str("COMPLYD_AUDIT_DATABASE_URL", ""),
			KafkaBrokers: r.list("COMPLYD_AUDIT_KAFKA_BROKERS"),
			KafkaTopic:   r.str("COMPLYD_AUDIT_KAFKA_TOPIC", "complyd.audit"),
		},
		Redis: RedisConfig{
			URL:          r.str("COMPLYD_REDIS_URL", ""),
			PoolSize:     r.int("COMPLYD_REDIS_POOL_SIZE", 10),
			MinIdleConns: r.int("COMPLYD_REDIS_MIN_IDLE", 2),
			DialTimeout:  r.dur("COMPLYD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.dur("COMPLYD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.dur("COMPLYD_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		RateLimit: RateLimit{
			SubmitLimit:  r.int("COMPLYD_SUBMIT_RATE_LIMIT", 60),
			SubmitWindow: r.dur("COMPLYD_SUBMIT_RATE_WINDOW", time.Minute),
		},
		LogLevel:  r.str("COMPLYD_LOG_LEVEL", "info"),
		LogFormat: r.str("COMPLYD_LOG_FORMAT", "json"),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.Validation.MaxRuleConcurrency < 1:
		return fmt.Errorf("COMPLYD_MAX_RULE_CONCURRENCY must be >= 1")
	case c.Validation.GlobalConcurrency < c.Validation.MaxRuleConcurrency:
		return fmt.Errorf("COMPLYD_GLOBAL_CONCURRENCY must be >= COMPLYD_MAX_RULE_CONCURRENCY")
	case c.Evidence.FetchAttempts < 1:
		return fmt.Errorf("COMPLYD_FETCH_ATTEMPTS must be >= 1")
	case c.Reasoning.MaxAttempts < 1:
		return fmt.Errorf("COMPLYD_REASONING_MAX_ATTEMPTS must be >= 1")
	case c.Fusion.MinScore < 0 || c.Fusion.MinScore > 1:
		return fmt.Errorf("COMPLYD_SIMILARITY_MIN_SCORE must be within [0,1]")
	case c.Fusion.PassageLimit < 1:
		return fmt.Errorf("COMPLYD_SIMILARITY_PASSAGE_LIMIT must be >= 1")
	case c.Policy.RelevanceThreshold < 0 || c.Policy.RelevanceThreshold > 1:
		return fmt.Errorf("COMPLYD_RELEVANCE_THRESHOLD must be within [0,1]")
	case c.RateLimit.SubmitLimit < 0:
		return fmt.Errorf("COMPLYD_SUBMIT_RATE_LIMIT must be >= 0")
	case c.RateLimit.SubmitLimit > 0 && c.RateLimit.SubmitWindow <= 0:
		return fmt.Errorf("COMPLYD_SUBMIT_RATE_WINDOW must be positive")
	}
	switch c.Audit.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Audit.DatabaseURL == "" {
			return fmt.Errorf("COMPLYD_AUDIT_DATABASE_URL is required for the postgres audit backend")
		}
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	return nil
}

// reader collects the first parse error so FromEnv can report it once.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
