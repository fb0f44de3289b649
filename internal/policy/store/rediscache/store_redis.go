package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"complyd/internal/policy/models"
	"complyd/internal/policy/ports"
	id "complyd/pkg/domain"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "complyd_policy_cache_lookups_total",
	Help: "Policy cache lookups by result",
}, []string{"result"}) // result: "hit", "miss", "error"

const keyPrefix = "complyd:policy:"

// Store is a read-through cache in front of another policy store. Cache
// errors degrade to the backing store; they never fail a query.
type Store struct {
	next   ports.Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(next ports.Store, client *redis.Client, ttl time.Duration, opts ...Option) *Store {
	s := &Store{next: next, client: client, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) QueryPolicies(ctx context.Context, criteria models.Criteria) ([]models.Descriptor, error) {
	ids := make([]string, len(criteria.PolicyIDs))
	for i, pid := range criteria.PolicyIDs {
		ids[i] = string(pid)
	}
	key := keyPrefix + "q:" + digest(string(criteria.Status), strings.Join(sorted(criteria.Categories), ","), strings.Join(sorted(ids), ","))
	return readThrough(ctx, s, key, func() ([]models.Descriptor, error) {
		return s.next.QueryPolicies(ctx, criteria)
	})
}

func (s *Store) QueryRules(ctx context.Context, policyIDs []id.PolicyID) ([]models.Rule, error) {
	ids := make([]string, len(policyIDs))
	for i, pid := range policyIDs {
		ids[i] = string(pid)
	}
	key := keyPrefix + "r:" + digest(strings.Join(sorted(ids), ","))
	return readThrough(ctx, s, key, func() ([]models.Rule, error) {
		return s.next.QueryRules(ctx, policyIDs)
	})
}

// Flush drops every cached entry, used after the catalog changes.
func (s *Store) Flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func readThrough[T any](ctx context.Context, s *Store, key string, load func() ([]T, error)) ([]T, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		}
		cacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "policy cache read failed", "key", key, "error", err)
	}

	out, err := load()
	if err != nil {
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(out); jsonErr == nil {
		if setErr := s.client.Set(ctx, key, encoded, s.ttl).Err(); setErr != nil {
			s.logger.WarnContext(ctx, "policy cache write failed", "key", key, "error", setErr)
		}
	}
	return out, nil
}

func sorted(v []string) []string {
	out := slices.Clone(v)
	slices.Sort(out)
	return out
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}
