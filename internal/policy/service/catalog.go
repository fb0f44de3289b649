package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"complyd/internal/policy/metrics"
	"complyd/internal/policy/models"
	"complyd/internal/policy/ports"
	id "complyd/pkg/domain"
)

// Catalog serves immutable snapshots of the active policy catalog. Snapshots
// are replaced wholesale on refresh, so a run holding one never observes a
// change. Concurrent refreshes collapse into one store query.
type Catalog struct {
	store   ports.Store
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	current atomic.Pointer[models.Snapshot]
	group   singleflight.Group
	retries uint64
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

func WithCatalogMetrics(m *metrics.Metrics) CatalogOption {
	return func(c *Catalog) { c.metrics = m }
}

// WithLookupRetries sets how many times a failed store query is retried.
func WithLookupRetries(n uint64) CatalogOption {
	return func(c *Catalog) { c.retries = n }
}

func NewCatalog(store ports.Store, ttl time.Duration, logger *slog.Logger, opts ...CatalogOption) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{store: store, ttl: ttl, now: time.Now, logger: logger, retries: 2}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current snapshot, refreshing it when older than the
// TTL. If a refresh fails and a stale snapshot exists, the stale one is served.
func (c *Catalog) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	if s := c.current.Load(); s != nil && c.fresh(s) {
		return s, nil
	}
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		if s := c.current.Load(); s != nil && c.fresh(s) {
			return s, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		if stale := c.current.Load(); stale != nil {
			c.logger.WarnContext(ctx, "policy catalog refresh failed, serving stale snapshot",
				"loaded_at", stale.LoadedAt,
				"error", err,
			)
			return stale, nil
		}
		return nil, err
	}
	return v.(*models.Snapshot), nil
}

// Invalidate forces the next Snapshot call to reload.
func (c *Catalog) Invalidate() {
	c.current.Store(nil)
}

func (c *Catalog) fresh(s *models.Snapshot) bool {
	return c.ttl > 0 && c.now().Sub(s.LoadedAt) < c.ttl
}

func (c *Catalog) refresh(ctx context.Context) (*models.Snapshot, error) {
	var (
		policies []models.Descriptor
		rules    []models.Rule
	)
	op := func() error {
		var err error
		policies, err = c.store.QueryPolicies(ctx, models.Criteria{Status: models.StatusActive})
		if err != nil {
			return err
		}
		ids := make([]id.PolicyID, len(policies))
		for i, p := range policies {
			ids[i] = p.PolicyID
		}
		rules, err = c.store.QueryRules(ctx, ids)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)); err != nil {
		c.metrics.IncRefresh("error")
		return nil, fmt.Errorf("%w: %w", models.ErrLookupFailed, err)
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].PolicyID < policies[j].PolicyID })
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
	snap := models.NewSnapshot(policies, rules, c.now())
	c.current.Store(snap)

	c.metrics.IncRefresh("ok")
	c.metrics.SetCatalogSize(len(policies))
	c.logger.InfoContext(ctx, "policy catalog refreshed",
		"policies", len(policies),
		"rules", len(rules),
	)
	return snap, nil
}
