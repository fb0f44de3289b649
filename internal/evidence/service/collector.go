package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"complyd/internal/evidence/metrics"
	"complyd/internal/evidence/models"
	"complyd/internal/evidence/ports"
	pkgstrings "complyd/pkg/platform/strings"
)

// CollectorConfig bounds fetch retries.
type CollectorConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FetchTimeout   time.Duration
	Parallelism    int
}

// Collector fetches and normalizes every URL of an evidence ref.
type Collector struct {
	source     ports.Source
	normalizer *Normalizer
	cfg        CollectorConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewCollector(source ports.Source, normalizer *Normalizer, cfg CollectorConfig, logger *slog.Logger, m *metrics.Metrics) *Collector {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{source: source, normalizer: normalizer, cfg: cfg, logger: logger, metrics: m}
}

// Collect returns items in URL order. Any URL that cannot be collected after
// the retry budget fails the whole call with models.ErrFetchExhausted.
func (c *Collector) Collect(ctx context.Context, ref models.Ref) ([]*models.Item, error) {
	urls := pkgstrings.DedupeAndTrim(ref.URLs)
	if len(urls) == 0 {
		return nil, models.ErrNoEvidence
	}

	items := make([]*models.Item, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, url := range urls {
		g.Go(func() error {
			item, err := c.collectOne(gctx, url)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Collector) collectOne(ctx context.Context, url string) (*models.Item, error) {
	var item *models.Item
	attempt := 0
	op := func() error {
		attempt++
		raw, err := c.fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !models.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		// Normalize failures share the fetch retry budget.
		item, err = c.normalizer.Normalize(raw, url)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "evidence fetch failed, retrying",
			"url", url,
			"attempt", attempt,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", models.ErrFetchExhausted, url, attempt, err)
	}
	c.metrics.IncItem(string(item.EvidenceType))
	return item, nil
}

func (c *Collector) fetch(ctx context.Context, url string) (models.Raw, error) {
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := c.source.Fetch(ctx, url)
	outcome := "ok"
	if err != nil {
		outcome = "terminal"
		if models.IsRetryable(err) {
			outcome = "retryable"
		}
	}
	c.metrics.ObserveFetch(time.Since(start), outcome)
	return raw, err
}
