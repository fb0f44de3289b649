package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// SweepExpired drops terminal runs completed more than RunRetention ago from
// memory. Their audit trails stay readable through AuditTrail.
func (s *Service) SweepExpired(ctx context.Context) int {
	if s.cfg.RunRetention <= 0 {
		return 0
	}
	removed := s.registry.sweep(s.now().Add(-s.cfg.RunRetention))
	s.metrics.AddEvicted(removed)
	if removed > 0 {
		s.logger.InfoContext(ctx, "expired validation runs evicted",
			"evicted_count", removed,
			"remaining", s.registry.len(),
		)
	}
	return removed
}

// StartRetention sweeps expired runs on a standard cron schedule until ctx
// ends. An empty schedule disables the sweep.
func (s *Service) StartRetention(ctx context.Context, schedule string) error {
	if schedule == "" || s.cfg.RunRetention <= 0 {
		s.logger.InfoContext(ctx, "run retention sweep not configured")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.SweepExpired(ctx) }); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	s.logger.InfoContext(ctx, "run retention sweep started",
		"schedule", schedule,
		"retention", s.cfg.RunRetention,
	)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
