package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	decisionmetrics "complyd/internal/decision/metrics"
	decisionsvc "complyd/internal/decision/service"
	evidencemetrics "complyd/internal/evidence/metrics"
	evidencesvc "complyd/internal/evidence/service"
	"complyd/internal/evidence/source/httpsource"
	fusionmetrics "complyd/internal/fusion/metrics"
	fusionports "complyd/internal/fusion/ports"
	fusionsvc "complyd/internal/fusion/service"
	"complyd/internal/fusion/store/pgvector"
	"complyd/internal/platform/config"
	"complyd/internal/platform/postgres"
	platformredis "complyd/internal/platform/redis"
	"complyd/internal/policy/catalogfile"
	policymetrics "complyd/internal/policy/metrics"
	policyports "complyd/internal/policy/ports"
	policysvc "complyd/internal/policy/service"
	policymemory "complyd/internal/policy/store/memory"
	policypg "complyd/internal/policy/store/postgres"
	"complyd/internal/policy/store/rediscache"
	reasoningclient "complyd/internal/reasoning/client"
	reasoningmetrics "complyd/internal/reasoning/metrics"
	reasoningsvc "complyd/internal/reasoning/service"
	validationmetrics "complyd/internal/validation/metrics"
	validationmodels "complyd/internal/validation/models"
	validationsvc "complyd/internal/validation/service"
	id "complyd/pkg/domain"
	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/audit/publisher"
	auditkafka "complyd/pkg/platform/audit/store/kafka"
	auditmemory "complyd/pkg/platform/audit/store/memory"
	auditpg "complyd/pkg/platform/audit/store/postgres"
	auditsqlite "complyd/pkg/platform/audit/store/sqlite"
	"complyd/pkg/platform/circuit"
)

// app holds every wired component of one process.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	validation *validationsvc.Service
	catalog    *policysvc.Catalog
	discovery  *policysvc.Discovery
	publisher  *publisher.Publisher

	// policy backends, kept for catalog reloads
	policyMemory *policymemory.InMemoryStore
	policyPG     *policypg.Store
	policyCache  *rediscache.Store
	redis        *platformredis.Client

	checks  map[string]func(ctx context.Context) error
	closers []func() error
}

// buildApp connects every backend named by cfg. On error everything opened so
// far is closed.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, checks: map[string]func(context.Context) error{}}
	defer func() {
		if err != nil {
			_ = a.close()
			a = nil
		}
	}()

	if a.publisher, err = a.buildAudit(ctx); err != nil {
		return nil, err
	}
	if a.catalog, err = a.buildCatalog(ctx); err != nil {
		return nil, err
	}
	if cfg.Reasoning.URL == "" {
		return nil, errors.New("COMPLYD_REASONING_URL is required")
	}
	reasoning := reasoningclient.New(cfg.Reasoning.URL, cfg.Reasoning.Timeout,
		reasoningclient.WithAPIKey(cfg.Reasoning.APIKey))

	fuser, indexer, err := a.buildFusion(ctx, reasoning)
	if err != nil {
		return nil, err
	}

	collector := evidencesvc.NewCollector(
		httpsource.New(&http.Client{}, cfg.Evidence.UserAgent),
		evidencesvc.NewNormalizer(evidencesvc.WithMaxLength(cfg.Evidence.MaxEvidenceLength)),
		evidencesvc.CollectorConfig{
			MaxAttempts:    cfg.Evidence.FetchAttempts,
			InitialBackoff: cfg.Evidence.BackoffInitial,
			FetchTimeout:   cfg.Evidence.FetchTimeout,
		},
		logger,
		evidencemetrics.New(),
	)
	resolver := policysvc.NewResolver(a.catalog, cfg.Policy.RelevanceThreshold, policymetrics.New())
	a.discovery = policysvc.NewDiscovery(collector, resolver)

	evaluator := reasoningsvc.NewEvaluator(reasoning,
		reasoningsvc.WithMaxAttempts(cfg.Reasoning.MaxAttempts),
		reasoningsvc.WithLogger(logger),
		reasoningsvc.WithMetrics(reasoningmetrics.New()),
	)

	opts := []validationsvc.Option{
		validationsvc.WithLogger(logger),
		validationsvc.WithMetrics(validationmetrics.New()),
		validationsvc.WithAggregator(decisionsvc.NewAggregator(decisionmetrics.New())),
	}
	if indexer != nil {
		opts = append(opts, validationsvc.WithCompletionHook(func(ctx context.Context, run validationmodels.Run) {
			pids := make([]id.PolicyID, len(run.Policies))
			for i, p := range run.Policies {
				pids[i] = p.PolicyID
			}
			if err := indexer.Index(ctx, pids, run.EvidenceItems); err != nil {
				logger.WarnContext(ctx, "evidence not indexed for similarity", "run_id", run.ID, "error", err)
			}
		}))
	}
	a.validation = validationsvc.New(
		collector,
		resolver,
		fuser,
		evaluator,
		a.publisher,
		validationsvc.Config{
			MaxRuleConcurrency: cfg.Validation.MaxRuleConcurrency,
			GlobalConcurrency:  cfg.Validation.GlobalConcurrency,
			RuleTimeout:        cfg.Validation.RuleTimeout,
			StageTimeout:       cfg.Validation.StageTimeout,
			RunRetention:       cfg.Validation.RunRetention,
		},
		opts...,
	)
	return a, nil
}

func (a *app) buildAudit(ctx context.Context) (*publisher.Publisher, error) {
	var store audit.Store
	switch a.cfg.Audit.Backend {
	case "sqlite":
		s, err := auditsqlite.Open(ctx, a.cfg.Audit.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		store = s
	case "postgres":
		db, err := a.openDB(ctx, "audit", a.cfg.Audit.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s := auditpg.New(db)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		store = s
	default:
		store = auditmemory.NewInMemoryStore()
	}

	opts := []publisher.Option{
		publisher.WithLogger(a.logger),
		publisher.WithMetrics(publisher.NewMetrics()),
	}
	if len(a.cfg.Audit.KafkaBrokers) > 0 {
		sink, err := auditkafka.New(a.cfg.Audit.KafkaBrokers, a.cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("audit kafka mirror: %w", err)
		}
		a.closers = append(a.closers, func() error { sink.Close(); return nil })
		opts = append(opts, publisher.WithMirror("kafka", sink, 1024))
	}
	p := publisher.New(store, opts...)
	// Registered after the stores so the mirror drains before they close.
	a.closers = append(a.closers, p.Close)
	return p, nil
}

func (a *app) buildCatalog(ctx context.Context) (*policysvc.Catalog, error) {
	var catalog catalogfile.Catalog
	if path := a.cfg.Policy.CatalogPath; path != "" {
		var err error
		if catalog, err = catalogfile.Load(path); err != nil {
			return nil, err
		}
	}

	var store policyports.Store
	if dsn := a.cfg.Policy.DatabaseURL; dsn != "" {
		db, err := a.openDB(ctx, "policy", dsn)
		if err != nil {
			return nil, err
		}
		a.policyPG = policypg.New(db)
		if err := a.policyPG.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate policy store: %w", err)
		}
		if a.cfg.Policy.CatalogPath != "" {
			if err := a.policyPG.Sync(ctx, catalog.Policies, catalog.Rules); err != nil {
				return nil, fmt.Errorf("sync policy catalog: %w", err)
			}
		}
		store = a.policyPG
	} else {
		a.policyMemory = policymemory.NewSeeded(catalog.Policies, catalog.Rules)
		store = a.policyMemory
	}

	client, err := platformredis.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("policy cache: %w", err)
	}
	if client != nil {
		a.redis = client
		a.closers = append(a.closers, client.Close)
		a.checks["redis"] = client.Health
		a.policyCache = rediscache.New(store, client.Client, a.cfg.Policy.CacheTTL, rediscache.WithLogger(a.logger))
		store = a.policyCache
	}

	return policysvc.NewCatalog(store, a.cfg.Policy.CacheTTL, a.logger,
		policysvc.WithCatalogMetrics(policymetrics.New())), nil
}

// buildFusion wires similarity retrieval when a vector database is configured.
// Without one the fuser builds contexts from criteria and evidence only.
func (a *app) buildFusion(ctx context.Context, embedder fusionports.Embedder) (*fusionsvc.Fuser, *fusionsvc.Indexer, error) {
	opts := []fusionsvc.Option{
		fusionsvc.WithTopK(a.cfg.Fusion.TopK),
		fusionsvc.WithMinScore(a.cfg.Fusion.MinScore),
		fusionsvc.WithPassageLimit(a.cfg.Fusion.PassageLimit),
		fusionsvc.WithLogger(a.logger),
		fusionsvc.WithMetrics(fusionmetrics.New()),
	}
	if a.cfg.Fusion.VectorDatabaseURL == "" {
		return fusionsvc.NewFuser(nil, nil, opts...), nil, nil
	}

	pool, err := postgres.OpenPool(ctx, a.cfg.Fusion.VectorDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("vector store: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.checks["vector_store"] = func(ctx context.Context) error { return pingPool(ctx, pool) }

	store := pgvector.New(pool)
	if err := store.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrate vector store: %w", err)
	}
	breaker := circuit.New("similarity",
		circuit.WithFailureThreshold(a.cfg.Fusion.BreakerFailures),
		circuit.WithCooldown(a.cfg.Fusion.BreakerCooldown),
	)
	opts = append(opts, fusionsvc.WithBreaker(breaker))
	return fusionsvc.NewFuser(store, embedder, opts...), fusionsvc.NewIndexer(store, embedder, a.logger), nil
}

func (a *app) openDB(ctx context.Context, name, dsn string) (*sql.DB, error) {
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s database: %w", name, err)
	}
	a.closers = append(a.closers, db.Close)
	a.checks[name+"_database"] = db.PingContext
	return db, nil
}

func pingPool(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// reloadCatalog pushes a changed catalog file into the policy store and drops
// every cached view of it.
func (a *app) reloadCatalog(ctx context.Context, c catalogfile.Catalog) {
	switch {
	case a.policyPG != nil:
		if err := a.policyPG.Sync(ctx, c.Policies, c.Rules); err != nil {
			a.logger.ErrorContext(ctx, "policy catalog sync failed", "error", err)
			return
		}
	case a.policyMemory != nil:
		a.policyMemory.Replace(c.Policies, c.Rules)
	}
	if a.policyCache != nil {
		if err := a.policyCache.Flush(ctx); err != nil {
			a.logger.WarnContext(ctx, "policy cache flush failed", "error", err)
		}
	}
	a.catalog.Invalidate()
	a.logger.InfoContext(ctx, "policy catalog reloaded",
		"policies", len(c.Policies),
		"rules", len(c.Rules),
	)
}

// ready runs every readiness check with a short deadline.
func (a *app) ready(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out := make(map[string]string, len(a.checks)+1)
	if _, err := a.catalog.Snapshot(ctx); err != nil {
		out["policy_catalog"] = err.Error()
	} else {
		out["policy_catalog"] = "ok"
	}
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}
	return out
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
