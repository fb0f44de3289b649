package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	decisionsvc "complyd/internal/decision/service"
	evidence "complyd/internal/evidence/models"
	evidencesvc "complyd/internal/evidence/service"
	policysvc "complyd/internal/policy/service"
	"complyd/internal/validation/metrics"
	"complyd/internal/validation/models"
	"complyd/internal/validation/ports"
	dErrors "complyd/pkg/domain-errors"
	id "complyd/pkg/domain"
	audit "complyd/pkg/platform/audit"
	pkgstrings "complyd/pkg/platform/strings"
	"complyd/pkg/requestcontext"
)

var errShuttingDown = errors.New("service shutting down")

// Config bounds the orchestrator.
type Config struct {
	MaxRuleConcurrency int
	GlobalConcurrency  int
	RuleTimeout        time.Duration
	StageTimeout       time.Duration
	RunRetention       time.Duration
}

// Service is the validation orchestrator. Each run is driven by its own
// goroutine through the state machine in models.CanTransition, and every
// transition is written to the audit log before it takes effect.
type Service struct {
	collector  ports.EvidenceCollector
	resolver   ports.PolicyResolver
	fuser      ports.ContextBuilder
	evaluator  ports.RuleEvaluator
	audit      ports.AuditPublisher
	aggregator *decisionsvc.Aggregator
	cfg        Config

	global   *semaphore.Weighted
	registry *registry

	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	onComplete func(ctx context.Context, run models.Run)

	baseCtx context.Context
	stop    context.CancelCauseFunc
	wg      sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithAggregator(a *decisionsvc.Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

// WithCompletionHook runs fn after a run reaches COMPLETED, before Wait
// returns for it.
func WithCompletionHook(fn func(ctx context.Context, run models.Run)) Option {
	return func(s *Service) { s.onComplete = fn }
}

func New(
	collector ports.EvidenceCollector,
	resolver ports.PolicyResolver,
	fuser ports.ContextBuilder,
	evaluator ports.RuleEvaluator,
	publisher ports.AuditPublisher,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.MaxRuleConcurrency < 1 {
		cfg.MaxRuleConcurrency = 4
	}
	if cfg.GlobalConcurrency < 1 {
		cfg.GlobalConcurrency = 32
	}
	s := &Service{
		collector:  collector,
		resolver:   resolver,
		fuser:      fuser,
		evaluator:  evaluator,
		audit:      publisher,
		aggregator: decisionsvc.NewAggregator(nil),
		cfg:        cfg,
		global:     semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
		registry:   newRegistry(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("complyd/internal/validation"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.stop = context.WithCancelCause(context.Background())
	return s
}

// Submit validates the request, records the run in CREATED and starts it.
// The run outlives ctx; only Cancel or Shutdown stop it.
func (s *Service) Submit(ctx context.Context, req models.SubmitRequest) (id.RunID, error) {
	if s.baseCtx.Err() != nil {
		return id.RunID{}, dErrors.New(dErrors.CodeUnavailable, "service is shutting down")
	}
	urls, err := validateURLs(req.EvidenceRef.URLs)
	if err != nil {
		return id.RunID{}, err
	}
	explicit := pkgstrings.DedupeAndTrim(req.ExplicitPolicyIDs)
	for _, raw := range explicit {
		if _, err := id.ParsePolicyID(raw); err != nil {
			return id.RunID{}, err
		}
	}

	rec := &runRecord{
		run: models.Run{
			ID:                 id.NewRunID(),
			RequestedPolicyIDs: explicit,
			EvidenceRef:        evidence.Ref{URLs: urls},
			State:              models.StateCreated,
			CreatedAt:          s.now(),
		},
		done: make(chan struct{}),
	}
	payload, _ := json.Marshal(map[string]any{"evidence_urls": urls, "explicit_policy_ids": explicit})
	if err := s.emit(ctx, rec, audit.Event{
		Kind:    audit.KindRunCreated,
		ToState: string(models.StateCreated),
		Payload: payload,
	}); err != nil {
		return id.RunID{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}

	runCtx, cancel := context.WithCancelCause(s.baseCtx)
	runCtx = requestcontext.WithRequestID(runCtx, requestcontext.RequestID(ctx))
	rec.cancel = cancel
	s.registry.put(rec)
	s.metrics.IncSubmitted()

	s.logger.InfoContext(ctx, "validation run submitted",
		"run_id", rec.run.ID,
		"evidence_urls", len(urls),
		"explicit_policy_ids", explicit,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(rec.done)
		defer cancel(nil)
		s.process(runCtx, rec)
	}()
	return rec.run.ID, nil
}

func validateURLs(raw []string) ([]string, error) {
	urls := pkgstrings.DedupeAndTrim(raw)
	if len(urls) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence_ref.urls is required")
	}
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "evidence url must be absolute http(s): "+u)
		}
	}
	return urls, nil
}

// Status returns the current state of a run.
func (s *Service) Status(_ context.Context, runID id.RunID) (models.State, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return "", err
	}
	return rec.state(), nil
}

// Result returns the run outcome. Callers check Pending before reading the
// decision.
func (s *Service) Result(_ context.Context, runID id.RunID) (models.Result, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return models.Result{}, err
	}
	return resultOf(rec.snapshot()), nil
}

// Wait blocks until the run is terminal or ctx ends.
func (s *Service) Wait(ctx context.Context, runID id.RunID) (models.Result, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return models.Result{}, err
	}
	select {
	case <-rec.done:
		return resultOf(rec.snapshot()), nil
	case <-ctx.Done():
		return models.Result{}, ctx.Err()
	}
}

func resultOf(run models.Run) models.Result {
	res := models.Result{RunID: run.ID, State: run.State}
	switch run.State {
	case models.StateCompleted:
		res.Decision = run.Decision
		res.Verdicts = run.Verdicts
	case models.StateCancelled:
		res.Verdicts = run.Verdicts
	case models.StateFailed:
		res.Error = run.Error
		res.Verdicts = run.Verdicts
	}
	return res
}

// Cancel requests cooperative cancellation. Terminal runs are left alone and
// their state returned.
func (s *Service) Cancel(ctx context.Context, runID id.RunID) (models.State, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return "", err
	}

	rec.gate.Lock()
	st := rec.state()
	if st.IsTerminal() {
		rec.gate.Unlock()
		return st, nil
	}
	if !rec.cancelRequested.CompareAndSwap(false, true) {
		rec.gate.Unlock()
		return st, nil
	}
	err = s.emit(ctx, rec, audit.Event{
		Kind:      audit.KindCancelRequested,
		FromState: string(st),
		Detail:    "cancellation requested by caller",
	})
	if err != nil {
		rec.cancelRequested.Store(false)
		rec.gate.Unlock()
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}
	rec.gate.Unlock()

	rec.cancel(models.ErrCancellationRequested)
	s.logger.InfoContext(ctx, "validation run cancellation requested", "run_id", runID, "state", st)
	return rec.state(), nil
}

// AuditTrail returns a run's audit events in append order. It works for runs
// already evicted from memory.
func (s *Service) AuditTrail(ctx context.Context, runID id.RunID) ([]audit.Event, error) {
	events, err := s.audit.List(ctx, runID.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}
	if len(events) == 0 {
		if _, ok := s.registry.get(runID); !ok {
			return nil, dErrors.Wrap(models.ErrRunNotFound, dErrors.CodeNotFound, "validation run not found")
		}
	}
	return events, nil
}

// Shutdown cancels every live run and waits for them to reach a terminal
// state or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop(errShuttingDown)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(runID id.RunID) (*runRecord, error) {
	rec, ok := s.registry.get(runID)
	if !ok {
		return nil, dErrors.Wrap(models.ErrRunNotFound, dErrors.CodeNotFound, "validation run not found")
	}
	return rec, nil
}

// process drives one run to a terminal state.
func (s *Service) process(ctx context.Context, rec *runRecord) {
	ctx, span := s.tracer.Start(ctx, "validation.run", trace.WithAttributes(
		attribute.String("run_id", rec.run.ID.String()),
	))
	defer span.End()

	err := s.pipeline(ctx, rec)
	switch {
	case err == nil:
		s.metrics.IncFinished(string(models.StateCompleted))
		if s.onComplete != nil {
			s.onComplete(context.WithoutCancel(ctx), rec.snapshot())
		}
	case ctx.Err() != nil:
		s.terminate(ctx, rec, models.StateCancelled, context.Cause(ctx))
	default:
		reason := models.FailureReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncFailed(reason)
		s.logger.WarnContext(ctx, "validation run failed",
			"run_id", rec.run.ID,
			"reason", reason,
			"error", err,
		)
		s.terminate(ctx, rec, models.StateFailed, err)
	}
}

func (s *Service) pipeline(ctx context.Context, rec *runRecord) error {
	var items []*evidence.Item
	if err := s.stage(ctx, "evidence", func(ctx context.Context) error {
		var err error
		items, err = s.collectEvidence(ctx, rec)
		return err
	}); err != nil {
		return err
	}

	var plan *evaluationPlan
	if err := s.stage(ctx, "resolve", func(ctx context.Context) error {
		var err error
		plan, err = s.resolvePolicies(ctx, rec, items)
		return err
	}); err != nil {
		return err
	}

	if err := s.transition(ctx, rec, models.StateContextBuilt,
		fmt.Sprintf("%d rules scheduled in dependency order", plan.rules.Len()), nil); err != nil {
		return err
	}

	if err := s.stage(ctx, "evaluate", func(ctx context.Context) error {
		return s.evaluateRules(ctx, rec, plan)
	}); err != nil {
		return err
	}

	// Once aggregation starts the run completes; cancellation is no longer
	// observed.
	return s.stage(context.WithoutCancel(ctx), "aggregate", func(ctx context.Context) error {
		return s.aggregate(ctx, rec, plan)
	})
}

func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "validation."+name)
	defer span.End()
	start := s.now()
	err := fn(ctx)
	s.metrics.ObserveStage(name, s.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) collectEvidence(ctx context.Context, rec *runRecord) ([]*evidence.Item, error) {
	items, err := s.collector.Collect(ctx, rec.run.EvidenceRef)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", models.ErrEvidenceFetch, err)
	}
	err = s.transition(ctx, rec, models.StateEvidenceNormalized,
		fmt.Sprintf("%d evidence items normalized", len(items)),
		func(r *models.Run) { r.EvidenceItems = items })
	return items, err
}

func (s *Service) resolvePolicies(ctx context.Context, rec *runRecord, items []*evidence.Item) (*evaluationPlan, error) {
	res, err := s.resolver.Resolve(ctx, evidencesvc.Summarize(items), rec.run.RequestedPolicyIDs)
	for _, skipped := range res.Skipped {
		if emitErr := s.emit(ctx, rec, audit.Event{
			Kind:      audit.KindPolicySkipped,
			FromState: string(models.StateEvidenceNormalized),
			Detail:    "explicit policy id not found or inactive: " + skipped,
		}); emitErr != nil {
			return nil, emitErr
		}
		s.logger.WarnContext(ctx, "explicit policy skipped", "run_id", rec.run.ID, "policy_id", skipped)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	rules, err := s.resolver.LoadRules(ctx, res)
	if err != nil {
		return nil, err
	}

	for _, ref := range policysvc.CrossReferences(res.Policies) {
		ids := make([]string, len(ref.Policies))
		for i, p := range ref.Policies {
			ids[i] = string(p)
		}
		if err := s.emit(ctx, rec, audit.Event{
			Kind:   audit.KindCrossPolicyReference,
			Detail: fmt.Sprintf("category %s covered by %s; evaluated independently", ref.Category, strings.Join(ids, ", ")),
		}); err != nil {
			s.logger.WarnContext(ctx, "cross policy reference not recorded", "run_id", rec.run.ID, "error", err)
		}
	}

	names := make([]string, len(res.Policies))
	for i, p := range res.Policies {
		names[i] = string(p.PolicyID)
	}
	detail := fmt.Sprintf("policies [%s], %d rules", strings.Join(names, ", "), rules.Len())
	if res.AutoDetected {
		detail += ", auto-detected"
	}
	if err := s.transition(ctx, rec, models.StatePoliciesResolved, detail,
		func(r *models.Run) { r.Policies = res.Policies }); err != nil {
		return nil, err
	}
	return &evaluationPlan{rules: rules, items: items}, nil
}

func (s *Service) aggregate(ctx context.Context, rec *runRecord, plan *evaluationPlan) error {
	verdicts := rec.snapshot().Verdicts
	d := s.aggregator.Aggregate(verdicts, plan.rules.Rules())

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	made := audit.Event{
		Kind:      audit.KindDecisionMade,
		FromState: string(models.StateRulesEvaluated),
		Detail:    fmt.Sprintf("%s confidence %.4f, %d gaps", d.OverallStatus, d.Confidence, len(d.Gaps)),
		Payload:   payload,
	}
	// The decision and its transition land in the trail together or not at all.
	if err := s.transition(ctx, rec, models.StateDecisionAggregated, string(d.OverallStatus),
		func(r *models.Run) { r.Decision = &d }, made); err != nil {
		return err
	}
	return s.transition(ctx, rec, models.StateCompleted, "", nil)
}

// transition persists the audit event and only then applies the new state and
// mutate under the run lock. Events in with are written in the same batch,
// ahead of the transition. Non-terminal transitions are refused once ctx is
// done so a cancelled run cannot advance.
func (s *Service) transition(ctx context.Context, rec *runRecord, to models.State, detail string, mutate func(*models.Run), with ...audit.Event) error {
	if !to.IsTerminal() && ctx.Err() != nil {
		return ctx.Err()
	}
	rec.gate.Lock()
	defer rec.gate.Unlock()

	from := rec.state()
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	events := append(with[:len(with):len(with)], audit.Event{
		Kind:      audit.KindTransition,
		FromState: string(from),
		ToState:   string(to),
		Detail:    detail,
	})
	if err := s.emit(ctx, rec, events...); err != nil {
		return err
	}

	rec.mu.Lock()
	rec.run.State = to
	if mutate != nil {
		mutate(&rec.run)
	}
	if to.IsTerminal() {
		rec.run.CompletedAt = s.now()
	}
	rec.mu.Unlock()

	s.logger.InfoContext(ctx, "validation run transition",
		"run_id", rec.run.ID,
		"from", from,
		"to", to,
		"detail", detail,
	)
	return nil
}

// terminate ends a run as FAILED or CANCELLED. If even that audit write
// fails the run still ends, and the gap is logged.
func (s *Service) terminate(ctx context.Context, rec *runRecord, to models.State, cause error) {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	setError := func(r *models.Run) {
		if to == models.StateFailed {
			r.Error = detail
		}
	}
	if err := s.transition(ctx, rec, to, detail, setError); err != nil {
		s.logger.ErrorContext(ctx, "terminal transition not audited",
			"run_id", rec.run.ID,
			"to", to,
			"cause", detail,
			"error", err,
		)
		rec.gate.Lock()
		rec.mu.Lock()
		if !rec.run.State.IsTerminal() {
			rec.run.State = to
			setError(&rec.run)
			rec.run.CompletedAt = s.now()
		}
		rec.mu.Unlock()
		rec.gate.Unlock()
	}
	s.metrics.IncFinished(string(to))
}

// emit writes audit events for rec, several at once through EmitAll. Writes
// ignore cancellation of ctx so a cancelled run can still record how it ended.
func (s *Service) emit(ctx context.Context, rec *runRecord, events ...audit.Event) error {
	for i := range events {
		events[i].RunID = rec.run.ID.String()
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if len(events) == 1 {
		err = s.audit.Emit(ctx, events[0])
	} else {
		err = s.audit.EmitAll(ctx, events...)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrAuditUnavailable, err)
	}
	return nil
}
