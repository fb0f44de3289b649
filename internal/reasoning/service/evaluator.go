package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	decision "complyd/internal/decision/models"
	fusion "complyd/internal/fusion/models"
	"complyd/internal/reasoning/metrics"
	"complyd/internal/reasoning/models"
	"complyd/internal/reasoning/ports"
	id "complyd/pkg/domain"
)

const DefaultMaxAttempts = 3

// Evaluator turns a rule context into a validated verdict.
type Evaluator struct {
	service     ports.Service
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Evaluator)

func WithMaxAttempts(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func NewEvaluator(service ports.Service, opts ...Option) *Evaluator {
	e := &Evaluator{
		service:     service,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate calls the reasoning service until it returns a valid verdict or
// the attempt budget runs out, in which case the rule falls back to
// INSUFFICIENT_EVIDENCE. After a malformed answer the next request is marked
// strict and carries the validation error. Context errors are returned as is.
func (e *Evaluator) Evaluate(ctx context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error) {
	payload := models.Payload{
		Context: rc,
		Schema:  json.RawMessage(models.ResponseSchema),
	}
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return decision.RuleVerdict{}, err
		}
		payload.Attempt = attempt

		start := e.now()
		raw, err := e.service.Evaluate(ctx, payload)
		elapsed := e.now().Sub(start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return decision.RuleVerdict{}, ctxErr
			}
			e.metrics.ObserveAttempt("transport_error", elapsed)
			lastErr = err
			e.logger.WarnContext(ctx, "reasoning call failed",
				"rule_id", rc.Rule.RuleID,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		verdict, err := Decode(raw, rc.Rule.RuleID)
		if err != nil {
			e.metrics.ObserveAttempt("malformed", elapsed)
			lastErr = err
			payload.Strict = true
			payload.PreviousError = err.Error()
			e.logger.WarnContext(ctx, "malformed verdict",
				"rule_id", rc.Rule.RuleID,
				"attempt", attempt,
				"error", err,
			)
			continue
		}
		e.metrics.ObserveAttempt("ok", elapsed)
		return verdict, nil
	}

	e.metrics.IncFallback()
	return decision.Insufficient(rc.Rule.RuleID,
		fmt.Sprintf("reasoning failed after %d attempts: %v", e.maxAttempts, lastErr)), nil
}

type wireVerdict struct {
	RuleID        *string   `json:"rule_id"`
	Status        *string   `json:"status"`
	Confidence    *float64  `json:"confidence"`
	CitedEvidence *[]string `json:"cited_evidence"`
	Rationale     *string   `json:"rationale"`
}

// Decode strictly parses and validates a verdict document for ruleID.
func Decode(raw []byte, ruleID id.RuleID) (decision.RuleVerdict, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var w wireVerdict
	if err := dec.Decode(&w); err != nil {
		return decision.RuleVerdict{}, fmt.Errorf("%w: %v", models.ErrMalformedVerdict, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return decision.RuleVerdict{}, fmt.Errorf("%w: trailing data after verdict", models.ErrMalformedVerdict)
	}

	switch {
	case w.Status == nil:
		return decision.RuleVerdict{}, fmt.Errorf("%w: status is required", models.ErrMalformedVerdict)
	case w.Confidence == nil:
		return decision.RuleVerdict{}, fmt.Errorf("%w: confidence is required", models.ErrMalformedVerdict)
	case w.CitedEvidence == nil:
		return decision.RuleVerdict{}, fmt.Errorf("%w: cited_evidence is required", models.ErrMalformedVerdict)
	case w.Rationale == nil:
		return decision.RuleVerdict{}, fmt.Errorf("%w: rationale is required", models.ErrMalformedVerdict)
	case w.RuleID != nil && *w.RuleID != string(ruleID):
		return decision.RuleVerdict{}, fmt.Errorf("%w: verdict for %q, expected %q", models.ErrMalformedVerdict, *w.RuleID, ruleID)
	}

	v := decision.RuleVerdict{
		RuleID:        ruleID,
		Status:        decision.VerdictStatus(*w.Status),
		Confidence:    *w.Confidence,
		CitedEvidence: append([]string{}, *w.CitedEvidence...),
		Rationale:     *w.Rationale,
	}
	if err := v.Validate(); err != nil {
		return decision.RuleVerdict{}, fmt.Errorf("%w: %v", models.ErrMalformedVerdict, err)
	}
	return v, nil
}
