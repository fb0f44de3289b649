package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	policy "complyd/internal/policy/models"
	"complyd/internal/validation/models"
	audit "complyd/pkg/platform/audit"
)

// evaluationPlan is what the rule stage works from: the resolved rule arena
// and the run's normalized evidence.
type evaluationPlan struct {
	rules *policy.RuleSet
	items []*evidence.Item
}

type ruleOutcome struct {
	index   int
	verdict decision.RuleVerdict
	ok      bool
}

// evaluateRules runs every rule once, a rule only after all its parents have a
// verdict. The control loop is the only goroutine that touches the
// scheduling state; workers report back over results.
func (s *Service) evaluateRules(ctx context.Context, rec *runRecord, plan *evaluationPlan) error {
	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.StageTimeout > 0 {
		stageCtx, cancel = context.WithTimeoutCause(ctx, s.cfg.StageTimeout, models.ErrTimeout)
	}
	defer cancel()

	rs := plan.rules
	n := rs.Len()
	pending := make([]int, n)
	for i := range n {
		pending[i] = len(rs.Parents(i))
	}
	verdicts := make([]*decision.RuleVerdict, n)
	perRun := semaphore.NewWeighted(int64(s.cfg.MaxRuleConcurrency))
	results := make(chan ruleOutcome, n)
	inFlight := 0

	dispatch := func(i int) {
		parents := make([]decision.RuleVerdict, 0, len(rs.Parents(i)))
		for _, p := range rs.Parents(i) {
			if verdicts[p] != nil {
				parents = append(parents, *verdicts[p])
			}
		}
		inFlight++
		go s.runRule(stageCtx, rec, plan, i, parents, perRun, results)
	}

	for _, i := range rs.Order() {
		if pending[i] == 0 {
			dispatch(i)
		}
	}

	resolved := 0
loop:
	for inFlight > 0 {
		select {
		case out := <-results:
			inFlight--
			if !out.ok {
				continue
			}
			if err := s.recordVerdict(ctx, rec, out.verdict); err != nil {
				return err
			}
			verdicts[out.index] = &out.verdict
			resolved++
			for _, child := range rs.Children(out.index) {
				pending[child]--
				if pending[child] == 0 && stageCtx.Err() == nil {
					dispatch(child)
				}
			}
		case <-stageCtx.Done():
			break loop
		}
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if stageCtx.Err() != nil {
		unresolved := make([]string, 0, n-resolved)
		for _, i := range rs.Order() {
			if verdicts[i] == nil {
				unresolved = append(unresolved, string(rs.Rule(i).RuleID))
			}
		}
		payload, _ := json.Marshal(map[string]any{"unresolved_rule_ids": unresolved})
		if err := s.emit(ctx, rec, audit.Event{
			Kind:      audit.KindStageTimeout,
			FromState: string(models.StateContextBuilt),
			Detail:    fmt.Sprintf("rule stage exceeded %s with %d rules unresolved", s.cfg.StageTimeout, len(unresolved)),
			Payload:   payload,
		}); err != nil {
			return err
		}
		s.logger.WarnContext(ctx, "rule stage timed out",
			"run_id", rec.run.ID,
			"unresolved", len(unresolved),
			"stage_timeout", s.cfg.StageTimeout,
		)
	}

	return s.transition(ctx, rec, models.StateRulesEvaluated,
		fmt.Sprintf("%d of %d rules resolved", resolved, n), nil)
}

// runRule evaluates rule i and always reports on results. A rule cut off by
// the stage or run context reports ok=false; any other failure becomes an
// INSUFFICIENT_EVIDENCE verdict.
func (s *Service) runRule(
	stageCtx context.Context,
	rec *runRecord,
	plan *evaluationPlan,
	i int,
	parents []decision.RuleVerdict,
	perRun *semaphore.Weighted,
	results chan<- ruleOutcome,
) {
	rule := plan.rules.Rule(i)
	out := ruleOutcome{index: i}
	defer func() { results <- out }()

	if err := perRun.Acquire(stageCtx, 1); err != nil {
		s.metrics.IncRuleOutcome("cancelled")
		return
	}
	defer perRun.Release(1)
	if err := s.global.Acquire(stageCtx, 1); err != nil {
		s.metrics.IncRuleOutcome("cancelled")
		return
	}
	defer s.global.Release(1)

	ruleCtx, cancel := stageCtx, context.CancelFunc(func() {})
	if s.cfg.RuleTimeout > 0 {
		ruleCtx, cancel = context.WithTimeoutCause(stageCtx, s.cfg.RuleTimeout, models.ErrTimeout)
	}
	defer cancel()
	ruleCtx, span := s.tracer.Start(ruleCtx, "validation.rule", trace.WithAttributes(
		attribute.String("rule_id", string(rule.RuleID)),
	))
	defer span.End()

	verdict, err := s.evaluateRule(ruleCtx, rule, plan.items, parents)
	if stageCtx.Err() != nil {
		s.metrics.IncRuleOutcome("cancelled")
		return
	}
	if err == nil && verdict.RuleID != rule.RuleID {
		err = fmt.Errorf("%w: verdict names rule %s", models.ErrMalformedVerdict, verdict.RuleID)
	}
	if err != nil {
		reason := err.Error()
		if ruleCtx.Err() != nil {
			reason = fmt.Sprintf("rule evaluation exceeded %s", s.cfg.RuleTimeout)
			s.metrics.IncRuleOutcome("timeout")
		}
		if emitErr := s.emit(stageCtx, rec, audit.Event{
			Kind:      audit.KindRuleFailed,
			FromState: string(models.StateContextBuilt),
			Detail:    fmt.Sprintf("rule %s: %s", rule.RuleID, reason),
		}); emitErr != nil {
			s.logger.WarnContext(stageCtx, "rule failure not recorded", "run_id", rec.run.ID, "rule_id", rule.RuleID, "error", emitErr)
		}
		s.logger.WarnContext(stageCtx, "rule evaluation failed",
			"run_id", rec.run.ID,
			"rule_id", rule.RuleID,
			"error", err,
		)
		verdict = decision.Insufficient(rule.RuleID, reason)
	}
	out.verdict, out.ok = verdict, true
}

func (s *Service) evaluateRule(ctx context.Context, rule policy.Rule, items []*evidence.Item, parents []decision.RuleVerdict) (decision.RuleVerdict, error) {
	rc, err := s.fuser.Build(ctx, rule, items, parents)
	if err != nil {
		return decision.RuleVerdict{}, err
	}
	return s.evaluator.Evaluate(ctx, rc)
}

// recordVerdict audits the verdict and then adds it to the run.
func (s *Service) recordVerdict(ctx context.Context, rec *runRecord, v decision.RuleVerdict) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	if err := s.emit(ctx, rec, audit.Event{
		Kind:      audit.KindRuleVerdict,
		FromState: string(models.StateContextBuilt),
		Detail:    fmt.Sprintf("rule %s: %s", v.RuleID, v.Status),
		Payload:   payload,
	}); err != nil {
		return err
	}
	rec.mu.Lock()
	rec.run.Verdicts = append(rec.run.Verdicts, v)
	rec.mu.Unlock()
	s.metrics.IncRuleOutcome(string(v.Status))
	return nil
}
