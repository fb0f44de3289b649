package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	fusion "complyd/internal/fusion/models"
	policy "complyd/internal/policy/models"
	policysvc "complyd/internal/policy/service"
	"complyd/internal/validation/models"
	"complyd/internal/validation/ports/mocks"
	dErrors "complyd/pkg/domain-errors"
	id "complyd/pkg/domain"
	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/audit/publisher"
	auditmemory "complyd/pkg/platform/audit/store/memory"
)

// batchlessStore accepts single events and refuses every batch.
type batchlessStore struct {
	*auditmemory.InMemoryStore
}

func (batchlessStore) AppendAll(context.Context, []audit.Event) error {
	return errors.New("batch rejected")
}

type snapshotSource struct{ snap *policy.Snapshot }

func (s snapshotSource) Snapshot(context.Context) (*policy.Snapshot, error) { return s.snap, nil }

type builderFunc func(ctx context.Context, rule policy.Rule, items []*evidence.Item, parents []decision.RuleVerdict) (fusion.RuleContext, error)

func (f builderFunc) Build(ctx context.Context, rule policy.Rule, items []*evidence.Item, parents []decision.RuleVerdict) (fusion.RuleContext, error) {
	return f(ctx, rule, items, parents)
}

type evaluatorFunc func(ctx context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error) {
	return f(ctx, rc)
}

func passthroughBuilder() builderFunc {
	return func(_ context.Context, rule policy.Rule, _ []*evidence.Item, parents []decision.RuleVerdict) (fusion.RuleContext, error) {
		return fusion.RuleContext{Rule: rule, DependencyVerdicts: parents}, nil
	}
}

func compliant(ruleID id.RuleID) decision.RuleVerdict {
	return decision.RuleVerdict{
		RuleID:        ruleID,
		Status:        decision.VerdictCompliant,
		Confidence:    0.9,
		CitedEvidence: []string{"ev-1"},
		Rationale:     "criteria met",
	}
}

// answering returns fixed verdicts; rules missing from overrides are COMPLIANT.
func answering(overrides map[id.RuleID]decision.VerdictStatus) evaluatorFunc {
	return func(_ context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error) {
		v := compliant(rc.Rule.RuleID)
		if status, ok := overrides[rc.Rule.RuleID]; ok {
			v.Status = status
		}
		return v, nil
	}
}

// blocking answers rules in fast immediately and holds the rest until ctx ends.
func blocking(fast ...id.RuleID) evaluatorFunc {
	quick := make(map[id.RuleID]bool, len(fast))
	for _, r := range fast {
		quick[r] = true
	}
	return func(ctx context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error) {
		if quick[rc.Rule.RuleID] {
			return compliant(rc.Rule.RuleID), nil
		}
		<-ctx.Done()
		return decision.RuleVerdict{}, ctx.Err()
	}
}

func testCatalog() *policy.Snapshot {
	policies := []policy.Descriptor{
		{PolicyID: "POL-101", Name: "Test evidence", Category: "test_execution", Status: policy.StatusActive,
			Keywords: []string{"test plan", "coverage"}},
		{PolicyID: "POL-500", Name: "Five checks", Category: "security_compliance", Status: policy.StatusActive},
		{PolicyID: "POL-600", Name: "Two checks", Category: "deployment_validation", Status: policy.StatusActive},
	}
	rules := []policy.Rule{
		{RuleID: "R-101-1", PolicyID: "POL-101", Severity: policy.SeverityMandatory, ValidationCriteria: "test plan exists"},
		{RuleID: "R-101-2", PolicyID: "POL-101", Severity: policy.SeverityOptional, ValidationCriteria: "results attached",
			ParentRuleIDs: []id.RuleID{"R-101-1"}},
		{RuleID: "R-600-1", PolicyID: "POL-600", Severity: policy.SeverityMandatory},
		{RuleID: "R-600-2", PolicyID: "POL-600", Severity: policy.SeverityMandatory},
	}
	for i := 1; i <= 5; i++ {
		rules = append(rules, policy.Rule{
			RuleID:   id.RuleID(fmt.Sprintf("R-500-%d", i)),
			PolicyID: "POL-500",
			Severity: policy.SeverityMandatory,
		})
	}
	return policy.NewSnapshot(policies, rules, time.Unix(0, 0))
}

type OrchestratorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	collector *mocks.MockEvidenceCollector
	store     *auditmemory.InMemoryStore
	publisher *publisher.Publisher
	now       time.Time
	mu        sync.Mutex
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.collector = mocks.NewMockEvidenceCollector(s.ctrl)
	s.store = auditmemory.NewInMemoryStore()
	s.publisher = publisher.New(s.store)
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *OrchestratorSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *OrchestratorSuite) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *OrchestratorSuite) expectEvidence() {
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any()).Return([]*evidence.Item{{
		ID:            "ev-1",
		SourceURL:     "https://ci.example.com/report",
		EvidenceType:  evidence.TypeTestDocumentation,
		ExtractedText: "test plan and coverage results",
	}}, nil).AnyTimes()
}

func (s *OrchestratorSuite) newService(eval evaluatorFunc, cfg Config, opts ...Option) *Service {
	if cfg.MaxRuleConcurrency == 0 {
		cfg.MaxRuleConcurrency = 5
	}
	return New(
		s.collector,
		policysvc.NewResolver(snapshotSource{testCatalog()}, 0, nil),
		passthroughBuilder(),
		eval,
		s.publisher,
		cfg,
		append([]Option{WithClock(s.clock)}, opts...)...,
	)
}

func (s *OrchestratorSuite) submit(svc *Service, policyIDs ...string) id.RunID {
	runID, err := svc.Submit(context.Background(), models.SubmitRequest{
		EvidenceRef:       evidence.Ref{URLs: []string{"https://ci.example.com/report"}},
		ExplicitPolicyIDs: policyIDs,
	})
	s.Require().NoError(err)
	return runID
}

func (s *OrchestratorSuite) wait(svc *Service, runID id.RunID) models.Result {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.Wait(ctx, runID)
	s.Require().NoError(err)
	return res
}

func (s *OrchestratorSuite) count(runID id.RunID, kind audit.Kind) int {
	return s.store.CountByKind(runID.String(), kind)
}

// =============================================================================
// Happy path
// =============================================================================

func (s *OrchestratorSuite) TestCompletedRunWalksEveryState() {
	s.expectEvidence()
	svc := s.newService(answering(nil), Config{})

	runID := s.submit(svc, "POL-101")
	res := s.wait(svc, runID)

	s.Equal(models.StateCompleted, res.State)
	s.Require().NotNil(res.Decision)
	s.Equal(decision.OverallCompliant, res.Decision.OverallStatus)
	s.Empty(res.Decision.Gaps)
	s.Len(res.Verdicts, 2)

	trail, err := svc.AuditTrail(context.Background(), runID)
	s.Require().NoError(err)
	s.Require().NotEmpty(trail)
	s.Equal(audit.KindRunCreated, trail[0].Kind)

	var states []string
	for _, e := range trail {
		if e.Kind == audit.KindTransition {
			states = append(states, e.ToState)
		}
	}
	s.Equal([]string{
		string(models.StateEvidenceNormalized),
		string(models.StatePoliciesResolved),
		string(models.StateContextBuilt),
		string(models.StateRulesEvaluated),
		string(models.StateDecisionAggregated),
		string(models.StateCompleted),
	}, states)
	s.Equal(2, s.count(runID, audit.KindRuleVerdict))
	s.Equal(1, s.count(runID, audit.KindDecisionMade))
}

func (s *OrchestratorSuite) TestCompletionHookSeesFinalRun() {
	s.expectEvidence()
	var got models.Run
	svc := s.newService(answering(nil), Config{}, WithCompletionHook(func(_ context.Context, run models.Run) {
		got = run
	}))

	runID := s.submit(svc, "POL-101")
	s.wait(svc, runID)

	s.Equal(runID, got.ID)
	s.Equal(models.StateCompleted, got.State)
	s.Len(got.EvidenceItems, 1)
	s.Require().Len(got.Policies, 1)
	s.Equal(id.PolicyID("POL-101"), got.Policies[0].PolicyID)
}

func (s *OrchestratorSuite) TestSkippedExplicitPolicyIsAudited() {
	s.expectEvidence()
	svc := s.newService(answering(nil), Config{})

	runID := s.submit(svc, "POL-101", "POL-999")
	res := s.wait(svc, runID)

	s.Equal(models.StateCompleted, res.State)
	s.Equal(1, s.count(runID, audit.KindPolicySkipped))
	trail, err := svc.AuditTrail(context.Background(), runID)
	s.Require().NoError(err)
	for _, e := range trail {
		if e.Kind == audit.KindPolicySkipped {
			s.Contains(e.Detail, "POL-999")
		}
	}
}

func (s *OrchestratorSuite) TestDependentRuleRunsAfterParent() {
	s.expectEvidence()
	var (
		mu    sync.Mutex
		order []id.RuleID
		seen  []decision.RuleVerdict
	)
	inner := answering(map[id.RuleID]decision.VerdictStatus{"R-101-1": decision.VerdictNonCompliant})
	eval := evaluatorFunc(func(ctx context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error) {
		mu.Lock()
		order = append(order, rc.Rule.RuleID)
		if rc.Rule.RuleID == "R-101-2" {
			seen = rc.DependencyVerdicts
		}
		mu.Unlock()
		return inner(ctx, rc)
	})
	svc := s.newService(eval, Config{})

	res := s.wait(svc, s.submit(svc, "POL-101"))

	s.Equal([]id.RuleID{"R-101-1", "R-101-2"}, order)
	s.Require().Len(seen, 1)
	s.Equal(decision.VerdictNonCompliant, seen[0].Status)
	s.Require().NotNil(res.Decision)
	s.Equal(decision.OverallNonCompliant, res.Decision.OverallStatus)
	s.Equal([]id.RuleID{"R-101-2"}, res.Decision.Overrides)
}

func (s *OrchestratorSuite) TestIdenticalInputsYieldIdenticalDecisions() {
	s.expectEvidence()
	svc := s.newService(answering(map[id.RuleID]decision.VerdictStatus{
		"R-500-3": decision.VerdictInsufficientEvidence,
	}), Config{})

	first := s.wait(svc, s.submit(svc, "POL-500"))
	second := s.wait(svc, s.submit(svc, "POL-500"))

	s.Require().NotNil(first.Decision)
	s.Equal(*first.Decision, *second.Decision)
	s.Equal(decision.OverallReview, first.Decision.OverallStatus)
}

// =============================================================================
// Failures
// =============================================================================

func (s *OrchestratorSuite) TestEvidenceFailureFailsRun() {
	s.collector.EXPECT().Collect(gomock.Any(), gomock.Any()).Return(nil, evidence.ErrFetchExhausted)
	svc := s.newService(answering(nil), Config{})

	runID := s.submit(svc)
	res := s.wait(svc, runID)

	s.Equal(models.StateFailed, res.State)
	s.Contains(res.Error, models.ErrEvidenceFetch.Error())
	s.Nil(res.Decision)
	s.Zero(s.count(runID, audit.KindRuleVerdict))
}

func (s *OrchestratorSuite) TestNoApplicablePolicyFailsRun() {
	s.expectEvidence()
	svc := s.newService(answering(nil), Config{})

	runID := s.submit(svc, "POL-999")
	res := s.wait(svc, runID)

	s.Equal(models.StateFailed, res.State)
	s.Contains(res.Error, policy.ErrPolicyNotFound.Error())
	s.Equal(1, s.count(runID, audit.KindPolicySkipped))
}

func (s *OrchestratorSuite) TestRuleTimeoutBecomesInsufficientEvidence() {
	s.expectEvidence()
	svc := s.newService(blocking("R-600-1"), Config{RuleTimeout: 50 * time.Millisecond})

	runID := s.submit(svc, "POL-600")
	res := s.wait(svc, runID)

	s.Equal(models.StateCompleted, res.State)
	s.Equal(1, s.count(runID, audit.KindRuleFailed))
	s.Require().NotNil(res.Decision)
	s.Equal(decision.OverallReview, res.Decision.OverallStatus)
	s.Equal([]id.RuleID{"R-600-2"}, res.Decision.Gaps)
	for _, v := range res.Verdicts {
		if v.RuleID == "R-600-2" {
			s.Equal(decision.VerdictInsufficientEvidence, v.Status)
		}
	}
}

func (s *OrchestratorSuite) TestStageTimeoutAggregatesPartialVerdicts() {
	s.expectEvidence()
	svc := s.newService(blocking("R-600-1"), Config{StageTimeout: 100 * time.Millisecond})

	runID := s.submit(svc, "POL-600")
	res := s.wait(svc, runID)

	s.Equal(models.StateCompleted, res.State)
	s.Equal(1, s.count(runID, audit.KindStageTimeout))
	s.Equal(1, s.count(runID, audit.KindRuleVerdict))
	s.Require().NotNil(res.Decision)
	s.Equal(decision.OverallReview, res.Decision.OverallStatus)
	s.Equal([]id.RuleID{"R-600-2"}, res.Decision.Gaps)
}

func (s *OrchestratorSuite) TestAuditOutageFailsRun() {
	s.expectEvidence()
	pub := mocks.NewMockAuditPublisher(s.ctrl)
	gomock.InOrder(
		pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil),
		pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).AnyTimes(),
	)
	svc := New(s.collector, policysvc.NewResolver(snapshotSource{testCatalog()}, 0, nil),
		passthroughBuilder(), answering(nil), pub, Config{})

	runID, err := svc.Submit(context.Background(), models.SubmitRequest{
		EvidenceRef: evidence.Ref{URLs: []string{"https://ci.example.com/report"}},
	})
	s.Require().NoError(err)
	res := s.wait(svc, runID)

	s.Equal(models.StateFailed, res.State)
	s.Contains(res.Error, models.ErrAuditUnavailable.Error())
}

func (s *OrchestratorSuite) TestDecisionIsRecordedWithItsTransition() {
	s.expectEvidence()
	store := batchlessStore{auditmemory.NewInMemoryStore()}
	svc := New(s.collector, policysvc.NewResolver(snapshotSource{testCatalog()}, 0, nil),
		passthroughBuilder(), answering(nil), publisher.New(store), Config{})

	runID, err := svc.Submit(context.Background(), models.SubmitRequest{
		EvidenceRef:       evidence.Ref{URLs: []string{"https://ci.example.com/report"}},
		ExplicitPolicyIDs: []string{"POL-600"},
	})
	s.Require().NoError(err)
	res := s.wait(svc, runID)

	s.Equal(models.StateFailed, res.State)
	s.Contains(res.Error, models.ErrAuditUnavailable.Error())
	s.Nil(res.Decision)
	s.Zero(store.CountByKind(runID.String(), audit.KindDecisionMade))

	trail, err := svc.AuditTrail(context.Background(), runID)
	s.Require().NoError(err)
	last := trail[len(trail)-1]
	s.Equal(string(models.StateRulesEvaluated), last.FromState)
	s.Equal(string(models.StateFailed), last.ToState)
	for _, e := range trail {
		s.NotEqual(string(models.StateDecisionAggregated), e.ToState)
	}
}

func (s *OrchestratorSuite) TestSubmitRefusedWhenRunCannotBeAudited() {
	pub := mocks.NewMockAuditPublisher(s.ctrl)
	pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	svc := New(s.collector, policysvc.NewResolver(snapshotSource{testCatalog()}, 0, nil),
		passthroughBuilder(), answering(nil), pub, Config{})

	_, err := svc.Submit(context.Background(), models.SubmitRequest{
		EvidenceRef: evidence.Ref{URLs: []string{"https://ci.example.com/report"}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// =============================================================================
// Cancellation
// =============================================================================

func (s *OrchestratorSuite) TestCancelDuringRuleEvaluation() {
	s.expectEvidence()
	svc := s.newService(blocking("R-500-1", "R-500-2"), Config{})

	runID := s.submit(svc, "POL-500")
	s.Require().Eventually(func() bool {
		return s.count(runID, audit.KindRuleVerdict) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err := svc.Cancel(context.Background(), runID)
	s.Require().NoError(err)
	res := s.wait(svc, runID)

	s.Equal(models.StateCancelled, res.State)
	s.Nil(res.Decision)
	s.Len(res.Verdicts, 2)
	s.Equal(2, s.count(runID, audit.KindRuleVerdict))
	s.Equal(1, s.count(runID, audit.KindCancelRequested))
	s.Zero(s.count(runID, audit.KindDecisionMade))

	state, err := svc.Cancel(context.Background(), runID)
	s.Require().NoError(err)
	s.Equal(models.StateCancelled, state)
	s.Equal(1, s.count(runID, audit.KindCancelRequested))
}

func (s *OrchestratorSuite) TestCancelAfterCompletionIsNotAudited() {
	s.expectEvidence()
	svc := s.newService(answering(nil), Config{})

	runID := s.submit(svc, "POL-600")
	s.Equal(models.StateCompleted, s.wait(svc, runID).State)

	state, err := svc.Cancel(context.Background(), runID)
	s.Require().NoError(err)
	s.Equal(models.StateCompleted, state)
	s.Zero(s.count(runID, audit.KindCancelRequested))
}

func (s *OrchestratorSuite) TestCancelRacingCompletionKeepsTrailOrdered() {
	s.expectEvidence()
	svc := s.newService(answering(nil), Config{})

	for i := range 25 {
		runID := s.submit(svc, "POL-600")
		_, err := svc.Cancel(context.Background(), runID)
		s.Require().NoError(err)
		res := s.wait(svc, runID)

		trail, err := svc.AuditTrail(context.Background(), runID)
		s.Require().NoError(err)
		current := string(models.StateCreated)
		terminal := false
		for _, e := range trail {
			switch e.Kind {
			case audit.KindTransition:
				current = e.ToState
				terminal = models.State(current).IsTerminal()
			case audit.KindCancelRequested:
				s.False(terminal, "run %d: cancel recorded after %s", i, current)
				s.Equal(current, e.FromState, "run %d: cancel records the state it interrupted", i)
			}
		}
		s.Equal(string(res.State), current, "run %d", i)
	}
}

func (s *OrchestratorSuite) TestShutdownCancelsLiveRuns() {
	s.expectEvidence()
	svc := s.newService(blocking(), Config{})

	runID := s.submit(svc, "POL-600")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(svc.Shutdown(ctx))

	state, err := svc.Status(context.Background(), runID)
	s.Require().NoError(err)
	s.Equal(models.StateCancelled, state)

	_, err = svc.Submit(context.Background(), models.SubmitRequest{
		EvidenceRef: evidence.Ref{URLs: []string{"https://ci.example.com/report"}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// =============================================================================
// Requests, lookups and retention
// =============================================================================

func (s *OrchestratorSuite) TestSubmitValidation() {
	svc := s.newService(answering(nil), Config{})
	cases := []struct {
		name string
		req  models.SubmitRequest
	}{
		{"no urls", models.SubmitRequest{}},
		{"blank urls", models.SubmitRequest{EvidenceRef: evidence.Ref{URLs: []string{" ", ""}}}},
		{"unsupported scheme", models.SubmitRequest{EvidenceRef: evidence.Ref{URLs: []string{"ftp://files.example.com/x"}}}},
		{"relative url", models.SubmitRequest{EvidenceRef: evidence.Ref{URLs: []string{"/reports/1"}}}},
		{"bad policy id", models.SubmitRequest{
			EvidenceRef:       evidence.Ref{URLs: []string{"https://ci.example.com/report"}},
			ExplicitPolicyIDs: []string{"not a policy!"},
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := svc.Submit(context.Background(), tc.req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func (s *OrchestratorSuite) TestUnknownRunIsNotFound() {
	svc := s.newService(answering(nil), Config{})
	unknown := id.NewRunID()

	_, err := svc.Status(context.Background(), unknown)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = svc.Result(context.Background(), unknown)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = svc.Cancel(context.Background(), unknown)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = svc.AuditTrail(context.Background(), unknown)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *OrchestratorSuite) TestRetentionEvictsRunButKeepsTrail() {
	s.expectEvidence()
	svc := s.newService(answering(nil), Config{RunRetention: time.Hour})

	runID := s.submit(svc, "POL-101")
	s.wait(svc, runID)

	s.Zero(svc.SweepExpired(context.Background()))
	s.advance(2 * time.Hour)
	s.Equal(1, svc.SweepExpired(context.Background()))

	_, err := svc.Status(context.Background(), runID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	trail, err := svc.AuditTrail(context.Background(), runID)
	s.Require().NoError(err)
	s.NotEmpty(trail)
}

func (s *OrchestratorSuite) TestStartRetentionRejectsBadSchedule() {
	svc := s.newService(answering(nil), Config{RunRetention: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Error(svc.StartRetention(ctx, "every tuesday"))
	s.NoError(svc.StartRetention(ctx, "*/5 * * * *"))
}
