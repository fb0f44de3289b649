//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

package ports

import (
	"context"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	fusion "complyd/internal/fusion/models"
	policy "complyd/internal/policy/models"
	audit "complyd/pkg/platform/audit"
)

// EvidenceCollector fetches and normalizes a run's evidence.
type EvidenceCollector interface {
	Collect(ctx context.Context, ref evidence.Ref) ([]*evidence.Item, error)
}

// PolicyResolver picks policies and loads their rule arena from one snapshot.
type PolicyResolver interface {
	Resolve(ctx context.Context, summary evidence.Summary, explicitIDs []string) (policy.Resolution, error)
	LoadRules(ctx context.Context, res policy.Resolution) (*policy.RuleSet, error)
}

// ContextBuilder fuses the context for one rule.
type ContextBuilder interface {
	Build(ctx context.Context, rule policy.Rule, items []*evidence.Item, parents []decision.RuleVerdict) (fusion.RuleContext, error)
}

// RuleEvaluator produces a verdict for one rule context.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, rc fusion.RuleContext) (decision.RuleVerdict, error)
}

// AuditPublisher persists audit events before the run acts on them.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
	EmitAll(ctx context.Context, events ...audit.Event) error
	List(ctx context.Context, runID string) ([]audit.Event, error)
}
