package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies an audit event. Every state transition of a validation run
// and every notable skip or failure inside it gets its own event.
type Kind string

const (
	KindRunCreated           Kind = "run_created"
	KindTransition           Kind = "transition"
	KindPolicySkipped        Kind = "policy_skipped"
	KindCrossPolicyReference Kind = "cross_policy_reference"
	KindRuleVerdict          Kind = "rule_verdict"
	KindRuleFailed           Kind = "rule_failed"
	KindStageTimeout         Kind = "stage_timeout"
	KindCancelRequested      Kind = "cancel_requested"
	KindDecisionMade         Kind = "decision_made"
)

// EventCategory drives retention and routing for downstream consumers.
type EventCategory string

const (
	// CategoryCompliance events form the reconstruction trail of a run and
	// must be persisted before the run proceeds.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations events are informational.
	CategoryOperations EventCategory = "operations"
)

var kindCategories = map[Kind]EventCategory{
	KindRunCreated:      CategoryCompliance,
	KindTransition:      CategoryCompliance,
	KindPolicySkipped:   CategoryCompliance,
	KindRuleVerdict:     CategoryCompliance,
	KindRuleFailed:      CategoryCompliance,
	KindStageTimeout:    CategoryCompliance,
	KindCancelRequested: CategoryCompliance,
	KindDecisionMade:    CategoryCompliance,

	KindCrossPolicyReference: CategoryOperations,
}

// Category returns the category of k. Unknown kinds are operational.
func (k Kind) Category() EventCategory {
	if cat, ok := kindCategories[k]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one immutable entry of a run's audit trail. Payload carries the
// structured record (verdict, decision) when the event has one.
type Event struct {
	ID        string
	RunID     string
	Timestamp time.Time
	Kind      Kind
	FromState string
	ToState   string
	Detail    string
	Payload   json.RawMessage
}

// Sink accepts events. Sinks are append-only.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a Sink that can also replay a run's trail in append order.
type Store interface {
	Sink
	ListByRun(ctx context.Context, runID string) ([]Event, error)
}
