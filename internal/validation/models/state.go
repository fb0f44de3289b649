package models

// State is a validation run's position in the pipeline.
type State string

const (
	StateCreated            State = "CREATED"
	StateEvidenceNormalized State = "EVIDENCE_NORMALIZED"
	StatePoliciesResolved   State = "POLICIES_RESOLVED"
	StateContextBuilt       State = "CONTEXT_BUILT"
	StateRulesEvaluated     State = "RULES_EVALUATED"
	StateDecisionAggregated State = "DECISION_AGGREGATED"
	StateCompleted          State = "COMPLETED"
	StateFailed             State = "FAILED"
	StateCancelled          State = "CANCELLED"
)

// forward is the happy path; FAILED and CANCELLED are added for every
// non-terminal state.
var forward = map[State]State{
	StateCreated:            StateEvidenceNormalized,
	StateEvidenceNormalized: StatePoliciesResolved,
	StatePoliciesResolved:   StateContextBuilt,
	StateContextBuilt:       StateRulesEvaluated,
	StateRulesEvaluated:     StateDecisionAggregated,
	StateDecisionAggregated: StateCompleted,
}

// IsTerminal reports whether s has no exits.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) IsValid() bool {
	_, ok := forward[s]
	return ok || s.IsTerminal()
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to State) bool {
	if from.IsTerminal() || !from.IsValid() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	return forward[from] == to
}
