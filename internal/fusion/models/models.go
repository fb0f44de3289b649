package models

import (
	"time"

	decision "complyd/internal/decision/models"
	policy "complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

// Passage is one similar historical evidence excerpt.
type Passage struct {
	SourceID    string    `json:"source_id"`
	Text        string    `json:"text"`
	Score       float64   `json:"score"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// RuleContext is everything the reasoning capability sees for one rule. It
// lives only for the duration of one evaluation.
type RuleContext struct {
	Rule               policy.Rule            `json:"rule"`
	CriteriaText       string                 `json:"criteria_text"`
	EvidenceText       string                 `json:"evidence_text"`
	SimilarEvidence    []Passage              `json:"similar_evidence"`
	DependencyVerdicts []decision.RuleVerdict `json:"dependency_verdicts"`
	// Degraded is set when the similarity source failed and was omitted.
	Degraded bool `json:"degraded"`
}

// Filter narrows a similarity search.
type Filter struct {
	PolicyID id.PolicyID
}

// Query is a similarity search request.
type Query struct {
	Embedding []float32
	TopK      int
	Filter    Filter
}

// Match is one similarity store hit. Score is in [0,1], higher is closer.
type Match struct {
	SourceID    string
	Content     string
	Score       float64
	ExtractedAt time.Time
}

// Record is a passage to index for future similarity lookups.
type Record struct {
	SourceID    string
	PolicyID    id.PolicyID
	Content     string
	Embedding   []float32
	ExtractedAt time.Time
}
