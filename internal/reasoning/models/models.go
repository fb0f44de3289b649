package models

import (
	"encoding/json"
	"errors"

	fusion "complyd/internal/fusion/models"
)

// ResponseSchema is the fixed verdict shape the reasoning capability must
// answer with.
const ResponseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["status", "confidence", "cited_evidence", "rationale"],
  "properties": {
    "rule_id": {"type": "string"},
    "status": {"enum": ["COMPLIANT", "NON_COMPLIANT", "INSUFFICIENT_EVIDENCE"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "cited_evidence": {"type": "array", "items": {"type": "string"}},
    "rationale": {"type": "string", "minLength": 1}
  }
}`

// Payload is one evaluation request.
type Payload struct {
	Context fusion.RuleContext `json:"context"`
	Schema  json.RawMessage    `json:"response_schema"`
	Attempt int                `json:"attempt"`
	// Strict asks for a schema-conforming answer after a malformed one.
	Strict        bool   `json:"strict"`
	PreviousError string `json:"previous_error,omitempty"`
}

// ErrMalformedVerdict marks a response that does not match ResponseSchema.
var ErrMalformedVerdict = errors.New("malformed verdict")
