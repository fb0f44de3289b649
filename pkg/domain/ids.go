package domain

import (
	"regexp"

	"github.com/google/uuid"

	dErrors "complyd/pkg/domain-errors"
)

// RunID identifies one validation run.
type RunID uuid.UUID

// PolicyID and RuleID are catalog identifiers such as "POL-ACCESS-01".
type (
	PolicyID string
	RuleID   string
)

var catalogIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// NewRunID returns a fresh random run ID.
func NewRunID() RunID {
	return RunID(uuid.New())
}

// ParseRunID parses a non-nil UUID.
func ParseRunID(s string) (RunID, error) {
	if s == "" {
		return RunID{}, dErrors.New(dErrors.CodeBadRequest, "run id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, dErrors.New(dErrors.CodeBadRequest, "run id must be a UUID")
	}
	if parsed == uuid.Nil {
		return RunID{}, dErrors.New(dErrors.CodeBadRequest, "run id must not be nil")
	}
	return RunID(parsed), nil
}

func (id RunID) String() string { return uuid.UUID(id).String() }

func (id RunID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParsePolicyID validates a catalog policy identifier.
func ParsePolicyID(s string) (PolicyID, error) {
	if !catalogIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid policy id: "+truncate(s))
	}
	return PolicyID(s), nil
}

// ParseRuleID validates a catalog rule identifier.
func ParseRuleID(s string) (RuleID, error) {
	if !catalogIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid rule id: "+truncate(s))
	}
	return RuleID(s), nil
}

func (id PolicyID) String() string { return string(id) }

func (id RuleID) String() string { return string(id) }

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
