package models

import (
	"errors"
	"fmt"
	"time"
)

// EvidenceType tags what kind of artifact an item is. It feeds policy
// auto-detection when no policy IDs are given.
type EvidenceType string

const (
	TypeTestDocumentation      EvidenceType = "test_documentation"
	TypeSecurityReport         EvidenceType = "security_report"
	TypeDeploymentLog          EvidenceType = "deployment_log"
	TypeCodeReviewRecord       EvidenceType = "code_review_record"
	TypeTechnicalDocumentation EvidenceType = "technical_documentation"
	TypeUnknown                EvidenceType = "unknown"
)

// Ref points at the evidence a run should validate.
type Ref struct {
	URLs []string `json:"urls"`
}

// Raw is fetched, unparsed content.
type Raw struct {
	Content     []byte
	ContentType string
}

// Item is one normalized evidence artifact. Items are immutable once built and
// shared by pointer across stages.
type Item struct {
	ID            string       `json:"id"`
	SourceURL     string       `json:"source_url"`
	ContentType   string       `json:"content_type"`
	EvidenceType  EvidenceType `json:"evidence_type"`
	ExtractedText string       `json:"-"`
	ExtractedAt   time.Time    `json:"extracted_at"`
	Truncated     bool         `json:"truncated,omitempty"`
}

// Summary condenses a run's evidence for policy resolution.
type Summary struct {
	Text  string
	Types []EvidenceType
}

// ErrorCategory is the normalized fetch failure taxonomy.
type ErrorCategory string

const (
	ErrorTimeout     ErrorCategory = "timeout"
	ErrorNetwork     ErrorCategory = "network"
	ErrorUpstream    ErrorCategory = "upstream_outage"
	ErrorRateLimited ErrorCategory = "rate_limited"
	ErrorNotFound    ErrorCategory = "not_found"
	ErrorForbidden   ErrorCategory = "forbidden"
	ErrorBadData     ErrorCategory = "bad_data"
)

// FetchError wraps source failures with a retry classification.
type FetchError struct {
	Category   ErrorCategory
	URL        string
	Underlying error
	Retryable  bool
}

func (e *FetchError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("fetch %s [%s]: %v", e.URL, e.Category, e.Underlying)
	}
	return fmt.Sprintf("fetch %s [%s]", e.URL, e.Category)
}

func (e *FetchError) Unwrap() error {
	return e.Underlying
}

// NewFetchError classifies category into retryable or terminal.
func NewFetchError(category ErrorCategory, url string, underlying error) *FetchError {
	retryable := category == ErrorTimeout ||
		category == ErrorNetwork ||
		category == ErrorUpstream ||
		category == ErrorRateLimited
	return &FetchError{Category: category, URL: url, Underlying: underlying, Retryable: retryable}
}

// IsRetryable reports whether err is a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

var (
	// ErrFetchExhausted means an evidence URL could not be collected.
	ErrFetchExhausted = errors.New("evidence fetch failed")
	// ErrEmptyEvidence means content normalized to nothing.
	ErrEmptyEvidence = errors.New("evidence has no extractable text")
	// ErrNoEvidence means the ref carried no usable URL.
	ErrNoEvidence = errors.New("evidence ref has no urls")
)
