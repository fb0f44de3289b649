package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"complyd/internal/evidence/models"
)

func TestSummarize(t *testing.T) {
	items := []*models.Item{
		{ExtractedText: "all 42 tests passed", EvidenceType: models.TypeTestDocumentation},
		{ExtractedText: "no critical findings", EvidenceType: models.TypeSecurityReport},
		{ExtractedText: "coverage 87%", EvidenceType: models.TypeTestDocumentation},
	}

	got := Summarize(items)

	assert.Equal(t, "all 42 tests passed\nno critical findings\ncoverage 87%", got.Text)
	assert.Equal(t, []models.EvidenceType{models.TypeSecurityReport, models.TypeTestDocumentation}, got.Types)
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	assert.Empty(t, got.Text)
	assert.Empty(t, got.Types)
}
