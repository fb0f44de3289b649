package service

import (
	"strings"

	"complyd/internal/evidence/models"
)

// typeKeywords drives evidence classification. Order matters for ties.
var typeKeywords = []struct {
	typ      models.EvidenceType
	keywords []string
}{
	{models.TypeTestDocumentation, []string{"test case", "test plan", "test result", "testing", "test script", "execution", "defect", "coverage"}},
	{models.TypeSecurityReport, []string{"security", "vulnerability", "scan", "penetration", "cve", "threat", "assessment"}},
	{models.TypeDeploymentLog, []string{"deployment", "deploy", "release", "rollback", "infrastructure", "environment"}},
	{models.TypeCodeReviewRecord, []string{"code review", "pull request", "reviewer", "approved", "static analysis", "merge"}},
	{models.TypeTechnicalDocumentation, []string{"documentation", "api", "architecture", "guide", "manual", "specification"}},
}

// Classify picks the evidence type whose keywords occur most often in text.
func Classify(text string) models.EvidenceType {
	lower := strings.ToLower(text)
	best, bestHits := models.TypeUnknown, 0
	for _, tk := range typeKeywords {
		hits := 0
		for _, kw := range tk.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits > bestHits {
			best, bestHits = tk.typ, hits
		}
	}
	return best
}
