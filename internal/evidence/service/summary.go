package service

import (
	"sort"
	"strings"

	"complyd/internal/evidence/models"
)

// Summarize concatenates item texts and lists their distinct types in sorted
// order, so resolution sees the same summary for the same evidence.
func Summarize(items []*models.Item) models.Summary {
	var b strings.Builder
	seen := make(map[models.EvidenceType]bool)
	var types []models.EvidenceType
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(item.ExtractedText)
		if !seen[item.EvidenceType] {
			seen[item.EvidenceType] = true
			types = append(types, item.EvidenceType)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return models.Summary{Text: b.String(), Types: types}
}
