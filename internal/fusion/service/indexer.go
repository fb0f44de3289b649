package service

import (
	"context"
	"fmt"
	"log/slog"

	evidence "complyd/internal/evidence/models"
	"complyd/internal/fusion/models"
	"complyd/internal/fusion/ports"
	id "complyd/pkg/domain"
)

// Indexer stores evidence from completed runs so later runs can retrieve it
// as similar evidence for the same policies.
type Indexer struct {
	index    ports.PassageIndex
	embedder ports.Embedder
	logger   *slog.Logger
}

func NewIndexer(index ports.PassageIndex, embedder ports.Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{index: index, embedder: embedder, logger: logger}
}

// Index embeds each item once and files it under every policy. Items without
// text are skipped.
func (x *Indexer) Index(ctx context.Context, policyIDs []id.PolicyID, items []*evidence.Item) error {
	if len(policyIDs) == 0 {
		return nil
	}
	var records []models.Record
	for _, it := range items {
		if it == nil || it.ExtractedText == "" {
			continue
		}
		content := truncateRunes(it.ExtractedText, queryEvidenceLimit)
		embedding, err := x.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", it.SourceURL, err)
		}
		for _, pid := range policyIDs {
			records = append(records, models.Record{
				SourceID:    it.SourceURL,
				PolicyID:    pid,
				Content:     content,
				Embedding:   embedding,
				ExtractedAt: it.ExtractedAt,
			})
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := x.index.Upsert(ctx, records); err != nil {
		return err
	}
	x.logger.DebugContext(ctx, "evidence indexed for similarity",
		"passages", len(records),
		"policies", len(policyIDs),
	)
	return nil
}
