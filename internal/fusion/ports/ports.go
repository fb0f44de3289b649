//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks SimilaritySearch,Embedder,PassageIndex

package ports

import (
	"context"

	"complyd/internal/fusion/models"
)

// SimilaritySearch looks up historical evidence close to an embedding.
type SimilaritySearch interface {
	Search(ctx context.Context, q models.Query) ([]models.Match, error)
}

// Embedder turns text into a vector for SimilaritySearch.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PassageIndex stores passages for future SimilaritySearch calls.
type PassageIndex interface {
	Upsert(ctx context.Context, records []models.Record) error
}
