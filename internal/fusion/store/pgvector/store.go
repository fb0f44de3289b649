// Package pgvector implements similarity search over historical evidence on
// PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"complyd/internal/fusion/models"
)

// Schema creates the passage table. Embedding width is not fixed so the store
// works with any embedding model.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS evidence_passages (
	source_id    TEXT NOT NULL,
	policy_id    TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	embedding    vector NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_id, policy_id)
);
CREATE INDEX IF NOT EXISTS evidence_passages_policy_idx ON evidence_passages (policy_id);
`

// Store implements ports.SimilaritySearch.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate similarity schema: %w", err)
	}
	return nil
}

// Search returns the closest passages by cosine similarity. Score is
// 1 - cosine distance clamped to [0,1].
func (s *Store) Search(ctx context.Context, q models.Query) ([]models.Match, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("search: empty embedding")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	query := `
		SELECT source_id, content, GREATEST(0, LEAST(1, 1 - (embedding <=> $1::vector))) AS score, extracted_at
		FROM evidence_passages
		WHERE ($2 = '' OR policy_id = $2)
		  AND vector_dims(embedding) = vector_dims($1::vector)
		ORDER BY embedding <=> $1::vector, source_id
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, encode(q.Embedding), string(q.Filter.PolicyID), topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Match, error) {
		var m models.Match
		err := row.Scan(&m.SourceID, &m.Content, &m.Score, &m.ExtractedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan similarity rows: %w", err)
	}
	return matches, nil
}

// Upsert indexes passages for later searches.
func (s *Store) Upsert(ctx context.Context, records []models.Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO evidence_passages (source_id, policy_id, content, embedding, extracted_at)
			VALUES ($1, $2, $3, $4::vector, $5)
			ON CONFLICT (source_id, policy_id) DO UPDATE
			SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, extracted_at = EXCLUDED.extracted_at
		`, r.SourceID, string(r.PolicyID), r.Content, encode(r.Embedding), r.ExtractedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert passages: %w", err)
	}
	return nil
}

// encode renders a vector in pgvector's text form, e.g. [0.1,0.2].
func encode(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
