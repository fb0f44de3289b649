package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/sentinel"
	txcontext "complyd/pkg/platform/tx"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Schema creates the append-only audit table. The trigger rejects UPDATE and
// DELETE so the trail stays immutable even for direct SQL access.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         UUID NOT NULL UNIQUE,
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	category   TEXT NOT NULL,
	from_state TEXT NOT NULL DEFAULT '',
	to_state   TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_run_idx ON audit_events (run_id, seq);

CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit_events is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_events_no_mutation ON audit_events;
CREATE TRIGGER audit_events_no_mutation
	BEFORE UPDATE OR DELETE ON audit_events
	FOR EACH ROW EXECUTE FUNCTION audit_events_immutable();
`

// Store implements audit.Store on PostgreSQL. Appends join a transaction
// carried by the context when one is present.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema. Safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts one event. A duplicate event ID maps to sentinel.ErrConflict.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, run_id, kind, category, from_state, to_state, detail, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		event.RunID,
		string(event.Kind),
		string(event.Kind.Category()),
		event.FromState,
		event.ToState,
		event.Detail,
		payload,
		event.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("audit event %s: %w", event.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AppendAll writes events atomically.
func (s *Store) AppendAll(ctx context.Context, events []audit.Event) error {
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		for _, e := range events {
			if err := s.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByRun returns a run's events in append order.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]audit.Event, error) {
	query := `
		SELECT id, run_id, kind, from_state, to_state, detail, payload, created_at
		FROM audit_events
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event   audit.Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.RunID, &kind, &event.FromState, &event.ToState,
			&event.Detail, &payload, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Kind = audit.Kind(kind)
		if len(payload) > 0 {
			event.Payload = payload
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
