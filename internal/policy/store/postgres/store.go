package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
	txcontext "complyd/pkg/platform/tx"
)

// Schema holds policies, their rules, and rule dependency edges.
const Schema = `
CREATE TABLE IF NOT EXISTS policies (
	policy_id TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	category  TEXT NOT NULL,
	version   TEXT NOT NULL DEFAULT '',
	status    TEXT NOT NULL,
	keywords  TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS policies_status_idx ON policies (status);

CREATE TABLE IF NOT EXISTS policy_rules (
	rule_id             TEXT PRIMARY KEY,
	policy_id           TEXT NOT NULL REFERENCES policies (policy_id) ON DELETE CASCADE,
	description         TEXT NOT NULL DEFAULT '',
	severity            TEXT NOT NULL,
	validation_criteria TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS policy_rules_policy_idx ON policy_rules (policy_id);

CREATE TABLE IF NOT EXISTS policy_rule_dependencies (
	rule_id        TEXT NOT NULL REFERENCES policy_rules (rule_id) ON DELETE CASCADE,
	parent_rule_id TEXT NOT NULL,
	PRIMARY KEY (rule_id, parent_rule_id)
);
`

// Store implements ports.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema. Safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate policy schema: %w", err)
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

func (s *Store) QueryPolicies(ctx context.Context, criteria models.Criteria) ([]models.Descriptor, error) {
	query := `
		SELECT policy_id, name, category, version, status, keywords
		FROM policies
		WHERE ($1 = '' OR status = $1)
		  AND (cardinality($2::text[]) = 0 OR category = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR policy_id = ANY($3))
		ORDER BY policy_id
	`
	ids := make([]string, len(criteria.PolicyIDs))
	for i, pid := range criteria.PolicyIDs {
		ids[i] = string(pid)
	}
	categories := criteria.Categories
	if categories == nil {
		categories = []string{}
	}
	rows, err := s.db.QueryContext(ctx, query, string(criteria.Status), pq.Array(categories), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var out []models.Descriptor
	for rows.Next() {
		var (
			p        models.Descriptor
			pid      string
			status   string
			keywords pq.StringArray
		)
		if err := rows.Scan(&pid, &p.Name, &p.Category, &p.Version, &status, &keywords); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.PolicyID = id.PolicyID(pid)
		p.Status = models.Status(status)
		p.Keywords = []string(keywords)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

func (s *Store) QueryRules(ctx context.Context, policyIDs []id.PolicyID) ([]models.Rule, error) {
	if len(policyIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT r.rule_id, r.policy_id, r.description, r.severity, r.validation_criteria,
		       COALESCE(array_agg(d.parent_rule_id ORDER BY d.parent_rule_id)
		                FILTER (WHERE d.parent_rule_id IS NOT NULL), '{}')
		FROM policy_rules r
		LEFT JOIN policy_rule_dependencies d ON d.rule_id = r.rule_id
		WHERE r.policy_id = ANY($1)
		GROUP BY r.rule_id
		ORDER BY r.rule_id
	`
	ids := make([]string, len(policyIDs))
	for i, pid := range policyIDs {
		ids[i] = string(pid)
	}
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var (
			r        models.Rule
			ruleID   string
			policyID string
			severity string
			parents  pq.StringArray
		)
		if err := rows.Scan(&ruleID, &policyID, &r.Description, &severity, &r.ValidationCriteria, &parents); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.RuleID = id.RuleID(ruleID)
		r.PolicyID = id.PolicyID(policyID)
		r.Severity = models.Severity(severity)
		for _, p := range parents {
			r.ParentRuleIDs = append(r.ParentRuleIDs, id.RuleID(p))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// Sync replaces the stored catalog with the given one in a single transaction.
func (s *Store) Sync(ctx context.Context, policies []models.Descriptor, rules []models.Rule) error {
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := s.execer(ctx)
		if _, err := exec.ExecContext(ctx, `DELETE FROM policies`); err != nil {
			return fmt.Errorf("clear policies: %w", err)
		}
		for _, p := range policies {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO policies (policy_id, name, category, version, status, keywords)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, string(p.PolicyID), p.Name, p.Category, p.Version, string(p.Status), pq.Array(nonNil(p.Keywords)))
			if err != nil {
				return fmt.Errorf("insert policy %s: %w", p.PolicyID, err)
			}
		}
		for _, r := range rules {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO policy_rules (rule_id, policy_id, description, severity, validation_criteria)
				VALUES ($1, $2, $3, $4, $5)
			`, string(r.RuleID), string(r.PolicyID), r.Description, string(r.Severity), r.ValidationCriteria)
			if err != nil {
				return fmt.Errorf("insert rule %s: %w", r.RuleID, err)
			}
		}
		for _, r := range rules {
			for _, parent := range r.ParentRuleIDs {
				_, err := exec.ExecContext(ctx, `
					INSERT INTO policy_rule_dependencies (rule_id, parent_rule_id)
					VALUES ($1, $2) ON CONFLICT DO NOTHING
				`, string(r.RuleID), string(parent))
				if err != nil {
					return fmt.Errorf("insert dependency %s -> %s: %w", r.RuleID, parent, err)
				}
			}
		}
		return nil
	})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
