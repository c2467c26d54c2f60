package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Store persists the rule catalog in Postgres. Conditions are stored as
// JSONB; approver roles as a text array.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new rule catalog store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create validates and inserts a rule, assigning its ID.
func (s *Store) Create(ctx context.Context, r *types.Rule) (*types.Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	r.ID = uuid.NewString()
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rules.Create marshal conditions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO approval_rules (
			id, name, description, priority, enabled,
			combinator, conditions, required_approvers, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.Name, r.Description, r.Priority, r.Enabled,
		r.Combinator, conditionsJSON, r.RequiredApprovers, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("rules.Create insert: %w", err)
	}
	return r, nil
}

// Update validates and replaces a rule's definition.
// Returns nil, nil when no rule has the given ID.
func (s *Store) Update(ctx context.Context, id string, r *types.Rule) (*types.Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rules.Update marshal conditions: %w", err)
	}

	res, err := s.pool.Exec(ctx, `
		UPDATE approval_rules
		SET name = $2, description = $3, priority = $4, enabled = $5,
		    combinator = $6, conditions = $7, required_approvers = $8, updated_at = NOW()
		WHERE id = $1`,
		id, r.Name, r.Description, r.Priority, r.Enabled,
		r.Combinator, conditionsJSON, r.RequiredApprovers,
	)
	if err != nil {
		return nil, fmt.Errorf("rules.Update: %w", err)
	}
	if res.RowsAffected() == 0 {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// SetEnabled toggles a rule without touching its definition.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (*types.Rule, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE approval_rules SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return nil, fmt.Errorf("rules.SetEnabled: %w", err)
	}
	if res.RowsAffected() == 0 {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// Delete removes a rule. In-flight approval requests are unaffected because
// their approver sets were frozen at creation.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.pool.Exec(ctx, `DELETE FROM approval_rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("rules.Delete: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// Get fetches a single rule. Returns nil, nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*types.Rule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, priority, enabled,
		       combinator, conditions, required_approvers, created_at, updated_at
		FROM approval_rules WHERE id = $1`, id)

	r, err := scanRule(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rules.Get: %w", err)
	}
	return r, nil
}

// List returns the full catalog ordered the way the matcher consumes it.
func (s *Store) List(ctx context.Context) ([]types.Rule, error) {
	return s.list(ctx, `
		SELECT id, name, description, priority, enabled,
		       combinator, conditions, required_approvers, created_at, updated_at
		FROM approval_rules
		ORDER BY priority ASC, id ASC`)
}

// ListEnabled returns only enabled rules, for evaluation at submission time.
func (s *Store) ListEnabled(ctx context.Context) ([]types.Rule, error) {
	return s.list(ctx, `
		SELECT id, name, description, priority, enabled,
		       combinator, conditions, required_approvers, created_at, updated_at
		FROM approval_rules
		WHERE enabled
		ORDER BY priority ASC, id ASC`)
}

func (s *Store) list(ctx context.Context, query string) ([]types.Rule, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rules.list: %w", err)
	}
	defer rows.Close()

	out := make([]types.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("rules.list scan: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules.list iteration: %w", err)
	}
	return out, nil
}

func scanRule(row pgx.Row) (*types.Rule, error) {
	r := &types.Rule{}
	var conditionsJSON []byte
	if err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Priority, &r.Enabled,
		&r.Combinator, &conditionsJSON, &r.RequiredApprovers,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &r.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	return r, nil
}
