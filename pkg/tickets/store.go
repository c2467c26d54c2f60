// Package tickets is the narrow view of the trade-ticket domain the
// approval engine needs: fact lookup and status propagation. Full ticket
// lifecycle (counterparties, line items, documents) is owned elsewhere.
package tickets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Store reads and updates tickets in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new ticket store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectTicketSQL = `
	SELECT id, reference, desk, status, facts, created_at, updated_at
	FROM tickets`

// Get fetches a single ticket. Returns nil, nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*types.Ticket, error) {
	t := &types.Ticket{}
	var factsJSON []byte
	err := s.pool.QueryRow(ctx, selectTicketSQL+` WHERE id = $1`, id).Scan(
		&t.ID, &t.Reference, &t.Desk, &t.Status, &factsJSON,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tickets.Get: %w", err)
	}
	if len(factsJSON) > 0 {
		if err := json.Unmarshal(factsJSON, &t.Facts); err != nil {
			return nil, fmt.Errorf("tickets.Get unmarshal facts: %w", err)
		}
	}
	return t, nil
}

// Facts returns just the flat fact record for rule evaluation.
func (s *Store) Facts(ctx context.Context, id string) (types.FactRecord, error) {
	var factsJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT facts FROM tickets WHERE id = $1`, id).Scan(&factsJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tickets.Facts: %w", err)
	}

	facts := types.FactRecord{}
	if len(factsJSON) > 0 {
		if err := json.Unmarshal(factsJSON, &facts); err != nil {
			return nil, fmt.Errorf("tickets.Facts unmarshal: %w", err)
		}
	}
	return facts, nil
}

// SetStatus moves a ticket to a new status.
func (s *Store) SetStatus(ctx context.Context, id string, status types.TicketStatus) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE tickets SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("tickets.SetStatus: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("tickets.SetStatus: ticket %s not found", id)
	}
	return nil
}
