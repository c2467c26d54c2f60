package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Store persists the approval-action trail in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new audit store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// canonicalAction is the hashed view of an action. Seq is excluded because
// the database assigns it after the hash is computed; everything else an
// auditor would care about is covered.
type canonicalAction struct {
	ID           string           `json:"id"`
	RequestID    string           `json:"request_id"`
	ApproverRole string           `json:"approver_role"`
	Actor        string           `json:"actor"`
	Kind         types.ActionKind `json:"action"`
	Comment      string           `json:"comment"`
	CreatedAt    string           `json:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

// AppendTx appends an action to its request's chain inside the caller's
// transaction. The caller must already hold the request row lock; that lock
// is what serialises chain appends, so concurrent writers cannot fork the
// chain. The action's Seq and CreatedAt are filled in on return.
func AppendTx(ctx context.Context, tx pgx.Tx, a *types.ApprovalAction) error {
	prevHash, err := lastHashTx(ctx, tx, a.RequestID)
	if err != nil {
		return fmt.Errorf("audit.AppendTx last hash: %w", err)
	}

	a.CreatedAt = time.Now().UTC()
	canon, err := CanonicalJSON(canonicalAction{
		ID:           a.ID,
		RequestID:    a.RequestID,
		ApproverRole: a.ApproverRole,
		Actor:        a.Actor,
		Kind:         a.Kind,
		Comment:      a.Comment,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("audit.AppendTx canonical: %w", err)
	}
	hash := ChainHash(prevHash, canon)

	row := tx.QueryRow(ctx, `
		INSERT INTO approval_actions (
			id, request_id, approver_role, actor, kind, comment,
			canon_action, hash, prev_hash, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING seq`,
		a.ID, a.RequestID, a.ApproverRole, a.Actor, a.Kind, a.Comment,
		canon, hash, prevHash, a.CreatedAt,
	)
	if err := row.Scan(&a.Seq); err != nil {
		return fmt.Errorf("audit.AppendTx insert: %w", err)
	}
	return nil
}

// lastHashTx fetches the latest hash for a request inside an existing
// transaction. Returns the empty genesis hash for a fresh chain.
func lastHashTx(ctx context.Context, tx pgx.Tx, requestID string) (string, error) {
	row := tx.QueryRow(ctx, `
		SELECT hash FROM approval_actions
		WHERE request_id = $1
		ORDER BY seq DESC LIMIT 1`, requestID)

	var h string
	err := row.Scan(&h)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return h, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

// ListForRequest returns a request's actions in insertion order.
func (s *Store) ListForRequest(ctx context.Context, requestID string) ([]types.ApprovalAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, approver_role, actor, kind, comment, seq, created_at
		FROM approval_actions
		WHERE request_id = $1
		ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("audit.ListForRequest: %w", err)
	}
	defer rows.Close()

	actions := make([]types.ApprovalAction, 0)
	for rows.Next() {
		var a types.ApprovalAction
		if err := rows.Scan(
			&a.ID, &a.RequestID, &a.ApproverRole, &a.Actor,
			&a.Kind, &a.Comment, &a.Seq, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit.ListForRequest scan: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit.ListForRequest iteration: %w", err)
	}
	return actions, nil
}

// ListForRequestTx is ListForRequest inside the caller's transaction, for
// recomputing aggregate status under the request row lock.
func ListForRequestTx(ctx context.Context, tx pgx.Tx, requestID string) ([]types.ApprovalAction, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, request_id, approver_role, actor, kind, comment, seq, created_at
		FROM approval_actions
		WHERE request_id = $1
		ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("audit.ListForRequestTx: %w", err)
	}
	defer rows.Close()

	actions := make([]types.ApprovalAction, 0)
	for rows.Next() {
		var a types.ApprovalAction
		if err := rows.Scan(
			&a.ID, &a.RequestID, &a.ApproverRole, &a.Actor,
			&a.Kind, &a.Comment, &a.Seq, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit.ListForRequestTx scan: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit.ListForRequestTx iteration: %w", err)
	}
	return actions, nil
}

// ChainRecords returns a request's chain in insertion order, for
// verification and archival.
func (s *Store) ChainRecords(ctx context.Context, requestID string) ([]ChainRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hash, prev_hash, canon_action
		FROM approval_actions
		WHERE request_id = $1
		ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("audit.ChainRecords: %w", err)
	}
	defer rows.Close()

	var records []ChainRecord
	for rows.Next() {
		var rec ChainRecord
		if err := rows.Scan(&rec.ActionID, &rec.Hash, &rec.PrevHash, &rec.CanonAction); err != nil {
			return nil, fmt.Errorf("audit.ChainRecords scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit.ChainRecords iteration: %w", err)
	}
	return records, nil
}
