package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avasiliu/tradegate/pkg/audit"
	"github.com/avasiliu/tradegate/pkg/types"
)

// Store manages approval requests in Postgres.
//
// Each request is an independent unit of concurrency control: every command
// that can move a request's status takes the request row lock first, so two
// concurrent approvals cannot both observe a non-final state and miss each
// other's completion of the requirement set.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new workflow store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ──────────────────────────────────────────────────────────────────────────────
// Request creation
// ──────────────────────────────────────────────────────────────────────────────

// CreateRequest opens a pending approval request for a ticket and moves the
// ticket to pending_approval. A ticket has at most one active request: if
// one already exists, it is returned unchanged, so re-submitting a ticket
// is idempotent. The approver set, triggered-rule string, and role
// attribution are frozen here; later rule edits never change what an
// in-flight request demands.
func (s *Store) CreateRequest(ctx context.Context, in types.CreateRequestInput) (*types.ApprovalRequest, error) {
	if in.TicketID == "" {
		return nil, fmt.Errorf("workflow.CreateRequest: ticket_id is required")
	}
	if len(in.RequiredApprovers) == 0 {
		return nil, fmt.Errorf("workflow.CreateRequest: required_approvers must be non-empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow.CreateRequest begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Lock any existing active request for this ticket. The unique partial
	// index on (ticket_id) WHERE status = 'pending_approval' backstops this
	// check against concurrent creators.
	existing, err := scanRequest(tx.QueryRow(ctx, selectRequestSQL+`
		WHERE ticket_id = $1 AND status = 'pending_approval'
		FOR UPDATE`, in.TicketID))
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("workflow.CreateRequest check active: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	req := &types.ApprovalRequest{
		ID:                uuid.NewString(),
		TicketID:          in.TicketID,
		RequiredApprovers: in.RequiredApprovers,
		RuleTriggered:     in.RuleTriggered,
		RoleRules:         in.RoleRules,
		Status:            types.RequestPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	roleRulesJSON, err := json.Marshal(req.RoleRules)
	if err != nil {
		return nil, fmt.Errorf("workflow.CreateRequest marshal role rules: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO approval_requests (
			id, ticket_id, required_approvers, rule_triggered, role_rules,
			status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		req.ID, req.TicketID, req.RequiredApprovers, req.RuleTriggered, roleRulesJSON,
		req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("workflow.CreateRequest insert: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tickets SET status = $2, updated_at = NOW() WHERE id = $1`,
		req.TicketID, types.TicketPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("workflow.CreateRequest update ticket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow.CreateRequest commit: %w", err)
	}
	return req, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Action submission
// ──────────────────────────────────────────────────────────────────────────────

// SubmitAction processes one role's decision on a request as a single
// transaction: lock the request row, run the command checks, append the
// action to the audit trail, re-derive the aggregate status from the full
// history, and propagate a terminal status to the owning ticket.
//
// On ErrAlreadyTerminal the request is returned alongside the error so the
// caller can report its current status.
func (s *Store) SubmitAction(ctx context.Context, requestID string, in types.SubmitActionInput) (*types.ApprovalRequest, *types.ApprovalAction, error) {
	if in.Role == "" {
		return nil, nil, fmt.Errorf("workflow.SubmitAction: role is required")
	}
	if !in.Kind.Known() {
		return nil, nil, fmt.Errorf("workflow.SubmitAction: unknown action %q", in.Kind)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow.SubmitAction begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	req, err := scanRequest(tx.QueryRow(ctx, selectRequestSQL+`
		WHERE id = $1
		FOR UPDATE`, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("workflow.SubmitAction lock request: %w", err)
	}

	if !req.RequiresRole(in.Role) {
		return nil, nil, ErrInvalidRole
	}
	if req.Status.Terminal() {
		return req, nil, ErrAlreadyTerminal
	}
	if in.Kind == types.ActionApprove {
		// Checked under the row lock; the unique partial index on
		// (request_id, approver_role) WHERE kind = 'approve' backstops it.
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM approval_actions
				WHERE request_id = $1 AND approver_role = $2 AND kind = 'approve'
			)`, requestID, in.Role).Scan(&exists)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow.SubmitAction duplicate check: %w", err)
		}
		if exists {
			return req, nil, ErrDuplicateApproval
		}
	}

	act := &types.ApprovalAction{
		ID:           uuid.NewString(),
		RequestID:    requestID,
		ApproverRole: in.Role,
		Actor:        in.Actor,
		Kind:         in.Kind,
		Comment:      in.Comment,
	}
	if err := audit.AppendTx(ctx, tx, act); err != nil {
		return nil, nil, fmt.Errorf("workflow.SubmitAction append audit: %w", err)
	}

	history, err := audit.ListForRequestTx(ctx, tx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow.SubmitAction read history: %w", err)
	}

	next := Decide(req.RequiredApprovers, history)
	if next != req.Status {
		_, err = tx.Exec(ctx, `
			UPDATE approval_requests SET status = $2, updated_at = NOW() WHERE id = $1`,
			requestID, next)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow.SubmitAction update status: %w", err)
		}
		if next.Terminal() {
			_, err = tx.Exec(ctx, `
				UPDATE tickets SET status = $2, updated_at = NOW() WHERE id = $1`,
				req.TicketID, next.TicketStatus())
			if err != nil {
				return nil, nil, fmt.Errorf("workflow.SubmitAction update ticket: %w", err)
			}
		}
		req.Status = next
		req.UpdatedAt = time.Now().UTC()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("workflow.SubmitAction commit: %w", err)
	}
	return req, act, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

const selectRequestSQL = `
	SELECT id, ticket_id, required_approvers, rule_triggered, role_rules,
	       status, created_at, updated_at
	FROM approval_requests`

// GetRequest fetches a single request. Returns nil, nil when not found.
func (s *Store) GetRequest(ctx context.Context, id string) (*types.ApprovalRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, selectRequestSQL+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workflow.GetRequest: %w", err)
	}
	return req, nil
}

// GetActiveForTicket fetches a ticket's pending request, if any.
func (s *Store) GetActiveForTicket(ctx context.Context, ticketID string) (*types.ApprovalRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, selectRequestSQL+`
		WHERE ticket_id = $1 AND status = 'pending_approval'`, ticketID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workflow.GetActiveForTicket: %w", err)
	}
	return req, nil
}

const defaultPendingLimit = 200

// ListPending returns pending requests, oldest first (paginated).
func (s *Store) ListPending(ctx context.Context, limit, offset int) ([]types.ApprovalRequest, error) {
	if limit <= 0 || limit > defaultPendingLimit {
		limit = defaultPendingLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, selectRequestSQL+`
		WHERE status = 'pending_approval'
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("workflow.ListPending: %w", err)
	}
	defer rows.Close()

	reqs := make([]types.ApprovalRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("workflow.ListPending scan: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow.ListPending iteration: %w", err)
	}
	return reqs, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Archival checkpoints (consumed by the archiver)
// ──────────────────────────────────────────────────────────────────────────────

// ListUnarchivedTerminal returns terminal requests whose audit chains have
// not yet been exported.
func (s *Store) ListUnarchivedTerminal(ctx context.Context, limit int) ([]types.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectRequestSQL+`
		WHERE status IN ('approved', 'rejected') AND archived_at IS NULL
		ORDER BY updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("workflow.ListUnarchivedTerminal: %w", err)
	}
	defer rows.Close()

	reqs := make([]types.ApprovalRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("workflow.ListUnarchivedTerminal scan: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow.ListUnarchivedTerminal iteration: %w", err)
	}
	return reqs, nil
}

// MarkArchived records that a request's audit bundle has been exported.
func (s *Store) MarkArchived(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE approval_requests SET archived_at = NOW() WHERE id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("workflow.MarkArchived: %w", err)
	}
	return nil
}

func scanRequest(row pgx.Row) (*types.ApprovalRequest, error) {
	req := &types.ApprovalRequest{}
	var roleRulesJSON []byte
	if err := row.Scan(
		&req.ID, &req.TicketID, &req.RequiredApprovers, &req.RuleTriggered, &roleRulesJSON,
		&req.Status, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(roleRulesJSON) > 0 {
		if err := json.Unmarshal(roleRulesJSON, &req.RoleRules); err != nil {
			return nil, fmt.Errorf("unmarshal role rules: %w", err)
		}
	}
	return req, nil
}
