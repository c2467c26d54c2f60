package workflow

import (
	"context"
	"log/slog"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Logger wraps the Store and emits structured logs alongside DB writes.
type Logger struct {
	store *Store
	log   *slog.Logger
}

// NewLogger creates a workflow logger backed by the given store.
func NewLogger(store *Store, log *slog.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// CreateRequest persists and logs a new approval request.
func (l *Logger) CreateRequest(ctx context.Context, in types.CreateRequestInput) (*types.ApprovalRequest, error) {
	req, err := l.store.CreateRequest(ctx, in)
	if err != nil {
		l.log.ErrorContext(ctx, "approval request create failed",
			"ticket_id", in.TicketID,
			"error", err,
		)
		return nil, err
	}

	l.log.InfoContext(ctx, "approval request opened",
		"request_id", req.ID,
		"ticket_id", req.TicketID,
		"required_approvers", req.RequiredApprovers,
		"rule_triggered", req.RuleTriggered,
	)
	return req, nil
}

// SubmitAction persists and logs one role's decision.
func (l *Logger) SubmitAction(ctx context.Context, requestID string, in types.SubmitActionInput) (*types.ApprovalRequest, *types.ApprovalAction, error) {
	req, act, err := l.store.SubmitAction(ctx, requestID, in)
	if err != nil {
		l.log.WarnContext(ctx, "approval action refused",
			"request_id", requestID,
			"role", in.Role,
			"action", string(in.Kind),
			"error", err,
		)
		return req, nil, err
	}

	l.log.InfoContext(ctx, "approval action recorded",
		"request_id", requestID,
		"ticket_id", req.TicketID,
		"role", act.ApproverRole,
		"actor", act.Actor,
		"action", string(act.Kind),
		"status", string(req.Status),
		"seq", act.Seq,
	)
	return req, act, nil
}

// GetRequest delegates to the store.
func (l *Logger) GetRequest(ctx context.Context, id string) (*types.ApprovalRequest, error) {
	return l.store.GetRequest(ctx, id)
}

// GetActiveForTicket delegates to the store.
func (l *Logger) GetActiveForTicket(ctx context.Context, ticketID string) (*types.ApprovalRequest, error) {
	return l.store.GetActiveForTicket(ctx, ticketID)
}

// ListPending delegates to the store.
func (l *Logger) ListPending(ctx context.Context, limit, offset int) ([]types.ApprovalRequest, error) {
	return l.store.ListPending(ctx, limit, offset)
}
