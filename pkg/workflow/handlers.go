package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avasiliu/tradegate/pkg/types"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Handlers groups the HTTP handlers for the approval workflow.
type Handlers struct {
	store      handlersStore
	trail      actionLister
	authorizer *RoleAuthorizer
}

type handlersStore interface {
	CreateRequest(context.Context, types.CreateRequestInput) (*types.ApprovalRequest, error)
	GetRequest(context.Context, string) (*types.ApprovalRequest, error)
	SubmitAction(context.Context, string, types.SubmitActionInput) (*types.ApprovalRequest, *types.ApprovalAction, error)
	ListPending(context.Context, int, int) ([]types.ApprovalRequest, error)
}

type actionLister interface {
	ListForRequest(context.Context, string) ([]types.ApprovalAction, error)
}

// NewHandlers creates handlers backed by the given store and audit trail.
func NewHandlers(store handlersStore, trail actionLister, authorizer *RoleAuthorizer) *Handlers {
	return &Handlers{store: store, trail: trail, authorizer: authorizer}
}

// RegisterRoutes mounts the workflow routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/v1/approval-requests", h.CreateRequest)
	r.Get("/v1/approval-requests/pending", h.ListPending)
	r.Get("/v1/approval-requests/{id}", h.GetRequest)
	r.Post("/v1/approval-requests/{id}/actions", h.SubmitAction)
	r.Get("/v1/approval-requests/{id}/actions", h.ListActions)
}

// CreateRequest handles POST /v1/approval-requests
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var in types.CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	if in.TicketID == "" || len(in.RequiredApprovers) == 0 {
		types.ErrBadRequest("ticket_id and required_approvers are required").WriteJSON(w)
		return
	}

	req, err := h.store.CreateRequest(r.Context(), in)
	if err != nil {
		slog.Error("create approval request failed", "error", err)
		types.ErrInternal("failed to create approval request").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(req); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// GetRequest handles GET /v1/approval-requests/{id}
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		slog.Error("get approval request failed", "error", err)
		types.ErrInternal("failed to retrieve approval request").WriteJSON(w)
		return
	}
	if req == nil {
		types.ErrNotFound("approval request not found").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(req); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// SubmitAction handles POST /v1/approval-requests/{id}/actions
func (h *Handlers) SubmitAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var in types.SubmitActionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	if in.Role == "" {
		types.ErrBadRequest("role is required").WriteJSON(w)
		return
	}
	if !in.Kind.Known() {
		types.ErrBadRequest("action must be approve, reject, or request_changes").WriteJSON(w)
		return
	}
	if h.authorizer != nil && !h.authorizer.Allow(in.Role, in.Actor) {
		types.ErrForbidden("actor is not a member of the approver role").WriteJSON(w)
		return
	}

	req, act, err := h.store.SubmitAction(r.Context(), id, in)
	if err != nil {
		writeCommandErr(w, err, req, in)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"request": req,
		"action":  act,
	}); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// ListActions handles GET /v1/approval-requests/{id}/actions
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		slog.Error("get approval request failed", "error", err)
		types.ErrInternal("failed to list actions").WriteJSON(w)
		return
	}
	if req == nil {
		types.ErrNotFound("approval request not found").WriteJSON(w)
		return
	}

	actions, err := h.trail.ListForRequest(r.Context(), id)
	if err != nil {
		slog.Error("list actions failed", "error", err, "request_id", id)
		types.ErrInternal("failed to list actions").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(actions); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// ListPending handles GET /v1/approval-requests/pending?limit=...&offset=...
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	reqs, err := h.store.ListPending(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list pending failed", "error", err)
		types.ErrInternal("failed to list pending requests").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reqs); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// writeCommandErr maps the workflow command errors to API responses.
func writeCommandErr(w http.ResponseWriter, err error, req *types.ApprovalRequest, in types.SubmitActionInput) {
	switch {
	case errors.Is(err, ErrNotFound):
		types.ErrNotFound("approval request not found").WriteJSON(w)
	case errors.Is(err, ErrInvalidRole):
		types.ErrInvalidRole(in.Role).WriteJSON(w)
	case errors.Is(err, ErrAlreadyTerminal):
		status := ""
		if req != nil {
			status = string(req.Status)
		}
		types.ErrAlreadyTerminal(status).WriteJSON(w)
	case errors.Is(err, ErrDuplicateApproval):
		types.ErrDuplicateApproval(in.Role).WriteJSON(w)
	default:
		slog.Error("submit action failed", "error", err)
		types.ErrInternal("failed to submit action").WriteJSON(w)
	}
}
