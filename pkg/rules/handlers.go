package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avasiliu/tradegate/pkg/types"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Handlers groups the rule-catalog admin HTTP handlers.
type Handlers struct {
	store handlersStore
}

type handlersStore interface {
	Create(context.Context, *types.Rule) (*types.Rule, error)
	Update(context.Context, string, *types.Rule) (*types.Rule, error)
	SetEnabled(context.Context, string, bool) (*types.Rule, error)
	Delete(context.Context, string) (bool, error)
	Get(context.Context, string) (*types.Rule, error)
	List(context.Context) ([]types.Rule, error)
}

// NewHandlers creates handlers backed by the given store.
func NewHandlers(store handlersStore) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the rule-catalog routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/v1/rules", h.CreateRule)
	r.Get("/v1/rules", h.ListRules)
	r.Get("/v1/rules/{id}", h.GetRule)
	r.Put("/v1/rules/{id}", h.UpdateRule)
	r.Post("/v1/rules/{id}/enable", h.EnableRule)
	r.Post("/v1/rules/{id}/disable", h.DisableRule)
	r.Delete("/v1/rules/{id}", h.DeleteRule)
}

// CreateRule handles POST /v1/rules
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var rule types.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	created, err := h.store.Create(r.Context(), &rule)
	if err != nil {
		writeRuleErr(w, err, "create rule failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// UpdateRule handles PUT /v1/rules/{id}
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var rule types.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	updated, err := h.store.Update(r.Context(), id, &rule)
	if err != nil {
		writeRuleErr(w, err, "update rule failed")
		return
	}
	if updated == nil {
		types.ErrNotFound("rule not found").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(updated); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// EnableRule handles POST /v1/rules/{id}/enable
func (h *Handlers) EnableRule(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableRule handles POST /v1/rules/{id}/disable
func (h *Handlers) DisableRule(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handlers) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	rule, err := h.store.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		slog.Error("toggle rule failed", "error", err, "rule_id", id)
		types.ErrInternal("failed to toggle rule").WriteJSON(w)
		return
	}
	if rule == nil {
		types.ErrNotFound("rule not found").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rule); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// DeleteRule handles DELETE /v1/rules/{id}
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		slog.Error("delete rule failed", "error", err, "rule_id", id)
		types.ErrInternal("failed to delete rule").WriteJSON(w)
		return
	}
	if !deleted {
		types.ErrNotFound("rule not found").WriteJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRule handles GET /v1/rules/{id}
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		slog.Error("get rule failed", "error", err, "rule_id", id)
		types.ErrInternal("failed to retrieve rule").WriteJSON(w)
		return
	}
	if rule == nil {
		types.ErrNotFound("rule not found").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rule); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// ListRules handles GET /v1/rules
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleSet, err := h.store.List(r.Context())
	if err != nil {
		slog.Error("list rules failed", "error", err)
		types.ErrInternal("failed to list rules").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ruleSet); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// writeRuleErr maps store errors to API errors. Validation failures become
// 422s with the offending field; anything else is a 500.
func writeRuleErr(w http.ResponseWriter, err error, logMsg string) {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		apiErr := types.ErrValidation(ve)
		apiErr.Details = ve
		apiErr.WriteJSON(w)
		return
	}
	slog.Error(logMsg, "error", err)
	types.ErrInternal("rule catalog operation failed").WriteJSON(w)
}
