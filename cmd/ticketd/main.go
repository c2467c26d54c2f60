// Ticketd is the trade-ticket submission entry point. It evaluates the rule
// catalog against a ticket's fact record and either lets the ticket proceed
// or opens a multi-party approval request.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/avasiliu/tradegate/pkg/auth"
	"github.com/avasiliu/tradegate/pkg/config"
	tgOtel "github.com/avasiliu/tradegate/pkg/otel"
	"github.com/avasiliu/tradegate/pkg/rules"
	"github.com/avasiliu/tradegate/pkg/tickets"
	"github.com/avasiliu/tradegate/pkg/types"
	"github.com/avasiliu/tradegate/pkg/workflow"
)

const maxRateLimiters = 10_000

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelShutdown, err := tgOtel.Setup(ctx, tgOtel.Config{
		ServiceName:    config.EnvOr("OTEL_SERVICE_NAME", "tg-ticketd"),
		OTLPEndpoint:   otelEndpoint,
		MetricsEnabled: true,
		TracingEnabled: otelEndpoint != "",
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Postgres ─────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, config.PostgresURL())
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// ── Dependencies ─────────────────────────────────────────────────────
	keyStore := auth.NewKeyStore(os.Getenv("API_KEYS"))
	sub := &Submitter{
		log:          log,
		catalog:      rules.NewStore(pool),
		tickets:      tickets.NewStore(pool),
		workflow:     workflow.NewLogger(workflow.NewStore(pool), log),
		rateLimiters: make(map[string]*rate.Limiter),
		perDeskLimit: config.EnvOrInt("RATE_LIMIT_PER_DESK", 100),
	}

	// ── Router ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Logger)
	r.Use(auth.APIKeyAuth(keyStore))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Post("/v1/tickets/{id}/submit", sub.HandleSubmit)
	r.Get("/v1/tickets/{id}", sub.HandleGetTicket)

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("TICKETD_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ticketd starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down ticketd")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Submission handler
// ──────────────────────────────────────────────────────────────────────────────

type Submitter struct {
	log          *slog.Logger
	catalog      ruleSource
	tickets      ticketStore
	workflow     workflowStore
	rateLimiters map[string]*rate.Limiter
	rlOrder      []string
	rlMu         sync.Mutex
	perDeskLimit int
}

type ruleSource interface {
	ListEnabled(context.Context) ([]types.Rule, error)
}

type ticketStore interface {
	Get(context.Context, string) (*types.Ticket, error)
	SetStatus(context.Context, string, types.TicketStatus) error
}

type workflowStore interface {
	CreateRequest(context.Context, types.CreateRequestInput) (*types.ApprovalRequest, error)
	GetActiveForTicket(context.Context, string) (*types.ApprovalRequest, error)
}

// HandleSubmit is POST /v1/tickets/{id}/submit.
//
// The rule catalog is evaluated exactly once, here; the resulting approver
// set is frozen onto the request and never re-derived mid-flight, even if
// rules change while approvals are outstanding.
func (s *Submitter) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticketID := chi.URLParam(r, "id")

	if _, err := uuid.Parse(ticketID); err != nil {
		types.ErrBadRequest("invalid ticket id format").WriteJSON(w)
		return
	}

	desk := auth.DeskFromContext(ctx)
	if !s.allowRate(desk) {
		types.ErrRateLimited().WriteJSON(w)
		return
	}

	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		s.log.ErrorContext(ctx, "ticket load failed", "ticket_id", ticketID, "error", err)
		types.ErrInternal("failed to load ticket").WriteJSON(w)
		return
	}
	if ticket == nil {
		types.ErrNotFound("ticket not found").WriteJSON(w)
		return
	}
	// Desk-scoped visibility: a key for one desk cannot see another's tickets.
	if desk != "" && ticket.Desk != desk {
		types.ErrNotFound("ticket not found").WriteJSON(w)
		return
	}

	switch ticket.Status {
	case types.TicketApproved, types.TicketRejected:
		types.ErrConflict("ticket is already settled").WriteJSON(w)
		return
	case types.TicketPendingApproval:
		// Re-submission while an approval is in flight returns the
		// existing request rather than opening a second one. Rules are
		// not re-evaluated for an in-flight request.
		existing, err := s.workflow.GetActiveForTicket(ctx, ticketID)
		if err != nil {
			s.log.ErrorContext(ctx, "active request lookup failed", "ticket_id", ticketID, "error", err)
			types.ErrInternal("failed to load approval request").WriteJSON(w)
			return
		}
		if existing != nil {
			writeJSON(w, s.log, http.StatusOK, types.SubmitTicketResponse{
				TicketID:      ticketID,
				TicketStatus:  types.TicketPendingApproval,
				Request:       existing,
				RuleTriggered: existing.RuleTriggered,
			})
			return
		}
	}

	ruleSet, err := s.catalog.ListEnabled(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "rule catalog load failed", "error", err)
		types.ErrInternal("failed to load rule catalog").WriteJSON(w)
		return
	}

	matched := rules.Match(ruleSet, ticket.Facts)
	required := rules.Resolve(matched)

	if required.None() {
		if err := s.tickets.SetStatus(ctx, ticketID, types.TicketSubmitted); err != nil {
			s.log.ErrorContext(ctx, "ticket status update failed", "ticket_id", ticketID, "error", err)
			types.ErrInternal("failed to update ticket").WriteJSON(w)
			return
		}
		s.log.InfoContext(ctx, "ticket submitted without approval",
			"ticket_id", ticketID, "desk", ticket.Desk)
		writeJSON(w, s.log, http.StatusOK, types.SubmitTicketResponse{
			TicketID:     ticketID,
			TicketStatus: types.TicketSubmitted,
		})
		return
	}

	req, err := s.workflow.CreateRequest(ctx, types.CreateRequestInput{
		TicketID:          ticketID,
		RequiredApprovers: required.RequiredApprovers,
		RuleTriggered:     required.RuleTriggered,
		RoleRules:         required.RoleRules,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "approval request create failed", "ticket_id", ticketID, "error", err)
		types.ErrInternal("failed to open approval request").WriteJSON(w)
		return
	}

	writeJSON(w, s.log, http.StatusAccepted, types.SubmitTicketResponse{
		TicketID:      ticketID,
		TicketStatus:  types.TicketPendingApproval,
		Request:       req,
		RuleTriggered: req.RuleTriggered,
	})
}

// HandleGetTicket is GET /v1/tickets/{id}
func (s *Submitter) HandleGetTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticketID := chi.URLParam(r, "id")

	if _, err := uuid.Parse(ticketID); err != nil {
		types.ErrBadRequest("invalid ticket id format").WriteJSON(w)
		return
	}

	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		s.log.ErrorContext(ctx, "ticket load failed", "ticket_id", ticketID, "error", err)
		types.ErrInternal("failed to load ticket").WriteJSON(w)
		return
	}
	if ticket == nil {
		types.ErrNotFound("ticket not found").WriteJSON(w)
		return
	}
	desk := auth.DeskFromContext(ctx)
	if desk != "" && ticket.Desk != desk {
		types.ErrNotFound("ticket not found").WriteJSON(w)
		return
	}

	writeJSON(w, s.log, http.StatusOK, ticket)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode failed", "error", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Rate limiting (bounded map with eviction)
// ──────────────────────────────────────────────────────────────────────────────

func (s *Submitter) allowRate(desk string) bool {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	lim, ok := s.rateLimiters[desk]
	if ok {
		// Move to end of LRU order.
		for i, k := range s.rlOrder {
			if k == desk {
				s.rlOrder = append(s.rlOrder[:i], s.rlOrder[i+1:]...)
				break
			}
		}
		s.rlOrder = append(s.rlOrder, desk)
		return lim.Allow()
	}

	if len(s.rateLimiters) >= maxRateLimiters {
		oldest := s.rlOrder[0]
		s.rlOrder = s.rlOrder[1:]
		delete(s.rateLimiters, oldest)
	}

	lim = rate.NewLimiter(rate.Limit(s.perDeskLimit), s.perDeskLimit*2)
	s.rateLimiters[desk] = lim
	s.rlOrder = append(s.rlOrder, desk)
	return lim.Allow()
}
