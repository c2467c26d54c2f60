// Approvald hosts the approval workflow command surface and the rule
// catalog admin API for trade-ticket governance.
package main

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avasiliu/tradegate/pkg/audit"
	"github.com/avasiliu/tradegate/pkg/config"
	tgOtel "github.com/avasiliu/tradegate/pkg/otel"
	"github.com/avasiliu/tradegate/pkg/rules"
	"github.com/avasiliu/tradegate/pkg/types"
	"github.com/avasiliu/tradegate/pkg/workflow"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelShutdown, err := tgOtel.Setup(ctx, tgOtel.Config{
		ServiceName:    "tg-approvald",
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
	wfStore := workflow.NewLogger(workflow.NewStore(pool), log)
	trail := audit.NewStore(pool)
	authorizer := workflow.NewRoleAuthorizer(os.Getenv("APPROVER_ROLE_ALLOWLIST"))
	wfHandlers := workflow.NewHandlers(wfStore, trail, authorizer)
	ruleHandlers := rules.NewHandlers(rules.NewStore(pool))
	internalToken := os.Getenv("INTERNAL_AUTH_TOKEN")

	// ── Router ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

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
	r.Handle("/metrics", promhttp.Handler())

	// API routes with internal auth
	r.Group(func(r chi.Router) {
		r.Use(internalAuthMiddleware(internalToken))
		wfHandlers.RegisterRoutes(r)
		ruleHandlers.RegisterRoutes(r)
	})

	// ── Minimal web UI for pending approvals ─────────────────────────────
	r.Get("/ui/pending", func(w http.ResponseWriter, r *http.Request) {
		reqs, err := wfStore.ListPending(r.Context(), 100, 0)
		if err != nil {
			log.Error("list pending failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pendingTmpl.Execute(w, struct {
			Requests []types.ApprovalRequest
		}{Requests: reqs}); err != nil {
			log.Error("template execute failed", "error", err)
		}
	})

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("APPROVALD_ADDR", ":8081")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("approvald starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down approvald")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

// internalAuthMiddleware validates the X-Internal-Token header for service-to-service calls.
func internalAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("X-Internal-Token") != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Minimal server-rendered UI
// ──────────────────────────────────────────────────────────────────────────────

var pendingTmpl = template.Must(template.New("pending").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Pending Approvals</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 900px; margin: 2rem auto; padding: 0 1rem; }
    table { width: 100%; border-collapse: collapse; margin-top: 1rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid #e2e8f0; }
    th { background: #f7fafc; font-weight: 600; }
    tr:hover { background: #edf2f7; }
    h1 { color: #2d3748; }
    .empty { color: #718096; padding: 2rem 0; }
  </style>
</head>
<body>
  <h1>Pending Approvals</h1>
  {{if .Requests}}
  <table>
    <thead>
      <tr><th>ID</th><th>Ticket</th><th>Required approvers</th><th>Rule triggered</th><th>Created</th></tr>
    </thead>
    <tbody>
      {{range .Requests}}
      <tr>
        <td><code>{{.ID}}</code></td>
        <td><code>{{.TicketID}}</code></td>
        <td>{{range $i, $role := .RequiredApprovers}}{{if $i}}, {{end}}{{$role}}{{end}}</td>
        <td>{{.RuleTriggered}}</td>
        <td>{{.CreatedAt.Format "2006-01-02 15:04"}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
  {{else}}
  <p class="empty">No pending approvals.</p>
  {{end}}
</body>
</html>`))
