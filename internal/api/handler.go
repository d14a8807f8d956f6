package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/workflow"
)

type ReadinessCheck func(ctx context.Context) error

// SessionService is the session manager as seen by the HTTP layer.
type SessionService interface {
	Configure(ctx context.Context, sessionID string, settings session.Settings) (session.Summary, error)
	Handle(ctx context.Context, sessionID, question string, conv workflow.Conversation) (*workflow.Turn, error)
	Destroy(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]history.Entry, error)
	Status(sessionID string) session.Status
}

type Dependencies struct {
	Logger              *slog.Logger
	Readiness           ReadinessCheck
	AuthMiddleware      func(http.Handler) http.Handler
	DependencyTimeout   time.Duration
	Sessions            SessionService
	TurnTimeout         time.Duration
	ConfirmationTimeout time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := newSessionRoutes(deps)
	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/settings", routes.handleSettingsForm)
	protected.HandleFunc("GET /v1/sessions/{session}", routes.handleGetSession)
	protected.HandleFunc("PUT /v1/sessions/{session}", routes.handleConfigure)
	protected.HandleFunc("DELETE /v1/sessions/{session}", routes.handleDestroy)
	protected.HandleFunc("POST /v1/sessions/{session}/messages", routes.handleMessage)
	protected.HandleFunc("POST /v1/sessions/{session}/actions/{action}", routes.handleAction)
	protected.HandleFunc("GET /v1/sessions/{session}/history", routes.handleHistory)

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, pattern := range []string{
		"GET /v1/settings",
		"GET /v1/sessions/{session}",
		"PUT /v1/sessions/{session}",
		"DELETE /v1/sessions/{session}",
		"POST /v1/sessions/{session}/messages",
		"POST /v1/sessions/{session}/actions/{action}",
		"GET /v1/sessions/{session}/history",
	} {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckVectorStoreDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.VectorStore.DSN == "" {
			return errors.New("vector store dsn is not configured")
		}
		return nil
	}
}

func CheckArtifactStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Artifacts.Enabled {
			return nil
		}
		if cfg.Artifacts.Endpoint == "" {
			return errors.New("artifact store endpoint is not configured")
		}
		if cfg.Artifacts.Bucket == "" {
			return errors.New("artifact store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
