package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/warehouse"
	"github.com/querypilot/querypilot/internal/workflow"
)

const (
	defaultTurnTimeout         = 10 * time.Minute
	defaultConfirmationTimeout = 5 * time.Minute
	anonymousPrincipal         = "anonymous"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type sessionRoutes struct {
	sessions            SessionService
	logger              *slog.Logger
	turnTimeout         time.Duration
	confirmationTimeout time.Duration
	turns               *turnRegistry
}

func newSessionRoutes(deps Dependencies) *sessionRoutes {
	routes := &sessionRoutes{
		sessions:            deps.Sessions,
		logger:              deps.Logger,
		turnTimeout:         deps.TurnTimeout,
		confirmationTimeout: deps.ConfirmationTimeout,
		turns:               newTurnRegistry(),
	}
	if routes.logger == nil {
		routes.logger = slog.New(slog.DiscardHandler)
	}
	if routes.turnTimeout <= 0 {
		routes.turnTimeout = defaultTurnTimeout
	}
	if routes.confirmationTimeout <= 0 {
		routes.confirmationTimeout = defaultConfirmationTimeout
	}
	return routes
}

type turnResponse struct {
	SessionID     string             `json:"session_id"`
	State         workflow.State     `json:"state"`
	Messages      []workflow.Message `json:"messages"`
	PendingAction *workflow.Message  `json:"pending_action,omitempty"`
	Turn          *workflow.Turn     `json:"turn,omitempty"`
}

type messageRequest struct {
	Question string `json:"question"`
}

func (s *sessionRoutes) handleSettingsForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"greeting": fmt.Sprintf("Hello %s. %s", principalName(r.Context()), session.NotConfiguredMessage),
		"settings": session.SettingsForm(),
	})
}

func (s *sessionRoutes) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	status := s.sessions.Status(key)
	if !status.Exists {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, map[string]any{"session_id": id})
		return
	}
	_, pending := s.turns.get(key)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   id,
		"status":       status,
		"turn_pending": pending,
	})
}

func (s *sessionRoutes) handleConfigure(w http.ResponseWriter, r *http.Request) {
	id, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var settings session.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "request body must be valid JSON", false, nil)
		return
	}

	summary, err := s.sessions.Configure(r.Context(), key, settings)
	if err != nil {
		s.writeSessionError(r.Context(), w, id, err)
		return
	}
	summary.SessionID = id
	s.logger.Info("session configured",
		slog.String("session_id", key),
		slog.String("resource_id", summary.ResourceID),
		slog.Int("documentation_items", summary.DocumentationItems),
		slog.Int("sql_items", summary.SQLItems),
	)
	writeJSON(w, http.StatusOK, summary)
}

func (s *sessionRoutes) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Destroy(r.Context(), key); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_DESTROY_FAILED", err.Error(), true, map[string]any{"session_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "deleted"})
}

func (s *sessionRoutes) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "request body must be valid JSON", false, nil)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "question is required", false, nil)
		return
	}

	conv := newHTTPConversation(s.confirmationTimeout)
	if !s.turns.start(key, conv) {
		writeError(r.Context(), w, http.StatusConflict, "TURN_IN_PROGRESS", session.ErrTurnInProgress.Error(), true, map[string]any{"session_id": id})
		return
	}

	// the turn keeps running between the prompt and the decision request
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.turnTimeout)
	go func() {
		defer cancel()
		turn, err := s.sessions.Handle(turnCtx, key, question, conv)
		s.turns.finish(key, conv)
		conv.events <- turnEvent{turn: turn, err: err}
	}()

	s.await(w, r, id, conv)
}

func (s *sessionRoutes) handleAction(w http.ResponseWriter, r *http.Request) {
	id, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	action := r.PathValue("action")
	conv, running := s.turns.get(key)
	if !running {
		writeError(r.Context(), w, http.StatusConflict, "NO_PENDING_ACTION", "no turn is waiting for a decision", false, map[string]any{"session_id": id})
		return
	}
	waiting, err := conv.decide(action)
	if errors.Is(err, errInvalidAction) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ACTION", err.Error(), false, map[string]any{"action": action})
		return
	}
	if !waiting {
		writeError(r.Context(), w, http.StatusConflict, "NO_PENDING_ACTION", "no turn is waiting for a decision", false, map[string]any{"session_id": id})
		return
	}
	s.await(w, r, id, conv)
}

func (s *sessionRoutes) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	entries, err := s.sessions.History(r.Context(), key)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error(), true, map[string]any{"session_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": entries})
}

// await blocks until the turn pauses for a decision or finishes and writes
// the messages produced in the meantime.
func (s *sessionRoutes) await(w http.ResponseWriter, r *http.Request, id string, conv *httpConversation) {
	var event turnEvent
	select {
	case event = <-conv.events:
	case <-r.Context().Done():
		return
	}

	messages := conv.drain()
	switch {
	case event.prompt != nil:
		writeJSON(w, http.StatusOK, turnResponse{
			SessionID:     id,
			State:         workflow.StateAwaitingConfirmation,
			Messages:      messages,
			PendingAction: event.prompt,
		})
	case event.err != nil:
		s.writeSessionError(r.Context(), w, id, event.err)
	default:
		writeJSON(w, http.StatusOK, turnResponse{
			SessionID: id,
			State:     event.turn.State,
			Messages:  messages,
			Turn:      event.turn,
		})
	}
}

func (s *sessionRoutes) writeSessionError(ctx context.Context, w http.ResponseWriter, id string, err error) {
	var cfgErr *session.ConfigurationError
	var connErr *warehouse.ConnectionError
	switch {
	case errors.Is(err, session.ErrTurnInProgress):
		writeError(ctx, w, http.StatusConflict, "TURN_IN_PROGRESS", err.Error(), true, map[string]any{"session_id": id})
	case errors.As(err, &connErr):
		writeError(ctx, w, http.StatusBadGateway, "WAREHOUSE_UNAVAILABLE", err.Error(), true, map[string]any{"session_id": id})
	case errors.As(err, &cfgErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, "CONFIGURATION_ERROR", cfgErr.Error(), false, map[string]any{
			"session_id": id,
			"problems":   cfgErr.Problems,
		})
	default:
		s.logger.Error("session request failed", slog.String("session_id", id), slog.Any("error", err))
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", true, nil)
	}
}

// resolve validates the path session id and scopes it to the caller so two
// principals never share a session.
func (s *sessionRoutes) resolve(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if s.sessions == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "session manager is not configured", false, nil)
		return "", "", false
	}
	id := r.PathValue("session")
	if !sessionIDPattern.MatchString(id) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "session id must be 1-64 letters, digits, '-' or '_'", false, map[string]any{"session_id": id})
		return "", "", false
	}
	return id, principalName(r.Context()) + "." + id, true
}

func principalName(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.Principal != "" {
		return identity.Principal
	}
	return anonymousPrincipal
}
