// Package session owns the per-session agent: it validates settings,
// connects to the warehouse, trains the retrieval index and runs turns one
// at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/querypilot/querypilot/internal/agent"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
	"github.com/querypilot/querypilot/internal/workflow"
)

const (
	ReadyMessage         = "Agent is ready to use. Please enter a query to get started."
	NotConfiguredMessage = "Please update settings to initialize the agent"
)

type Generator interface {
	agent.Generator
	training.QuestionGenerator
}

type Dependencies struct {
	Connector   warehouse.Connector
	Dialect     training.Dialect
	Retriever   agent.Retriever
	Generator   Generator
	History     history.Store
	Artifacts   workflow.ArtifactSaver
	StepTimeout time.Duration
	Logger      *slog.Logger
}

// Summary describes a successfully configured session.
type Summary struct {
	SessionID          string `json:"session_id"`
	ResourceID         string `json:"resource_id"`
	DocumentationItems int    `json:"documentation_items"`
	SQLItems           int    `json:"sql_items"`
	Message            string `json:"message"`
}

type Manager struct {
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is the state kept for one chat session between messages.
type Session struct {
	id   string
	busy atomic.Bool

	mu        sync.Mutex
	agent     *agent.Agent
	settings  Settings
	configErr *ConfigurationError
	closed    bool
}

func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Connector == nil {
		return nil, errors.New("warehouse connector is required")
	}
	if deps.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if deps.Dialect == nil {
		deps.Dialect = training.BigQuery{}
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{deps: deps, sessions: map[string]*Session{}}, nil
}

func (m *Manager) session(id string, create bool) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok && create {
		s = &Session{id: id}
		m.sessions[id] = s
	}
	return s
}

// Configure installs a freshly trained agent for the session, replacing and
// closing any previous one. On failure the session is left without an agent
// and the error is remembered for the next message.
func (m *Manager) Configure(ctx context.Context, sessionID string, settings Settings) (Summary, error) {
	s := m.session(sessionID, true)
	if !s.busy.CompareAndSwap(false, true) {
		return Summary{}, ErrTurnInProgress
	}
	defer m.release(s)

	logger := m.deps.Logger.With(slog.String("session_id", sessionID))
	logger.InfoContext(ctx, "configuring session", slog.Any("settings", settings.Redacted()))

	s.mu.Lock()
	previous := s.agent
	s.agent = nil
	s.settings = settings
	s.configErr = nil
	s.mu.Unlock()
	if previous != nil {
		m.retire(ctx, previous, logger)
	}

	installed, summary, err := m.build(ctx, sessionID, settings, logger)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.configErr = configurationFailure(err)
		logger.WarnContext(ctx, "session configuration failed", slog.Any("error", err))
		return Summary{}, s.configErr
	}
	s.agent = installed
	logger.InfoContext(ctx, "session ready",
		slog.String("resource_id", summary.ResourceID),
		slog.Int("documentation_items", summary.DocumentationItems),
		slog.Int("sql_items", summary.SQLItems),
	)
	return summary, nil
}

func (m *Manager) build(ctx context.Context, sessionID string, settings Settings, logger *slog.Logger) (*agent.Agent, Summary, error) {
	if err := settings.Validate(); err != nil {
		return nil, Summary{}, err
	}
	resource, err := training.ParseResourceID(settings.ResourceID)
	if err != nil {
		return nil, Summary{}, err
	}

	connectCtx, cancel := m.withStepTimeout(ctx)
	client, err := m.deps.Connector(connectCtx, warehouse.ConnectOptions{
		ProjectID:   settings.ProjectID,
		Location:    settings.Location,
		AccessToken: settings.AccessToken,
	})
	cancel()
	if err != nil {
		return nil, Summary{}, err
	}

	builder := training.NewBuilder(boundedRunner{runner: client, bound: m.withStepTimeout}, m.deps.Dialect)
	builder.Questions = boundedQuestions{questions: m.deps.Generator, bound: m.withStepTimeout}
	builder.Logger = logger

	plan, err := builder.Build(ctx, settings.Location, settings.ResourceID)
	if err != nil {
		_ = client.Close()
		return nil, Summary{}, err
	}

	// history examples are optional; a failure only drops them
	historyPlan, err := builder.BuildHistory(ctx, settings.Location, settings.ResourceID, settings.HistoryQueries)
	if err != nil {
		logger.WarnContext(ctx, "skipping historical queries", slog.Any("error", err))
		historyPlan = training.NewPlan()
	}

	scope := retrieval.Scope(sessionID, resource.String())
	a, err := agent.New(client, m.deps.Retriever, m.deps.Generator, scope, logger)
	if err != nil {
		_ = client.Close()
		return nil, Summary{}, err
	}

	// items left behind by an earlier process under the same scope
	forgetCtx, cancel := m.withStepTimeout(ctx)
	err = a.Forget(forgetCtx)
	cancel()
	if err != nil {
		_ = a.Close()
		return nil, Summary{}, fmt.Errorf("reset retrieval index: %w", err)
	}

	combined := training.NewPlan(append(plan.Items(), historyPlan.Items()...)...)
	trainCtx, cancel := m.withStepTimeout(ctx)
	err = a.Train(trainCtx, combined)
	cancel()
	if err != nil {
		m.retire(ctx, a, logger)
		return nil, Summary{}, fmt.Errorf("train retrieval index: %w", err)
	}

	return a, Summary{
		SessionID:          sessionID,
		ResourceID:         resource.String(),
		DocumentationItems: combined.CountByKind(training.KindDocumentation),
		SQLItems:           combined.CountByKind(training.KindSQL),
		Message:            ReadyMessage,
	}, nil
}

// Handle answers one question. Configuration problems are sent to the
// conversation as an error message and returned. A session runs one turn at a
// time; a concurrent call fails with ErrTurnInProgress.
func (m *Manager) Handle(ctx context.Context, sessionID, question string, conv workflow.Conversation) (*workflow.Turn, error) {
	s := m.session(sessionID, false)
	if s == nil {
		return nil, m.reportConfiguration(ctx, conv, &ConfigurationError{Problems: []string{NotConfiguredMessage}})
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}
	defer m.release(s)

	s.mu.Lock()
	current, configErr := s.agent, s.configErr
	s.mu.Unlock()
	if configErr != nil {
		return nil, m.reportConfiguration(ctx, conv, configErr)
	}
	if current == nil {
		return nil, m.reportConfiguration(ctx, conv, &ConfigurationError{Problems: []string{NotConfiguredMessage}})
	}

	turnID, err := m.deps.History.NextTurnID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("allocate turn id: %w", err)
	}
	flow := workflow.New(current, workflow.Options{
		StepTimeout: m.deps.StepTimeout,
		Artifacts:   m.deps.Artifacts,
		Logger:      m.deps.Logger,
	})
	turn := flow.Run(ctx, sessionID, turnID, question, conv)

	// the turn may have outlived the request context
	if err := m.deps.History.Append(context.WithoutCancel(ctx), sessionID, entryFromTurn(turn)); err != nil {
		m.deps.Logger.WarnContext(ctx, "append turn history", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	return turn, nil
}

func (m *Manager) reportConfiguration(ctx context.Context, conv workflow.Conversation, cfgErr *ConfigurationError) error {
	if conv != nil {
		_ = conv.Send(ctx, workflow.Message{Kind: workflow.MessageError, Author: workflow.Author, Content: cfgErr.Error()})
	}
	return cfgErr
}

// release ends a turn and closes the agent if the session was destroyed
// while the turn was running.
func (m *Manager) release(s *Session) {
	s.mu.Lock()
	var orphan *agent.Agent
	if s.closed && s.agent != nil {
		orphan, s.agent = s.agent, nil
	}
	s.mu.Unlock()
	s.busy.Store(false)
	if orphan != nil {
		m.retire(context.Background(), orphan, m.deps.Logger.With(slog.String("session_id", s.id)))
	}
}

// retire removes the agent's training material and closes its connection.
func (m *Manager) retire(ctx context.Context, a *agent.Agent, logger *slog.Logger) {
	forgetCtx, cancel := m.withStepTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := a.Forget(forgetCtx); err != nil {
		logger.Warn("forget training material", slog.String("scope", a.Scope()), slog.Any("error", err))
	}
	if err := a.Close(); err != nil {
		logger.Warn("close agent", slog.Any("error", err))
	}
}

// withStepTimeout bounds one setup call the way the workflow bounds a step.
func (m *Manager) withStepTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.deps.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.deps.StepTimeout)
}

type boundedRunner struct {
	runner training.Runner
	bound  func(context.Context) (context.Context, context.CancelFunc)
}

func (r boundedRunner) Run(ctx context.Context, sql string) (warehouse.ResultSet, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.runner.Run(ctx, sql)
}

type boundedQuestions struct {
	questions training.QuestionGenerator
	bound     func(context.Context) (context.Context, context.CancelFunc)
}

func (q boundedQuestions) GenerateQuestion(ctx context.Context, sql string) (string, error) {
	ctx, cancel := q.bound(ctx)
	defer cancel()
	return q.questions.GenerateQuestion(ctx, sql)
}

// Destroy closes the session's connection and forgets its state, its
// training material and its history.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	var closeErr error
	if ok {
		s.mu.Lock()
		s.closed = true
		var idle *agent.Agent
		if !s.busy.Load() {
			idle, s.agent = s.agent, nil
		}
		s.mu.Unlock()
		if idle != nil {
			forgetCtx, cancel := m.withStepTimeout(ctx)
			forgetErr := idle.Forget(forgetCtx)
			cancel()
			if forgetErr != nil {
				forgetErr = fmt.Errorf("forget training material: %w", forgetErr)
			}
			closeErr = errors.Join(forgetErr, idle.Close())
		}
	}
	if err := m.deps.History.Delete(ctx, sessionID); err != nil {
		return errors.Join(closeErr, fmt.Errorf("delete history: %w", err))
	}
	return closeErr
}

func (m *Manager) History(ctx context.Context, sessionID string) ([]history.Entry, error) {
	return m.deps.History.List(ctx, sessionID)
}

type Status struct {
	Exists     bool     `json:"exists"`
	Ready      bool     `json:"ready"`
	Busy       bool     `json:"busy"`
	ResourceID string   `json:"resource_id,omitempty"`
	Problems   []string `json:"problems,omitempty"`
}

func (m *Manager) Status(sessionID string) Status {
	s := m.session(sessionID, false)
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Exists: true, Busy: s.busy.Load(), ResourceID: s.settings.ResourceID}
	if s.configErr != nil {
		status.Problems = s.configErr.Problems
		return status
	}
	status.Ready = s.agent != nil
	return status
}

// Close destroys every session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func entryFromTurn(turn *workflow.Turn) history.Entry {
	return history.Entry{
		TurnID:         turn.ID,
		Question:       turn.Question,
		SQL:            turn.SQL,
		EstimatedBytes: turn.EstimatedBytes,
		Decision:       turn.Decision,
		State:          string(turn.State),
		Failure:        turn.Failure,
		Rows:           len(turn.Result.Rows),
		ChartKey:       turn.Artifacts.ChartKey,
		ResultKey:      turn.Artifacts.ResultKey,
		StartedAt:      turn.StartedAt,
		FinishedAt:     turn.FinishedAt,
	}
}
