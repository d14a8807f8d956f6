// Package agent composes a warehouse connection, a retrieval index and a
// generator into the capabilities a conversation turn needs.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/querypilot/querypilot/internal/generation"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
)

type Retriever interface {
	Train(ctx context.Context, resource string, plan training.Plan) (int, error)
	Related(ctx context.Context, resource, question string) ([]training.Item, error)
	Forget(ctx context.Context, resource string) error
}

type Generator interface {
	GenerateSQL(ctx context.Context, question string, related generation.Related) (string, error)
	GenerateChart(ctx context.Context, question, sql string, result warehouse.ResultSet) (json.RawMessage, error)
}

// Agent answers questions about one resource over one warehouse connection.
// It owns the connection and closes it on Close. Training material is stored
// and looked up under scope, which keeps one session's items away from others.
type Agent struct {
	warehouse warehouse.Client
	retriever Retriever
	generator Generator
	scope     string
	logger    *slog.Logger
}

func New(client warehouse.Client, retriever Retriever, generator Generator, scope string, logger *slog.Logger) (*Agent, error) {
	if client == nil {
		return nil, errors.New("warehouse client is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		warehouse: client,
		retriever: retriever,
		generator: generator,
		scope:     scope,
		logger:    logger,
	}, nil
}

func (a *Agent) Scope() string { return a.scope }

// Train stores a fully built plan in the retrieval index.
func (a *Agent) Train(ctx context.Context, plan training.Plan) error {
	inserted, err := a.retriever.Train(ctx, a.scope, plan)
	if err != nil {
		return err
	}
	observability.AddTrainingItems(string(training.KindDocumentation), plan.CountByKind(training.KindDocumentation))
	observability.AddTrainingItems(string(training.KindSQL), plan.CountByKind(training.KindSQL))
	a.logger.Info("trained retrieval index",
		slog.String("scope", a.scope),
		slog.Int("items", plan.Len()),
		slog.Int("inserted", inserted),
	)
	return nil
}

func (a *Agent) GenerateSQL(ctx context.Context, question string) (string, error) {
	items, err := a.retriever.Related(ctx, a.scope, question)
	if err != nil {
		return "", &generation.GenerationError{Op: "retrieve", Err: err}
	}
	return a.generator.GenerateSQL(ctx, question, generation.RelatedFromItems(items))
}

func (a *Agent) DryRun(ctx context.Context, sql string) (int64, error) {
	bytes, err := a.warehouse.DryRun(ctx, sql)
	if err != nil {
		return 0, err
	}
	observability.ObserveDryRunBytes(bytes)
	return bytes, nil
}

func (a *Agent) Run(ctx context.Context, sql string) (warehouse.ResultSet, error) {
	return a.warehouse.Run(ctx, sql)
}

func (a *Agent) GenerateChart(ctx context.Context, question, sql string, result warehouse.ResultSet) (json.RawMessage, error) {
	return a.generator.GenerateChart(ctx, question, sql, result)
}

// Forget drops everything trained under the agent's scope.
func (a *Agent) Forget(ctx context.Context) error {
	return a.retriever.Forget(ctx, a.scope)
}

func (a *Agent) Close() error {
	return a.warehouse.Close()
}
