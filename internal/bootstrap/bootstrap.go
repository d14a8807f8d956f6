// Package bootstrap wires configuration into a running session manager.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/querypilot/querypilot/internal/artifact"
	s3store "github.com/querypilot/querypilot/internal/artifact/s3"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/generation"
	embedder "github.com/querypilot/querypilot/internal/generation/embedding"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/retrieval"
	retrievalpostgres "github.com/querypilot/querypilot/internal/retrieval/postgres"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
	"github.com/querypilot/querypilot/internal/warehouse/bigquery"
	"github.com/querypilot/querypilot/internal/warehouse/duckdb"
)

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Runtime owns everything a session manager needs and releases it on Close.
type Runtime struct {
	Sessions *session.Manager

	checks  []func(context.Context) error
	closers []func() error
}

// Warehouse returns the connector and metadata dialect for the configured
// warehouse driver.
func Warehouse(cfg config.WarehouseConfig) (warehouse.Connector, training.Dialect, error) {
	switch cfg.Driver {
	case config.WarehouseBigQuery:
		return bigquery.Connector, training.BigQuery{}, nil
	case config.WarehouseDuckDB:
		return duckdb.NewConnector(cfg.DuckDBPath), training.DuckDB{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	built := false
	defer func() {
		if !built {
			_ = rt.Close(context.Background())
		}
	}()

	connector, dialect, err := Warehouse(cfg.Warehouse)
	if err != nil {
		return nil, err
	}

	chatModel, err := generation.NewChatModel(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("initialize chat model: %w", err)
	}
	embed, err := embedder.New(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	var store retrieval.Store = retrieval.NewMemoryStore()
	if cfg.VectorStore.DSN != "" {
		db, err := retrievalpostgres.Open(ctx, retrievalpostgres.DBConfig{
			DSN:             cfg.VectorStore.DSN,
			MaxOpenConns:    cfg.VectorStore.MaxOpenConns,
			MaxIdleConns:    cfg.VectorStore.MaxIdleConns,
			ConnMaxIdleTime: cfg.VectorStore.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.VectorStore.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		pgStore := retrievalpostgres.NewStore(db)
		rt.checks = append(rt.checks, pgStore.HealthCheck)
		store = pgStore
	} else {
		logger.Warn("vector store dsn not set; training items are kept in memory")
	}

	historyStore, err := history.New(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("initialize history store: %w", err)
	}
	registerLifecycle(rt, historyStore)

	deps := session.Dependencies{
		Connector:   connector,
		Dialect:     dialect,
		Retriever:   retrieval.NewIndex(embed, store, cfg.AI.TopK),
		Generator:   generation.NewGenerator(chatModel, dialect.Name()),
		History:     historyStore,
		StepTimeout: cfg.Warehouse.StepTimeout,
		Logger:      logger,
	}
	if cfg.Artifacts.Enabled {
		objects, err := s3store.New(ctx, cfg.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("initialize artifact store: %w", err)
		}
		deps.Artifacts = artifact.NewRecorder(objects, logger)
	}

	rt.Sessions, err = session.NewManager(deps)
	if err != nil {
		return nil, err
	}
	built = true
	return rt, nil
}

func registerLifecycle(rt *Runtime, component any) {
	if checker, ok := component.(healthChecker); ok {
		rt.checks = append(rt.checks, checker.HealthCheck)
	}
	if closer, ok := component.(io.Closer); ok {
		rt.closers = append(rt.closers, closer.Close)
	}
}

// HealthCheck runs every dependency check and stops at the first failure.
func (r *Runtime) HealthCheck(ctx context.Context) error {
	for _, check := range r.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close destroys every session and then releases shared resources in reverse
// order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Sessions != nil {
		if err := r.Sessions.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
