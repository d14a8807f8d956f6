// Package history keeps an append-only log of finished turns per session.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/config"
)

type Entry struct {
	TurnID         int64     `json:"turn_id"`
	Question       string    `json:"question"`
	SQL            string    `json:"sql,omitempty"`
	EstimatedBytes int64     `json:"estimated_bytes"`
	Decision       string    `json:"decision,omitempty"`
	State          string    `json:"state"`
	Failure        string    `json:"failure,omitempty"`
	Rows           int       `json:"rows"`
	ChartKey       string    `json:"chart_key,omitempty"`
	ResultKey      string    `json:"result_key,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Store is implemented by the in-memory and Redis logs. List returns entries
// oldest first and at most the configured number of turns.
type Store interface {
	NextTurnID(ctx context.Context, sessionID string) (int64, error)
	Append(ctx context.Context, sessionID string, entry Entry) error
	List(ctx context.Context, sessionID string) ([]Entry, error)
	Delete(ctx context.Context, sessionID string) error
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.HistoryMemory:
		return NewMemoryStore(cfg.MaxTurns), nil
	case config.HistoryRedis:
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", cfg.Driver)
	}
}
