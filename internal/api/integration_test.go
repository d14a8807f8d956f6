//go:build integration

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/generation"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
	"github.com/querypilot/querypilot/internal/warehouse/duckdb"
	"github.com/querypilot/querypilot/internal/workflow"
)

type integrationGenerator struct{}

func (integrationGenerator) GenerateSQL(_ context.Context, _ string, related generation.Related) (string, error) {
	return "SELECT status, COUNT(*) AS c FROM warehouse.main.orders GROUP BY status ORDER BY status", nil
}

func (integrationGenerator) GenerateChart(context.Context, string, string, warehouse.ResultSet) (json.RawMessage, error) {
	return json.RawMessage(`{"mark":"bar","encoding":{"x":{"field":"status","type":"nominal"},"y":{"field":"c","type":"quantitative"}}}`), nil
}

func (integrationGenerator) GenerateQuestion(_ context.Context, sql string) (string, error) {
	return "What does " + sql + " return?", nil
}

type lengthEmbedder struct{}

func (lengthEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = []float64{1, float64(len(text) % 11)}
	}
	return out, nil
}

func TestConversationAgainstDuckDBWarehouse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "warehouse.duckdb")
	seed, err := duckdb.Connect(ctx, path, warehouse.ConnectOptions{})
	if err != nil {
		t.Fatalf("duckdb.Connect() error = %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE orders (id INTEGER, status VARCHAR)",
		"COMMENT ON TABLE orders IS 'customer orders'",
		"INSERT INTO orders VALUES (1, 'paid'), (2, 'paid'), (3, 'open')",
	} {
		if err := seed.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed %q error = %v", stmt, err)
		}
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("seed close error = %v", err)
	}

	historyStore, err := integrationHistory(ctx, t)
	if err != nil {
		t.Fatalf("history setup error = %v", err)
	}
	manager, err := session.NewManager(session.Dependencies{
		Connector: duckdb.NewConnector(path),
		Dialect:   training.DuckDB{},
		Retriever: retrieval.NewIndex(lengthEmbedder{}, retrieval.NewMemoryStore(), 5),
		Generator: integrationGenerator{},
		History:   historyStore,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer func() { _ = manager.Close(context.Background()) }()

	cfg, err := config.Load("querypilot-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{Sessions: manager})

	configured := doJSON(t, h, http.MethodPut, "/v1/sessions/it1", map[string]string{
		"access_token":        "unused",
		"bigquery_project_id": "warehouse",
		"location":            "local",
		"resource_id":         "warehouse.main.orders",
	})
	if configured.Code != http.StatusOK {
		t.Fatalf("configure status = %d body=%s", configured.Code, configured.Body.String())
	}

	paused := decodeTurn(t, doJSON(t, h, http.MethodPost, "/v1/sessions/it1/messages", messageRequest{Question: "orders by status"}))
	if paused.State != workflow.StateAwaitingConfirmation {
		t.Fatalf("state = %q", paused.State)
	}

	done := decodeTurn(t, doJSON(t, h, http.MethodPost, "/v1/sessions/it1/actions/continue", nil))
	if done.State != workflow.StateDone {
		t.Fatalf("state = %q failure=%q", done.State, done.Turn.Failure)
	}
	if done.Turn.Chart == nil || !strings.Contains(string(done.Turn.Chart.Spec), `"status":"open"`) {
		t.Fatalf("chart = %#v", done.Turn.Chart)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rr := doJSON(t, h, http.MethodGet, "/v1/sessions/it1/history", nil)
		if strings.Contains(rr.Body.String(), `"question":"orders by status"`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never recorded the turn: %s", rr.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func integrationHistory(ctx context.Context, t *testing.T) (history.Store, error) {
	t.Helper()
	redisURL := strings.TrimSpace(os.Getenv("QUERYPILOT_TEST_REDIS_URL"))
	if redisURL == "" {
		return history.NewMemoryStore(10), nil
	}
	return history.New(ctx, config.HistoryConfig{Driver: config.HistoryRedis, RedisURL: redisURL, TTL: time.Minute, MaxTurns: 10})
}
