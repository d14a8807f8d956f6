package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/querypilot/querypilot/internal/generation"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
)

type fakeWarehouse struct {
	dryRunBytes int64
	closed      bool
	ran         []string
}

func (f *fakeWarehouse) Run(_ context.Context, sql string) (warehouse.ResultSet, error) {
	f.ran = append(f.ran, sql)
	return warehouse.ResultSet{Columns: []string{"c"}, Rows: [][]any{{int64(1)}}}, nil
}

func (f *fakeWarehouse) DryRun(context.Context, string) (int64, error) { return f.dryRunBytes, nil }

func (f *fakeWarehouse) Close() error {
	f.closed = true
	return nil
}

type fakeRetriever struct {
	trained   map[string]int
	related   []training.Item
	err       error
	question  string
	forgotten []string
}

func (f *fakeRetriever) Train(_ context.Context, resource string, plan training.Plan) (int, error) {
	if f.trained == nil {
		f.trained = map[string]int{}
	}
	f.trained[resource] += plan.Len()
	return plan.Len(), nil
}

func (f *fakeRetriever) Related(_ context.Context, _ string, question string) ([]training.Item, error) {
	f.question = question
	return f.related, f.err
}

func (f *fakeRetriever) Forget(_ context.Context, scope string) error {
	f.forgotten = append(f.forgotten, scope)
	return nil
}

type fakeGenerator struct {
	related generation.Related
}

func (f *fakeGenerator) GenerateSQL(_ context.Context, _ string, related generation.Related) (string, error) {
	f.related = related
	return "SELECT 1", nil
}

func (f *fakeGenerator) GenerateChart(context.Context, string, string, warehouse.ResultSet) (json.RawMessage, error) {
	return json.RawMessage(`{"mark":"bar"}`), nil
}

func TestAgentGenerateSQLUsesRelatedItems(t *testing.T) {
	retriever := &fakeRetriever{related: []training.Item{
		{Kind: training.KindSQL, Name: "q", Value: "SELECT 2"},
		{Kind: training.KindDocumentation, Value: "DDL"},
	}}
	generator := &fakeGenerator{}
	a, err := New(&fakeWarehouse{}, retriever, generator, "p.d.t", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sql, err := a.GenerateSQL(context.Background(), "how many?")
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if sql != "SELECT 1" || retriever.question != "how many?" {
		t.Fatalf("sql = %q, question = %q", sql, retriever.question)
	}
	if len(generator.related.Examples) != 1 || len(generator.related.Documentation) != 1 {
		t.Fatalf("related = %+v", generator.related)
	}
}

func TestAgentGenerateSQLWrapsRetrievalFailure(t *testing.T) {
	cause := errors.New("vector store down")
	a, err := New(&fakeWarehouse{}, &fakeRetriever{err: cause}, &fakeGenerator{}, "p.d.t", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = a.GenerateSQL(context.Background(), "q")
	var genErr *generation.GenerationError
	if !errors.As(err, &genErr) || genErr.Op != "retrieve" || !errors.Is(err, cause) {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
}

func TestAgentTrainForgetAndCloseUseScope(t *testing.T) {
	wh := &fakeWarehouse{dryRunBytes: 42}
	retriever := &fakeRetriever{}
	a, err := New(wh, retriever, &fakeGenerator{}, "p.d.t", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := training.NewPlan(training.Item{Kind: training.KindDocumentation, Group: "p.d", Name: "t", Value: "DDL"})
	if err := a.Train(context.Background(), plan); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if retriever.trained["p.d.t"] != 1 {
		t.Fatalf("trained = %#v", retriever.trained)
	}

	bytes, err := a.DryRun(context.Background(), "SELECT 1")
	if err != nil || bytes != 42 {
		t.Fatalf("DryRun() = %d, %v", bytes, err)
	}
	if len(wh.ran) != 0 {
		t.Fatalf("dry run executed SQL: %v", wh.ran)
	}
	if err := a.Forget(context.Background()); err != nil || len(retriever.forgotten) != 1 || retriever.forgotten[0] != "p.d.t" {
		t.Fatalf("Forget() error = %v forgotten = %v", err, retriever.forgotten)
	}
	if err := a.Close(); err != nil || !wh.closed {
		t.Fatalf("Close() error = %v closed = %v", err, wh.closed)
	}
}

func TestNewRequiresCapabilities(t *testing.T) {
	if _, err := New(nil, &fakeRetriever{}, &fakeGenerator{}, "r", nil); err == nil {
		t.Fatal("expected error for missing warehouse")
	}
	if _, err := New(&fakeWarehouse{}, nil, &fakeGenerator{}, "r", nil); err == nil {
		t.Fatal("expected error for missing retriever")
	}
	if _, err := New(&fakeWarehouse{}, &fakeRetriever{}, nil, "r", nil); err == nil {
		t.Fatal("expected error for missing generator")
	}
}
