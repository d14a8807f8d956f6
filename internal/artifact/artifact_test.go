package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/warehouse"
)

type memoryStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (ObjectInfo, error) {
	if m.putErr != nil {
		return ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestTurnPrefix(t *testing.T) {
	ts := time.Date(2026, time.March, 4, 23, 30, 0, 0, time.FixedZone("x", -2*3600))
	got, err := TurnPrefix("session-1", ts, 7)
	if err != nil {
		t.Fatalf("TurnPrefix() error = %v", err)
	}
	if want := "session-1/date=2026-03-05/turn-000007"; got != want {
		t.Fatalf("TurnPrefix() = %q, want %q", got, want)
	}
	if _, err := TurnPrefix("../oops", ts, 1); err == nil {
		t.Fatal("expected invalid session id error")
	}
}

func TestRecorderSavesChartAndResult(t *testing.T) {
	store := newMemoryStore()
	recorder := NewRecorder(store, nil)
	recorder.now = func() time.Time { return time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC) }

	chart := json.RawMessage(`{"mark":"bar"}`)
	result := warehouse.ResultSet{Columns: []string{"status", "c"}, Rows: [][]any{{"paid", int64(2)}, {nil, int64(1)}}}
	saved, err := recorder.Save(context.Background(), "s1", 3, chart, result)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.ChartKey != "s1/date=2026-01-02/turn-000003/chart.vl.json" {
		t.Fatalf("ChartKey = %q", saved.ChartKey)
	}
	if saved.ResultKey != "s1/date=2026-01-02/turn-000003/result.parquet" || saved.Rows != 2 {
		t.Fatalf("saved = %+v", saved)
	}
	if string(store.objects[saved.ChartKey]) != `{"mark":"bar"}` {
		t.Fatalf("chart object = %q", store.objects[saved.ChartKey])
	}
	if store.contentTypes[saved.ChartKey] != "application/json" {
		t.Fatalf("chart content type = %q", store.contentTypes[saved.ChartKey])
	}
	if !bytes.HasPrefix(store.objects[saved.ResultKey], []byte("PAR1")) {
		t.Fatal("result object is not parquet")
	}
}

func TestRecorderSurfacesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("denied")
	recorder := NewRecorder(store, nil)
	_, err := recorder.Save(context.Background(), "s1", 1, json.RawMessage(`{}`), warehouse.ResultSet{})
	if !errors.Is(err, store.putErr) {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var recorder *Recorder
	saved, err := recorder.Save(context.Background(), "s1", 1, nil, warehouse.ResultSet{})
	if err != nil || saved != (Saved{}) {
		t.Fatalf("Save() = %+v, %v", saved, err)
	}
}
