// Package artifact persists per-turn outputs (chart specs and result exports)
// to an object store.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"time"

	"github.com/querypilot/querypilot/internal/warehouse"
)

var ErrObjectNotFound = errors.New("object not found")

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Saved names the objects written for one turn.
type Saved struct {
	ChartKey  string `json:"chart_key,omitempty"`
	ResultKey string `json:"result_key,omitempty"`
	Rows      int64  `json:"rows"`
}

// Recorder writes chart specs and parquet result exports under
// <session>/<date>/turn-<id>.
type Recorder struct {
	store  ObjectStore
	now    func() time.Time
	logger *slog.Logger
}

func NewRecorder(store ObjectStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, now: time.Now, logger: logger}
}

func (r *Recorder) Save(ctx context.Context, sessionID string, turnID int64, chart json.RawMessage, result warehouse.ResultSet) (Saved, error) {
	if r == nil || r.store == nil {
		return Saved{}, nil
	}
	prefix, err := TurnPrefix(sessionID, r.now(), turnID)
	if err != nil {
		return Saved{}, err
	}

	saved := Saved{}
	if len(chart) > 0 {
		key := path.Join(prefix, "chart.vl.json")
		if _, err := r.store.Put(ctx, key, bytes.NewReader(chart), int64(len(chart)), "application/json"); err != nil {
			return Saved{}, fmt.Errorf("save chart: %w", err)
		}
		saved.ChartKey = key
	}

	encoded, err := EncodeResultToParquet(result)
	if err != nil {
		return saved, err
	}
	key := path.Join(prefix, "result.parquet")
	if _, err := r.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), "application/vnd.apache.parquet"); err != nil {
		return saved, fmt.Errorf("save result export: %w", err)
	}
	saved.ResultKey = key
	saved.Rows = encoded.RowCount

	r.logger.Debug("saved turn artifacts",
		slog.String("session_id", sessionID),
		slog.Int64("turn_id", turnID),
		slog.String("chart_key", saved.ChartKey),
		slog.String("result_key", saved.ResultKey),
	)
	return saved, nil
}

// TurnPrefix builds the key prefix for one turn's artifacts.
func TurnPrefix(sessionID string, at time.Time, turnID int64) (string, error) {
	if !keyComponentPattern.MatchString(sessionID) {
		return "", fmt.Errorf("invalid session id: %q", sessionID)
	}
	if turnID < 0 {
		return "", fmt.Errorf("turn id must be >= 0")
	}
	ts := at.UTC()
	return path.Join(
		sessionID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("turn-%06d", turnID),
	), nil
}
