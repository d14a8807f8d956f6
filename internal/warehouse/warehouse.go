package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Records returns the rows keyed by column name, in row order.
func (r ResultSet) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// Head returns a copy limited to the first n rows.
func (r ResultSet) Head(n int) ResultSet {
	if n < 0 || n >= len(r.Rows) {
		n = len(r.Rows)
	}
	return ResultSet{Columns: r.Columns, Rows: r.Rows[:n]}
}

type ConnectOptions struct {
	ProjectID   string
	Location    string
	AccessToken string
}

type Client interface {
	Run(ctx context.Context, sql string) (ResultSet, error)
	DryRun(ctx context.Context, sql string) (int64, error)
	Close() error
}

type Connector func(ctx context.Context, opts ConnectOptions) (Client, error)

type ConnectionError struct {
	ProjectID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to warehouse project %q: %v", e.ProjectID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	if e.Op == "" {
		return "warehouse is not connected"
	}
	return fmt.Sprintf("%s: warehouse is not connected", e.Op)
}

// QueryError carries the warehouse diagnostic for a failed run or dry run.
type QueryError struct {
	Op  string
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
