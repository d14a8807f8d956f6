package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/warehouse"
)

const databaseSizeSQL = `SELECT CAST(COALESCE(SUM(used_blocks * block_size), 0) AS BIGINT) FROM pragma_database_size()`

// Client runs warehouse queries against a local DuckDB database. It stands in
// for BigQuery in development and tests: DryRun validates with EXPLAIN and
// reports the database size as an upper bound on bytes scanned.
type Client struct {
	mu sync.RWMutex
	db *sql.DB
}

var _ warehouse.Client = (*Client)(nil)

// NewConnector returns a warehouse.Connector opening the database at path.
// An empty path opens a private in-memory database.
func NewConnector(path string) warehouse.Connector {
	return func(ctx context.Context, opts warehouse.ConnectOptions) (warehouse.Client, error) {
		client, err := Connect(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func Connect(ctx context.Context, path string, opts warehouse.ConnectOptions) (*Client, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, &warehouse.ConnectionError{ProjectID: opts.ProjectID, Err: fmt.Errorf("open duckdb: %w", err)}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &warehouse.ConnectionError{ProjectID: opts.ProjectID, Err: fmt.Errorf("ping duckdb: %w", err)}
	}
	return &Client{db: db}, nil
}

func (c *Client) Run(ctx context.Context, sqlText string) (warehouse.ResultSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return warehouse.ResultSet{}, &warehouse.NotConnectedError{Op: "run"}
	}
	sqlText = warehouse.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", Err: errors.New("sql is required")}
	}

	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", SQL: sqlText, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", SQL: sqlText, Err: fmt.Errorf("query columns: %w", err)}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", SQL: sqlText, Err: fmt.Errorf("scan row: %w", err)}
		}
		resultRows = append(resultRows, warehouse.NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", SQL: sqlText, Err: fmt.Errorf("iterate rows: %w", err)}
	}
	return warehouse.ResultSet{Columns: columns, Rows: resultRows}, nil
}

func (c *Client) DryRun(ctx context.Context, sqlText string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return 0, &warehouse.NotConnectedError{Op: "dry run"}
	}
	sqlText = warehouse.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return 0, &warehouse.QueryError{Op: "dry run", Err: errors.New("sql is required")}
	}

	rows, err := c.db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return 0, &warehouse.QueryError{Op: "dry run", SQL: sqlText, Err: err}
	}
	if err := rows.Close(); err != nil {
		return 0, &warehouse.QueryError{Op: "dry run", SQL: sqlText, Err: err}
	}

	var size int64
	if err := c.db.QueryRowContext(ctx, databaseSizeSQL).Scan(&size); err != nil {
		return 0, &warehouse.QueryError{Op: "dry run", SQL: sqlText, Err: fmt.Errorf("estimate database size: %w", err)}
	}
	return size, nil
}

// Exec runs a statement that returns no rows. It is used to seed local
// warehouses and is not part of warehouse.Client.
func (c *Client) Exec(ctx context.Context, sqlText string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return &warehouse.NotConnectedError{Op: "exec"}
	}
	if _, err := c.db.ExecContext(ctx, sqlText); err != nil {
		return &warehouse.QueryError{Op: "exec", SQL: sqlText, Err: err}
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("close duckdb: %w", err)
	}
	return nil
}
