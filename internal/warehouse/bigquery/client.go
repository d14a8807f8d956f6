package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"golang.org/x/oauth2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/querypilot/querypilot/internal/warehouse"
)

const validationSQL = "SELECT 1"

type querier interface {
	dryRun(ctx context.Context, sqlText string) (int64, error)
	read(ctx context.Context, sqlText string) (warehouse.ResultSet, error)
	close() error
}

// Client is a warehouse.Client backed by one BigQuery project and location.
type Client struct {
	mu        sync.RWMutex
	querier   querier
	projectID string
	location  string
}

var _ warehouse.Client = (*Client)(nil)

// Connect builds a BigQuery client and validates it with a dry run. An empty
// access token falls back to application default credentials.
func Connect(ctx context.Context, opts warehouse.ConnectOptions) (*Client, error) {
	projectID := strings.TrimSpace(opts.ProjectID)
	if projectID == "" {
		return nil, &warehouse.ConnectionError{ProjectID: projectID, Err: errors.New("project id is required")}
	}

	clientOpts := make([]option.ClientOption, 0, 1)
	if token := strings.TrimSpace(opts.AccessToken); token != "" {
		clientOpts = append(clientOpts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		})))
	}
	// the client outlives ctx, which only bounds the validation dry run
	bq, err := bigquery.NewClient(context.WithoutCancel(ctx), projectID, clientOpts...)
	if err != nil {
		return nil, &warehouse.ConnectionError{ProjectID: projectID, Err: err}
	}

	client := newClient(&bigQueryQuerier{client: bq, location: strings.TrimSpace(opts.Location)}, projectID, opts.Location)
	if _, err := client.querier.dryRun(ctx, validationSQL); err != nil {
		_ = client.Close()
		return nil, &warehouse.ConnectionError{ProjectID: projectID, Err: err}
	}
	return client, nil
}

// Connector adapts Connect to warehouse.Connector.
func Connector(ctx context.Context, opts warehouse.ConnectOptions) (warehouse.Client, error) {
	client, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newClient(q querier, projectID, location string) *Client {
	return &Client{querier: q, projectID: projectID, location: location}
}

func (c *Client) ProjectID() string { return c.projectID }

func (c *Client) Location() string { return c.location }

func (c *Client) Run(ctx context.Context, sqlText string) (warehouse.ResultSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.querier == nil {
		return warehouse.ResultSet{}, &warehouse.NotConnectedError{Op: "run"}
	}
	sqlText = warehouse.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", Err: errors.New("sql is required")}
	}
	result, err := c.querier.read(ctx, sqlText)
	if err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Op: "run", SQL: sqlText, Err: err}
	}
	return result, nil
}

func (c *Client) DryRun(ctx context.Context, sqlText string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.querier == nil {
		return 0, &warehouse.NotConnectedError{Op: "dry run"}
	}
	sqlText = warehouse.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return 0, &warehouse.QueryError{Op: "dry run", Err: errors.New("sql is required")}
	}
	bytes, err := c.querier.dryRun(ctx, sqlText)
	if err != nil {
		return 0, &warehouse.QueryError{Op: "dry run", SQL: sqlText, Err: err}
	}
	return bytes, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.querier == nil {
		return nil
	}
	err := c.querier.close()
	c.querier = nil
	if err != nil {
		return fmt.Errorf("close bigquery client: %w", err)
	}
	return nil
}

type bigQueryQuerier struct {
	client   *bigquery.Client
	location string
}

func (q *bigQueryQuerier) query(sqlText string) *bigquery.Query {
	query := q.client.Query(sqlText)
	if q.location != "" {
		query.Location = q.location
	}
	return query
}

func (q *bigQueryQuerier) dryRun(ctx context.Context, sqlText string) (int64, error) {
	query := q.query(sqlText)
	query.DryRun = true
	job, err := query.Run(ctx)
	if err != nil {
		return 0, err
	}
	status := job.LastStatus()
	if status == nil {
		return 0, errors.New("dry run returned no job status")
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if status.Statistics == nil {
		return 0, nil
	}
	return status.Statistics.TotalBytesProcessed, nil
}

func (q *bigQueryQuerier) read(ctx context.Context, sqlText string) (warehouse.ResultSet, error) {
	it, err := q.query(sqlText).Read(ctx)
	if err != nil {
		return warehouse.ResultSet{}, err
	}

	rows := make([][]any, 0)
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return warehouse.ResultSet{}, err
		}
		rows = append(rows, normalizeRow(values))
	}

	columns := make([]string, 0, len(it.Schema))
	for _, field := range it.Schema {
		columns = append(columns, field.Name)
	}
	return warehouse.ResultSet{Columns: columns, Rows: rows}, nil
}

func (q *bigQueryQuerier) close() error {
	return q.client.Close()
}

func normalizeRow(values []bigquery.Value) []any {
	row := make([]any, len(values))
	for i, value := range values {
		row[i] = normalizeValue(value)
	}
	return warehouse.NormalizeValues(row)
}

func normalizeValue(value bigquery.Value) any {
	switch typed := value.(type) {
	case []bigquery.Value:
		return normalizeRow(typed)
	case map[string]bigquery.Value:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = normalizeValue(nested)
		}
		return out
	default:
		return typed
	}
}
