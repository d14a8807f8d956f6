package bigquery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"

	"github.com/querypilot/querypilot/internal/warehouse"
)

type fakeQuerier struct {
	dryRunBytes int64
	dryRunErr   error
	result      warehouse.ResultSet
	readErr     error
	dryRunSQL   []string
	readSQL     []string
	closed      bool
}

func (f *fakeQuerier) dryRun(_ context.Context, sqlText string) (int64, error) {
	f.dryRunSQL = append(f.dryRunSQL, sqlText)
	return f.dryRunBytes, f.dryRunErr
}

func (f *fakeQuerier) read(_ context.Context, sqlText string) (warehouse.ResultSet, error) {
	f.readSQL = append(f.readSQL, sqlText)
	return f.result, f.readErr
}

func (f *fakeQuerier) close() error {
	f.closed = true
	return nil
}

func TestRunReturnsRows(t *testing.T) {
	fake := &fakeQuerier{result: warehouse.ResultSet{Columns: []string{"c"}, Rows: [][]any{{int64(3)}}}}
	client := newClient(fake, "p", "asia-southeast1")

	result, err := client.Run(context.Background(), "SELECT COUNT(*) AS c FROM t;")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != int64(3) {
		t.Fatalf("Run() = %#v", result)
	}
	if fake.readSQL[0] != "SELECT COUNT(*) AS c FROM t" {
		t.Fatalf("read sql = %q", fake.readSQL[0])
	}
}

func TestRunWrapsWarehouseDiagnostic(t *testing.T) {
	cause := errors.New("googleapi: Error 403: Access Denied")
	client := newClient(&fakeQuerier{readErr: cause}, "p", "")

	_, err := client.Run(context.Background(), "SELECT 1")
	var queryErr *warehouse.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("Run() error = %T, want QueryError", err)
	}
	if !errors.Is(err, cause) || !strings.Contains(err.Error(), "Access Denied") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestDryRunReportsBytesWithoutReading(t *testing.T) {
	fake := &fakeQuerier{dryRunBytes: 12345}
	client := newClient(fake, "p", "")

	for range 2 {
		bytes, err := client.DryRun(context.Background(), "SELECT 1")
		if err != nil {
			t.Fatalf("DryRun() error = %v", err)
		}
		if bytes != 12345 {
			t.Fatalf("DryRun() = %d", bytes)
		}
	}
	if len(fake.readSQL) != 0 {
		t.Fatalf("read called %d times during dry run", len(fake.readSQL))
	}
}

func TestDryRunFailureIsQueryError(t *testing.T) {
	client := newClient(&fakeQuerier{dryRunErr: errors.New("Syntax error")}, "p", "")
	_, err := client.DryRun(context.Background(), "SELEC 1")
	var queryErr *warehouse.QueryError
	if !errors.As(err, &queryErr) || queryErr.SQL != "SELEC 1" {
		t.Fatalf("DryRun() error = %v", err)
	}
}

func TestEmptySQLIsRejected(t *testing.T) {
	fake := &fakeQuerier{}
	client := newClient(fake, "p", "")
	if _, err := client.Run(context.Background(), " ; "); err == nil {
		t.Fatal("Run() expected error for empty sql")
	}
	if len(fake.readSQL) != 0 {
		t.Fatal("empty sql reached the warehouse")
	}
}

func TestCallsAfterCloseFailWithNotConnected(t *testing.T) {
	fake := &fakeQuerier{}
	client := newClient(fake, "p", "")
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.closed {
		t.Fatal("expected underlying client to be closed")
	}
	if _, err := client.Run(context.Background(), "SELECT 1"); !warehouse.IsNotConnected(err) {
		t.Fatalf("Run() error = %v, want NotConnectedError", err)
	}
	if _, err := client.DryRun(context.Background(), "SELECT 1"); !warehouse.IsNotConnected(err) {
		t.Fatalf("DryRun() error = %v, want NotConnectedError", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestConnectRequiresProject(t *testing.T) {
	_, err := Connect(context.Background(), warehouse.ConnectOptions{})
	var connErr *warehouse.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
}

func TestNormalizeRowFlattensNestedValues(t *testing.T) {
	row := normalizeRow([]bigquery.Value{
		[]byte("raw"),
		[]bigquery.Value{int64(1), int64(2)},
		map[string]bigquery.Value{"k": "v"},
	})
	if row[0] != "raw" {
		t.Fatalf("row[0] = %#v", row[0])
	}
	nested, ok := row[1].([]any)
	if !ok || len(nested) != 2 {
		t.Fatalf("row[1] = %#v", row[1])
	}
	record, ok := row[2].(map[string]any)
	if !ok || record["k"] != "v" {
		t.Fatalf("row[2] = %#v", row[2])
	}
}
