package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/warehouse"
)

var (
	ddlColumn        = "DDL"
	optionColumns    = []string{"TABLE_CATALOG", "TABLE_SCHEMA", "TABLE_NAME", "OPTION_NAME", "OPTION_TYPE"}
	fieldPathColumns = []string{"TABLE_CATALOG", "TABLE_SCHEMA", "TABLE_NAME", "COLUMN_NAME", "FIELD_PATH", "DATA_TYPE", "DESCRIPTION"}
)

const (
	viewTables           = "TABLES"
	viewTableOptions     = "TABLE_OPTIONS"
	viewColumnFieldPaths = "COLUMN_FIELD_PATHS"
	historyColumn        = "QUERY"
)

type Runner interface {
	Run(ctx context.Context, sql string) (warehouse.ResultSet, error)
}

// QuestionGenerator produces the natural-language question a SQL statement answers.
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, sql string) (string, error)
}

type Builder struct {
	Warehouse Runner
	Dialect   Dialect
	Questions QuestionGenerator
	Logger    *slog.Logger
}

func NewBuilder(runner Runner, dialect Dialect) *Builder {
	return &Builder{Warehouse: runner, Dialect: dialect}
}

// Build returns a documentation plan for one table: its DDL, its table
// options and its column field paths, in that order. Any failure aborts the
// whole build.
func (b *Builder) Build(ctx context.Context, location, resourceID string) (Plan, error) {
	id, err := ParseResourceID(resourceID)
	if err != nil {
		return Plan{}, err
	}
	if err := ValidateLocation(location); err != nil {
		return Plan{}, err
	}
	if b.Warehouse == nil {
		return Plan{}, &warehouse.NotConnectedError{Op: "build training plan"}
	}
	dialect := b.dialect()

	items := make([]Item, 0, 3)

	ddlResult, err := b.Warehouse.Run(ctx, dialect.DDLQuery(location, id))
	if err != nil {
		return Plan{}, fmt.Errorf("query %s for %s: %w", viewTables, id, err)
	}
	ddl, ok := firstString(ddlResult, ddlColumn)
	if !ok {
		return Plan{}, &MetadataNotFoundError{ResourceID: id.String(), View: viewTables}
	}
	items = append(items, documentation(id, ddl))

	optionsResult, err := b.Warehouse.Run(ctx, dialect.TableOptionsQuery(location, id))
	if err != nil {
		return Plan{}, fmt.Errorf("query %s for %s: %w", viewTableOptions, id, err)
	}
	items = append(items, documentation(id, describeView(viewTableOptions, id)+MarkdownTable(optionsResult, optionColumns)))

	fieldPathsResult, err := b.Warehouse.Run(ctx, dialect.ColumnFieldPathsQuery(location, id))
	if err != nil {
		return Plan{}, fmt.Errorf("query %s for %s: %w", viewColumnFieldPaths, id, err)
	}
	items = append(items, documentation(id, describeView(viewColumnFieldPaths, id)+MarkdownTable(fieldPathsResult, fieldPathColumns)))

	b.logger().DebugContext(ctx, "training plan built",
		slog.String("resource_id", id.String()),
		slog.Int("items", len(items)),
	)
	return NewPlan(items...), nil
}

// BuildHistory returns a plan of SQL examples taken from recent successful
// queries against the table, each paired with a generated question. An empty
// plan is returned when the dialect keeps no query history.
func (b *Builder) BuildHistory(ctx context.Context, location, resourceID string, limit int) (Plan, error) {
	id, err := ParseResourceID(resourceID)
	if err != nil {
		return Plan{}, err
	}
	if limit <= 0 {
		return Plan{}, nil
	}
	if err := ValidateLocation(location); err != nil {
		return Plan{}, err
	}
	if b.Warehouse == nil {
		return Plan{}, &warehouse.NotConnectedError{Op: "build history plan"}
	}
	if b.Questions == nil {
		return Plan{}, errors.New("question generator is required for history training")
	}
	historySQL, ok := b.dialect().HistoryQuery(location, id, limit)
	if !ok {
		b.logger().DebugContext(ctx, "query history unavailable", slog.String("dialect", b.dialect().Name()))
		return Plan{}, nil
	}

	result, err := b.Warehouse.Run(ctx, historySQL)
	if err != nil {
		return Plan{}, fmt.Errorf("query history for %s: %w", id, err)
	}
	idx := columnIndex(result.Columns, historyColumn)
	if idx < 0 {
		return Plan{}, fmt.Errorf("query history for %s: missing %s column", id, historyColumn)
	}

	seen := map[string]struct{}{}
	items := make([]Item, 0, len(result.Rows))
	for _, row := range result.Rows {
		if idx >= len(row) {
			continue
		}
		sqlText, _ := row[idx].(string)
		sqlText = strings.TrimSpace(sqlText)
		if sqlText == "" {
			continue
		}
		if _, dup := seen[sqlText]; dup {
			continue
		}
		seen[sqlText] = struct{}{}

		question, err := b.Questions.GenerateQuestion(ctx, sqlText)
		if err != nil {
			return Plan{}, fmt.Errorf("generate question for historical query: %w", err)
		}
		items = append(items, Item{Kind: KindSQL, Group: id.Group(), Name: question, Value: sqlText})
		if len(items) >= limit {
			break
		}
	}
	return NewPlan(items...), nil
}

func (b *Builder) dialect() Dialect {
	if b.Dialect == nil {
		return BigQuery{}
	}
	return b.Dialect
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

func documentation(id ResourceID, value string) Item {
	return Item{Kind: KindDocumentation, Group: id.Group(), Name: id.Table, Value: value}
}

func describeView(view string, id ResourceID) string {
	return fmt.Sprintf("INFORMATION_SCHEMA.%s of `%s`:\n\n", view, id)
}

func firstString(result warehouse.ResultSet, column string) (string, bool) {
	if len(result.Rows) == 0 {
		return "", false
	}
	idx := columnIndex(result.Columns, column)
	if idx < 0 {
		idx = 0
	}
	row := result.Rows[0]
	if idx >= len(row) || row[idx] == nil {
		return "", false
	}
	text := strings.TrimSpace(fmt.Sprint(row[idx]))
	return text, text != ""
}
