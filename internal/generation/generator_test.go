package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
)

type fakeChatModel struct {
	replies []string
	err     error
	inputs  [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestGenerateSQLBuildsPromptFromRelatedContext(t *testing.T) {
	chat := &fakeChatModel{replies: []string{"```sql\nSELECT COUNT(*) FROM `p.d.orders`\n```"}}
	gen := NewGenerator(chat, "BigQuery SQL")

	related := RelatedFromItems([]training.Item{
		{Kind: training.KindDocumentation, Group: "p.d", Name: "orders", Value: "CREATE TABLE orders (id INT64)"},
		{Kind: training.KindSQL, Group: "p.d", Name: "How many orders?", Value: "SELECT COUNT(*) FROM `p.d.orders`"},
	})
	sql, err := gen.GenerateSQL(context.Background(), "How many orders last month?", related)
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if sql != "SELECT COUNT(*) FROM `p.d.orders`" {
		t.Fatalf("sql = %q", sql)
	}

	input := chat.inputs[0]
	if len(input) != 4 {
		t.Fatalf("messages = %d, want system + example pair + question", len(input))
	}
	if input[0].Role != schema.System || !strings.Contains(input[0].Content, "CREATE TABLE orders") {
		t.Fatalf("system prompt = %q", input[0].Content)
	}
	if !strings.Contains(input[0].Content, "BigQuery SQL expert") {
		t.Fatalf("system prompt missing dialect: %q", input[0].Content)
	}
	if input[1].Role != schema.User || input[2].Role != schema.Assistant {
		t.Fatalf("example roles = %s/%s", input[1].Role, input[2].Role)
	}
	if input[3].Content != "How many orders last month?" {
		t.Fatalf("question message = %q", input[3].Content)
	}
}

func TestGenerateSQLWrapsFailures(t *testing.T) {
	cause := errors.New("rate limited")
	gen := NewGenerator(&fakeChatModel{err: cause}, "")

	_, err := gen.GenerateSQL(context.Background(), "q", Related{})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Op != "sql" {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected GenerationError to wrap cause")
	}

	if _, err := NewGenerator(&fakeChatModel{replies: []string{"  "}}, "").GenerateSQL(context.Background(), "q", Related{}); err == nil {
		t.Fatal("expected error for empty SQL")
	}
	if _, err := gen.GenerateSQL(context.Background(), " ", Related{}); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestGenerateChartReturnsValidJSON(t *testing.T) {
	spec := `{"mark":"bar","encoding":{"x":{"field":"status"},"y":{"field":"c"}},"data":{"name":"table"}}`
	chat := &fakeChatModel{replies: []string{"```json\n" + spec + "\n```"}}
	gen := NewGenerator(chat, "")

	result := warehouse.ResultSet{Columns: []string{"status", "c"}, Rows: [][]any{{"paid", int64(2)}}}
	got, err := gen.GenerateChart(context.Background(), "orders by status", "SELECT status, COUNT(*) c FROM t GROUP BY 1", result)
	if err != nil {
		t.Fatalf("GenerateChart() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("chart is not JSON: %v", err)
	}
	if decoded["mark"] != "bar" {
		t.Fatalf("mark = %#v", decoded["mark"])
	}
	if !strings.Contains(chat.inputs[0][1].Content, `"status":"paid"`) {
		t.Fatalf("chart prompt missing sample rows: %q", chat.inputs[0][1].Content)
	}
}

func TestGenerateChartRejectsInvalidJSON(t *testing.T) {
	gen := NewGenerator(&fakeChatModel{replies: []string{"here is a chart: bar"}}, "")
	_, err := gen.GenerateChart(context.Background(), "q", "SELECT 1", warehouse.ResultSet{})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Op != "chart" {
		t.Fatalf("GenerateChart() error = %v", err)
	}
}

func TestGenerateQuestion(t *testing.T) {
	gen := NewGenerator(&fakeChatModel{replies: []string{" How many orders were paid? "}}, "")
	question, err := gen.GenerateQuestion(context.Background(), "SELECT COUNT(*) FROM t WHERE status='paid'")
	if err != nil {
		t.Fatalf("GenerateQuestion() error = %v", err)
	}
	if question != "How many orders were paid?" {
		t.Fatalf("question = %q", question)
	}
}

func TestExtractSQL(t *testing.T) {
	cases := map[string]string{
		"```sql\nSELECT 1;\n```":                         "SELECT 1;",
		"SELECT 1":                                       "SELECT 1",
		"Here is the query:\nSELECT a FROM t":            "SELECT a FROM t",
		"```\nWITH x AS (SELECT 1) SELECT * FROM x\n```": "WITH x AS (SELECT 1) SELECT * FROM x",
	}
	for input, want := range cases {
		if got := extractSQL(input); got != want {
			t.Fatalf("extractSQL(%q) = %q, want %q", input, got, want)
		}
	}
}
