package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
)

const (
	chartSampleRows  = 20
	maxContextTokens = 14000
)

// Example is a known question and the SQL that answers it.
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Related is the retrieved context used to ground SQL generation.
type Related struct {
	Examples      []Example
	Documentation []string
}

// RelatedFromItems splits retrieved training items into examples and documentation.
func RelatedFromItems(items []training.Item) Related {
	related := Related{}
	for _, item := range items {
		switch item.Kind {
		case training.KindSQL:
			related.Examples = append(related.Examples, Example{Question: item.Name, SQL: item.Value})
		default:
			related.Documentation = append(related.Documentation, item.Value)
		}
	}
	return related
}

type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type Generator struct {
	model   model.BaseChatModel
	dialect string
}

func NewGenerator(chatModel model.BaseChatModel, dialect string) *Generator {
	if strings.TrimSpace(dialect) == "" {
		dialect = "BigQuery SQL"
	}
	return &Generator{model: chatModel, dialect: dialect}
}

func (g *Generator) GenerateSQL(ctx context.Context, question string, related Related) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", &GenerationError{Op: "sql", Err: fmt.Errorf("question is required")}
	}

	messages := []*schema.Message{schema.SystemMessage(sqlSystemPrompt(g.dialect, related.Documentation))}
	for _, example := range related.Examples {
		messages = append(messages,
			schema.UserMessage(example.Question),
			schema.AssistantMessage(example.SQL, nil),
		)
	}
	messages = append(messages, schema.UserMessage(question))

	content, err := g.generate(ctx, messages)
	if err != nil {
		return "", &GenerationError{Op: "sql", Err: err}
	}
	sql := extractSQL(content)
	if sql == "" {
		return "", &GenerationError{Op: "sql", Err: fmt.Errorf("model returned empty SQL")}
	}
	return sql, nil
}

// GenerateChart asks the model for a Vega-Lite specification. The returned
// spec references its data by name and carries no inline values.
func (g *Generator) GenerateChart(ctx context.Context, question, sql string, result warehouse.ResultSet) (json.RawMessage, error) {
	sample, err := json.Marshal(result.Head(chartSampleRows).Records())
	if err != nil {
		return nil, &GenerationError{Op: "chart", Err: fmt.Errorf("marshal result sample: %w", err)}
	}
	userPrompt := fmt.Sprintf(
		"Question: %s\n\nSQL:\n%s\n\nThe result has %d rows and these columns: %s.\nFirst rows (JSON):\n%s",
		strings.TrimSpace(question),
		strings.TrimSpace(sql),
		len(result.Rows),
		strings.Join(result.Columns, ", "),
		string(sample),
	)
	messages := []*schema.Message{
		schema.SystemMessage(chartSystemPrompt),
		schema.UserMessage(userPrompt),
	}

	content, err := g.generate(ctx, messages)
	if err != nil {
		return nil, &GenerationError{Op: "chart", Err: err}
	}
	raw := stripCodeFence(content)
	if !json.Valid([]byte(raw)) {
		return nil, &GenerationError{Op: "chart", Err: fmt.Errorf("model returned invalid chart JSON")}
	}
	return json.RawMessage(raw), nil
}

func (g *Generator) GenerateQuestion(ctx context.Context, sql string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage("The user will give you SQL and you will try to guess what the business question this query is answering. " +
			"Return just the question without any additional explanation. Do not reference the table name in the question."),
		schema.UserMessage(strings.TrimSpace(sql)),
	}
	content, err := g.generate(ctx, messages)
	if err != nil {
		return "", &GenerationError{Op: "question", Err: err}
	}
	question := strings.TrimSpace(content)
	if question == "" {
		return "", &GenerationError{Op: "question", Err: fmt.Errorf("model returned empty question")}
	}
	return question, nil
}

func (g *Generator) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("chat model is not configured")
	}
	response, err := g.model.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if response == nil {
		return "", fmt.Errorf("chat model returned no message")
	}
	return response.Content, nil
}

func sqlSystemPrompt(dialect string, documentation []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s expert. Please help to generate a SQL query to answer the question. "+
		"Your response should ONLY be based on the given context and follow the response guidelines and format instructions.\n", dialect)

	budget := maxContextTokens
	if len(documentation) > 0 {
		b.WriteString("\n===Additional Context\n\n")
		for _, doc := range documentation {
			cost := approxTokens(doc)
			if cost > budget {
				continue
			}
			budget -= cost
			b.WriteString(doc)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("===Response Guidelines\n" +
		"1. If the provided context is sufficient, generate a valid SQL query without any explanations for the question.\n" +
		"2. If the provided context is insufficient, explain why it can't be generated.\n" +
		"3. Use the most relevant table(s) and always fully qualify table names.\n" +
		"4. If the question has been asked and answered before, repeat the answer exactly as it was given before.\n" +
		"5. Ensure that the output SQL is " + dialect + "-compliant and executable, and free of syntax errors.\n")
	return b.String()
}

const chartSystemPrompt = "You design charts. Given a question, the SQL that answered it and a sample of the result, " +
	"return a single Vega-Lite v5 JSON specification that best visualizes the result. " +
	"Use {\"data\": {\"name\": \"table\"}} as the data source and reference result columns by their exact names. " +
	"If there is only one value, use a text mark that displays it. " +
	"Return ONLY the JSON object. No markdown, no explanation."

// approxTokens is a rough character-based estimate used to bound the prompt.
func approxTokens(text string) int {
	return len(text) / 4
}

func extractSQL(value string) string {
	trimmed := stripCodeFence(value)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
		return trimmed
	}
	// Tolerate a short preamble before the statement.
	for _, keyword := range []string{"\nWITH ", "\nSELECT ", "WITH ", "SELECT "} {
		if idx := strings.Index(upper, keyword); idx >= 0 {
			return strings.TrimSpace(trimmed[idx:])
		}
	}
	return trimmed
}

func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if start := strings.Index(trimmed, "```"); start >= 0 {
		body := trimmed[start+3:]
		if newline := strings.IndexByte(body, '\n'); newline >= 0 {
			lang := strings.TrimSpace(body[:newline])
			if lang == "" || !strings.ContainsAny(lang, " {(") {
				body = body[newline+1:]
			}
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return trimmed
}
