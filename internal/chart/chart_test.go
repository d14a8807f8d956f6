package chart

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/warehouse"
)

var ordersByStatus = warehouse.ResultSet{
	Columns: []string{"status", "orders"},
	Rows: [][]any{
		{"paid", int64(8)},
		{"refunded", int64(2)},
	},
}

func TestRenderInlinesRows(t *testing.T) {
	spec := json.RawMessage(`{"title":"Orders","mark":{"type":"bar"},"data":{"name":"table"},"encoding":{"x":{"field":"status","type":"nominal"},"y":{"field":"orders","type":"quantitative"}}}`)
	c, err := Render(spec, ordersByStatus)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if c.Mark != "bar" || c.XField != "status" || c.YField != "orders" || c.Title != "Orders" {
		t.Fatalf("chart = %+v", c)
	}

	var doc struct {
		Schema string `json:"$schema"`
		Data   struct {
			Name   string           `json:"name"`
			Values []map[string]any `json:"values"`
		} `json:"data"`
	}
	if err := json.Unmarshal(c.Spec, &doc); err != nil {
		t.Fatalf("rendered spec is not JSON: %v", err)
	}
	if doc.Schema != vegaLiteSchema {
		t.Fatalf("$schema = %q", doc.Schema)
	}
	if doc.Data.Name != "" || len(doc.Data.Values) != 2 || doc.Data.Values[0]["status"] != "paid" {
		t.Fatalf("data = %+v", doc.Data)
	}
}

func TestRenderRejectsInvalidSpecs(t *testing.T) {
	cases := map[string]string{
		"not json":      `bar chart`,
		"null":          `null`,
		"no mark":       `{"encoding":{"x":{"field":"status"}}}`,
		"no encoding":   `{"mark":"bar"}`,
		"unknown field": `{"mark":"bar","encoding":{"x":{"field":"region"}}}`,
	}
	for name, spec := range cases {
		if _, err := Render(json.RawMessage(spec), ordersByStatus); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRenderAllowsAggregateOnlyChannels(t *testing.T) {
	spec := json.RawMessage(`{"mark":"bar","encoding":{"x":{"field":"status"},"y":{"aggregate":"count"}}}`)
	if _, err := Render(spec, ordersByStatus); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
}

func TestTerminalDrawsOneBarPerRow(t *testing.T) {
	out := Terminal(Chart{XField: "status", YField: "orders", Title: "Orders"}, ordersByStatus, 10)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "paid") || !strings.HasSuffix(lines[1], " 8") {
		t.Fatalf("paid line = %q", lines[1])
	}
	if strings.Count(lines[1], "█") != 10 {
		t.Fatalf("largest bar should fill width: %q", lines[1])
	}
	if strings.Count(lines[2], "█") != 2 {
		t.Fatalf("refunded bar = %q", lines[2])
	}
}

func TestTerminalInfersColumnsAndSwapsHorizontalEncoding(t *testing.T) {
	out := Terminal(Chart{XField: "orders", YField: "status"}, ordersByStatus, 10)
	if !strings.Contains(out, "refunded") {
		t.Fatalf("expected status labels:\n%s", out)
	}
	out = Terminal(Chart{}, ordersByStatus, 10)
	if !strings.Contains(out, "paid") {
		t.Fatalf("expected inferred labels:\n%s", out)
	}
	if got := Terminal(Chart{}, warehouse.ResultSet{Columns: []string{"a"}, Rows: [][]any{{"x"}}}, 10); got != "(no numeric column to chart)" {
		t.Fatalf("Terminal() = %q", got)
	}
}
