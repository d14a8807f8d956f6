// Package chart turns a generated Vega-Lite spec and a result set into a
// self-contained chart.
package chart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/querypilot/querypilot/internal/warehouse"
)

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

// Chart is a Vega-Lite spec with the result rows inlined.
type Chart struct {
	Spec   json.RawMessage `json:"spec"`
	Mark   string          `json:"mark"`
	XField string          `json:"x_field,omitempty"`
	YField string          `json:"y_field,omitempty"`
	Title  string          `json:"title,omitempty"`
}

// Render validates spec and replaces its data source with the rows of result.
// The generated spec refers to the rows by name only, so any data it carries
// is discarded.
func Render(spec json.RawMessage, result warehouse.ResultSet) (Chart, error) {
	var doc map[string]any
	if err := json.Unmarshal(spec, &doc); err != nil {
		return Chart{}, fmt.Errorf("decode chart spec: %w", err)
	}
	if doc == nil {
		return Chart{}, errors.New("chart spec must be a JSON object")
	}

	mark := markType(doc["mark"])
	_, layered := doc["layer"]
	if mark == "" && !layered {
		return Chart{}, errors.New("chart spec has no mark")
	}
	encoding, _ := doc["encoding"].(map[string]any)
	if encoding == nil && !layered {
		return Chart{}, errors.New("chart spec has no encoding")
	}

	for _, field := range encodedFields(encoding) {
		if !hasColumn(result.Columns, field) {
			return Chart{}, fmt.Errorf("chart encodes unknown field %q", field)
		}
	}

	if _, ok := doc["$schema"]; !ok {
		doc["$schema"] = vegaLiteSchema
	}
	doc["data"] = map[string]any{"values": result.Records()}

	rendered, err := json.Marshal(doc)
	if err != nil {
		return Chart{}, fmt.Errorf("encode chart spec: %w", err)
	}
	title, _ := doc["title"].(string)
	return Chart{
		Spec:   rendered,
		Mark:   mark,
		XField: channelField(encoding, "x"),
		YField: channelField(encoding, "y"),
		Title:  title,
	}, nil
}

func markType(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case map[string]any:
		name, _ := typed["type"].(string)
		return name
	}
	return ""
}

func channelField(encoding map[string]any, channel string) string {
	def, _ := encoding[channel].(map[string]any)
	field, _ := def["field"].(string)
	return field
}

func encodedFields(encoding map[string]any) []string {
	fields := make([]string, 0, len(encoding))
	for _, raw := range encoding {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		// aggregate-only channels such as count have no field
		if field, ok := def["field"].(string); ok && field != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

func hasColumn(columns []string, name string) bool {
	for _, column := range columns {
		if column == name {
			return true
		}
	}
	return false
}
