package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/querypilot/querypilot/internal/warehouse"
)

const maxTerminalBars = 20

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	labelStyle = lipgloss.NewStyle().Bold(true)
)

// Terminal draws the chart as horizontal bars, one per row. It uses the
// chart's x and y fields when they exist and otherwise the first text and
// first numeric column.
func Terminal(c Chart, result warehouse.ResultSet, width int) string {
	if width < 10 {
		width = 40
	}
	labelColumn, valueColumn := terminalColumns(c, result)
	if valueColumn < 0 {
		return "(no numeric column to chart)"
	}

	type bar struct {
		label string
		value float64
	}
	bars := make([]bar, 0, len(result.Rows))
	labelWidth := 0
	maxValue := 0.0
	for i, row := range result.Rows {
		if i == maxTerminalBars {
			break
		}
		value, ok := numeric(row[valueColumn])
		if !ok {
			continue
		}
		label := strconv.Itoa(i)
		if labelColumn >= 0 {
			label = fmt.Sprint(displayValue(row[labelColumn]))
		}
		bars = append(bars, bar{label: label, value: value})
		labelWidth = max(labelWidth, lipgloss.Width(label))
		maxValue = math.Max(maxValue, math.Abs(value))
	}
	if len(bars) == 0 {
		return "(no rows to chart)"
	}

	lines := make([]string, 0, len(bars)+1)
	if c.Title != "" {
		lines = append(lines, labelStyle.Render(c.Title))
	}
	for _, b := range bars {
		filled := width
		if maxValue > 0 {
			filled = int(float64(width) * math.Abs(b.value) / maxValue)
		}
		lines = append(lines, fmt.Sprintf("%-*s %s%s %s",
			labelWidth,
			b.label,
			barStyle.Render(strings.Repeat("█", filled)),
			emptyStyle.Render(strings.Repeat("░", width-filled)),
			strconv.FormatFloat(b.value, 'f', -1, 64),
		))
	}
	return strings.Join(lines, "\n")
}

func terminalColumns(c Chart, result warehouse.ResultSet) (int, int) {
	labelColumn := indexOf(result.Columns, c.XField)
	valueColumn := indexOf(result.Columns, c.YField)
	if len(result.Rows) == 0 {
		return labelColumn, valueColumn
	}
	first := result.Rows[0]
	if valueColumn >= 0 {
		if _, ok := numeric(first[valueColumn]); !ok {
			// vertical bar charts often put the measure on x
			labelColumn, valueColumn = valueColumn, labelColumn
		}
	}
	for i, value := range first {
		_, isNumber := numeric(value)
		if valueColumn < 0 && isNumber && i != labelColumn {
			valueColumn = i
		}
		if labelColumn < 0 && !isNumber && i != valueColumn {
			labelColumn = i
		}
	}
	return labelColumn, valueColumn
}

func indexOf(columns []string, name string) int {
	if name == "" {
		return -1
	}
	for i, column := range columns {
		if column == name {
			return i
		}
	}
	return -1
}

func numeric(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	}
	return 0, false
}

func displayValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return "null"
	case time.Time:
		return typed.Format(time.DateOnly)
	}
	return value
}
