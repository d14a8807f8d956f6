package training

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/querypilot/querypilot/internal/warehouse"
)

// MarkdownTable renders the projected columns of a result set as a pipe table
// with a leading row-index column.
func MarkdownTable(result warehouse.ResultSet, projection []string) string {
	indexes := make([]int, len(projection))
	for i, column := range projection {
		indexes[i] = columnIndex(result.Columns, column)
	}

	header := append([]string{""}, projection...)
	cells := make([][]string, 0, len(result.Rows))
	for rowIndex, row := range result.Rows {
		line := make([]string, 0, len(header))
		line = append(line, strconv.Itoa(rowIndex))
		for _, idx := range indexes {
			if idx < 0 || idx >= len(row) {
				line = append(line, "")
				continue
			}
			line = append(line, FormatCell(row[idx]))
		}
		cells = append(cells, line)
	}
	return renderTable(header, cells, true)
}

// MarkdownRows renders every column of a result set without an index column.
func MarkdownRows(result warehouse.ResultSet) string {
	cells := make([][]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		line := make([]string, len(result.Columns))
		for i := range line {
			if i < len(row) {
				line[i] = FormatCell(row[i])
			}
		}
		cells = append(cells, line)
	}
	return renderTable(result.Columns, cells, false)
}

// renderTable writes a borderless tablewriter table with pipe separators, which
// is a markdown pipe table. The index column is right-aligned.
func renderTable(header []string, cells [][]string, indexed bool) string {
	var out strings.Builder
	table := tablewriter.NewWriter(&out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	alignment := make([]int, len(header))
	for i := range alignment {
		alignment[i] = tablewriter.ALIGN_LEFT
	}
	if indexed && len(alignment) > 0 {
		alignment[0] = tablewriter.ALIGN_RIGHT
	}
	table.SetColumnAlignment(alignment)
	table.AppendBulk(cells)
	table.Render()
	return strings.TrimRight(out.String(), "\n")
}

// FormatCell renders a warehouse value for display. Pipes and newlines are
// escaped so a cell never breaks the table layout.
func FormatCell(value any) string {
	var text string
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		text = typed
	case time.Time:
		text = typed.Format(time.RFC3339)
	case float64:
		text = strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		text = strconv.FormatFloat(float64(typed), 'f', -1, 32)
	default:
		text = fmt.Sprint(typed)
	}
	text = strings.ReplaceAll(text, "|", `\|`)
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return text
}

func columnIndex(columns []string, name string) int {
	for i, column := range columns {
		if strings.EqualFold(column, name) {
			return i
		}
	}
	return -1
}
