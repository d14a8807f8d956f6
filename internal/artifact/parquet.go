package artifact

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/warehouse"
)

type ParquetEncodeResult struct {
	Data     []byte
	RowCount int64
}

// resultCell is one value of a result set. Warehouse results have no fixed
// schema, so rows are exported in long form.
type resultCell struct {
	RowIndex    int64   `parquet:"row_index"`
	ColumnIndex int32   `parquet:"column_index"`
	ColumnName  string  `parquet:"column_name"`
	Value       *string `parquet:"value,optional"`
}

func EncodeResultToParquet(result warehouse.ResultSet) (ParquetEncodeResult, error) {
	cells := make([]resultCell, 0, len(result.Rows)*len(result.Columns))
	for rowIndex, row := range result.Rows {
		if len(row) != len(result.Columns) {
			return ParquetEncodeResult{}, fmt.Errorf("row %d has %d values for %d columns", rowIndex, len(row), len(result.Columns))
		}
		for columnIndex, value := range row {
			cell := resultCell{
				RowIndex:    int64(rowIndex),
				ColumnIndex: int32(columnIndex),
				ColumnName:  result.Columns[columnIndex],
			}
			if value != nil {
				text := exportValue(value)
				cell.Value = &text
			}
			cells = append(cells, cell)
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[resultCell](buf)
	if _, err := writer.Write(cells); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetEncodeResult{Data: buf.Bytes(), RowCount: int64(len(result.Rows))}, nil
}

func exportValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}
