package training

import (
	"fmt"
	"strings"
)

// Dialect supplies the metadata SQL for one warehouse flavour. Every query
// projects the column names listed in ddlColumn, optionColumns and
// fieldPathColumns.
type Dialect interface {
	Name() string
	DDLQuery(location string, id ResourceID) string
	TableOptionsQuery(location string, id ResourceID) string
	ColumnFieldPathsQuery(location string, id ResourceID) string
	// HistoryQuery returns recent successful queries referencing the table,
	// one per row in a column named QUERY. ok is false when the warehouse
	// keeps no query history.
	HistoryQuery(location string, id ResourceID, limit int) (sql string, ok bool)
}

type BigQuery struct{}

func (BigQuery) Name() string { return "BigQuery SQL" }

func (BigQuery) DDLQuery(location string, id ResourceID) string {
	return fmt.Sprintf("SELECT DDL FROM %s.TABLES WHERE table_schema=%s AND table_name=%s",
		bigQuerySchemaRef(location, id), quoteLiteral(id.Dataset), quoteLiteral(id.Table))
}

func (BigQuery) TableOptionsQuery(location string, id ResourceID) string {
	return fmt.Sprintf("SELECT %s FROM %s.TABLE_OPTIONS WHERE TABLE_SCHEMA=%s AND TABLE_NAME=%s",
		strings.Join(optionColumns, ", "), bigQuerySchemaRef(location, id), quoteLiteral(id.Dataset), quoteLiteral(id.Table))
}

func (BigQuery) ColumnFieldPathsQuery(location string, id ResourceID) string {
	return fmt.Sprintf("SELECT %s FROM %s.COLUMN_FIELD_PATHS WHERE TABLE_SCHEMA=%s AND TABLE_NAME=%s",
		strings.Join(fieldPathColumns, ", "), bigQuerySchemaRef(location, id), quoteLiteral(id.Dataset), quoteLiteral(id.Table))
}

func (BigQuery) HistoryQuery(location string, id ResourceID, limit int) (string, bool) {
	if strings.TrimSpace(location) == "" {
		return "", false
	}
	return fmt.Sprintf(`SELECT query AS QUERY, MAX(creation_time) AS LAST_RUN FROM `+"`%s.region-%s`"+`.INFORMATION_SCHEMA.JOBS_BY_PROJECT `+
		`WHERE state = 'DONE' AND error_result IS NULL AND statement_type = 'SELECT' `+
		`AND EXISTS (SELECT 1 FROM UNNEST(referenced_tables) AS ref WHERE ref.project_id = %s AND ref.dataset_id = %s AND ref.table_id = %s) `+
		`GROUP BY query ORDER BY LAST_RUN DESC LIMIT %d`,
		id.Project, strings.ToLower(strings.TrimSpace(location)),
		quoteLiteral(id.Project), quoteLiteral(id.Dataset), quoteLiteral(id.Table), limit), true
}

// bigQuerySchemaRef scopes INFORMATION_SCHEMA to the region when a location is
// known and to the dataset otherwise.
func bigQuerySchemaRef(location string, id ResourceID) string {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return fmt.Sprintf("`%s.%s`.INFORMATION_SCHEMA", id.Project, id.Dataset)
	}
	return fmt.Sprintf("`%s.region-%s`.INFORMATION_SCHEMA", id.Project, location)
}

// DuckDB maps project to catalog and dataset to schema. Table comments stand
// in for table options.
type DuckDB struct{}

func (DuckDB) Name() string { return "DuckDB SQL" }

func (DuckDB) DDLQuery(_ string, id ResourceID) string {
	return fmt.Sprintf("SELECT sql AS DDL FROM duckdb_tables() WHERE database_name=%s AND schema_name=%s AND table_name=%s",
		quoteLiteral(id.Project), quoteLiteral(id.Dataset), quoteLiteral(id.Table))
}

func (DuckDB) TableOptionsQuery(_ string, id ResourceID) string {
	return fmt.Sprintf("SELECT database_name AS TABLE_CATALOG, schema_name AS TABLE_SCHEMA, table_name AS TABLE_NAME, "+
		"'description' AS OPTION_NAME, 'STRING' AS OPTION_TYPE FROM duckdb_tables() "+
		"WHERE database_name=%s AND schema_name=%s AND table_name=%s AND comment IS NOT NULL AND comment <> ''",
		quoteLiteral(id.Project), quoteLiteral(id.Dataset), quoteLiteral(id.Table))
}

func (DuckDB) ColumnFieldPathsQuery(_ string, id ResourceID) string {
	return fmt.Sprintf("SELECT database_name AS TABLE_CATALOG, schema_name AS TABLE_SCHEMA, table_name AS TABLE_NAME, "+
		"column_name AS COLUMN_NAME, column_name AS FIELD_PATH, data_type AS DATA_TYPE, comment AS DESCRIPTION FROM duckdb_columns() "+
		"WHERE database_name=%s AND schema_name=%s AND table_name=%s ORDER BY column_index",
		quoteLiteral(id.Project), quoteLiteral(id.Dataset), quoteLiteral(id.Table))
}

func (DuckDB) HistoryQuery(string, ResourceID, int) (string, bool) {
	return "", false
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
