package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/training"
)

// Store keeps training items in the training_item table and searches them
// with pgvector's cosine distance operator.
type Store struct {
	db *sql.DB
}

var _ retrieval.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping vector store db: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []retrieval.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert training items: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
INSERT INTO training_item (item_id, resource, kind, item_group, name, value, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
ON CONFLICT (item_id) DO NOTHING`
	inserted := 0
	for _, record := range records {
		result, err := tx.ExecContext(ctx, query,
			record.ID,
			record.Resource,
			string(record.Item.Kind),
			record.Item.Group,
			record.Item.Name,
			record.Item.Value,
			vectorLiteral(record.Embedding),
		)
		if err != nil {
			return 0, fmt.Errorf("insert training item %s: %w", record.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for training item %s: %w", record.ID, err)
		}
		inserted += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit training items: %w", err)
	}
	return inserted, nil
}

func (s *Store) Nearest(ctx context.Context, resource string, kind training.Kind, vector []float64, k int) ([]retrieval.Record, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, kind, item_group, name, value
FROM training_item
WHERE resource = $1 AND kind = $2
ORDER BY embedding <=> $3::vector, item_id
LIMIT $4`, resource, string(kind), vectorLiteral(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search training items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]retrieval.Record, 0, k)
	for rows.Next() {
		record := retrieval.Record{Resource: resource}
		var itemKind string
		if err := rows.Scan(&record.ID, &itemKind, &record.Item.Group, &record.Item.Name, &record.Item.Value); err != nil {
			return nil, fmt.Errorf("scan training item: %w", err)
		}
		record.Item.Kind = training.Kind(itemKind)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training items: %w", err)
	}
	return records, nil
}

func (s *Store) DeleteResource(ctx context.Context, resource string) error {
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM training_item
WHERE resource = $1`, resource); err != nil {
		return fmt.Errorf("delete training items: %w", err)
	}
	return nil
}

// vectorLiteral formats a vector in pgvector's text input form.
func vectorLiteral(vector []float64) string {
	parts := make([]string, len(vector))
	for i, value := range vector {
		parts[i] = strconv.FormatFloat(value, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
