package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/querypilot/querypilot/internal/training"
)

// Record is a stored training item with its embedding. Resource holds the
// scope the record was trained under, see Scope.
type Record struct {
	ID        string
	Resource  string
	Item      training.Item
	Embedding []float64
}

// Store persists records and answers nearest-neighbour lookups.
type Store interface {
	Upsert(ctx context.Context, records []Record) (int, error)
	Nearest(ctx context.Context, resource string, kind training.Kind, vector []float64, k int) ([]Record, error)
	DeleteResource(ctx context.Context, resource string) error
}

// Index embeds training items and questions and delegates storage to a Store.
type Index struct {
	embedder embedding.Embedder
	store    Store
	topK     int
}

func NewIndex(embedder embedding.Embedder, store Store, topK int) *Index {
	if topK <= 0 {
		topK = 10
	}
	return &Index{embedder: embedder, store: store, topK: topK}
}

// Train embeds every item of the plan and stores it under resource. Items
// already present are left untouched. It returns the number of new records.
func (i *Index) Train(ctx context.Context, resource string, plan training.Plan) (int, error) {
	items := plan.Items()
	if len(items) == 0 {
		return 0, nil
	}
	if i.embedder == nil || i.store == nil {
		return 0, errors.New("retrieval index is not configured")
	}

	texts := make([]string, len(items))
	for idx, item := range items {
		texts[idx] = embeddingText(item)
	}
	vectors, err := i.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed training items: %w", err)
	}
	if len(vectors) != len(items) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d items", len(vectors), len(items))
	}

	records := make([]Record, len(items))
	for idx, item := range items {
		records[idx] = Record{
			ID:        RecordID(resource, item),
			Resource:  resource,
			Item:      item,
			Embedding: vectors[idx],
		}
	}
	inserted, err := i.store.Upsert(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("store training items: %w", err)
	}
	return inserted, nil
}

// Related returns the question/SQL examples and documentation most similar to
// the question, up to topK of each.
func (i *Index) Related(ctx context.Context, resource, question string) ([]training.Item, error) {
	if i.embedder == nil || i.store == nil {
		return nil, errors.New("retrieval index is not configured")
	}
	vectors, err := i.embedder.EmbedStrings(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one question", len(vectors))
	}

	items := make([]training.Item, 0, 2*i.topK)
	for _, kind := range []training.Kind{training.KindSQL, training.KindDocumentation} {
		records, err := i.store.Nearest(ctx, resource, kind, vectors[0], i.topK)
		if err != nil {
			return nil, fmt.Errorf("search %s items: %w", kind, err)
		}
		for _, record := range records {
			items = append(items, record.Item)
		}
	}
	return items, nil
}

func (i *Index) Forget(ctx context.Context, resource string) error {
	if i.store == nil {
		return nil
	}
	return i.store.DeleteResource(ctx, resource)
}

// Scope keys training material by session and table so sessions never share
// examples and a destroyed session's items can be removed.
func Scope(sessionID, resource string) string {
	return sessionID + "/" + resource
}

// RecordID is derived from content so retraining the same plan is idempotent.
func RecordID(resource string, item training.Item) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{resource, string(item.Kind), item.Group, item.Name, item.Value}, "\x00")))
	return hex.EncodeToString(sum[:16])
}

func embeddingText(item training.Item) string {
	if item.Kind == training.KindSQL {
		return item.Name + "\n" + item.Value
	}
	return item.Value
}

// CosineDistance returns 1 - cosine similarity, matching pgvector's <=> operator.
func CosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
