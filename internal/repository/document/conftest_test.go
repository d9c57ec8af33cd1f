package document

import (
	"context"
	"testing"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
)

// mockWriter implements the writer consumer interface for tests.
type mockWriter struct {
	bulkWriteFn func(ctx context.Context, index string, items []db.DocumentItem) ([]error, error)
	calls       int
}

func (m *mockWriter) BulkWrite(ctx context.Context, index string, items []db.DocumentItem) ([]error, error) {
	m.calls++
	if m.bulkWriteFn != nil {
		return m.bulkWriteFn(ctx, index, items)
	}
	return make([]error, len(items)), nil
}

// mockHashStore implements the hashStore consumer interface for tests.
type mockHashStore struct {
	hsetMultiFn func(ctx context.Context, items []db.HashSetItem) ([]error, error)
	hgetAllFn   func(ctx context.Context, key string) (map[string]string, error)
}

func (m *mockHashStore) HSetMulti(ctx context.Context, items []db.HashSetItem) ([]error, error) {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return make([]error, len(items)), nil
}

func (m *mockHashStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

// mockIndexManager implements the indexManager consumer interface for tests.
type mockIndexManager struct {
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
}

func (m *mockIndexManager) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func testDocuments(t *testing.T) []domdoc.Document {
	t.Helper()
	return []domdoc.Document{
		domdoc.Reconstruct("ab12", "shoes", []float64{0.5, -0.25, 1}, "red sneaker", "products"),
		domdoc.Reconstruct("cd34", "hats", []float64{0.125, 0, 2}, "blue cap", "products"),
	}
}
