package document

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
)

// hashStore is the consumer interface for Redis-compatible backends (ISP).
type hashStore interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) ([]error, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// HashRepo implements usecase/ingest.BulkIndexer with one pipelined HSET per document.
// Documents live under "<prefix><index>:<id>", so rewriting an id overwrites the hash.
type HashRepo struct {
	store  hashStore
	prefix string
}

// NewHash creates a hash-backed document repository.
func NewHash(s hashStore, prefix string) *HashRepo {
	return &HashRepo{store: s, prefix: prefix}
}

// BulkIndex writes docs as hashes in one pipeline.
func (r *HashRepo) BulkIndex(ctx context.Context, index string, docs []domdoc.Document) ([]batch.Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	items := make([]db.HashSetItem, len(docs))
	for i := range docs {
		items[i] = db.HashSetItem{
			Key:    hashKey(r.prefix, index, docs[i].ID()),
			Fields: buildHashFields(&docs[i]),
		}
	}

	itemErrs, err := r.store.HSetMulti(ctx, items)
	if err != nil {
		return nil, unavailable(index, err)
	}
	return collectResults(docs, itemErrs), nil
}

// Get reads a stored document back. A missing hash wraps db.ErrKeyNotFound.
func (r *HashRepo) Get(ctx context.Context, index, id string) (domdoc.Document, error) {
	key := hashKey(r.prefix, index, id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return parseHashFields(index, m), nil
}

// KeyPrefix returns the key prefix of an index's hashes, for FT.CREATE PREFIX.
func (r *HashRepo) KeyPrefix(index string) string {
	return r.prefix + index + ":"
}

// IndexName returns the FT index name covering an index's hashes.
func (r *HashRepo) IndexName(index string) string {
	return r.prefix + index + ":idx"
}
