package document

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
)

// writer is the consumer interface for document backends (ISP).
type writer interface {
	BulkWrite(ctx context.Context, index string, items []db.DocumentItem) ([]error, error)
}

// Repo implements usecase/ingest.BulkIndexer on top of a document backend
// (OpenSearch, bleve).
type Repo struct {
	store writer
}

// New creates a document repository.
func New(s writer) *Repo {
	return &Repo{store: s}
}

// BulkIndex writes docs to index in one bulk call.
// Results are aligned with docs. An error is returned only when the call failed as a whole.
func (r *Repo) BulkIndex(ctx context.Context, index string, docs []domdoc.Document) ([]batch.Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	items := make([]db.DocumentItem, len(docs))
	for i := range docs {
		items[i] = db.DocumentItem{ID: docs[i].ID(), Fields: buildSource(&docs[i])}
	}

	itemErrs, err := r.store.BulkWrite(ctx, index, items)
	if err != nil {
		return nil, unavailable(index, err)
	}
	return collectResults(docs, itemErrs), nil
}

func unavailable(index string, err error) error {
	return fmt.Errorf("bulk write %s: %w: %w", index, domain.ErrStoreUnavailable, err)
}

// collectResults maps per-item backend errors to StoreWriteError results.
func collectResults(docs []domdoc.Document, itemErrs []error) []batch.Result {
	results := make([]batch.Result, len(docs))
	for i := range docs {
		if i < len(itemErrs) && itemErrs[i] != nil {
			results[i] = batch.NewError(docs[i].ID(), domain.NewStoreWriteError(itemErrs[i].Error()))
			continue
		}
		results[i] = batch.NewOK(docs[i].ID())
	}
	return results
}
