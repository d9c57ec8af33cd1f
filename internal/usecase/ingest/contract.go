package ingest

import (
	"context"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
)

// BulkIndexer writes a document set to the search index in one call.
// Results are aligned with docs; an error means the call failed as a whole.
type BulkIndexer interface {
	BulkIndex(ctx context.Context, index string, docs []domdoc.Document) ([]batch.Result, error)
}

// DeadLetter receives records that could not be indexed.
type DeadLetter interface {
	Publish(ctx context.Context, batchID string, failures []batch.Failure) error
}
