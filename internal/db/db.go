package db

import (
	"context"
	"time"
)

// Store is the lifecycle facade every index backend satisfies.
// Write paths differ per backend: Redis implements HashStore, OpenSearch and bleve
// implement DocumentWriter. Consumers depend on the narrow sub-interfaces (ISP).
type Store interface {
	Pinger
	IndexManager
	Close() error
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexManager provides index lifecycle operations.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// DocumentItem is a single document submitted in a bulk write.
type DocumentItem struct {
	ID     string
	Fields map[string]any
}

// DocumentWriter writes documents in one round trip.
//
// itemErrs is aligned with items; a nil entry means the item was accepted.
// err is non-nil only when the write could not be performed as a whole, in which
// case it wraps ErrUnavailable and itemErrs is nil.
type DocumentWriter interface {
	BulkWrite(ctx context.Context, index string, items []DocumentItem) (itemErrs []error, err error)
}

// HashSetItem holds a single key+fields pair for pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashStore provides pipelined hash writes for Redis-compatible backends.
type HashStore interface {
	HSetMulti(ctx context.Context, items []HashSetItem) (itemErrs []error, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}
