// Package bleve implements an embedded index backend on bleve for local runs and tests.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hashicorp/go-multierror"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
)

// Compile-time checks.
var (
	_ db.Store          = (*Store)(nil)
	_ db.DocumentWriter = (*Store)(nil)
)

var errClosed = errors.New("store closed")

// Config holds the on-disk location of the indexes.
type Config struct {
	// Path is the directory holding one bleve index per name. Empty keeps indexes in memory.
	Path string
}

// Store keeps one bleve index per index name.
type Store struct {
	path string

	mu      sync.Mutex
	indexes map[string]bleve.Index
	closed  bool
}

// NewStore creates a bleve store. The directory is created if missing.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	return &Store{path: cfg.Path, indexes: make(map[string]bleve.Index)}, nil
}

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &db.Error{Op: db.OpPing, Err: errClosed}
	}
	return nil
}

// WaitForReady returns once Ping succeeds.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	return db.WaitForReady(ctx, s, timeout)
}

// Close closes every open index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for name, idx := range s.indexes {
		if err := idx.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.indexes = map[string]bleve.Index{}
	s.closed = true
	return result.ErrorOrNil()
}

// CreateIndex creates a new index with a mapping derived from def.
func (s *Store) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &db.Error{Op: db.OpCreateIndex, Err: errClosed}
	}
	if s.existsLocked(def.Name) {
		return db.ErrIndexExists
	}

	idx, err := s.newIndexLocked(def.Name, buildMapping(def))
	if err != nil {
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	s.indexes[def.Name] = idx
	return nil
}

// IndexExists reports whether the index is open or present on disk.
func (s *Store) IndexExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(name), nil
}

// BulkWrite indexes all items in one bleve batch. A missing index is created
// with the default dynamic mapping, as a search cluster would on first write.
func (s *Store) BulkWrite(_ context.Context, index string, items []db.DocumentItem) ([]error, error) {
	if len(items) == 0 {
		return nil, nil
	}

	idx, err := s.index(index)
	if err != nil {
		return nil, db.Unavailable(db.OpOpen, err)
	}

	itemErrs := make([]error, len(items))
	b := idx.NewBatch()
	for i, item := range items {
		if err := b.Index(item.ID, item.Fields); err != nil {
			itemErrs[i] = &db.Error{Op: db.OpBatch, Err: fmt.Errorf("%s: %w", item.ID, err)}
		}
	}

	if b.Size() == 0 {
		return itemErrs, nil
	}
	if err := idx.Batch(b); err != nil {
		return nil, db.Unavailable(db.OpBatch, err)
	}
	return itemErrs, nil
}

// Count returns the number of documents in the index.
func (s *Store) Count(index string) (uint64, error) {
	idx, err := s.index(index)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count %s: %w", index, err)
	}
	return n, nil
}

// Fields returns the stored fields of a document, or db.ErrKeyNotFound.
func (s *Store) Fields(index, id string) (map[string]any, error) {
	idx, err := s.index(index)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{"*"}
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	if len(res.Hits) == 0 {
		return nil, db.ErrKeyNotFound
	}
	return res.Hits[0].Fields, nil
}

func (s *Store) index(name string) (bleve.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}
	if idx, ok := s.indexes[name]; ok {
		return idx, nil
	}

	var (
		idx bleve.Index
		err error
	)
	if s.path != "" {
		idx, err = bleve.Open(s.indexPath(name))
	}
	if s.path == "" || errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = s.newIndexLocked(name, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, err
	}
	s.indexes[name] = idx
	return idx, nil
}

func (s *Store) existsLocked(name string) bool {
	if _, ok := s.indexes[name]; ok {
		return true
	}
	if s.path == "" {
		return false
	}
	_, err := os.Stat(s.indexPath(name))
	return err == nil
}

func (s *Store) newIndexLocked(name string, m mapping.IndexMapping) (bleve.Index, error) {
	if s.path == "" {
		return bleve.NewMemOnly(m)
	}
	return bleve.New(s.indexPath(name), m)
}

func (s *Store) indexPath(name string) string {
	return filepath.Join(s.path, name+".bleve")
}

// buildMapping maps tags to keyword fields, text to the standard analyzer and
// vectors to stored, unindexed numerics.
func buildMapping(def *db.IndexDefinition) mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	dm := bleve.NewDocumentMapping()

	for _, f := range def.Fields {
		switch f.Type {
		case db.IndexFieldTag:
			dm.AddFieldMappingsAt(f.Name, bleve.NewKeywordFieldMapping())
		case db.IndexFieldText:
			dm.AddFieldMappingsAt(f.Name, bleve.NewTextFieldMapping())
		case db.IndexFieldVector:
			vm := bleve.NewNumericFieldMapping()
			vm.Index = false
			vm.IncludeInAll = false
			vm.DocValues = false
			dm.AddFieldMappingsAt(f.Name, vm)
		}
	}

	im.DefaultMapping = dm
	return im
}
