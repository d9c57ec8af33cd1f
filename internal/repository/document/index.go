package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
)

// indexManager is the consumer interface for index provisioning (ISP).
type indexManager interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
}

// Schema describes the index every backend is provisioned with.
type Schema struct {
	Name        string
	Prefix      string // Redis key prefix, empty elsewhere
	Dimensions  int
	Distance    db.DistanceMetric
	M           int
	EFConstruct int
	TextSearch  bool // caption as full-text; valkey-search has no TEXT
}

// BuildIndex converts a Schema into a backend-neutral index definition.
func BuildIndex(s Schema) (*db.IndexDefinition, error) {
	b := db.NewIndex(s.Name)
	if s.Prefix != "" {
		b.Prefix(s.Prefix)
	}
	return b.
		Tag(fieldID).
		Tag(fieldCategory).
		TextIf(s.TextSearch, fieldCaption).
		VectorHNSW(fieldEmbedding, s.Dimensions, s.Distance, s.M, s.EFConstruct).
		Build()
}

// EnsureIndex creates the index if it does not exist yet. An existing index is left untouched.
func EnsureIndex(ctx context.Context, m indexManager, s Schema) error {
	def, err := BuildIndex(s)
	if err != nil {
		return fmt.Errorf("build index %s: %w", s.Name, err)
	}
	if err := m.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", s.Name, err)
	}
	return nil
}
