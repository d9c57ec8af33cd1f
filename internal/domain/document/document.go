package document

import (
	"slices"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain/message"
)

// Document is the normalized, index-ready form of one message (immutable value object).
type Document struct {
	id        string
	category  string
	embedding []float64
	caption   string
	index     string
}

// New derives a Document from a decoded envelope, targeting index.
func New(env message.Envelope, index string) (Document, error) {
	id, category, err := message.ParseKey(env.Key)
	if err != nil {
		return Document{}, err
	}
	return Document{
		id:        id,
		category:  category,
		embedding: slices.Clone(env.Embedding),
		caption:   env.Caption,
		index:     index,
	}, nil
}

// Reconstruct creates a Document without key derivation (tests, storage hydration).
func Reconstruct(id, category string, embedding []float64, caption, index string) Document {
	return Document{
		id:        id,
		category:  category,
		embedding: slices.Clone(embedding),
		caption:   caption,
		index:     index,
	}
}

// ID returns the document identifier (the key's file stem).
func (d Document) ID() string { return d.id }

// Category returns the key's parent directory name.
func (d Document) Category() string { return d.category }

// Embedding returns a copy of the embedding.
func (d Document) Embedding() []float64 { return slices.Clone(d.embedding) }

// Caption returns the caption text.
func (d Document) Caption() string { return d.caption }

// Index returns the target index name.
func (d Document) Index() string { return d.index }

// Dimensions returns the embedding length.
func (d Document) Dimensions() int { return len(d.embedding) }
