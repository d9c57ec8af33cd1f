package document

import (
	"encoding/binary"
	"fmt"
	"math"

	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
)

// Stored field names.
const (
	fieldID        = "id"
	fieldCategory  = "category"
	fieldCaption   = "caption"
	fieldEmbedding = "embedding"
)

// buildSource converts a Document into the JSON source of a document backend.
func buildSource(doc *domdoc.Document) map[string]any {
	return map[string]any{
		fieldID:        doc.ID(),
		fieldCategory:  doc.Category(),
		fieldEmbedding: doc.Embedding(),
		fieldCaption:   doc.Caption(),
	}
}

// buildHashFields converts a Document into a flat map[string]string for HSET.
func buildHashFields(doc *domdoc.Document) map[string]string {
	return map[string]string{
		fieldID:        doc.ID(),
		fieldCategory:  doc.Category(),
		fieldCaption:   doc.Caption(),
		fieldEmbedding: vectorToBytes(doc.Embedding()),
	}
}

// parseHashFields converts a flat hash map back into a Document.
func parseHashFields(index string, m map[string]string) domdoc.Document {
	return domdoc.Reconstruct(
		m[fieldID], m[fieldCategory], bytesToVector(m[fieldEmbedding]), m[fieldCaption], index,
	)
}

func hashKey(prefix, index, id string) string {
	return fmt.Sprintf("%s%s:%s", prefix, index, id)
}

// vectorToBytes serializes a vector to a FLOAT32 binary string (4 bytes per float, little-endian).
// Vector search indexes store FLOAT32, so float64 input is narrowed here.
func vectorToBytes(v []float64) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return string(buf)
}

// bytesToVector deserializes a FLOAT32 binary string back to []float64.
func bytesToVector(s string) []float64 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float64, len(b)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return v
}
