// Package message describes inbound queue messages and their JSON envelope.
package message

import (
	"bytes"
	"encoding/json"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain"
)

// Raw is a queue message as delivered by the trigger. ID is the queue-assigned
// identifier used to report the message back as failed.
type Raw struct {
	ID   string
	Body []byte
}

// Envelope is the decoded message body.
type Envelope struct {
	Bucket    string
	Key       string
	Embedding []float64
	Caption   string
}

type envelopeWire struct {
	Bucket string    `json:"bucket"`
	Key    *string   `json:"key"`
	Data   *dataWire `json:"data"`
}

type dataWire struct {
	Embedding *[]float64 `json:"embedding"`
	Caption   *string    `json:"caption"`
}

var jsonNull = []byte("null")

// Parse decodes a message body into an Envelope.
// Checks run in order: body shape, key structure, data fields.
// A present field of the wrong JSON type is a parse error; an absent or null one is missing.
func Parse(body []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return Envelope{}, domain.NewParseError("body is not a JSON object")
	}

	var w envelopeWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Envelope{}, domain.NewParseError("%v", err)
	}

	if w.Key == nil {
		return Envelope{}, domain.NewMalformedKeyError("")
	}
	if _, _, err := ParseKey(*w.Key); err != nil {
		return Envelope{}, err
	}
	if w.Data == nil {
		return Envelope{}, domain.NewMissingFieldError("data")
	}
	if w.Data.Embedding == nil {
		return Envelope{}, domain.NewMissingFieldError("data.embedding")
	}
	if w.Data.Caption == nil {
		return Envelope{}, domain.NewMissingFieldError("data.caption")
	}

	return Envelope{
		Bucket:    w.Bucket,
		Key:       *w.Key,
		Embedding: *w.Data.Embedding,
		Caption:   *w.Data.Caption,
	}, nil
}
