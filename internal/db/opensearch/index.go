package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
)

// CreateIndex creates a k-NN enabled index with mappings derived from def.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	body, err := buildIndexBody(def)
	if err != nil {
		return err
	}

	_, err = s.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: def.Name,
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// IndexExists reports whether the index exists. Any answer other than 200 or 404
// (403 from a bad signature, 5xx) is an error.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	resp, err := s.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{name}})
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		}
	}
	if err == nil {
		err = errors.New("unexpected response")
		if resp != nil {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}
	return false, &db.Error{Op: db.OpIndexInfo, Err: err}
}

func buildIndexBody(def *db.IndexDefinition) ([]byte, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	properties := make(map[string]any, len(def.Fields))
	for _, f := range def.Fields {
		switch f.Type {
		case db.IndexFieldTag:
			properties[f.Name] = map[string]any{"type": "keyword"}
		case db.IndexFieldText:
			properties[f.Name] = map[string]any{"type": "text"}
		case db.IndexFieldVector:
			properties[f.Name] = knnVectorMapping(f)
		default:
			return nil, errors.New("unknown field type")
		}
	}

	body := map[string]any{
		"settings": map[string]any{"index": map[string]any{"knn": true}},
		"mappings": map[string]any{"properties": properties},
	}
	return json.Marshal(body)
}

func knnVectorMapping(f db.IndexField) map[string]any {
	params := map[string]any{}
	if f.VectorM > 0 {
		params["m"] = f.VectorM
	}
	if f.VectorEFConstruct > 0 {
		params["ef_construction"] = f.VectorEFConstruct
	}

	method := map[string]any{
		"name":       "hnsw",
		"engine":     "faiss",
		"space_type": spaceType(f.VectorDistance),
	}
	if len(params) > 0 {
		method["parameters"] = params
	}

	return map[string]any{
		"type":      "knn_vector",
		"dimension": f.VectorDim,
		"method":    method,
	}
}

func spaceType(d db.DistanceMetric) string {
	switch d {
	case db.DistanceL2:
		return "l2"
	case db.DistanceIP:
		return "innerproduct"
	default:
		return "cosinesimil"
	}
}
