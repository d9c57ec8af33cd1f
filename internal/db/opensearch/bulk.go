package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
)

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

// BulkWrite submits all items as one _bulk request of "index" actions.
// An index action replaces any existing document with the same _id.
func (s *Store) BulkWrite(ctx context.Context, index string, items []db.DocumentItem) ([]error, error) {
	if len(items) == 0 {
		return nil, nil
	}

	itemErrs := make([]error, len(items))
	body, sent := s.buildBody(index, items, itemErrs)
	if len(sent) == 0 {
		return itemErrs, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Bulk(ctx, opensearchapi.BulkReq{Body: bytes.NewReader(body)})
	if err != nil {
		return nil, db.Unavailable(db.OpBulk, err)
	}
	if len(resp.Items) != len(sent) {
		return nil, db.Unavailable(db.OpBulk,
			fmt.Errorf("bulk response has %d items for %d actions", len(resp.Items), len(sent)))
	}

	for i, item := range resp.Items {
		for _, r := range item {
			itemErrs[sent[i]] = itemError(r)
		}
	}
	return itemErrs, nil
}

// buildBody renders NDJSON action/source pairs. Items whose source cannot be
// encoded get an entry in itemErrs and are left out; sent maps response
// positions back to item positions.
func (s *Store) buildBody(index string, items []db.DocumentItem, itemErrs []error) ([]byte, []int) {
	var buf bytes.Buffer
	sent := make([]int, 0, len(items))

	for i, item := range items {
		source, err := json.Marshal(item.Fields)
		if err != nil {
			itemErrs[i] = &db.Error{Op: db.OpBulk, Err: fmt.Errorf("encode %s: %w", item.ID, err)}
			continue
		}

		meta := bulkMeta{Index: index}
		if !s.omitIDs {
			meta.ID = item.ID
		}
		action, err := json.Marshal(bulkAction{Index: meta})
		if err != nil {
			itemErrs[i] = &db.Error{Op: db.OpBulk, Err: fmt.Errorf("encode action %s: %w", item.ID, err)}
			continue
		}

		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
		sent = append(sent, i)
	}

	return buf.Bytes(), sent
}

func itemError(r opensearchapi.BulkRespItem) error {
	if r.Error != nil {
		return fmt.Errorf("%s: %s", r.Error.Type, r.Error.Reason)
	}
	if r.Status >= 300 {
		return fmt.Errorf("status %d", r.Status)
	}
	return nil
}
