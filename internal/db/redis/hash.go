package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
)

// HSetMulti stores multiple hashes in a single DoMulti round-trip.
//
// Server replies are reported per item. When every command fails without a server
// reply (connection refused, timeout) the pipeline never reached the server and the
// whole call fails with db.ErrUnavailable.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) ([]error, error) {
	if len(items) == 0 {
		return nil, nil
	}

	cmds := make(rueidis.Commands, len(items))
	for i, item := range items {
		cmd := s.b().Hset().Key(item.Key).FieldValue()
		for k, v := range item.Fields {
			cmd = cmd.FieldValue(k, v)
		}
		cmds[i] = cmd.Build()
	}

	results := s.client.DoMulti(ctx, cmds...)

	itemErrs := make([]error, len(items))
	var transportErr error
	transportFailures := 0
	for i, res := range results {
		err := res.Error()
		if err == nil {
			continue
		}
		if _, ok := rueidis.IsRedisErr(err); !ok {
			transportFailures++
			transportErr = err
		}
		itemErrs[i] = &db.Error{Op: db.OpHSet, Err: fmt.Errorf("key %s: %w", items[i].Key, err)}
	}

	if transportFailures == len(items) {
		return nil, db.Unavailable(db.OpHSet, transportErr)
	}
	return itemErrs, nil
}

// HGetAll returns all fields of a hash. A missing key yields db.ErrKeyNotFound.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	cmd := s.b().Hgetall().Key(key).Build()
	m, err := s.do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: err}
	}
	if len(m) == 0 {
		return nil, db.ErrKeyNotFound
	}
	return m, nil
}
