package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/message"
	"github.com/kailas-cloud/vecdex-ingest/internal/logger"
	"github.com/kailas-cloud/vecdex-ingest/internal/metrics"
)

// DefaultMaxBatchSize matches the SQS maximum batch size.
const DefaultMaxBatchSize = 10

// Service turns queue messages into documents and bulk-writes them to one index.
type Service struct {
	indexer      BulkIndexer
	index        string
	logger       *zap.Logger
	deadLetter   DeadLetter
	parallelism  int
	maxBatchSize int
}

// New creates an ingest service writing to index.
func New(indexer BulkIndexer, index string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		indexer:      indexer,
		index:        index,
		logger:       log,
		parallelism:  1,
		maxBatchSize: DefaultMaxBatchSize,
	}
}

// WithMaxBatchSize caps the number of messages per bulk call.
// Larger inputs are processed in consecutive chunks.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// WithParallelism sets how many messages are transformed concurrently.
func (s *Service) WithParallelism(n int) *Service {
	if n > 0 {
		s.parallelism = n
	}
	return s
}

// WithDeadLetter forwards failed records to dl after each batch.
func (s *Service) WithDeadLetter(dl DeadLetter) *Service {
	s.deadLetter = dl
	return s
}

// Index returns the target index name.
func (s *Service) Index() string { return s.index }

// ProcessBatch transforms every message and writes the valid documents in one bulk call
// per chunk. Record failures are reported, never returned. The only returned error wraps
// domain.ErrStoreUnavailable; the report then covers the chunks processed so far.
func (s *Service) ProcessBatch(ctx context.Context, msgs []message.Raw) (batch.Report, error) {
	report := batch.Report{BatchID: uuid.NewString()}
	log := logger.FromContextOr(ctx, s.logger).With(
		zap.String("batch_id", report.BatchID),
		zap.String("index", s.index),
	)
	metrics.BatchSize.Observe(float64(len(msgs)))

	bulkCalls := 0
	for start := 0; start < len(msgs); start += s.maxBatchSize {
		end := min(start+s.maxBatchSize, len(msgs))

		chunk, called, err := s.processChunk(ctx, msgs[start:end])
		report.Merge(chunk)
		if called {
			bulkCalls++
		}
		if err != nil {
			s.finish(log, report)
			metrics.BatchesTotal.WithLabelValues(metrics.OutcomeStoreUnavailable).Inc()
			log.Error("Bulk write failed",
				zap.Int("pending", end-start-len(chunk.ParseFailures)),
				zap.Error(err),
			)
			return report, err
		}
	}

	s.finish(log, report)
	if bulkCalls == 0 {
		metrics.BatchesTotal.WithLabelValues(metrics.OutcomeEmpty).Inc()
	} else {
		metrics.BatchesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}

	s.publishDeadLetters(ctx, log, report)
	return report, nil
}

// processChunk handles at most maxBatchSize messages. called reports whether the
// bulk write was attempted.
func (s *Service) processChunk(ctx context.Context, msgs []message.Raw) (batch.Report, bool, error) {
	report := batch.Report{Total: len(msgs)}
	outcomes := s.transformAll(msgs)

	docs := make([]domdoc.Document, 0, len(msgs))
	refs := make([]int, 0, len(msgs))
	for i, o := range outcomes {
		if o.err != nil {
			report.ParseFailures = append(report.ParseFailures, failure(msgs[i], "", o.err))
			continue
		}
		docs = append(docs, o.doc)
		refs = append(refs, i)
	}

	if len(docs) == 0 {
		return report, false, nil
	}

	start := time.Now()
	results, err := s.indexer.BulkIndex(ctx, s.index, docs)
	metrics.BulkDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return report, true, err
	}

	for j, doc := range docs {
		msg := msgs[refs[j]]
		switch {
		case j >= len(results):
			report.StoreFailures = append(report.StoreFailures,
				failure(msg, doc.ID(), domain.NewStoreWriteError("no result returned for document")))
		case results[j].OK():
			report.Succeeded++
		default:
			report.StoreFailures = append(report.StoreFailures, failure(msg, doc.ID(), results[j].Err()))
		}
	}
	return report, true, nil
}

type outcome struct {
	doc domdoc.Document
	err error
}

func (s *Service) transformAll(msgs []message.Raw) []outcome {
	out := make([]outcome, len(msgs))
	if s.parallelism <= 1 || len(msgs) < 2 {
		for i := range msgs {
			out[i] = s.transform(msgs[i])
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i := range msgs {
		g.Go(func() error {
			out[i] = s.transform(msgs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// transform is pure: no I/O, no shared state.
func (s *Service) transform(msg message.Raw) outcome {
	env, err := message.Parse(msg.Body)
	if err != nil {
		return outcome{err: err}
	}
	doc, err := domdoc.New(env, s.index)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{doc: doc}
}

func failure(msg message.Raw, docID string, err error) batch.Failure {
	f := batch.NewFailure(msg.ID, docID, err)
	f.Body = msg.Body
	return f
}

// finish emits one error entry per failed record, the batch summary and record metrics.
func (s *Service) finish(log *zap.Logger, report batch.Report) {
	for _, f := range report.Failures() {
		log.Error("Record failed",
			zap.String("message_id", f.Ref),
			zap.String("document_id", f.DocumentID),
			zap.String("error_kind", string(f.Kind)),
			zap.Error(f.Err),
		)
		metrics.RecordsTotal.WithLabelValues(resultLabel(f.Kind)).Inc()
	}
	if report.Succeeded > 0 {
		metrics.RecordsTotal.WithLabelValues("indexed").Add(float64(report.Succeeded))
	}

	log.Info(report.Summary(),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("parse_failures", len(report.ParseFailures)),
		zap.Int("store_failures", len(report.StoreFailures)),
	)
}

func (s *Service) publishDeadLetters(ctx context.Context, log *zap.Logger, report batch.Report) {
	if s.deadLetter == nil || report.TotalFailed() == 0 {
		return
	}
	if err := s.deadLetter.Publish(ctx, report.BatchID, report.Failures()); err != nil {
		metrics.DeadLetterTotal.WithLabelValues("error").Inc()
		log.Error("Dead-letter publish failed", zap.Int("records", report.TotalFailed()), zap.Error(err))
		return
	}
	metrics.DeadLetterTotal.WithLabelValues("ok").Inc()
}

func resultLabel(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindParse:
		return "parse_error"
	case domain.KindMalformedKey:
		return "malformed_key"
	case domain.KindMissingField:
		return "missing_field"
	case domain.KindStoreWrite:
		return "store_write_error"
	default:
		return "unknown"
	}
}
