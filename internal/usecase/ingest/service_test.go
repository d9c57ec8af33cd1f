package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	domdoc "github.com/kailas-cloud/vecdex-ingest/internal/domain/document"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/message"
	"github.com/kailas-cloud/vecdex-ingest/internal/logger"
	"github.com/kailas-cloud/vecdex-ingest/internal/metrics"
)

// --- Mocks ---

type mockIndexer struct {
	mu        sync.Mutex
	bulkFn    func(ctx context.Context, index string, docs []domdoc.Document) ([]batch.Result, error)
	calls     int
	lastIndex string
	lastDocs  []domdoc.Document
}

func (m *mockIndexer) BulkIndex(ctx context.Context, index string, docs []domdoc.Document) ([]batch.Result, error) {
	m.mu.Lock()
	m.calls++
	m.lastIndex = index
	m.lastDocs = docs
	m.mu.Unlock()

	if m.bulkFn != nil {
		return m.bulkFn(ctx, index, docs)
	}
	results := make([]batch.Result, len(docs))
	for i, d := range docs {
		results[i] = batch.NewOK(d.ID())
	}
	return results, nil
}

type mockDeadLetter struct {
	err      error
	calls    int
	batchID  string
	failures []batch.Failure
}

func (m *mockDeadLetter) Publish(_ context.Context, batchID string, failures []batch.Failure) error {
	m.calls++
	m.batchID = batchID
	m.failures = failures
	return m.err
}

// --- Helpers ---

func validBody(key string) []byte {
	return []byte(fmt.Sprintf(
		`{"bucket":"b","key":%q,"data":{"embedding":[0.1,0.2,0.3],"caption":"red sneaker"}}`, key))
}

func raw(id string, body []byte) message.Raw { return message.Raw{ID: id, Body: body} }

func newObservedService(ix BulkIndexer) (*Service, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return New(ix, "products", zap.New(core)), logs
}

// --- Tests ---

func TestProcessBatch_TwoMessageScenario(t *testing.T) {
	ix := &mockIndexer{}
	svc, logs := newObservedService(ix)

	report, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", validBody("shoes/ab12.jpg")),
		raw("m-2", validBody("noslash.jpg")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Succeeded != 1 || report.TotalFailed() != 1 {
		t.Fatalf("expected 1 succeeded / 1 failed, got %s", report.Summary())
	}
	if ix.calls != 1 {
		t.Fatalf("expected exactly one bulk call, got %d", ix.calls)
	}
	if ix.lastIndex != "products" {
		t.Errorf("index = %q", ix.lastIndex)
	}
	if len(ix.lastDocs) != 1 || ix.lastDocs[0].ID() != "ab12" || ix.lastDocs[0].Category() != "shoes" {
		t.Fatalf("unexpected documents: %+v", ix.lastDocs)
	}

	f := report.ParseFailures[0]
	if f.Ref != "m-2" || f.Kind != domain.KindMalformedKey {
		t.Errorf("unexpected failure: %+v", f)
	}

	if n := logs.FilterMessage("1 succeeded, 1 failed").Len(); n != 1 {
		t.Errorf("expected one summary entry, got %d", n)
	}
	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(errs) != 1 {
		t.Fatalf("expected one error entry, got %d", len(errs))
	}
	fields := errs[0].ContextMap()
	if fields["message_id"] != "m-2" || fields["error_kind"] != "MalformedKeyError" {
		t.Errorf("unexpected error entry fields: %v", fields)
	}
	if fields["batch_id"] != report.BatchID || report.BatchID == "" {
		t.Errorf("batch_id not attached: %v", fields["batch_id"])
	}
}

func TestProcessBatch_AllInvalidSkipsBulk(t *testing.T) {
	ix := &mockIndexer{}
	svc, _ := newObservedService(ix)
	before := testutil.ToFloat64(metrics.BatchesTotal.WithLabelValues(metrics.OutcomeEmpty))

	msgs := []message.Raw{
		raw("m-1", []byte("not json")),
		raw("m-2", validBody("ab12.jpg")),
		raw("m-3", []byte(`{"key":"shoes/ab12.jpg","data":{"caption":"x"}}`)),
	}
	report, err := svc.ProcessBatch(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.calls != 0 {
		t.Fatalf("bulk write must be skipped, got %d calls", ix.calls)
	}
	if report.Succeeded != 0 || report.TotalFailed() != len(msgs) {
		t.Fatalf("expected failures = batch size, got %s", report.Summary())
	}

	kinds := []domain.ErrorKind{domain.KindParse, domain.KindMalformedKey, domain.KindMissingField}
	for i, k := range kinds {
		if report.ParseFailures[i].Kind != k {
			t.Errorf("failure %d kind = %s, want %s", i, report.ParseFailures[i].Kind, k)
		}
	}

	after := testutil.ToFloat64(metrics.BatchesTotal.WithLabelValues(metrics.OutcomeEmpty))
	if after-before != 1 {
		t.Errorf("expected empty outcome counted once, got delta %v", after-before)
	}
}

func TestProcessBatch_SubmitsNMinusK(t *testing.T) {
	ix := &mockIndexer{}
	svc, _ := newObservedService(ix)
	svc.WithMaxBatchSize(100)

	var msgs []message.Raw
	malformed := 0
	for i := range 20 {
		if i%4 == 0 {
			msgs = append(msgs, raw(fmt.Sprintf("m-%d", i), validBody(fmt.Sprintf("item%d.jpg", i))))
			malformed++
			continue
		}
		msgs = append(msgs, raw(fmt.Sprintf("m-%d", i), validBody(fmt.Sprintf("cat/item%d.jpg", i))))
	}

	report, err := svc.ProcessBatch(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ix.lastDocs) != len(msgs)-malformed {
		t.Fatalf("expected %d documents submitted, got %d", len(msgs)-malformed, len(ix.lastDocs))
	}
	if report.TotalFailed() < malformed {
		t.Errorf("expected at least %d failures, got %d", malformed, report.TotalFailed())
	}
	if report.Total != len(msgs) {
		t.Errorf("total = %d", report.Total)
	}
}

func TestProcessBatch_StoreFailuresAreAdditive(t *testing.T) {
	ix := &mockIndexer{bulkFn: func(_ context.Context, _ string, docs []domdoc.Document) ([]batch.Result, error) {
		results := make([]batch.Result, len(docs))
		for i, d := range docs {
			if d.ID() == "cd34" {
				results[i] = batch.NewError(d.ID(), domain.NewStoreWriteError("mapper_parsing_exception: bad vector"))
				continue
			}
			results[i] = batch.NewOK(d.ID())
		}
		return results, nil
	}}
	svc, logs := newObservedService(ix)

	report, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", validBody("shoes/ab12.jpg")),
		raw("m-2", validBody("hats/cd34.png")),
		raw("m-3", []byte(`{"key":"x"}`)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Succeeded != 1 || len(report.ParseFailures) != 1 || len(report.StoreFailures) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.TotalFailed() != 2 {
		t.Errorf("total failed = %d, want 2", report.TotalFailed())
	}
	sf := report.StoreFailures[0]
	if sf.Ref != "m-2" || sf.DocumentID != "cd34" || sf.Kind != domain.KindStoreWrite {
		t.Errorf("unexpected store failure: %+v", sf)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 2 {
		t.Errorf("expected one error entry per failed record")
	}
}

func TestProcessBatch_MalformedKeyReportedBeforeMissingFields(t *testing.T) {
	ix := &mockIndexer{}
	svc, _ := newObservedService(ix)

	report, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", []byte(`{"key":"bad-key"}`)),
		raw("m-2", []byte(`{"key":"bad-key","data":{"caption":"x"}}`)),
		raw("m-3", []byte(`{"key":"shoes/ab12.jpg","data":{"caption":"x"}}`)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.calls != 0 {
		t.Errorf("expected no bulk call, got %d", ix.calls)
	}

	want := map[string]domain.ErrorKind{
		"m-1": domain.KindMalformedKey,
		"m-2": domain.KindMalformedKey,
		"m-3": domain.KindMissingField,
	}
	if len(report.ParseFailures) != len(want) {
		t.Fatalf("expected %d parse failures, got %+v", len(want), report.ParseFailures)
	}
	for _, f := range report.ParseFailures {
		if f.Kind != want[f.Ref] {
			t.Errorf("%s: kind = %s, want %s", f.Ref, f.Kind, want[f.Ref])
		}
	}
}

func TestProcessBatch_StoreUnavailableEscalates(t *testing.T) {
	ix := &mockIndexer{bulkFn: func(_ context.Context, _ string, _ []domdoc.Document) ([]batch.Result, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	dl := &mockDeadLetter{}
	svc, _ := newObservedService(ix)
	svc.WithDeadLetter(dl)

	report, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", validBody("shoes/ab12.jpg")),
		raw("m-2", []byte("{")),
	})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(report.ParseFailures) != 1 || report.ParseFailures[0].Ref != "m-2" {
		t.Errorf("parse failures must survive escalation: %+v", report.ParseFailures)
	}
	if dl.calls != 0 {
		t.Errorf("nothing is dead-lettered when the batch is returned to the queue")
	}
}

func TestProcessBatch_ChunksByMaxBatchSize(t *testing.T) {
	ix := &mockIndexer{}
	svc, _ := newObservedService(ix)
	svc.WithMaxBatchSize(2)

	msgs := make([]message.Raw, 5)
	for i := range msgs {
		msgs[i] = raw(fmt.Sprintf("m-%d", i), validBody(fmt.Sprintf("shoes/id%d.jpg", i)))
	}

	report, err := svc.ProcessBatch(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.calls != 3 {
		t.Fatalf("expected 3 bulk calls, got %d", ix.calls)
	}
	if report.Succeeded != 5 || report.Total != 5 {
		t.Errorf("unexpected report: %s total=%d", report.Summary(), report.Total)
	}
}

func TestProcessBatch_UnavailableStopsLaterChunks(t *testing.T) {
	calls := 0
	ix := &mockIndexer{bulkFn: func(_ context.Context, _ string, docs []domdoc.Document) ([]batch.Result, error) {
		calls++
		if calls == 2 {
			return nil, fmt.Errorf("%w: timeout", domain.ErrStoreUnavailable)
		}
		results := make([]batch.Result, len(docs))
		for i, d := range docs {
			results[i] = batch.NewOK(d.ID())
		}
		return results, nil
	}}
	svc, _ := newObservedService(ix)
	svc.WithMaxBatchSize(1)

	report, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", validBody("a/1.jpg")),
		raw("m-2", validBody("a/2.jpg")),
		raw("m-3", validBody("a/3.jpg")),
	})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected processing to stop after the failed chunk, got %d calls", calls)
	}
	if report.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", report.Succeeded)
	}
}

func TestProcessBatch_Parallel(t *testing.T) {
	ix := &mockIndexer{}
	svc, _ := newObservedService(ix)
	svc.WithParallelism(4).WithMaxBatchSize(50)

	msgs := make([]message.Raw, 50)
	for i := range msgs {
		key := fmt.Sprintf("cat/id%d.jpg", i)
		if i%10 == 0 {
			key = "broken"
		}
		msgs[i] = raw(fmt.Sprintf("m-%d", i), validBody(key))
	}

	report, err := svc.ProcessBatch(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.calls != 1 {
		t.Fatalf("expected one bulk call, got %d", ix.calls)
	}
	if report.Succeeded != 45 || len(report.ParseFailures) != 5 {
		t.Errorf("unexpected report: %s", report.Summary())
	}
	for _, f := range report.ParseFailures {
		if f.Kind != domain.KindMalformedKey {
			t.Errorf("unexpected kind %s for %s", f.Kind, f.Ref)
		}
	}
}

func TestProcessBatch_DeadLetter(t *testing.T) {
	ix := &mockIndexer{}
	dl := &mockDeadLetter{}
	svc, logs := newObservedService(ix)
	svc.WithDeadLetter(dl)

	body := []byte(`{"key":"shoes/ab12.jpg"}`)
	report, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", validBody("shoes/ab12.jpg")),
		raw("m-2", body),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 1 || dl.batchID != report.BatchID {
		t.Fatalf("expected one publish for batch %s, got %d (%s)", report.BatchID, dl.calls, dl.batchID)
	}
	if len(dl.failures) != 1 || dl.failures[0].Kind != domain.KindMissingField {
		t.Fatalf("unexpected dead letters: %+v", dl.failures)
	}
	if string(dl.failures[0].Body) != string(body) {
		t.Errorf("original body not carried: %s", dl.failures[0].Body)
	}

	// A publish error is logged, never escalated.
	dl.err = errors.New("broker down")
	if _, err := svc.ProcessBatch(context.Background(), []message.Raw{raw("m-3", body)}); err != nil {
		t.Fatalf("dead-letter error must not escalate: %v", err)
	}
	if logs.FilterMessage("Dead-letter publish failed").Len() != 1 {
		t.Error("expected dead-letter failure to be logged")
	}
}

func TestProcessBatch_NoDeadLetterWhenAllSucceed(t *testing.T) {
	dl := &mockDeadLetter{}
	svc, _ := newObservedService(&mockIndexer{})
	svc.WithDeadLetter(dl)

	if _, err := svc.ProcessBatch(context.Background(), []message.Raw{raw("m-1", validBody("a/b.jpg"))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 0 {
		t.Errorf("expected no publish, got %d", dl.calls)
	}
}

func TestProcessBatch_UsesContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := New(&mockIndexer{}, "products", zap.NewNop())
	ctx := logger.ContextWithLogger(context.Background(), zap.New(core).With(zap.String("aws_request_id", "req-1")))

	if _, err := svc.ProcessBatch(ctx, []message.Raw{raw("m-1", validBody("a/b.jpg"))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := logs.FilterMessage("1 succeeded, 0 failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["aws_request_id"] != "req-1" {
		t.Fatalf("expected summary on the context logger, got %v", entries)
	}
}

func TestProcessBatch_RecordMetrics(t *testing.T) {
	svc, _ := newObservedService(&mockIndexer{})
	indexed := testutil.ToFloat64(metrics.RecordsTotal.WithLabelValues("indexed"))
	malformed := testutil.ToFloat64(metrics.RecordsTotal.WithLabelValues("malformed_key"))

	if _, err := svc.ProcessBatch(context.Background(), []message.Raw{
		raw("m-1", validBody("a/b.jpg")),
		raw("m-2", validBody("a/c.jpg")),
		raw("m-3", validBody("c.jpg")),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d := testutil.ToFloat64(metrics.RecordsTotal.WithLabelValues("indexed")) - indexed; d != 2 {
		t.Errorf("indexed delta = %v, want 2", d)
	}
	if d := testutil.ToFloat64(metrics.RecordsTotal.WithLabelValues("malformed_key")) - malformed; d != 1 {
		t.Errorf("malformed_key delta = %v, want 1", d)
	}
}

func TestResultLabel(t *testing.T) {
	tests := map[domain.ErrorKind]string{
		domain.KindParse:        "parse_error",
		domain.KindMalformedKey: "malformed_key",
		domain.KindMissingField: "missing_field",
		domain.KindStoreWrite:   "store_write_error",
		domain.KindUnknown:      "unknown",
	}
	for kind, want := range tests {
		if got := resultLabel(kind); got != want {
			t.Errorf("resultLabel(%s) = %q, want %q", kind, got, want)
		}
	}
}
