package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logpkg "github.com/kailas-cloud/vecdex-ingest/internal/logger"
	"github.com/kailas-cloud/vecdex-ingest/internal/metrics"
	healthuc "github.com/kailas-cloud/vecdex-ingest/internal/usecase/health"
)

type fakeHealth struct {
	report healthuc.Report
}

func (f *fakeHealth) Check(_ context.Context) healthuc.Report { return f.report }

func healthy() *fakeHealth {
	return &fakeHealth{report: healthuc.Report{
		Status: healthuc.Healthy,
		Checks: map[string]healthuc.CheckResult{"index": healthuc.CheckOK},
	}}
}

func indexDown() *fakeHealth {
	return &fakeHealth{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"index": healthuc.CheckError, "dead_letter": healthuc.CheckOK},
	}}
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestReadiness_OK(t *testing.T) {
	rr := serve(t, NewServer(healthy(), nil).Router(), "/readyz")

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
	resp := decode(t, rr)
	if resp.Status != "ok" || resp.Checks["index"] != "ok" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestReadiness_IndexDownIs503(t *testing.T) {
	rr := serve(t, NewServer(indexDown(), nil).Router(), "/readyz")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rr.Code)
	}
	resp := decode(t, rr)
	if resp.Status != "degraded" || resp.Checks["index"] != "error" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestReadiness_DeadLetterDownStaysReady(t *testing.T) {
	h := &fakeHealth{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"index": healthuc.CheckOK, "dead_letter": healthuc.CheckError},
	}}
	rr := serve(t, NewServer(h, nil).Router(), "/readyz")

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
}

func TestLiveness_AlwaysOK(t *testing.T) {
	rr := serve(t, NewServer(indexDown(), nil).Router(), "/healthz")

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp := decode(t, rr); resp.Checks["index"] != "error" {
		t.Errorf("expected index check reported, got %+v", resp)
	}
}

func TestMetrics_Endpoint(t *testing.T) {
	metrics.RegisterIngestMetrics()
	metrics.BatchesTotal.WithLabelValues(metrics.OutcomeOK).Inc()

	rr := serve(t, NewServer(healthy(), nil).Router(), "/metrics")

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "vecdex_ingest_batches_total") {
		t.Error("expected ingest metrics in scrape output")
	}
}

func TestNotFound_JSON(t *testing.T) {
	rr := serve(t, NewServer(healthy(), nil).Router(), "/collections")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "not_found" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	rr := serve(t, NewServer(healthy(), nil).Router(), "/healthz")

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestJSONRecoverer(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := jsonRecoverer(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := serve(t, h, "/healthz")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal_error") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("expected one panic log entry")
	}
}

func TestWideEvent_AttachesLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var fromCtx *zap.Logger
	h := wideEventMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = logpkg.FromContext(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	serve(t, h, "/readyz")

	if fromCtx == nil {
		t.Fatal("expected request logger in context")
	}
	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 canonical line, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("expected warn for 503, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["status"] != int64(http.StatusServiceUnavailable) {
		t.Errorf("unexpected fields: %v", entries[0].ContextMap())
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(healthy(), nil).ListenAndServe(ctx, 0, time.Second) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
