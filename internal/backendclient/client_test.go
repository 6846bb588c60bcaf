package backendclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

type recordedCall struct {
	operation string
	outcome   string
}

type stubRecorder struct {
	calls []recordedCall
}

func (s *stubRecorder) ObserveBackendCall(operation, outcome string, _ time.Duration) {
	s.calls = append(s.calls, recordedCall{operation: operation, outcome: outcome})
}

func testImage() *ctg.Image {
	return &ctg.Image{Name: "photo.png", ContentType: "image/png", Data: []byte("\x89PNG fake")}
}

func newTestClient(server *httptest.Server, rec Recorder) *Client {
	return New(Options{
		ScanBaseURL:    server.URL + "/",
		PredictBaseURL: server.URL,
		Metrics:        rec,
	}, zap.NewNop())
}

func TestUploadScanSendsCTGImageField(t *testing.T) {
	var gotField, gotFilename string
	var gotPayload []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/scans/postCTG" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("ctgImage")
		if err != nil {
			t.Errorf("expected ctgImage field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotField = "ctgImage"
		gotFilename = header.Filename
		gotPayload, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ignored":true}`))
	}))
	defer server.Close()

	rec := &stubRecorder{}
	client := newTestClient(server, rec)
	if err := client.UploadScan(context.Background(), testImage()); err != nil {
		t.Fatalf("UploadScan() error = %v", err)
	}
	if gotField != "ctgImage" || gotFilename != "photo.png" {
		t.Fatalf("unexpected upload field=%q filename=%q", gotField, gotFilename)
	}
	if string(gotPayload) != "\x89PNG fake" {
		t.Fatalf("unexpected payload %q", gotPayload)
	}
	if len(rec.calls) != 1 || rec.calls[0] != (recordedCall{OpUploadScan, "ok"}) {
		t.Fatalf("unexpected recorded calls %+v", rec.calls)
	}
}

func TestUploadScanReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server, nil)
	err := client.UploadScan(context.Background(), testImage())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || !strings.Contains(statusErr.Body, "disk full") {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != OpUploadScan {
		t.Fatalf("expected OperationError for %s, got %v", OpUploadScan, err)
	}
}

func TestUploadScanRejectsEmptyImage(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	client := newTestClient(server, nil)
	if err := client.UploadScan(context.Background(), nil); !errors.Is(err, ctg.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("expected no request for an empty image")
	}
}

func TestClassifyDecodesLabelAndOrderedFeatures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict/" {
			http.NotFound(w, r)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("expected file field: %v", err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"label":"Suspect","features":{"baseline_fhr":140,"accelerations":0.003,"note":"ok"}}`))
	}))
	defer server.Close()

	result, err := newTestClient(server, nil).Classify(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.Label != "Suspect" || result.Category() != ctg.CategorySuspect {
		t.Fatalf("unexpected label %q", result.Label)
	}
	want := []string{"baseline_fhr=140", "accelerations=0.003", "note=ok"}
	if len(result.Features) != len(want) {
		t.Fatalf("expected %d features, got %+v", len(want), result.Features)
	}
	for i, f := range result.Features {
		if got := f.Name + "=" + f.Display(); got != want[i] {
			t.Fatalf("feature %d: got %s, want %s", i, got, want[i])
		}
	}
}

func TestClassifyDefaultsMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	result, err := newTestClient(server, nil).Classify(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.Label != ctg.UnknownLabel {
		t.Fatalf("expected Unknown label, got %q", result.Label)
	}
	if result.Features == nil || len(result.Features) != 0 {
		t.Fatalf("expected empty features, got %#v", result.Features)
	}
}

func TestClassifyRejectsNonJSONContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"label":"Normal"}`))
	}))
	defer server.Close()

	rec := &stubRecorder{}
	_, err := newTestClient(server, rec).Classify(context.Background(), testImage())
	if !errors.Is(err, ctg.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if rec.calls[0].outcome != "malformed" {
		t.Fatalf("expected malformed outcome, got %+v", rec.calls)
	}
}

func TestClassifyReportsHTTP500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"model crashed"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server, nil).Classify(context.Background(), testImage())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 StatusError, got %v", err)
	}
}

func TestClassifyRejectsNonStringLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":3}`))
	}))
	defer server.Close()

	_, err := newTestClient(server, nil).Classify(context.Background(), testImage())
	if !errors.Is(err, ctg.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestFetchAnalysisAndScanCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/analysis":
			_, _ = w.Write([]byte(`{"predictions":[{"date":"2026-10-01","N":4,"S":1,"P":0}],"nspStats":{"Normal":40,"Suspect":7}}`))
		case "/api/scans/stats":
			_, _ = w.Write([]byte(`{"daily":3,"weekly":12,"monthly":50,"yearly":600}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server, nil)
	analysis, err := client.FetchAnalysis(context.Background())
	if err != nil {
		t.Fatalf("FetchAnalysis() error = %v", err)
	}
	if len(analysis.Predictions) != 1 || analysis.Predictions[0].N != 4 {
		t.Fatalf("unexpected predictions %+v", analysis.Predictions)
	}
	if analysis.NSPStats != (ctg.NSPStats{Normal: 40, Suspect: 7}) {
		t.Fatalf("unexpected nsp stats %+v", analysis.NSPStats)
	}

	counts, err := client.FetchScanCounts(context.Background())
	if err != nil {
		t.Fatalf("FetchScanCounts() error = %v", err)
	}
	if counts.Daily != 3 || counts.Yearly != 600 || counts.NSPStats != nil {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestBreakerOpensAfterServerFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rec := &stubRecorder{}
	client := New(Options{
		ScanBaseURL:    server.URL,
		PredictBaseURL: server.URL,
		Metrics:        rec,
		Breaker: BreakerConfig{
			Enabled:      true,
			MinRequests:  2,
			FailureRatio: 0.5,
			OpenTimeout:  time.Minute,
		},
	}, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := client.FetchAnalysis(context.Background()); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	_, err := client.FetchAnalysis(context.Background())
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected open breaker to skip the server, got %d hits", hits)
	}
	if last := rec.calls[len(rec.calls)-1]; last.outcome != "circuit_open" {
		t.Fatalf("expected circuit_open outcome, got %+v", last)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := New(Options{
		ScanBaseURL:    server.URL,
		PredictBaseURL: server.URL,
		Breaker:        BreakerConfig{Enabled: true, MinRequests: 1, FailureRatio: 0.1},
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		err := client.UploadScan(context.Background(), testImage())
		if IsCircuitOpen(err) {
			t.Fatalf("call %d: 4xx replies must not open the breaker", i)
		}
	}
}

func TestTimeoutBoundsHungCall(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(Options{ScanBaseURL: server.URL, PredictBaseURL: server.URL, Timeout: 20 * time.Millisecond}, zap.NewNop())
	_, err := client.FetchScanCounts(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
