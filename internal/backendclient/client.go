package backendclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

const (
	OpUploadScan     = "backend.upload_scan"
	OpClassify       = "backend.classify"
	OpFetchAnalysis  = "backend.fetch_analysis"
	OpFetchScanCount = "backend.fetch_scan_counts"

	uploadField   = "ctgImage"
	classifyField = "file"

	maxResponseBytes = 4 << 20
)

// Recorder receives one observation per outbound call.
type Recorder interface {
	ObserveBackendCall(operation, outcome string, duration time.Duration)
}

// Options configures the adapters. Base URLs come from startup configuration.
type Options struct {
	ScanBaseURL    string
	PredictBaseURL string
	// Timeout bounds each call; zero leaves calls bounded only by the caller's context.
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    BreakerConfig
	Metrics    Recorder
}

// Client talks to the scan service and the prediction service.
type Client struct {
	scanBaseURL    string
	predictBaseURL string
	timeout        time.Duration
	httpClient     *http.Client
	breakers       *breakerSet
	metrics        Recorder
	logger         *zap.Logger
}

var (
	_ ctg.Uploader          = (*Client)(nil)
	_ ctg.Classifier        = (*Client)(nil)
	_ ctg.AnalysisSource    = (*Client)(nil)
	_ ctg.ScanCounterSource = (*Client)(nil)
)

// New builds a Client.
func New(opts Options, logger *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("backend_client")
	return &Client{
		scanBaseURL:    strings.TrimRight(opts.ScanBaseURL, "/"),
		predictBaseURL: strings.TrimRight(opts.PredictBaseURL, "/"),
		timeout:        opts.Timeout,
		httpClient:     httpClient,
		breakers:       newBreakerSet(opts.Breaker, logger),
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

// UploadScan posts the image to the scan service. The response body is ignored.
func (c *Client) UploadScan(ctx context.Context, img *ctg.Image) error {
	if img.Empty() {
		return ctg.ErrNoImage
	}
	return c.call(ctx, OpUploadScan, func(ctx context.Context) (*http.Request, error) {
		return newMultipartRequest(ctx, c.scanBaseURL+"/api/scans/postCTG", uploadField, img)
	}, func(resp *http.Response) error {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	})
}

// Classify posts the image to the prediction service and decodes its verdict.
func (c *Client) Classify(ctx context.Context, img *ctg.Image) (*ctg.PredictionResult, error) {
	if img.Empty() {
		return nil, ctg.ErrNoImage
	}
	var result ctg.PredictionResult
	err := c.call(ctx, OpClassify, func(ctx context.Context) (*http.Request, error) {
		req, err := newMultipartRequest(ctx, c.predictBaseURL+"/predict/", classifyField, img)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, func(resp *http.Response) error {
		contentType := resp.Header.Get("Content-Type")
		if !isJSONContentType(contentType) {
			return fmt.Errorf("%w: content type %q is not JSON", ctg.ErrMalformedResponse, contentType)
		}
		return decodeJSON(resp.Body, &result)
	})
	if err != nil {
		return nil, err
	}
	result.Normalize()
	return &result, nil
}

// FetchAnalysis reads the historical predictions and outcome counts.
func (c *Client) FetchAnalysis(ctx context.Context) (*ctg.Analysis, error) {
	var analysis ctg.Analysis
	err := c.call(ctx, OpFetchAnalysis, func(ctx context.Context) (*http.Request, error) {
		return newGetRequest(ctx, c.predictBaseURL+"/api/analysis")
	}, func(resp *http.Response) error {
		return decodeJSON(resp.Body, &analysis)
	})
	if err != nil {
		return nil, err
	}
	if analysis.Predictions == nil {
		analysis.Predictions = []ctg.PredictionPoint{}
	}
	return &analysis, nil
}

// FetchScanCounts reads the daily, weekly, monthly and yearly volumes.
func (c *Client) FetchScanCounts(ctx context.Context) (*ctg.ScanCounts, error) {
	var counts ctg.ScanCounts
	err := c.call(ctx, OpFetchScanCount, func(ctx context.Context) (*http.Request, error) {
		return newGetRequest(ctx, c.scanBaseURL+"/api/scans/stats")
	}, func(resp *http.Response) error {
		return decodeJSON(resp.Body, &counts)
	})
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

func (c *Client) call(
	ctx context.Context,
	operation string,
	build func(context.Context) (*http.Request, error),
	handle func(*http.Response) error,
) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	correlationID := logging.CorrelationID(ctx)
	start := time.Now()
	err := c.breakers.execute(operation, func() error {
		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return newStatusError(operation, resp)
		}
		return handle(resp)
	})

	outcome := classifyOutcome(err)
	if c.metrics != nil {
		c.metrics.ObserveBackendCall(operation, outcome, time.Since(start))
	}
	if err == nil {
		return nil
	}

	wrapped := logging.NewOperationError(operation, correlationID, err)
	logging.WithOperation(c.logger, operation, correlationID).Warn("backend call failed",
		zap.Error(err),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", time.Since(start)),
	)
	return wrapped
}

func classifyOutcome(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "ok"
	case IsCircuitOpen(err):
		return "circuit_open"
	case errors.As(err, &statusErr):
		return "status_error"
	case errors.Is(err, ctg.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport_error"
	}
}

func isJSONContentType(value string) bool {
	if value == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func decodeJSON(body io.Reader, out any) error {
	if err := json.NewDecoder(io.LimitReader(body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ctg.ErrMalformedResponse, err)
	}
	return nil
}
