package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

// MaxFrameSize bounds a single snapshot.
const MaxFrameSize = 10 << 20

// Snapshot is a network camera that serves a still frame on each GET of its snapshot URL.
type Snapshot struct {
	url    string
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewSnapshot returns a camera for url. A nil client uses http.DefaultClient.
func NewSnapshot(url string, client *http.Client, logger *zap.Logger) *Snapshot {
	if client == nil {
		client = http.DefaultClient
	}
	return &Snapshot{
		url:    url,
		client: client,
		logger: logger.Named("snapshot_camera"),
		now:    time.Now,
	}
}

// Open checks the camera once. Authorization failures map to ErrCameraPermission and any
// other failure to ErrCameraUnavailable.
func (s *Snapshot) Open(ctx context.Context) (ctg.CameraStream, error) {
	resp, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxFrameSize))
	resp.Body.Close()

	s.logger.Debug("camera opened", zap.String("correlation_id", logging.CorrelationID(ctx)))
	return &stream{camera: s, active: true}, nil
}

func (s *Snapshot) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ctg.ErrCameraUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ctg.ErrCameraUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ctg.ErrCameraPermission, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ctg.ErrCameraUnavailable, resp.Status)
	}
	return resp, nil
}

type stream struct {
	camera *Snapshot

	mu     sync.Mutex
	active bool
}

// Capture fetches one frame and sniffs its type.
func (st *stream) Capture(ctx context.Context) (*ctg.Image, error) {
	if !st.Active() {
		return nil, ctg.ErrStreamStopped
	}
	resp, err := st.camera.get(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)
	}
	if len(data) == 0 {
		return nil, ctg.ErrNoImage
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("camera returned %s, not an image", mtype.String())
	}
	return &ctg.Image{
		Name:        fmt.Sprintf("capture-%s%s", st.camera.now().UTC().Format("20060102-150405"), mtype.Extension()),
		ContentType: mtype.String(),
		Data:        data,
	}, nil
}

func (st *stream) Stop() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active = false
}

func (st *stream) Active() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}
