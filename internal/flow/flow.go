package flow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

// User-facing notice texts.
const (
	MsgNoImage       = "Please upload or capture an image first."
	MsgCameraDenied  = "Unable to access the camera. Please allow permission."
	MsgCaptureFailed = "Unable to capture a photo. Please try again."
	MsgUploaded      = "Image uploaded successfully!"
	MsgUploadFailed  = "Unable to connect to the backend. Please check server logs."
)

// ErrLeft is returned when the page session was left while an operation was in flight.
var ErrLeft = errors.New("page session left")

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient notification shown once.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Handoff passes a delivered image on to the result page and returns its claim id.
// Revoke drops a delivered record nobody will claim.
type Handoff interface {
	Deliver(ctx context.Context, img *ctg.Image) (string, error)
	Revoke(ctx context.Context, id string) error
}

// TransitionRecorder observes state changes.
type TransitionRecorder interface {
	RecordTransition(from, to string)
}

// Options wires a Flow's collaborators. Camera may be nil when no camera is attached.
type Options struct {
	Camera   ctg.Camera
	Uploader ctg.Uploader
	Handoff  Handoff
	// Preview builds the display-only preview reference for a new image.
	Preview func(contentType string, data []byte) string
	Metrics TransitionRecorder
	Logger  *zap.Logger
}

// View is the page model of a capture session.
type View struct {
	SessionID     string   `json:"session_id"`
	State         State    `json:"state"`
	HasImage      bool     `json:"has_image"`
	ImageName     string   `json:"image_name,omitempty"`
	Preview       string   `json:"preview,omitempty"`
	CameraActive  bool     `json:"camera_active"`
	SubmitEnabled bool     `json:"submit_enabled"`
	Busy          bool     `json:"busy"`
	HandoffID     string   `json:"handoff_id,omitempty"`
	Notices       []Notice `json:"notices"`
}

// Flow is the capture/upload state machine of one page session.
type Flow struct {
	id       string
	camera   ctg.Camera
	uploader ctg.Uploader
	handoff  Handoff
	preview  func(string, []byte) string
	metrics  TransitionRecorder
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	image      *ctg.Image
	stream     ctg.CameraStream
	cameraBusy bool
	generation uint64
	handoffID  string
	notices    []Notice
}

// New creates a flow in the Empty state.
func New(id string, opts Options) *Flow {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		id:       id,
		camera:   opts.Camera,
		uploader: opts.Uploader,
		handoff:  opts.Handoff,
		preview:  opts.Preview,
		metrics:  opts.Metrics,
		logger:   logging.WithOperation(logger.Named("capture_flow"), "flow", id),
		state:    StateEmpty,
	}
}

// ID returns the session id.
func (f *Flow) ID() string {
	return f.id
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SelectImage holds a file chosen by the user, replacing any previous one.
func (f *Flow) SelectImage(img *ctg.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if img.Empty() {
		f.notify(LevelWarning, MsgNoImage)
		return ctg.ErrNoImage
	}
	if f.cameraBusy {
		return ErrBusy
	}
	if err := f.apply(EventSelectImage); err != nil {
		return err
	}
	f.image = f.withPreview(img)
	return nil
}

// StartCapture acquires the camera. On failure the flow stays where it was and an error
// notice is queued.
func (f *Flow) StartCapture(ctx context.Context) error {
	f.mu.Lock()
	if f.cameraBusy {
		f.mu.Unlock()
		return ErrBusy
	}
	if _, err := Transition(f.state, EventStartCapture); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.camera == nil {
		f.notify(LevelError, MsgCameraDenied)
		f.mu.Unlock()
		return ctg.ErrCameraUnavailable
	}
	f.cameraBusy = true
	generation := f.generation
	f.mu.Unlock()

	stream, err := f.camera.Open(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cameraBusy = false

	if err != nil {
		f.logger.Warn("camera acquisition failed", zap.Error(err))
		f.notify(LevelError, MsgCameraDenied)
		return logging.NewOperationError("flow.start_capture", f.id, err)
	}
	if generation != f.generation {
		stream.Stop()
		return ErrLeft
	}
	if err := f.apply(EventStartCapture); err != nil {
		stream.Stop()
		return err
	}
	f.stream = stream
	return nil
}

// TakePhoto grabs one frame and releases the camera whatever the outcome.
func (f *Flow) TakePhoto(ctx context.Context) error {
	f.mu.Lock()
	if f.cameraBusy {
		f.mu.Unlock()
		return ErrBusy
	}
	if _, err := Transition(f.state, EventTakePhoto); err != nil {
		f.mu.Unlock()
		return err
	}
	stream := f.stream
	f.cameraBusy = true
	generation := f.generation
	f.mu.Unlock()

	img, err := stream.Capture(ctx)
	stream.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cameraBusy = false

	if generation != f.generation || f.state != StateCapturing {
		return ErrLeft
	}
	f.stream = nil
	if err == nil && img.Empty() {
		err = ctg.ErrNoImage
	}
	if err != nil {
		f.logger.Warn("photo capture failed", zap.Error(err))
		f.notify(LevelError, MsgCaptureFailed)
		_ = f.apply(EventCancelCapture)
		return logging.NewOperationError("flow.take_photo", f.id, err)
	}
	if err := f.apply(EventTakePhoto); err != nil {
		return err
	}
	f.image = f.withPreview(img)
	return nil
}

// CancelCapture releases the camera and returns to Empty.
func (f *Flow) CancelCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.apply(EventCancelCapture); err != nil {
		return err
	}
	f.releaseStream()
	f.generation++
	return nil
}

// Discard is the Return action: it drops the held image.
func (f *Flow) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.apply(EventDiscard); err != nil {
		return err
	}
	f.image = nil
	f.handoffID = ""
	f.releaseStream()
	return nil
}

// Submit uploads the held image and hands it to the result page. The lock is not held
// while the upload is in flight, so the view stays readable and a second Submit gets ErrBusy.
func (f *Flow) Submit(ctx context.Context) (string, error) {
	f.mu.Lock()
	if f.image.Empty() {
		f.notify(LevelWarning, MsgNoImage)
		f.mu.Unlock()
		return "", ctg.ErrNoImage
	}
	if f.cameraBusy {
		f.mu.Unlock()
		return "", ErrBusy
	}
	if err := f.apply(EventSubmit); err != nil {
		f.mu.Unlock()
		return "", err
	}
	img := f.image
	generation := f.generation
	f.mu.Unlock()

	err := f.uploader.UploadScan(ctx, img)
	if err == nil && !f.current(generation) {
		return "", ErrLeft
	}
	var handoffID string
	if err == nil {
		handoffID, err = f.handoff.Deliver(ctx, img)
	}

	f.mu.Lock()
	if generation != f.generation {
		f.mu.Unlock()
		if handoffID != "" {
			f.revoke(ctx, handoffID)
		}
		return "", ErrLeft
	}
	defer f.mu.Unlock()

	if err != nil {
		f.logger.Error("scan submission failed", zap.Error(err))
		f.notify(LevelError, MsgUploadFailed)
		_ = f.apply(EventSubmitFailed)
		return "", logging.NewOperationError("flow.submit", f.id, err)
	}
	if err := f.apply(EventSubmitSucceeded); err != nil {
		return "", err
	}
	f.handoffID = handoffID
	f.notify(LevelSuccess, MsgUploaded)
	f.logger.Info("scan delivered", zap.String("handoff_id", handoffID))
	return handoffID, nil
}

// Leave is navigation away from the page: the camera is released, the image dropped and
// any in-flight submission becomes stale.
func (f *Flow) Leave() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releaseStream()
	f.image = nil
	f.handoffID = ""
	f.notices = nil
	f.generation++
	_ = f.apply(EventLeave)
}

// View returns the page model and drains queued notices.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	view := View{
		SessionID:     f.id,
		State:         f.state,
		HasImage:      !f.image.Empty(),
		CameraActive:  f.stream != nil && f.stream.Active(),
		SubmitEnabled: f.state == StatePreviewing && !f.image.Empty() && !f.cameraBusy,
		Busy:          f.state == StateSubmitting || f.cameraBusy,
		HandoffID:     f.handoffID,
		Notices:       f.notices,
	}
	if view.Notices == nil {
		view.Notices = []Notice{}
	}
	if f.image != nil {
		view.ImageName = f.image.Name
		view.Preview = f.image.Preview
	}
	f.notices = nil
	return view
}

func (f *Flow) apply(e Event) error {
	next, err := Transition(f.state, e)
	if err != nil {
		return err
	}
	if next != f.state {
		if f.metrics != nil {
			f.metrics.RecordTransition(f.state.String(), next.String())
		}
		f.logger.Debug("state transition",
			zap.Stringer("from", f.state),
			zap.Stringer("to", next),
			zap.Stringer("event", e),
		)
	}
	f.state = next
	return nil
}

// revoke drops a hand-off delivered for a session that was left meanwhile.
func (f *Flow) revoke(ctx context.Context, handoffID string) {
	if err := f.handoff.Revoke(context.WithoutCancel(ctx), handoffID); err != nil {
		f.logger.Warn("failed to revoke stale hand-off", zap.String("handoff_id", handoffID), zap.Error(err))
	}
}

// current reports whether no Leave or cancel happened since generation was read.
func (f *Flow) current(generation uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return generation == f.generation
}

func (f *Flow) releaseStream() {
	if f.stream != nil {
		f.stream.Stop()
		f.stream = nil
	}
}

func (f *Flow) notify(level Level, message string) {
	f.notices = append(f.notices, Notice{Level: level, Message: message})
}

func (f *Flow) withPreview(img *ctg.Image) *ctg.Image {
	held := *img
	if held.Preview == "" && f.preview != nil {
		held.Preview = f.preview(held.ContentType, held.Data)
	}
	return &held
}
