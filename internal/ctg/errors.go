package ctg

import "errors"

var (
	// ErrNoImage is returned when an operation needs a held image and there is none.
	ErrNoImage = errors.New("no image provided")
	// ErrMalformedResponse marks a backend reply that could not be interpreted.
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrCameraPermission is returned when camera access was refused.
	ErrCameraPermission = errors.New("camera permission denied")
	// ErrCameraUnavailable is returned when no camera is configured or reachable.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrStreamStopped is returned when a frame is requested from a released stream.
	ErrStreamStopped = errors.New("camera stream stopped")
)
