package ctg

import "context"

// Camera acquires a live stream.
type Camera interface {
	Open(ctx context.Context) (CameraStream, error)
}

// CameraStream is an acquired camera resource. Stop must be safe to call more than once.
type CameraStream interface {
	Capture(ctx context.Context) (*Image, error)
	Stop()
	Active() bool
}
