package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/flow"
)

type stubStream struct {
	mu     sync.Mutex
	active bool
}

func (s *stubStream) Capture(ctx context.Context) (*ctg.Image, error) {
	return &ctg.Image{Name: "frame.png", Data: []byte("x")}, nil
}

func (s *stubStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *stubStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type stubCamera struct {
	streams []*stubStream
}

func (c *stubCamera) Open(ctx context.Context) (ctg.CameraStream, error) {
	s := &stubStream{active: true}
	c.streams = append(c.streams, s)
	return s, nil
}

type stubGauge struct {
	last int
}

func (g *stubGauge) SetActiveSessions(n int) {
	g.last = n
}

func newTestRegistry(cam *stubCamera, gauge Gauge) *Registry {
	factory := func(id string) *flow.Flow {
		return flow.New(id, flow.Options{Camera: cam, Logger: zap.NewNop()})
	}
	return NewRegistry(factory, time.Minute, gauge, zap.NewNop())
}

func TestRegistryCreateGetRemove(t *testing.T) {
	gauge := &stubGauge{}
	r := newTestRegistry(&stubCamera{}, gauge)

	f := r.Create()
	if gauge.last != 1 {
		t.Fatalf("expected gauge 1, got %d", gauge.last)
	}
	got, err := r.Get(f.ID())
	if err != nil || got != f {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if err := r.Remove(f.ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := r.Get(f.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Remove(f.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
	if gauge.last != 0 {
		t.Fatalf("expected gauge 0, got %d", gauge.last)
	}
}

func TestRegistryRemoveReleasesCamera(t *testing.T) {
	cam := &stubCamera{}
	r := newTestRegistry(cam, nil)

	f := r.Create()
	if err := f.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	_ = r.Remove(f.ID())
	if cam.streams[0].Active() {
		t.Fatal("camera stream still active after the session was removed")
	}
}

func TestRegistrySweepEvictsIdleSessions(t *testing.T) {
	cam := &stubCamera{}
	r := newTestRegistry(cam, &stubGauge{})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle := r.Create()
	_ = idle.StartCapture(context.Background())
	now = now.Add(45 * time.Second)
	fresh := r.Create()

	now = now.Add(30 * time.Second)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := r.Get(idle.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("idle session should be gone, got %v", err)
	}
	if _, err := r.Get(fresh.ID()); err != nil {
		t.Fatalf("fresh session should remain, got %v", err)
	}
	if cam.streams[0].Active() {
		t.Fatal("evicted session still holds the camera")
	}
}

func TestRegistryRunLeavesAllOnShutdown(t *testing.T) {
	cam := &stubCamera{}
	r := newTestRegistry(cam, nil)
	f := r.Create()
	_ = f.StartCapture(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	if r.Len() != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", r.Len())
	}
	if cam.streams[0].Active() {
		t.Fatal("camera stream still active after shutdown")
	}
}
