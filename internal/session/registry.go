package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/flow"
)

// ErrNotFound is returned for an unknown or evicted session id.
var ErrNotFound = errors.New("session not found")

// Factory builds the flow for a new session.
type Factory func(id string) *flow.Flow

// Gauge reports the number of live sessions.
type Gauge interface {
	SetActiveSessions(n int)
}

type entry struct {
	flow     *flow.Flow
	lastSeen time.Time
}

// Registry holds the live capture page sessions.
type Registry struct {
	factory Factory
	idleTTL time.Duration
	gauge   Gauge
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates an empty registry. gauge may be nil.
func NewRegistry(factory Factory, idleTTL time.Duration, gauge Gauge, logger *zap.Logger) *Registry {
	return &Registry{
		factory:  factory,
		idleTTL:  idleTTL,
		gauge:    gauge,
		logger:   logger.Named("session_registry"),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create opens a new session.
func (r *Registry) Create() *flow.Flow {
	id := uuid.NewString()
	f := r.factory(id)

	r.mu.Lock()
	r.sessions[id] = &entry{flow: f, lastSeen: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	r.report(n)
	r.logger.Debug("session opened", zap.String("session_id", id))
	return f
}

// Get returns the session and marks it as seen.
func (r *Registry) Get(id string) (*flow.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = r.now()
	return e.flow, nil
}

// Remove leaves and forgets a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	e.flow.Leave()
	r.report(n)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the idle TTL and returns how many it removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var stale []*entry
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, e := range stale {
		e.flow.Leave()
	}
	if len(stale) > 0 {
		r.report(n)
		r.logger.Info("evicted idle sessions", zap.Int("evicted", len(stale)), zap.Int("remaining", n))
	}
	return len(stale)
}

// Run sweeps periodically until ctx is done, then leaves every remaining session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.flow.Leave()
	}
	r.report(0)
}

func (r *Registry) report(n int) {
	if r.gauge != nil {
		r.gauge.SetActiveSessions(n)
	}
}
