package backendclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
)

// BreakerConfig tunes the per-operation circuit breakers.
type BreakerConfig struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
	OnStateChange    func(operation string, from, to gobreaker.State)
}

func (c BreakerConfig) normalize() BreakerConfig {
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

type breakerSet struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func newBreakerSet(cfg BreakerConfig, logger *zap.Logger) *breakerSet {
	return &breakerSet{
		cfg:      cfg.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (b *breakerSet) execute(operation string, fn func() error) error {
	if !b.cfg.Enabled {
		return fn()
	}
	_, err := b.breaker(operation).Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *breakerSet) breaker(operation string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[operation]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: b.cfg.HalfOpenMaxCalls,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= b.cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				zap.String("operation", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if b.cfg.OnStateChange != nil {
				b.cfg.OnStateChange(name, from, to)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)
	b.breakers[operation] = cb
	return cb
}

// countsAsFailure decides whether an error says something about the remote service's health.
// Client-side cancellation, 4xx replies and undecodable bodies do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, ctg.ErrMalformedResponse) {
		return false
	}
	return true
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
