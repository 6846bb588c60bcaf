package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

var (
	// ErrCacheMiss is returned by a Cache when the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
	// ErrHandoffNotFound means the hand-off id is unknown, expired or already consumed.
	ErrHandoffNotFound = errors.New("handoff not found")
)

// Cache abstracts the key/value operations the hand-off needs to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// GetDel reads and removes a value in one step.
	GetDel(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// GetDel retrieves and deletes a value from Redis.
func (c *RedisCache) GetDel(ctx context.Context, key string) (string, error) {
	value, err := c.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache keeps values in process. It is used when no Redis address is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(expiration)}
	return nil
}

func (c *MemoryCache) GetDel(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	entry, ok := c.entries[key]
	if !ok {
		return "", ErrCacheMiss
	}
	delete(c.entries, key)
	return entry.value, nil
}

func (c *MemoryCache) evictExpired() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

type handoffRecord struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}

// HandoffUseCase carries a submitted image from the capture page to the result page.
// Each hand-off can be taken once.
type HandoffUseCase struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	retry  retryPolicy
}

// NewHandoffUseCase constructs a hand-off with the given record lifetime.
func NewHandoffUseCase(cache Cache, ttl time.Duration, logger *zap.Logger) *HandoffUseCase {
	return &HandoffUseCase{
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("handoff_usecase"),
		retry:  defaultRetryPolicy(),
	}
}

func handoffKey(id string) string {
	return fmt.Sprintf("handoff:%s", id)
}

// Deliver stores the image and returns the id the result page claims it with.
func (uc *HandoffUseCase) Deliver(ctx context.Context, img *ctg.Image) (string, error) {
	if img.Empty() {
		return "", ctg.ErrNoImage
	}
	id := uuid.NewString()
	serialized, err := json.Marshal(handoffRecord{
		Name:        img.Name,
		ContentType: img.ContentType,
		Data:        img.Data,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", logging.NewOperationError("handoff.encode", id, err)
	}

	if err := withRedisRetry(ctx, uc.logger, uc.retry, id, "cache.set.handoff", func() error {
		return uc.cache.Set(ctx, handoffKey(id), string(serialized), uc.ttl)
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Take consumes a hand-off. A second Take of the same id returns ErrHandoffNotFound.
func (uc *HandoffUseCase) Take(ctx context.Context, id string) (*ctg.Image, error) {
	if id == "" {
		return nil, ErrHandoffNotFound
	}
	// GETDEL is not idempotent: a retry after a lost reply would read a miss.
	raw, err := uc.cache.GetDel(ctx, handoffKey(id))
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrHandoffNotFound
	}
	if err != nil {
		wrapped := logging.NewOperationError("cache.getdel.handoff", id, err)
		logging.WithOperation(uc.logger, "handoff.take", id).Error("failed to read hand-off", zap.Error(wrapped))
		return nil, wrapped
	}

	var record handoffRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		logging.WithOperation(uc.logger, "handoff.take", id).Warn("failed to decode hand-off record", zap.Error(err))
		return nil, ErrHandoffNotFound
	}
	return &ctg.Image{Name: record.Name, ContentType: record.ContentType, Data: record.Data}, nil
}

// Revoke drops a hand-off that will never be taken. An unknown id is not an error.
func (uc *HandoffUseCase) Revoke(ctx context.Context, id string) error {
	err := withRedisRetry(ctx, uc.logger, uc.retry, id, "cache.del.handoff", func() error {
		_, err := uc.cache.GetDel(ctx, handoffKey(id))
		return err
	})
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	return err
}
