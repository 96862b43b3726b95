package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache fronts the tenant_tokens table. The backend is picked once at
// startup by configuration; request handlers never branch on storage
// technology. Misses and backend errors both report !ok, which sends the
// caller to the database.
type Cache interface {
	Get(ctx context.Context, tenantID uuid.UUID) (string, bool)
	Set(ctx context.Context, tenantID uuid.UUID, token string)
	Delete(ctx context.Context, tenantID uuid.UUID)
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, tenantID uuid.UUID) (string, bool) {
	val, err := c.client.Get(ctx, cacheKey(tenantID)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, tenantID uuid.UUID, token string) {
	c.client.Set(ctx, cacheKey(tenantID), token, c.ttl)
}

func (c *RedisCache) Delete(ctx context.Context, tenantID uuid.UUID) {
	c.client.Del(ctx, cacheKey(tenantID))
}

func cacheKey(tenantID uuid.UUID) string {
	return "cbtoken:" + tenantID.String()
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]memoryEntry
	ttl     time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[uuid.UUID]memoryEntry),
		ttl:     ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, tenantID uuid.UUID) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.token, true
}

func (c *MemoryCache) Set(_ context.Context, tenantID uuid.UUID, token string) {
	c.mu.Lock()
	c.entries[tenantID] = memoryEntry{token: token, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, tenantID uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}
