package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tracks logged-out token ids until the token would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revoked ids in-memory (single instance only).
type MemoryRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Time
	now func() time.Time
}

// NewMemoryRevoker builds an in-memory revoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{ids: make(map[string]time.Time), now: time.Now}
}

// Revoke marks jti as revoked for ttl.
func (r *MemoryRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, expiry := range r.ids {
		if now.After(expiry) {
			delete(r.ids, id)
		}
	}
	r.ids[jti] = now.Add(ttl)
	return nil
}

// IsRevoked checks if jti is revoked.
func (r *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.ids[jti]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.ids, jti)
		return false, nil
	}
	return true, nil
}

// RedisRevoker stores revoked ids in Redis with a TTL so instances share logouts.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisRevoker builds a Redis-backed revoker on an existing client.
func NewRedisRevoker(client *redis.Client, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "recipeshare:session:revoked:"
	}
	return &RedisRevoker{client: client, prefix: prefix}
}

// Revoke marks jti as revoked for ttl.
func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	return r.client.Set(ctx, r.prefix+jti, "1", ttl).Err()
}

// IsRevoked checks if jti is revoked.
func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
