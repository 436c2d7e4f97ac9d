package usertoken

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tracks revoked token IDs until expiry.
type Revoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}

// MemoryRevoker keeps revoked token IDs in-memory (single instance only).
type MemoryRevoker struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewMemoryRevoker builds an in-memory revoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{tokens: make(map[string]time.Time)}
}

// Revoke marks a token ID as revoked for ttl.
func (r *MemoryRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenID] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token ID is revoked.
func (r *MemoryRevoker) IsRevoked(tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RedisRevoker stores revoked token IDs in Redis with TTL.
type RedisRevoker struct {
	client *redis.Client
}

// NewRedisRevoker builds a Redis-backed revoker.
func NewRedisRevoker(addr, password string) *RedisRevoker {
	return &RedisRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Revoke marks a token ID as revoked for ttl.
func (r *RedisRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

// IsRevoked checks if the token ID is revoked.
func (r *RedisRevoker) IsRevoked(tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// Close releases the Redis client.
func (r *RedisRevoker) Close() error {
	return r.client.Close()
}

func revocationKey(tokenID string) string {
	return "nexus:revoked:" + tokenID
}
