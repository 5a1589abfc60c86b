package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DedupeStore is a minimal interface for idempotency storage used by the orchestrator.
// Implementations should store a value under a correlation key with a TTL.
type DedupeStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryDedupeStore is an in-process DedupeStore, used when no Redis
// address is configured. It backs the link resolver's per-URL attempt
// counter in single-process deployments and in tests.
type MemoryDedupeStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   string
	expires time.Time
}

// NewMemoryDedupeStore returns an empty MemoryDedupeStore.
func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{entries: make(map[string]memEntry)}
}

// Get returns the value for key, or "" if absent or expired.
func (s *MemoryDedupeStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		return "", nil
	}
	return e.value, nil
}

// Set stores value under key with the given TTL (zero means no expiry).
func (s *MemoryDedupeStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.entries[key] = memEntry{value: value, expires: expires}
	return nil
}

// RedisDedupeStore is a Redis-backed implementation of DedupeStore.
type RedisDedupeStore struct {
	client *redis.Client
}

// NewRedisDedupeStore creates a new RedisDedupeStore using the given address
// (e.g., "localhost:6379") and pings the server to validate the connection.
func NewRedisDedupeStore(addr string) (*RedisDedupeStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisDedupeStore{client: c}, nil
}

// Get returns the value for the given key or "" when the key is missing.
func (s *RedisDedupeStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores the given value under key with the provided TTL.
func (s *RedisDedupeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the underlying Redis client. This is not part of the DedupeStore
// interface but is provided for graceful shutdown in main.
func (s *RedisDedupeStore) Close() error {
	return s.client.Close()
}
