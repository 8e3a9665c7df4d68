package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists rate limit state per token key.
type Store interface {
	// Load returns the stored state, or (nil, false, nil) if none exists.
	Load(ctx context.Context, key string) (*RateLimitState, bool, error)
	Save(ctx context.Context, key string, state *RateLimitState) error
}

// TokenKey derives a stable, non-reversible store key from a token.
func TokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]RateLimitState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]RateLimitState)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, key string) (*RateLimitState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[key]
	if !ok {
		return nil, false, nil
	}
	return &state, true, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, key string, state *RateLimitState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = *state
	return nil
}

// RedisStore shares state across processes through Redis, so several workers
// using the same token see one window.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. Keys expire after ttl (0 = never).
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, key string) (*RateLimitState, bool, error) {
	remaining, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyRemaining, key)).Int()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyLimit, key)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("get limit: %w", err)
	}

	resetUnix, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyResetAt, key)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyLastUpdate, key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, false, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &RateLimitState{
		Remaining:  remaining,
		Limit:      limit,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()
	return state, true, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, key string, state *RateLimitState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(RedisKeyRemaining, key), state.Remaining, r.ttl)
	pipe.Set(ctx, fmt.Sprintf(RedisKeyLimit, key), state.Limit, r.ttl)
	pipe.Set(ctx, fmt.Sprintf(RedisKeyResetAt, key), state.ResetAt.Unix(), r.ttl)
	pipe.Set(ctx, fmt.Sprintf(RedisKeyLastUpdate, key), lastUpdateJSON, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
