package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis keys
const (
	visitorsKey  = "follow_reconciler:stats:visitors"
	lastUsersKey = "follow_reconciler:stats:last_users"
)

// recordSearchScript removes every entry equal to ARGV[1] ignoring case,
// pushes ARGV[1] to the front and trims the list to ARGV[2] entries.
var recordSearchScript = redis.NewScript(`
local key = KEYS[1]
local login = ARGV[1]
local limit = tonumber(ARGV[2])
local lowered = string.lower(login)
for _, entry in ipairs(redis.call("LRANGE", key, 0, -1)) do
  if string.lower(entry) == lowered then
    redis.call("LREM", key, 0, entry)
  end
end
redis.call("LPUSH", key, login)
redis.call("LTRIM", key, 0, limit - 1)
return redis.call("LRANGE", key, 0, -1)
`)

// RedisRecorder shares stats between instances through Redis.
type RedisRecorder struct {
	client *redis.Client
}

// NewRedisRecorder creates a Redis-backed recorder.
func NewRedisRecorder(client *redis.Client) *RedisRecorder {
	if client == nil {
		panic("stats: redis client is required")
	}
	return &RedisRecorder{client: client}
}

// Visit implements Recorder.
func (r *RedisRecorder) Visit(ctx context.Context) (Stats, error) {
	visitors, err := r.client.Incr(ctx, visitorsKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis incr visitors: %w", err)
	}
	visitsTotal.Inc()

	lastUsers, err := r.client.LRange(ctx, lastUsersKey, 0, MaxLastUsers-1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis get last users: %w", err)
	}

	return Stats{Visitors: visitors, LastUsers: lastUsers}, nil
}

// RecordSearch implements Recorder.
func (r *RedisRecorder) RecordSearch(ctx context.Context, username string) (Stats, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Stats{}, ErrUsernameRequired
	}

	lastUsers, err := recordSearchScript.Run(ctx, r.client, []string{lastUsersKey}, username, MaxLastUsers).StringSlice()
	if err != nil {
		return Stats{}, fmt.Errorf("redis record search: %w", err)
	}
	searchesRecordedTotal.Inc()

	visitors, err := r.visitors(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Visitors: visitors, LastUsers: lastUsers}, nil
}

// Get implements Recorder.
func (r *RedisRecorder) Get(ctx context.Context) (Stats, error) {
	visitors, err := r.visitors(ctx)
	if err != nil {
		return Stats{}, err
	}

	lastUsers, err := r.client.LRange(ctx, lastUsersKey, 0, MaxLastUsers-1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis get last users: %w", err)
	}

	return Stats{Visitors: visitors, LastUsers: lastUsers}, nil
}

func (r *RedisRecorder) visitors(ctx context.Context) (int64, error) {
	val, err := r.client.Get(ctx, visitorsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get visitors: %w", err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse visitors: %w", err)
	}
	return count, nil
}
