package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
)

// admitScript prunes, checks and appends in one step so replicas sharing a
// quota cannot both admit the last slot. Scores are unix microseconds.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count >= limit then
	return {0, count}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])

return {1, count + 1}
`)

// RateLimitRedisStore is a ratelimit.Store backed by one sorted set per key.
type RateLimitRedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRateLimitRedisStore creates a sliding window store on client.
func NewRateLimitRedisStore(client *redis.Client) *RateLimitRedisStore {
	return &RateLimitRedisStore{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

func (r *RateLimitRedisStore) Admit(
	ctx context.Context, key string, limit int64, window time.Duration,
) (bool, int64, error) {
	now := r.now().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := admitScript.Run(ctx, r.client, []string{r.prefix + key},
		now, window.Microseconds(), limit, member, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit admit: %w", err)
	}

	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit admit: unexpected reply %v", res)
	}

	return res[0] == 1, res[1], nil
}

func (r *RateLimitRedisStore) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := r.now().UnixMicro()
	floor := "(" + strconv.FormatInt(now-window.Microseconds(), 10)

	return r.client.ZCount(ctx, r.prefix+key, floor, "+inf").Result()
}

// Compile-time check.
var _ ratelimit.Store = (*RateLimitRedisStore)(nil)
