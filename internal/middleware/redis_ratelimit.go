package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills one token every interval_ms up to capacity and
// takes one if available. State lives in a hash so all API replicas share it.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 then
	local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + intervals * interval_ms
	end
end

local allowed = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return allowed
`)

// RedisLimiter is a token bucket shared across processes through redis.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "autoshop:ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rpm int) (bool, error) {
	interval := time.Minute / time.Duration(rpm)
	args := []any{
		l.now().UnixMilli(),
		rpm,
		interval.Milliseconds(),
		120,
	}

	allowed, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("run token bucket: %w", err)
	}
	return allowed == 1, nil
}
