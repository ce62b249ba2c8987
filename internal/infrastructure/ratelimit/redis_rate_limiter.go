package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// Token bucket in a Redis hash. Returns {allowed, remaining, capacity, retry_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = math.max(0, now - last_refill)
tokens = math.min(tokens + elapsed * rate / 1000, capacity)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    retry_ms = math.ceil((1 - tokens) / rate * 1000)
end

local full_ms = math.ceil((capacity - tokens) / rate * 1000)
redis.call('HMSET', key, 'tokens', tostring(tokens), 'last_refill', now)
redis.call('PEXPIRE', key, full_ms + 60000)

return {allowed, math.floor(tokens), math.floor(capacity), retry_ms}
`)

// RedisLimiter shares buckets between bridge instances through Redis. When
// Redis fails it falls back to an in-process bucket for the same key.
type RedisLimiter struct {
	client    redis.UniversalClient
	limits    Limits
	keyPrefix string
	clock     clockwork.Clock
	fallback  *LocalLimiter
	logger    logger.Logger
}

// NewRedisLimiter creates a Redis-backed limiter.
//
// Parameters:
//   - client: Redis client
//   - limits: bucket size and refill rate
//   - keyPrefix: prefix of every bucket key
//   - clock: time source; nil uses the wall clock
//   - log: Logger instance
func NewRedisLimiter(client redis.UniversalClient, limits Limits, keyPrefix string, clock clockwork.Clock, log logger.Logger) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.ErrInvalidArgument("redis client is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if keyPrefix == "" {
		keyPrefix = "ratelimit"
	}
	return &RedisLimiter{
		client:    client,
		limits:    limits,
		keyPrefix: keyPrefix,
		clock:     clock,
		fallback:  NewLocalLimiter(limits, clock),
		logger:    log.WithComponent("ratelimit"),
	}, nil
}

// Allow takes one token from the bucket for key.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := tokenBucketScript.Run(ctx, rl.client, []string{rl.buildKey(key)},
		rl.limits.capacity(), rl.limits.rate(), rl.clock.Now().UnixMilli()).Int64Slice()
	if err != nil {
		rl.logger.Warn(ctx, "Redis rate limiter unavailable, using local bucket",
			logger.String("key", key), logger.Err(err))
		return rl.fallback.Allow(ctx, key)
	}
	if len(res) < 4 {
		return Decision{}, errors.ErrInternal(fmt.Sprintf("unexpected rate limit script result %v", res))
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		Limit:      int(res[2]),
		RetryAfter: time.Duration(res[3]) * time.Millisecond,
	}, nil
}

// Reset forgets the bucket for key.
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	_ = rl.fallback.Reset(ctx, key)
	if err := rl.client.Del(ctx, rl.buildKey(key)).Err(); err != nil {
		return errors.ErrTransport("could not reset rate limit").WithCause(err)
	}
	return nil
}

func (rl *RedisLimiter) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.keyPrefix, key)
}
