package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/goalchat/internal/observability"
)

// incrementScript bumps the counter and sets the expiry only when the key has
// none, so later increments inside the window never extend it.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("TTL", KEYS[1]) < 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore keeps counters in Redis so every gateway node shares them.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore builds a Redis backed counter store.
func NewRedisStore(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "chat:ratelimit"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "rate_limit_redis").Logger(),
	}
}

// Increment never returns an error: when Redis cannot be reached the call
// fails open with a count of 1.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	// EXPIRE takes whole seconds; partial seconds round up so a window is
	// never shorter than configured.
	seconds := int64((window + time.Second - 1) / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	count, err := incrementScript.Run(ctx, s.client, []string{s.prefix + ":" + key}, seconds).Int64()
	if err != nil {
		observability.RateLimitFailOpen().Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("rate limit backend error, admitting request")
		return 1, nil
	}

	return count, nil
}
