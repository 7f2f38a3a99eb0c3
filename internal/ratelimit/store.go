// Package ratelimit implements fixed-window admission control for chat
// events on top of an interchangeable counter store.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend names accepted by NewCounterStore.
const (
	BackendShared = "shared"
	BackendMemory = "memory"
)

// CounterStore increments a counter that expires window after its first
// increment. Implementations must be safe for concurrent use.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// StoreOptions selects and configures the counter backend.
type StoreOptions struct {
	Backend            string
	BackendUnavailable bool
	Redis              *redis.Client
	KeyPrefix          string
	EvictThreshold     int
	Logger             zerolog.Logger
}

// NewCounterStore picks the backend once at startup. A shared backend that is
// flagged unavailable, or has no client, degrades to the in-process store.
func NewCounterStore(opts StoreOptions) CounterStore {
	logger := opts.Logger.With().Str("component", "rate_limit_store").Logger()
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))

	switch backend {
	case BackendShared, "redis":
		if opts.BackendUnavailable || opts.Redis == nil {
			logger.Warn().Msg("shared rate limit backend unavailable, using in-memory counters")
			return NewMemoryStore(opts.EvictThreshold)
		}
		logger.Info().Msg("using shared rate limit backend")
		return NewRedisStore(opts.Redis, opts.KeyPrefix, opts.Logger)
	case BackendMemory, "":
		if opts.BackendUnavailable {
			logger.Warn().Msg("rate limit backend flagged unavailable, using in-memory counters")
		}
		return NewMemoryStore(opts.EvictThreshold)
	default:
		logger.Warn().Str("backend", backend).Msg("unknown rate limit backend, using in-memory counters")
		return NewMemoryStore(opts.EvictThreshold)
	}
}

// BackendName reports which backend a store selected by NewCounterStore uses.
func BackendName(store CounterStore) string {
	if _, ok := store.(*RedisStore); ok {
		return BackendShared
	}
	return BackendMemory
}
