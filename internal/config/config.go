package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/goalchat/internal/ratelimit"
)

// Config holds runtime configuration values for the chat service.
type Config struct {
	AppName                     string
	AppEnv                      string
	AppPort                     string
	DatabaseDriver              string
	DatabaseURL                 string
	RedisURL                    string
	NATSURL                     string
	JWTSecret                   string
	ChannelBase                 string
	RateLimitBackend            string
	RateLimitBackendUnavailable bool
	RateLimitKeyPrefix          string
	RateLimitEvictThreshold     int
	RateLimitPolicies           map[string]ratelimit.Policy
	ShutdownTimeout             time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// The backend flags are shared with other deployments and carry no prefix.
	_ = v.BindEnv("rate_limit.backend", "RATE_LIMIT_BACKEND", "CHAT_RATE_LIMIT_BACKEND")
	_ = v.BindEnv("rate_limit.backend_unavailable", "RATE_LIMIT_BACKEND_UNAVAILABLE", "CHAT_RATE_LIMIT_BACKEND_UNAVAILABLE")

	v.SetDefault("app.name", "Chat API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("channel.base", "chat:events")
	v.SetDefault("rate_limit.backend", ratelimit.BackendShared)
	v.SetDefault("rate_limit.backend_unavailable", false)
	v.SetDefault("rate_limit.key_prefix", "chat:ratelimit")
	v.SetDefault("rate_limit.evict_threshold", 10000)
	v.SetDefault("shutdown_timeout", "5s")

	shutdownTimeout, err := time.ParseDuration(v.GetString("shutdown_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid shutdown timeout: %w", err)
	}

	policies, err := ParsePolicies(v.GetString("rate_limit.policies"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                     v.GetString("app.name"),
		AppEnv:                      v.GetString("app.env"),
		AppPort:                     v.GetString("app.port"),
		DatabaseDriver:              strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseURL:                 v.GetString("database.url"),
		RedisURL:                    v.GetString("redis.url"),
		NATSURL:                     v.GetString("nats.url"),
		JWTSecret:                   v.GetString("jwt.secret"),
		ChannelBase:                 v.GetString("channel.base"),
		RateLimitBackend:            strings.ToLower(strings.TrimSpace(v.GetString("rate_limit.backend"))),
		RateLimitBackendUnavailable: v.GetBool("rate_limit.backend_unavailable"),
		RateLimitKeyPrefix:          v.GetString("rate_limit.key_prefix"),
		RateLimitEvictThreshold:     v.GetInt("rate_limit.evict_threshold"),
		RateLimitPolicies:           policies,
		ShutdownTimeout:             shutdownTimeout,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.RateLimitEvictThreshold <= 0 {
		cfg.RateLimitEvictThreshold = 10000
	}

	return cfg, nil
}

// ParsePolicies reads per-event overrides in the form
// "message:send=30/1m,room:join=20/30s".
func ParsePolicies(raw string) (map[string]ratelimit.Policy, error) {
	policies := make(map[string]ratelimit.Policy)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		event, rule, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate limit policy %q", entry)
		}
		maxRaw, windowRaw, ok := strings.Cut(rule, "/")
		if !ok {
			return nil, fmt.Errorf("invalid rate limit policy %q", entry)
		}

		maxRequests, err := strconv.Atoi(strings.TrimSpace(maxRaw))
		if err != nil || maxRequests <= 0 {
			return nil, fmt.Errorf("invalid rate limit max in %q", entry)
		}
		window, err := time.ParseDuration(strings.TrimSpace(windowRaw))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid rate limit window in %q", entry)
		}

		policies[strings.TrimSpace(event)] = ratelimit.Policy{Max: maxRequests, Window: window}
	}
	return policies, nil
}
