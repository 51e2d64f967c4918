package middleware

import (
	"time"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
)

// Config holds rate limiter configuration.
//
// Limits are requests per second for three tiers: every request (global), each
// authenticated caller, and all anonymous requests together. A zero burst is
// computed as 2 × rate.
type Config struct {
	GlobalRPS int
	CallerRPS int
	AnonRPS   int

	GlobalBurst int
	CallerBurst int
	AnonBurst   int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxCallers      int
}

// LoadConfig loads rate limit settings from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("SHEETPIPE_GLOBAL_RPS", defaultGlobalRPS),
		CallerRPS: config.GetEnvInt("SHEETPIPE_CALLER_RPS", defaultCallerRPS),
		AnonRPS:   config.GetEnvInt("SHEETPIPE_ANON_RPS", defaultAnonRPS),

		GlobalBurst: config.GetEnvInt("SHEETPIPE_GLOBAL_BURST", 0),
		CallerBurst: config.GetEnvInt("SHEETPIPE_CALLER_BURST", 0),
		AnonBurst:   config.GetEnvInt("SHEETPIPE_ANON_BURST", 0),

		CleanupInterval: config.GetEnvDuration("SHEETPIPE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("SHEETPIPE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxCallers:      config.GetEnvInt("SHEETPIPE_RATE_LIMIT_MAX_CALLERS", defaultMaxCallers),
	}
}
