package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	defaultMaxCallers          = 1000
	defaultGlobalRPS           = 50
	defaultCallerRPS           = 10
	defaultAnonRPS             = 5
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
	retryAfterSeconds          = "1"
)

type (
	// RateLimiter decides whether a request may proceed. callerName is empty for
	// anonymous requests.
	RateLimiter interface {
		Allow(callerName string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with token buckets from
	// golang.org/x/time/rate. The global bucket is checked first, then either the
	// caller's own bucket or the shared anonymous bucket. Caller buckets idle longer
	// than IdleTimeout are dropped by a background sweep.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		anonymous *rate.Limiter
		mu        sync.Mutex
		callers   map[string]*callerLimiter
		ticker    *time.Ticker
		done      chan struct{}
		closeOnce sync.Once

		callerRPS   int
		callerBurst int
		idleTimeout time.Duration
		maxCallers  int
	}

	callerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}
)

// NewInMemoryRateLimiter creates the limiter and starts its cleanup goroutine.
// Call Close to stop it.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	idleTimeout := config.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	maxCallers := config.MaxCallers
	if maxCallers <= 0 {
		maxCallers = defaultMaxCallers
	}

	rl := &InMemoryRateLimiter{
		global:      rate.NewLimiter(rate.Limit(config.GlobalRPS), burst(config.GlobalRPS, config.GlobalBurst)),
		anonymous:   rate.NewLimiter(rate.Limit(config.AnonRPS), burst(config.AnonRPS, config.AnonBurst)),
		callers:     make(map[string]*callerLimiter),
		ticker:      time.NewTicker(cleanupInterval),
		done:        make(chan struct{}),
		callerRPS:   config.CallerRPS,
		callerBurst: burst(config.CallerRPS, config.CallerBurst),
		idleTimeout: idleTimeout,
		maxCallers:  maxCallers,
	}

	go rl.sweep()

	return rl
}

func burst(rps, override int) int {
	if override > 0 {
		return override
	}

	return rps * burstCapacityMultiplier
}

// Allow implements RateLimiter.
func (rl *InMemoryRateLimiter) Allow(callerName string) bool {
	if !rl.global.Allow() {
		return false
	}

	if callerName == "" {
		return rl.anonymous.Allow()
	}

	rl.mu.Lock()

	cl, ok := rl.callers[callerName]
	if !ok {
		if len(rl.callers) >= rl.maxCallers {
			rl.mu.Unlock()
			slog.Warn("Rate limiter caller table full, treating caller as anonymous",
				slog.String("caller", callerName),
				slog.Int("max_callers", rl.maxCallers))

			return rl.anonymous.Allow()
		}

		cl = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rl.callerRPS), rl.callerBurst)}
		rl.callers[callerName] = cl
	}

	cl.lastAccess = time.Now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) sweep() {
	for {
		select {
		case <-rl.ticker.C:
			rl.cleanup(time.Now())
		case <-rl.done:
			return
		}
	}
}

func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for name, cl := range rl.callers {
		if now.Sub(cl.lastAccess) > rl.idleTimeout {
			delete(rl.callers, name)
		}
	}
}

// trackedCallers returns the number of caller buckets.
func (rl *InMemoryRateLimiter) trackedCallers() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.callers)
}

// RateLimit returns a middleware that answers 429 when limiter refuses a request.
// It must run after Authenticate so authenticated callers get their own bucket.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerName := ""
			if caller, ok := GetCaller(r.Context()); ok {
				callerName = caller.Name
			}

			if limiter.Allow(callerName) {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())
			detail := "Rate limit exceeded. Please retry after some time."

			logger.Warn("Request rate limited",
				slog.String("caller", callerName),
				slog.String("path", r.URL.Path),
				slog.String("correlation_id", correlationID),
			)

			w.Header().Set("Retry-After", retryAfterSeconds)

			if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
				logger.Error("failed to write response with RFC 7807 error format",
					slog.String("correlation_id", correlationID),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
