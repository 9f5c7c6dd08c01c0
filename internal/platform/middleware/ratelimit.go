package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL evicts per-client limiters not seen for this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-key limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	config    RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &rateLimiterStore{
		visitors: make(map[string]*visitor),
		config:   cfg,
		now:      time.Now,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.config.IdleTTL {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.config.IdleTTL {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (s *rateLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// retryAfter is the whole number of seconds until one token is available.
func retryAfter(l *rate.Limiter, now time.Time) int {
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := store.get(c.RealIP())
			now := store.now()
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			if !l.AllowN(now, 1) {
				h.Set("Retry-After", strconv.Itoa(retryAfter(l, now)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
			}
			return next(c)
		}
	}
}
