package api

import (
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/metrics"
)

// rateBucket is one (user, route group) token bucket with its last-use
// timestamp for eviction.
type rateBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds per-(user, route group) token buckets. The registry is
// bounded: past MaxBuckets the least recently used bucket is evicted, so
// cycling identities cannot exhaust memory.
type RateLimiter struct {
	cfg *config.RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

// NewRateLimiter creates the bucket registry.
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*rateBucket),
		now:     time.Now,
	}
}

// Allow consumes one token from the caller's bucket for a route group.
func (r *RateLimiter) Allow(userID, group string) bool {
	key := userID + "|" + group

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		if len(r.buckets) >= r.cfg.MaxBuckets {
			r.evictOldestLocked()
		}
		b = &rateBucket{
			limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst),
		}
		r.buckets[key] = b
	}
	b.lastSeen = r.now()
	return b.limiter.Allow()
}

func (r *RateLimiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, b := range r.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = b.lastSeen
		}
	}
	if oldestKey != "" {
		delete(r.buckets, oldestKey)
	}
}

// Len returns the live bucket count.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Reset drops every bucket. Test use only.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[string]*rateBucket)
}

// rateLimit wraps a route group with the per-user token bucket. Runs after
// requireAuth so the bucket key is the authenticated user.
func (s *Server) rateLimit(group string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			principal := principalFrom(c)
			if !s.limiter.Allow(principal.UserID, group) {
				metrics.RateLimited.Inc()
				return echo.NewHTTPError(http.StatusTooManyRequests, &ErrorResponse{
					Error:   "rate limit exceeded",
					Message: "Too many requests. Please slow down.",
				})
			}
			return next(c)
		}
	}
}
