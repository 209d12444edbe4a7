package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/config"
)

func testRateLimitConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             3,
		MaxBuckets:        100,
	}
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	r := NewRateLimiter(testRateLimitConfig())

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("alice", groupPipeline), "request %d within burst", i)
	}
	assert.False(t, r.Allow("alice", groupPipeline))
}

func TestRateLimiter_BucketsAreIndependent(t *testing.T) {
	r := NewRateLimiter(testRateLimitConfig())

	for i := 0; i < 3; i++ {
		require.True(t, r.Allow("alice", groupPipeline))
	}
	require.False(t, r.Allow("alice", groupPipeline))

	// A different group and a different user each get their own bucket.
	assert.True(t, r.Allow("alice", groupSessions))
	assert.True(t, r.Allow("bob", groupPipeline))
}

func TestRateLimiter_RegistryBoundedByLRUEviction(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.MaxBuckets = 3
	r := NewRateLimiter(cfg)

	clock := time.Unix(0, 0)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 10; i++ {
		r.Allow(fmt.Sprintf("user-%d", i), groupPipeline)
	}
	assert.Equal(t, 3, r.Len(), "registry must not grow past MaxBuckets")

	// The evicted oldest user gets a fresh bucket with a full burst.
	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("user-0", groupPipeline))
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	r := NewRateLimiter(testRateLimitConfig())

	for i := 0; i < 4; i++ {
		r.Allow("alice", groupPipeline)
	}
	require.False(t, r.Allow("alice", groupPipeline))

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.Allow("alice", groupPipeline))
}

func TestRateLimitMiddleware_DeniesWith429(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.Burst = 1
	s := &Server{limiter: NewRateLimiter(cfg)}

	handler := s.rateLimit(groupPipeline)(func(c *echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	call := func() error {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/pipeline/start", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set(principalKey, Principal{UserID: "alice", Plan: PlanFree})
		return handler(c)
	}

	require.NoError(t, call())

	err := call()
	code, body := envelope(t, err)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", body.Error)
}
