package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRateLimitedApp(t *testing.T, cfg RateLimitConfig) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	app := fiber.New()
	app.Post("/links", RateLimit(client, cfg, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app, mr
}

func TestRateLimit(t *testing.T) {
	app, mr := newRateLimitedApp(t, RateLimitConfig{MaxRequests: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))

	// The window restarts once the counter expires.
	mr.FastForward(time.Minute + time.Second)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestRateLimit_RestoresMissingExpiry(t *testing.T) {
	app, mr := newRateLimitedApp(t, RateLimitConfig{MaxRequests: 3, Window: time.Minute, KeyPrefix: "rl"})

	// A counter left over without a TTL, as after a failed EXPIRE.
	require.NoError(t, mr.Set("rl:0.0.0.0", "3"))
	require.Zero(t, mr.TTL("rl:0.0.0.0"))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, time.Minute, mr.TTL("rl:0.0.0.0"))

	mr.FastForward(time.Minute + time.Second)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestRateLimit_KeepsRunningWindow(t *testing.T) {
	app, mr := newRateLimitedApp(t, RateLimitConfig{MaxRequests: 5, Window: time.Minute, KeyPrefix: "rl"})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	mr.FastForward(20 * time.Second)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, 40*time.Second, mr.TTL("rl:0.0.0.0"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	app, mr := newRateLimitedApp(t, RateLimitConfig{MaxRequests: 1, Window: time.Minute})
	mr.Close()

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/links", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, 30, cfg.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Window)
	assert.Equal(t, "ratelimit:create", cfg.KeyPrefix)
}
