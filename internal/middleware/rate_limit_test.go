package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func setupRateLimitApp(t *testing.T, maxPerMin int) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	app.Post("/conversions", ConversionRateLimit(cache, maxPerMin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app, mr
}

func postConversion(t *testing.T, app *fiber.App) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/conversions", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp.StatusCode
}

func TestConversionRateLimitCaps(t *testing.T) {
	app, _ := setupRateLimitApp(t, 3)

	for i := 0; i < 3; i++ {
		if status := postConversion(t, app); status != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}
	if status := postConversion(t, app); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 past the cap, got %d", status)
	}
}

func TestConversionRateLimitCounterAlwaysExpires(t *testing.T) {
	app, mr := setupRateLimitApp(t, 10)

	postConversion(t, app)
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter key, got %v", keys)
	}
	if mr.TTL(keys[0]) <= 0 {
		t.Fatal("counter must carry a TTL from its first increment")
	}

	// A counter that somehow lost its window gets re-armed by the next
	// request instead of throttling the subject forever.
	mr.SetTTL(keys[0], 0)
	postConversion(t, app)
	if mr.TTL(keys[0]) <= 0 {
		t.Fatal("counter without a TTL must be re-armed on the next request")
	}
}
