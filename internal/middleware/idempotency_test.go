package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abacopay/abaco/internal/logging"
)

func setupTestApp(t *testing.T, hits *atomic.Int64) (*fiber.App, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard(), "/webhooks/payments"))
	app.Post("/resource", func(c *fiber.Ctx) error {
		if hits != nil {
			hits.Add(1)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})
	app.Post("/webhooks/payments", func(c *fiber.Ctx) error {
		if hits != nil {
			hits.Add(1)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, cleanup
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, cleanup := setupTestApp(t, nil)
	defer cleanup()

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, resp.StatusCode)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	var hits atomic.Int64
	app, cleanup := setupTestApp(t, &hits)
	defer cleanup()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(idempotencyKeyHeader, "abc123")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, resp.StatusCode)
		}

		var body map[string]any
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("request %d: decode body: %v", i, err)
		}
		if body["ok"] != true {
			t.Fatalf("request %d: unexpected body %v", i, body)
		}
	}

	if hits.Load() != 1 {
		t.Fatalf("handler must run once, ran %d times", hits.Load())
	}
}

func TestIdempotencySkipsExemptPath(t *testing.T) {
	var hits atomic.Int64
	app, cleanup := setupTestApp(t, &hits)
	defer cleanup()

	// No Idempotency-Key: the webhook path relies on its own durable fence.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments", strings.NewReader("{}"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("exempt path must reach the handler every time, got %d", hits.Load())
	}
}
