package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abacopay/abaco/internal/owner"
)

// ConversionRateLimit caps conversion requests per owner per minute using
// Redis when available. Fails open on cache errors.
func ConversionRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}

		subject := c.IP()
		if o, ok := c.Locals(OwnerLocal).(owner.Owner); ok {
			subject = o.ID
		}

		key := "rl:convert:" + subject
		// One round trip; ExpireNX arms the window on first increment and
		// re-arms any counter that lost its TTL, so no key throttles forever.
		pipe := cache.TxPipeline()
		incr := pipe.Incr(c.UserContext(), key)
		pipe.ExpireNX(c.UserContext(), key, time.Minute)
		if _, err := pipe.Exec(c.UserContext()); err != nil {
			return c.Next()
		}
		if incr.Val() > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many conversion requests, try again later")
		}
		return c.Next()
	}
}
