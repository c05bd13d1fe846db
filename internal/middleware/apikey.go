package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/abacopay/abaco/internal/owner"
)

const (
	apiKeyHeader = "X-API-Key"
	// OwnerLocal holds the authenticated owner.Owner in fiber locals.
	OwnerLocal = "auth_owner"
)

// APIKeyAuth authenticates requests using the "<ownerID>.<key>" format in
// the X-API-Key header and stashes the resolved owner in locals.
func APIKeyAuth(owners *owner.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(apiKeyHeader)
		ownerID, key, ok := strings.Cut(header, ".")
		if !ok || ownerID == "" || key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing or malformed API key")
		}

		o, err := owners.VerifyAPIKey(c.UserContext(), ownerID, key)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid API key")
		}

		c.Locals(OwnerLocal, o)
		return c.Next()
	}
}
