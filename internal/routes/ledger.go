package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/middleware"
	"github.com/abacopay/abaco/internal/owner"
)

// RegisterLedgerRoutes wires the read-side balance and audit endpoints.
// Owners can only read their own rows.
func RegisterLedgerRoutes(r fiber.Router, store ledger.Store) {
	r.Get("/owners/:ownerId/balances", func(c *fiber.Ctx) error {
		authOwner, ok := authorizedOwner(c)
		if !ok {
			return c.SendStatus(http.StatusForbidden)
		}

		balances, err := store.ListBalances(c.UserContext(), authOwner.Ref())
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out := make([]fiber.Map, 0, len(balances))
		for _, b := range balances {
			out = append(out, fiber.Map{
				"asset":  string(b.Asset),
				"amount": b.Amount.String(),
			})
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"owner_id": authOwner.ID,
			"balances": out,
		})
	})

	r.Get("/owners/:ownerId/transactions", func(c *fiber.Ctx) error {
		authOwner, ok := authorizedOwner(c)
		if !ok {
			return c.SendStatus(http.StatusForbidden)
		}

		txs, err := store.ListTransactions(c.UserContext(), authOwner.Ref())
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out := make([]fiber.Map, 0, len(txs))
		for _, tx := range txs {
			entry := fiber.Map{
				"id":         tx.ID,
				"kind":       tx.Kind,
				"asset":      string(tx.Asset),
				"amount":     tx.Amount.String(),
				"created_at": tx.CreatedAt.UTC().Format(time.RFC3339),
			}
			if tx.ChargeRef != "" {
				entry["charge_ref"] = tx.ChargeRef
			}
			out = append(out, entry)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"owner_id":     authOwner.ID,
			"transactions": out,
		})
	})
}

// authorizedOwner returns the authenticated owner when it matches the
// :ownerId path segment.
func authorizedOwner(c *fiber.Ctx) (owner.Owner, bool) {
	authOwner, ok := c.Locals(middleware.OwnerLocal).(owner.Owner)
	if !ok || authOwner.ID != c.Params("ownerId") {
		return owner.Owner{}, false
	}
	return authOwner, true
}
