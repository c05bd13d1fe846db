package charge

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/middleware"
	"github.com/abacopay/abaco/internal/owner"
)

// Handler exposes charge HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a charge HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type chargeResponse struct {
	ExternalID    string `json:"external_id"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	CollectionRef string `json:"collection_ref"`
	DisplayCode   string `json:"display_code"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at"`
}

// Create issues a charge for the authenticated owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	authOwner, ok := c.Locals(middleware.OwnerLocal).(owner.Owner)
	if !ok {
		return c.SendStatus(http.StatusUnauthorized)
	}

	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	a, err := asset.Parse(req.Asset)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	created, err := h.service.Create(c.UserContext(), CreateInput{
		Owner:  authOwner.Ref(),
		Asset:  a,
		Amount: amount,
		TTL:    time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrChargeExists) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(created))
}

// Get returns one charge by external id, reporting expiry passively so a
// stale ACTIVE row past its window already reads as EXPIRED.
func (h *Handler) Get(c *fiber.Ctx) error {
	found, err := h.service.Get(c.UserContext(), c.Params("externalId"))
	if err != nil {
		if errors.Is(err, ledger.ErrChargeNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	resp := toResponse(found)
	resp.Status = EffectiveStatus(found, time.Now().UTC())
	return c.Status(http.StatusOK).JSON(resp)
}

// List returns the authenticated owner's charges.
func (h *Handler) List(c *fiber.Ctx) error {
	authOwner, ok := c.Locals(middleware.OwnerLocal).(owner.Owner)
	if !ok {
		return c.SendStatus(http.StatusUnauthorized)
	}
	charges, err := h.service.List(c.UserContext(), authOwner.Ref())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	now := time.Now().UTC()
	out := make([]chargeResponse, 0, len(charges))
	for _, ch := range charges {
		resp := toResponse(ch)
		resp.Status = EffectiveStatus(ch, now)
		out = append(out, resp)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"charges": out})
}

func toResponse(ch ledger.Charge) chargeResponse {
	return chargeResponse{
		ExternalID:    ch.ExternalID,
		Asset:         string(ch.Asset),
		Amount:        ch.Amount.String(),
		Status:        ch.Status,
		CollectionRef: ch.CollectionRef,
		DisplayCode:   ch.DisplayCode,
		CreatedAt:     ch.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     ch.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
