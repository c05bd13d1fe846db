package conversion

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
	"github.com/abacopay/abaco/internal/rates"
)

// Handler exposes the conversion HTTP endpoint.
type Handler struct {
	engine *Engine
}

// NewHandler builds a conversion HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type convertRequest struct {
	SourceAsset  string `json:"source_asset"`
	SourceAmount string `json:"source_amount"`
	TargetAsset  string `json:"target_asset"`
}

type convertResponse struct {
	ID           string `json:"id"`
	SourceAsset  string `json:"source_asset"`
	SourceAmount string `json:"source_amount"`
	TargetAsset  string `json:"target_asset"`
	TargetAmount string `json:"target_amount"`
	MarketRate   string `json:"market_rate"`
	UsedRate     string `json:"used_rate"`
	CreatedAt    string `json:"created_at"`
}

// Convert swaps part of the authenticated owner's balance into another asset.
func (h *Handler) Convert(c *fiber.Ctx) error {
	authOwner, ok := c.Locals(middleware.OwnerLocal).(owner.Owner)
	if !ok {
		return c.SendStatus(http.StatusUnauthorized)
	}

	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.SourceAmount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid source_amount")
	}
	source, err := asset.Parse(req.SourceAsset)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	target, err := asset.Parse(req.TargetAsset)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	record, err := h.engine.Convert(c.UserContext(), Input{
		Owner:        authOwner.Ref(),
		SourceAsset:  source,
		SourceAmount: amount,
		TargetAsset:  target,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidAsset):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, rates.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(convertResponse{
		ID:           record.ID,
		SourceAsset:  string(record.SourceAsset),
		SourceAmount: record.SourceAmount.String(),
		TargetAsset:  string(record.TargetAsset),
		TargetAmount: record.TargetAmount.String(),
		MarketRate:   record.MarketRate.String(),
		UsedRate:     record.UsedRate.String(),
		CreatedAt:    record.CreatedAt.UTC().Format(time.RFC3339),
	})
}
