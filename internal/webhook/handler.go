package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/ledger"
)

const signatureHeader = "X-Signature"

// Handler exposes the webhook ingestion endpoint.
type Handler struct {
	service *Service
	secret  []byte
}

// NewHandler builds the ingestion handler. With a non-empty secret every
// request must carry a valid HMAC-SHA256 body signature.
func NewHandler(service *Service, secret []byte) *Handler {
	return &Handler{service: service, secret: secret}
}

type ingestRequest struct {
	ExternalID string `json:"external_id"`
	Amount     string `json:"amount"`
	PaidAt     string `json:"paid_at"`
}

type ingestResponse struct {
	ExternalID string `json:"external_id"`
	Duplicate  bool   `json:"duplicate"`
	Status     string `json:"charge_status"`
	Credited   string `json:"credited_amount"`
	SettledAt  string `json:"settled_at"`
}

// Ingest accepts one payment notification. The response acknowledges only
// after processing succeeded; duplicates acknowledge idempotently.
func (h *Handler) Ingest(c *fiber.Ctx) error {
	body := c.Body()
	if len(h.secret) > 0 && !h.verifySignature(c.Get(signatureHeader), body) {
		return fiber.NewError(http.StatusUnauthorized, "invalid webhook signature")
	}

	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	paidAt := time.Now().UTC()
	if req.PaidAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid paid_at timestamp")
		}
		paidAt = parsed.UTC()
	}

	raw := make([]byte, len(body))
	copy(raw, body)

	receipt, err := h.service.Process(c.UserContext(), Notification{
		ExternalID: req.ExternalID,
		Amount:     amount,
		PaidAt:     paidAt,
		Raw:        raw,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrChargeNotFound):
			return fiber.NewError(http.StatusNotFound, "unknown external id")
		case errors.Is(err, ledger.ErrChargeClosed):
			return fiber.NewError(http.StatusConflict, "charge no longer accepts settlement")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusOK).JSON(ingestResponse{
		ExternalID: receipt.ExternalID,
		Duplicate:  receipt.Duplicate,
		Status:     receipt.ChargeStatus,
		Credited:   receipt.CreditedAmount.String(),
		SettledAt:  receipt.SettledAt.Format(time.RFC3339Nano),
	})
}

func (h *Handler) verifySignature(header string, body []byte) bool {
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
