package owner

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/abacopay/abaco/internal/ledger"
)

// Handler exposes the onboarding HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds an owner HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type onboardRequest struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Type     string `json:"type"`
}

type walletResponse struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Secret   string `json:"secret"`
	Mnemonic string `json:"mnemonic,omitempty"`
}

type onboardResponse struct {
	OwnerID string           `json:"owner_id"`
	Type    string           `json:"type"`
	Name    string           `json:"name"`
	APIKey  string           `json:"api_key"`
	Wallets []walletResponse `json:"wallets"`
}

// Onboard registers a new owner. The response is the only time the API key
// and the wallet secrets are shown; neither is stored recoverably.
func (h *Handler) Onboard(c *fiber.Ctx) error {
	var req onboardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Onboard(c.UserContext(), OnboardInput{
		Name:     req.Name,
		Document: req.Document,
		Type:     ledger.OwnerType(req.Type),
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	wallets := make([]walletResponse, 0, len(result.Wallets))
	for _, w := range result.Wallets {
		wallets = append(wallets, walletResponse{
			Network:  string(w.Network),
			Address:  w.Address,
			Secret:   w.Secret,
			Mnemonic: w.Mnemonic,
		})
	}

	return c.Status(http.StatusCreated).JSON(onboardResponse{
		OwnerID: result.Owner.ID,
		Type:    string(result.Owner.Type),
		Name:    result.Owner.Name,
		APIKey:  result.APIKey,
		Wallets: wallets,
	})
}
