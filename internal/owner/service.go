package owner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/abacopay/abaco/internal/keys"
	"github.com/abacopay/abaco/internal/ledger"
)

// Service handles owner onboarding: identity creation, API key issuance
// and custodial wallet provisioning across all networks.
type Service struct {
	repo Repository
	keys *keys.Service
	rand io.Reader
}

// NewService builds an owner service.
func NewService(repo Repository, keySvc *keys.Service) *Service {
	return &Service{repo: repo, keys: keySvc, rand: rand.Reader}
}

// OnboardInput captures data required to onboard an owner.
type OnboardInput struct {
	Name     string
	Document string
	Type     ledger.OwnerType
}

// OnboardResult is returned exactly once: the API key and the wallet
// secrets are not recoverable afterwards.
type OnboardResult struct {
	Owner   Owner
	APIKey  string
	Wallets []keys.Material
}

// Onboard creates the owner, derives its wallet set and issues an API key.
// Wallet provisioning happens before the owner row is written, so a
// derivation failure never leaves an owner without wallets.
func (s *Service) Onboard(ctx context.Context, input OnboardInput) (OnboardResult, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return OnboardResult{}, fmt.Errorf("name is required")
	}
	if input.Type != ledger.OwnerClient && input.Type != ledger.OwnerMerchant {
		return OnboardResult{}, fmt.Errorf("owner type must be CLIENT or MERCHANT")
	}

	wallets, err := s.keys.Provision(s.rand)
	if err != nil {
		return OnboardResult{}, err
	}

	apiKey, err := s.newAPIKey()
	if err != nil {
		return OnboardResult{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return OnboardResult{}, err
	}

	o := Owner{
		ID:         uuid.NewString(),
		Type:       input.Type,
		Name:       name,
		Document:   strings.TrimSpace(input.Document),
		APIKeyHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return OnboardResult{}, err
	}

	return OnboardResult{Owner: o, APIKey: apiKey, Wallets: wallets}, nil
}

// Get fetches owner metadata.
func (s *Service) Get(ctx context.Context, id string) (Owner, error) {
	return s.repo.Get(ctx, id)
}

// VerifyAPIKey checks the presented key against the stored hash and
// returns the owner on success.
func (s *Service) VerifyAPIKey(ctx context.Context, id, apiKey string) (Owner, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Owner{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(o.APIKeyHash), []byte(apiKey)); err != nil {
		return Owner{}, fmt.Errorf("invalid api key")
	}
	return o, nil
}

func (s *Service) newAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := io.ReadFull(s.rand, raw); err != nil {
		return "", err
	}
	return "ak_" + hex.EncodeToString(raw), nil
}
