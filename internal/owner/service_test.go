package owner

import (
	"context"
	"strings"
	"testing"

	"github.com/abacopay/abaco/internal/keys"
	"github.com/abacopay/abaco/internal/ledger"
)

func TestOnboardIssuesWalletsAndAPIKey(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, keys.NewService())
	ctx := context.Background()

	res, err := svc.Onboard(ctx, OnboardInput{
		Name:     "Loja Aurora",
		Document: "12.345.678/0001-90",
		Type:     ledger.OwnerMerchant,
	})
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}

	if len(res.Wallets) != 4 {
		t.Fatalf("expected 4 wallets, got %d", len(res.Wallets))
	}
	if !strings.HasPrefix(res.APIKey, "ak_") {
		t.Fatalf("unexpected api key format %q", res.APIKey)
	}
	if res.Owner.APIKeyHash == res.APIKey {
		t.Fatal("api key must be stored hashed")
	}

	stored, err := svc.Get(ctx, res.Owner.ID)
	if err != nil {
		t.Fatalf("get owner: %v", err)
	}
	if stored.Type != ledger.OwnerMerchant {
		t.Fatalf("expected MERCHANT, got %s", stored.Type)
	}
}

func TestVerifyAPIKey(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, keys.NewService())
	ctx := context.Background()

	res, err := svc.Onboard(ctx, OnboardInput{Name: "Ana", Type: ledger.OwnerClient})
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}

	if _, err := svc.VerifyAPIKey(ctx, res.Owner.ID, res.APIKey); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if _, err := svc.VerifyAPIKey(ctx, res.Owner.ID, "ak_wrong"); err == nil {
		t.Fatal("invalid key accepted")
	}
	if _, err := svc.VerifyAPIKey(ctx, "not-an-owner", res.APIKey); err == nil {
		t.Fatal("unknown owner accepted")
	}
}

func TestOnboardValidatesInput(t *testing.T) {
	svc := NewService(NewMemoryRepository(), keys.NewService())
	ctx := context.Background()

	if _, err := svc.Onboard(ctx, OnboardInput{Type: ledger.OwnerClient}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := svc.Onboard(ctx, OnboardInput{Name: "x", Type: "ADMIN"}); err == nil {
		t.Fatal("expected error for unknown owner type")
	}
}
