package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/abacopay/abaco/internal/asset"
	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/logging"
)

func setupApp(t *testing.T, secret []byte) (*fiber.App, ledger.Store, ledger.Owner) {
	t.Helper()
	store := ledger.NewInMemory()
	owner := ledger.Owner{ID: uuid.NewString(), Type: ledger.OwnerClient}
	svc := NewService(store, nil, logging.Discard())
	svc.lookupDelay = time.Millisecond
	handler := NewHandler(svc, secret)

	app := fiber.New()
	app.Post("/webhooks/payments", handler.Ingest)
	return app, store, owner
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngestAcknowledgesAfterProcessing(t *testing.T) {
	app, store, owner := setupApp(t, nil)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments",
		strings.NewReader(`{"external_id":"abc123","amount":"50.00"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	now := time.Now().UTC()
	store.CreateCharge(context.Background(), ledger.Charge{
		ExternalID: "abc123",
		Owner:      owner,
		Asset:      asset.BRL,
		Amount:     dec("50.00"),
		Status:     ledger.ChargeActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	})

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body ingestResponse
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Duplicate {
		t.Fatal("first delivery must not be duplicate")
	}
	if body.Status != ledger.ChargeConcluded {
		t.Fatalf("expected CONCLUDED, got %s", body.Status)
	}
}

func TestIngestDuplicateStillAcknowledged(t *testing.T) {
	app, store, owner := setupApp(t, nil)
	now := time.Now().UTC()
	store.CreateCharge(context.Background(), ledger.Charge{
		ExternalID: "dup-1",
		Owner:      owner,
		Asset:      asset.BRL,
		Amount:     dec("25.00"),
		Status:     ledger.ChargeActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments",
			strings.NewReader(`{"external_id":"dup-1","amount":"25.00"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
}

func TestIngestUnknownExternalID(t *testing.T) {
	app, _, _ := setupApp(t, nil)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments",
		strings.NewReader(`{"external_id":"ghost","amount":"10.00"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestIngestSignatureRequired(t *testing.T) {
	secret := []byte("webhook-secret")
	app, store, owner := setupApp(t, secret)
	now := time.Now().UTC()
	store.CreateCharge(context.Background(), ledger.Charge{
		ExternalID: "sig-1",
		Owner:      owner,
		Asset:      asset.BRL,
		Amount:     dec("10.00"),
		Status:     ledger.ChargeActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	})

	payload := `{"external_id":"sig-1","amount":"10.00"}`

	unsigned := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments", strings.NewReader(payload))
	unsigned.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(unsigned)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", resp.StatusCode)
	}

	signed := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments", strings.NewReader(payload))
	signed.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	signed.Header.Set(signatureHeader, sign(secret, []byte(payload)))
	resp, err = app.Test(signed)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d", resp.StatusCode)
	}
}
