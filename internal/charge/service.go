package charge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
	"github.com/abacopay/abaco/internal/ledger"
)

// Service issues collection charges and tracks them through their lifecycle.
// Conclusion happens exclusively inside the store's settlement unit so the
// transition commits together with the ledger credit.
type Service struct {
	store ledger.Store
	ttl   time.Duration
}

// NewService builds a charge service. ttl bounds how long a charge accepts
// settlement before passively expiring.
func NewService(store ledger.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, ttl: ttl}
}

// CreateInput captures data required to issue a charge.
type CreateInput struct {
	Owner  ledger.Owner
	Asset  asset.Asset
	Amount decimal.Decimal
	TTL    time.Duration
}

// Create issues an ACTIVE charge with a fresh external transaction id, a
// collection reference and the display code payers copy to settle it.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Charge, error) {
	if !asset.Valid(input.Asset) {
		return ledger.Charge{}, fmt.Errorf("unsupported asset %q", input.Asset)
	}
	if !input.Amount.IsPositive() {
		return ledger.Charge{}, fmt.Errorf("amount must be positive")
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	externalID := newExternalID()
	now := time.Now().UTC()
	charge := ledger.Charge{
		ExternalID:    externalID,
		Owner:         input.Owner,
		Asset:         input.Asset,
		Amount:        input.Amount,
		Status:        ledger.ChargeActive,
		CollectionRef: "col_" + externalID[:12],
		DisplayCode:   buildDisplayCode(externalID, input.Amount),
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	if err := s.store.CreateCharge(ctx, charge); err != nil {
		return ledger.Charge{}, err
	}
	return charge, nil
}

// Get returns the charge for the external id.
func (s *Service) Get(ctx context.Context, externalID string) (ledger.Charge, error) {
	return s.store.GetCharge(ctx, externalID)
}

// List returns all charges issued for the owner.
func (s *Service) List(ctx context.Context, owner ledger.Owner) ([]ledger.Charge, error) {
	return s.store.ListCharges(ctx, owner)
}

// EffectiveStatus applies the passive expiry rule on top of the stored
// status, so callers see EXPIRED even before the sweeper has run.
func EffectiveStatus(c ledger.Charge, now time.Time) string {
	if c.Expired(now) {
		return ledger.ChargeExpired
	}
	return c.Status
}

// RunSweeper periodically flips passively-expired charges to EXPIRED until
// the context is canceled. Settlement correctness never depends on it.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.store.ExpireCharges(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("charge expiry sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				logger.Info("charges expired", "count", swept)
			}
		}
	}
}

// newExternalID returns the 32-hex external transaction id format used by
// the collection network.
func newExternalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// buildDisplayCode renders the EMV-style copy-paste payload for a charge:
// TLV fields followed by a CRC-16/CCITT checksum field.
func buildDisplayCode(externalID string, amount decimal.Decimal) string {
	var b strings.Builder
	writeTLV(&b, "00", "01")
	writeTLV(&b, "26", "abacopay.com.br/"+externalID)
	writeTLV(&b, "52", "0000")
	writeTLV(&b, "53", "986")
	writeTLV(&b, "54", amount.StringFixed(2))
	writeTLV(&b, "58", "BR")
	b.WriteString("6304")
	return b.String() + crc16(b.String())
}

func writeTLV(b *strings.Builder, tag, value string) {
	fmt.Fprintf(b, "%s%02d%s", tag, len(value), value)
}

func crc16(payload string) string {
	crc := uint16(0xFFFF)
	for _, r := range []byte(payload) {
		crc ^= uint16(r) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return fmt.Sprintf("%04X", crc)
}
