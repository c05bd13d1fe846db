package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/notification"
)

// Notification is one inbound payment notification from the collection
// network. Delivery is at-least-once and unordered.
type Notification struct {
	ExternalID string
	Amount     decimal.Decimal
	PaidAt     time.Time
	Raw        []byte
}

// Receipt is the reconciliation outcome. Duplicate deliveries report the
// original settlement with Duplicate set.
type Receipt struct {
	ExternalID     string
	Duplicate      bool
	ChargeStatus   string
	CreditedAmount decimal.Decimal
	NewBalance     decimal.Decimal
	SettledAt      time.Time
}

// Service reconciles payment notifications against charges. The store's
// settlement unit does the atomic work; this layer adds duplicate
// absorption, replication-lag retries and observability.
type Service struct {
	store       ledger.Store
	notifier    notification.Notifier
	logger      *slog.Logger
	lookupTries int
	lookupDelay time.Duration
}

// NewService builds a webhook reconciler.
func NewService(store ledger.Store, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		lookupTries: 3,
		lookupDelay: 200 * time.Millisecond,
	}
}

// Process applies one notification exactly once. A replayed delivery is a
// safe no-op returning the original receipt; an unknown external id fails
// with ledger.ErrChargeNotFound after a short retry window, so the sender's
// retry mechanism can cover charges not yet visible.
func (s *Service) Process(ctx context.Context, n Notification) (Receipt, error) {
	if n.ExternalID == "" {
		return Receipt{}, fmt.Errorf("external id is required")
	}
	if !n.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("notified amount must be positive")
	}

	input := ledger.SettleInput{
		ExternalID: n.ExternalID,
		Amount:     n.Amount,
		PaidAt:     n.PaidAt,
		Payload:    n.Raw,
	}

	var (
		res ledger.SettleResult
		err error
	)
	for attempt := 0; attempt < s.lookupTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Receipt{}, ctx.Err()
			case <-time.After(s.lookupDelay):
			}
		}
		res, err = s.store.Settle(ctx, input)
		if !errors.Is(err, ledger.ErrChargeNotFound) {
			break
		}
	}

	switch {
	case errors.Is(err, ledger.ErrDuplicateEvent):
		s.logger.Info("duplicate webhook absorbed", "external_id", n.ExternalID)
		return receiptFrom(n.ExternalID, res, true), nil
	case err != nil:
		return Receipt{}, err
	}

	// The notified amount is trusted as the settlement amount. A mismatch
	// against the originally requested amount is observable here but does
	// not reject the payment.
	if !res.Charge.Amount.Equal(n.Amount) {
		s.logger.Warn("settled amount differs from requested amount",
			"external_id", n.ExternalID,
			"requested", res.Charge.Amount.String(),
			"settled", n.Amount.String())
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindSettlement,
			Destination: res.Charge.Owner.ID,
			Body:        fmt.Sprintf("Received %s %s for charge %s", n.Amount, res.Charge.Asset, n.ExternalID),
		})
	}

	return receiptFrom(n.ExternalID, res, false), nil
}

func receiptFrom(externalID string, res ledger.SettleResult, duplicate bool) Receipt {
	return Receipt{
		ExternalID:     externalID,
		Duplicate:      duplicate,
		ChargeStatus:   res.Charge.Status,
		CreditedAmount: res.Transaction.Amount,
		NewBalance:     res.NewBalance,
		SettledAt:      res.SettledAt,
	}
}
