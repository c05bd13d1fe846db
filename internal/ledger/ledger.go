package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
)

var (
	// ErrInsufficientBalance occurs when an owner lacks available balance
	// to cover a requested debit.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateEvent indicates a webhook with the given external id was
	// already settled; the prior result is returned alongside.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrChargeNotFound indicates no charge exists for the external id.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrChargeClosed indicates the charge reached a terminal state
	// (EXPIRED or CANCELED) and can no longer be settled.
	ErrChargeClosed = errors.New("charge closed")

	// ErrChargeExists indicates the external id is already taken.
	ErrChargeExists = errors.New("charge already exists")
)

// OwnerType tags the kind of identity holding a balance.
type OwnerType string

const (
	OwnerClient   OwnerType = "CLIENT"
	OwnerMerchant OwnerType = "MERCHANT"
)

// Owner identifies a balance holder. Owners are created by onboarding and
// only referenced here.
type Owner struct {
	ID   string
	Type OwnerType
}

// Charge status values. Transitions are monotonic: ACTIVE moves to at most
// one of the terminal states and never leaves it.
const (
	ChargeActive    = "ACTIVE"
	ChargeConcluded = "CONCLUDED"
	ChargeExpired   = "EXPIRED"
	ChargeCanceled  = "CANCELED"
)

// Transaction kinds.
const (
	KindDeposit    = "DEPOSIT"
	KindConvertIn  = "CONVERT_IN"
	KindConvertOut = "CONVERT_OUT"
)

// Balance is one (owner, asset) row. Amount is never negative.
type Balance struct {
	Owner  Owner
	Asset  asset.Asset
	Amount decimal.Decimal
}

// Transaction is the append-only audit record written in the same atomic
// unit as the balance mutation it documents.
type Transaction struct {
	ID        string
	Owner     Owner
	Kind      string
	Asset     asset.Asset
	Amount    decimal.Decimal
	ChargeRef string
	CreatedAt time.Time
}

// Charge tracks an external collection request through its lifecycle.
type Charge struct {
	ExternalID    string
	Owner         Owner
	Asset         asset.Asset
	Amount        decimal.Decimal
	Status        string
	CollectionRef string
	DisplayCode   string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports the passive expiry rule: past the window while still ACTIVE.
func (c Charge) Expired(now time.Time) bool {
	return c.Status == ChargeActive && !now.Before(c.ExpiresAt)
}

// Terminal reports whether no further transition is allowed.
func (c Charge) Terminal() bool {
	return c.Status != ChargeActive
}

// Conversion is the append-only record of a completed asset swap.
type Conversion struct {
	ID           string
	Owner        Owner
	SourceAsset  asset.Asset
	SourceAmount decimal.Decimal
	TargetAsset  asset.Asset
	TargetAmount decimal.Decimal
	MarketRate   decimal.Decimal
	UsedRate     decimal.Decimal
	CreatedAt    time.Time
}

// SettleInput carries one external payment notification into the atomic
// settlement unit.
type SettleInput struct {
	ExternalID string
	Amount     decimal.Decimal
	PaidAt     time.Time
	Payload    []byte
}

// SettleResult captures the outcome of a settlement. Duplicate deliveries
// return the result recorded by the first delivery.
type SettleResult struct {
	Charge      Charge
	Transaction Transaction
	NewBalance  decimal.Decimal
	SettledAt   time.Time
}

// SwapInput carries a fully-quoted conversion into the atomic swap unit.
// The rate is fetched by the caller before any lock is taken.
type SwapInput struct {
	Owner        Owner
	SourceAsset  asset.Asset
	SourceAmount decimal.Decimal
	TargetAsset  asset.Asset
	TargetAmount decimal.Decimal
	MarketRate   decimal.Decimal
	UsedRate     decimal.Decimal
}

// SwapResult captures the outcome of a conversion swap.
type SwapResult struct {
	Record        Conversion
	SourceBalance decimal.Decimal
	TargetBalance decimal.Decimal
}

// Store defines the contract implemented by ledger backends (e.g. Postgres).
// Every mutation to a given (owner, asset) key is linearizable: backends
// serialize credit/debit as a single read-modify-write scoped to that key.
// Composite operations (Settle, Swap) commit all of their effects or none.
type Store interface {
	GetBalance(ctx context.Context, owner Owner, a asset.Asset) (decimal.Decimal, error)
	ListBalances(ctx context.Context, owner Owner) ([]Balance, error)
	Credit(ctx context.Context, owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error)
	Debit(ctx context.Context, owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error)
	ListTransactions(ctx context.Context, owner Owner) ([]Transaction, error)

	CreateCharge(ctx context.Context, charge Charge) error
	GetCharge(ctx context.Context, externalID string) (Charge, error)
	ListCharges(ctx context.Context, owner Owner) ([]Charge, error)
	ExpireCharges(ctx context.Context, now time.Time) (int64, error)

	Settle(ctx context.Context, input SettleInput) (SettleResult, error)
	Swap(ctx context.Context, input SwapInput) (SwapResult, error)
}
