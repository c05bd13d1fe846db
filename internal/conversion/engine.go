package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/notification"
	"github.com/abacopay/abaco/internal/rates"
)

// ErrInvalidAsset indicates the requested asset pair is outside the
// supported set or degenerate (source equals target).
var ErrInvalidAsset = errors.New("invalid asset")

// creditScale is the single rounding rule of the engine: the credited
// target amount is truncated toward zero at 8 decimal places, so rounding
// error can never over-credit.
const creditScale = 8

// Engine quotes and executes asset conversions against the ledger.
type Engine struct {
	store       ledger.Store
	provider    rates.Provider
	spread      decimal.Decimal
	rateTimeout time.Duration
	notifier    notification.Notifier
}

// NewEngine builds a conversion engine. spread is the fractional discount
// applied to the market rate (0.07 means the owner converts 7% below market).
func NewEngine(store ledger.Store, provider rates.Provider, spread decimal.Decimal, rateTimeout time.Duration, notifier notification.Notifier) *Engine {
	if rateTimeout <= 0 {
		rateTimeout = 5 * time.Second
	}
	return &Engine{
		store:       store,
		provider:    provider,
		spread:      spread,
		rateTimeout: rateTimeout,
		notifier:    notifier,
	}
}

// Input captures a conversion request.
type Input struct {
	Owner        ledger.Owner
	SourceAmount decimal.Decimal
	SourceAsset  asset.Asset
	TargetAsset  asset.Asset
}

// Convert debits the source asset and credits the spread-adjusted target
// amount in one atomic unit. The market rate is fetched before the unit
// begins, never while a balance lock is held.
func (e *Engine) Convert(ctx context.Context, input Input) (ledger.Conversion, error) {
	if !asset.Valid(input.SourceAsset) || !asset.Valid(input.TargetAsset) {
		return ledger.Conversion{}, ErrInvalidAsset
	}
	if input.SourceAsset == input.TargetAsset {
		return ledger.Conversion{}, fmt.Errorf("%w: source and target are both %s", ErrInvalidAsset, input.SourceAsset)
	}
	if !input.SourceAmount.IsPositive() {
		return ledger.Conversion{}, fmt.Errorf("source amount must be positive")
	}

	// Early balance check keeps the common failure cheap; the swap re-checks
	// under the row lock, which is the authoritative verdict.
	balance, err := e.store.GetBalance(ctx, input.Owner, input.SourceAsset)
	if err != nil {
		return ledger.Conversion{}, err
	}
	if balance.LessThan(input.SourceAmount) {
		return ledger.Conversion{}, ledger.ErrInsufficientBalance
	}

	rateCtx, cancel := context.WithTimeout(ctx, e.rateTimeout)
	marketRate, err := e.provider.Quote(rateCtx, input.TargetAsset, input.SourceAsset)
	cancel()
	if err != nil {
		return ledger.Conversion{}, err
	}

	usedRate := marketRate.Mul(decimal.NewFromInt(1).Sub(e.spread))
	if !usedRate.IsPositive() {
		return ledger.Conversion{}, fmt.Errorf("%w: spread leaves no usable rate", rates.ErrUnavailable)
	}
	targetAmount := input.SourceAmount.Div(usedRate).RoundDown(creditScale)

	res, err := e.store.Swap(ctx, ledger.SwapInput{
		Owner:        input.Owner,
		SourceAsset:  input.SourceAsset,
		SourceAmount: input.SourceAmount,
		TargetAsset:  input.TargetAsset,
		TargetAmount: targetAmount,
		MarketRate:   marketRate,
		UsedRate:     usedRate,
	})
	if err != nil {
		return ledger.Conversion{}, err
	}

	if e.notifier != nil {
		_ = e.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindConversion,
			Destination: input.Owner.ID,
			Body: fmt.Sprintf("Converted %s %s to %s %s at rate %s",
				input.SourceAmount, input.SourceAsset, targetAmount, input.TargetAsset, usedRate),
		})
	}

	return res.Record, nil
}
