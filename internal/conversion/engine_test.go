package conversion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/notification"
	"github.com/abacopay/abaco/internal/rates"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func staticProvider() rates.Static {
	return rates.Static{Prices: map[asset.Asset]decimal.Decimal{
		asset.BTC: dec("300000.00"),
		asset.ETH: dec("18000.00"),
	}}
}

type captureNotifier struct {
	last notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) error {
	n.last = msg
	return nil
}

func TestConvertSpreadAndRounding(t *testing.T) {
	store := ledger.NewInMemory()
	owner := ledger.Owner{ID: uuid.NewString(), Type: ledger.OwnerClient}
	ledger.SeedBalance(store, owner, asset.BRL, dec("1000.00"))
	notifier := &captureNotifier{}
	engine := NewEngine(store, staticProvider(), dec("0.07"), time.Second, notifier)

	record, err := engine.Convert(context.Background(), Input{
		Owner:        owner,
		SourceAmount: dec("100.00"),
		SourceAsset:  asset.BRL,
		TargetAsset:  asset.BTC,
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if !record.UsedRate.Equal(dec("279000.00")) {
		t.Fatalf("expected used rate 279000.00, got %s", record.UsedRate)
	}
	if !record.MarketRate.Equal(dec("300000.00")) {
		t.Fatalf("expected market rate 300000.00, got %s", record.MarketRate)
	}
	if !record.TargetAmount.Equal(dec("0.00035842")) {
		t.Fatalf("expected target 0.00035842 (round down at 8dp), got %s", record.TargetAmount)
	}

	brl, _ := store.GetBalance(context.Background(), owner, asset.BRL)
	if !brl.Equal(dec("900.00")) {
		t.Fatalf("expected BRL balance 900.00, got %s", brl)
	}
	btc, _ := store.GetBalance(context.Background(), owner, asset.BTC)
	if !btc.Equal(dec("0.00035842")) {
		t.Fatalf("expected BTC balance 0.00035842, got %s", btc)
	}

	if notifier.last.Kind != notification.KindConversion {
		t.Fatalf("expected conversion notification, got %q", notifier.last.Kind)
	}
}

func TestConvertInsufficientBalance(t *testing.T) {
	store := ledger.NewInMemory()
	owner := ledger.Owner{ID: uuid.NewString(), Type: ledger.OwnerClient}
	ledger.SeedBalance(store, owner, asset.BRL, dec("10.00"))
	engine := NewEngine(store, staticProvider(), dec("0.07"), time.Second, nil)

	_, err := engine.Convert(context.Background(), Input{
		Owner:        owner,
		SourceAmount: dec("100.00"),
		SourceAsset:  asset.BRL,
		TargetAsset:  asset.BTC,
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	brl, _ := store.GetBalance(context.Background(), owner, asset.BRL)
	if !brl.Equal(dec("10.00")) {
		t.Fatalf("failed conversion must leave balance untouched, got %s", brl)
	}
	txs, _ := store.ListTransactions(context.Background(), owner)
	if len(txs) != 0 {
		t.Fatalf("no record may be written for a failed conversion")
	}
}

func TestConvertInvalidAsset(t *testing.T) {
	store := ledger.NewInMemory()
	owner := ledger.Owner{ID: uuid.NewString(), Type: ledger.OwnerClient}
	engine := NewEngine(store, staticProvider(), dec("0.07"), time.Second, nil)

	_, err := engine.Convert(context.Background(), Input{
		Owner:        owner,
		SourceAmount: dec("10.00"),
		SourceAsset:  asset.BRL,
		TargetAsset:  "DOGE",
	})
	if !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}

	_, err = engine.Convert(context.Background(), Input{
		Owner:        owner,
		SourceAmount: dec("10.00"),
		SourceAsset:  asset.BRL,
		TargetAsset:  asset.BRL,
	})
	if !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset for degenerate pair, got %v", err)
	}
}

func TestConvertRateUnavailable(t *testing.T) {
	store := ledger.NewInMemory()
	owner := ledger.Owner{ID: uuid.NewString(), Type: ledger.OwnerClient}
	ledger.SeedBalance(store, owner, asset.BRL, dec("1000.00"))
	engine := NewEngine(store, rates.Static{}, dec("0.07"), time.Second, nil)

	_, err := engine.Convert(context.Background(), Input{
		Owner:        owner,
		SourceAmount: dec("100.00"),
		SourceAsset:  asset.BRL,
		TargetAsset:  asset.BTC,
	})
	if !errors.Is(err, rates.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	brl, _ := store.GetBalance(context.Background(), owner, asset.BRL)
	if !brl.Equal(dec("1000.00")) {
		t.Fatalf("rate failure must not touch the ledger, got %s", brl)
	}
}

func TestConvertConservation(t *testing.T) {
	store := ledger.NewInMemory()
	owner := ledger.Owner{ID: uuid.NewString(), Type: ledger.OwnerClient}
	ledger.SeedBalance(store, owner, asset.BRL, dec("500.00"))
	engine := NewEngine(store, staticProvider(), dec("0.07"), time.Second, nil)

	record, err := engine.Convert(context.Background(), Input{
		Owner:        owner,
		SourceAmount: dec("123.45"),
		SourceAsset:  asset.BRL,
		TargetAsset:  asset.ETH,
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	// The debit is exactly the requested source amount regardless of how the
	// credited side rounded.
	brl, _ := store.GetBalance(context.Background(), owner, asset.BRL)
	if !brl.Equal(dec("500.00").Sub(dec("123.45"))) {
		t.Fatalf("source debit must equal the requested amount, got %s", brl)
	}

	// Rounding down means the credited value never exceeds the exact quote.
	exact := dec("123.45").Div(record.UsedRate)
	if record.TargetAmount.GreaterThan(exact) {
		t.Fatalf("credited %s exceeds exact %s", record.TargetAmount, exact)
	}
	if exact.Sub(record.TargetAmount).GreaterThanOrEqual(dec("0.00000001")) {
		t.Fatalf("rounding loss above one credit unit: exact=%s credited=%s", exact, record.TargetAmount)
	}
}
