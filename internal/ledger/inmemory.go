package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
)

type balanceKey struct {
	ownerID   string
	ownerType OwnerType
	a         asset.Asset
}

type inMemoryStore struct {
	mu            sync.RWMutex
	balances      map[balanceKey]decimal.Decimal
	transactions  []Transaction
	charges       map[string]Charge
	settleResults map[string]SettleResult
	conversions   []Conversion

	// failSwap, when set, aborts Swap after the debit has been computed but
	// before anything is committed. Installed by test helpers only.
	failSwap func() error
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests and for running the API without Postgres.
func NewInMemory() Store {
	return &inMemoryStore{
		balances:      make(map[balanceKey]decimal.Decimal),
		charges:       make(map[string]Charge),
		settleResults: make(map[string]SettleResult),
	}
}

func key(owner Owner, a asset.Asset) balanceKey {
	return balanceKey{ownerID: owner.ID, ownerType: owner.Type, a: a}
}

func (s *inMemoryStore) GetBalance(_ context.Context, owner Owner, a asset.Asset) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[key(owner, a)], nil
}

func (s *inMemoryStore) ListBalances(_ context.Context, owner Owner) ([]Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Balance
	for _, a := range asset.All() {
		if amount, ok := s.balances[key(owner, a)]; ok {
			out = append(out, Balance{Owner: owner, Asset: a, Amount: amount})
		}
	}
	return out, nil
}

func (s *inMemoryStore) Credit(_ context.Context, owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error) {
	if amount.IsNegative() {
		return Transaction{}, fmt.Errorf("credit amount must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(owner, a, amount, kind, chargeRef), nil
}

func (s *inMemoryStore) Debit(_ context.Context, owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error) {
	if amount.IsNegative() {
		return Transaction{}, fmt.Errorf("debit amount must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(owner, a, amount, kind, chargeRef)
}

func (s *inMemoryStore) creditLocked(owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) Transaction {
	k := key(owner, a)
	s.balances[k] = s.balances[k].Add(amount)
	tx := Transaction{
		ID:        uuid.NewString(),
		Owner:     owner,
		Kind:      kind,
		Asset:     a,
		Amount:    amount,
		ChargeRef: chargeRef,
		CreatedAt: time.Now().UTC(),
	}
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *inMemoryStore) debitLocked(owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error) {
	k := key(owner, a)
	current := s.balances[k]
	if current.LessThan(amount) {
		return Transaction{}, ErrInsufficientBalance
	}
	s.balances[k] = current.Sub(amount)
	tx := Transaction{
		ID:        uuid.NewString(),
		Owner:     owner,
		Kind:      kind,
		Asset:     a,
		Amount:    amount.Neg(),
		ChargeRef: chargeRef,
		CreatedAt: time.Now().UTC(),
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, owner Owner) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.transactions {
		if tx.Owner == owner {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *inMemoryStore) CreateCharge(_ context.Context, charge Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.charges[charge.ExternalID]; exists {
		return ErrChargeExists
	}
	s.charges[charge.ExternalID] = charge
	return nil
}

func (s *inMemoryStore) GetCharge(_ context.Context, externalID string) (Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	charge, ok := s.charges[externalID]
	if !ok {
		return Charge{}, ErrChargeNotFound
	}
	return charge, nil
}

func (s *inMemoryStore) ListCharges(_ context.Context, owner Owner) ([]Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Charge
	for _, charge := range s.charges {
		if charge.Owner == owner {
			out = append(out, charge)
		}
	}
	return out, nil
}

func (s *inMemoryStore) ExpireCharges(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for id, charge := range s.charges {
		if charge.Expired(now) {
			charge.Status = ChargeExpired
			s.charges[id] = charge
			swept++
		}
	}
	return swept, nil
}

func (s *inMemoryStore) Settle(_ context.Context, input SettleInput) (SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, exists := s.settleResults[input.ExternalID]; exists {
		return prior, ErrDuplicateEvent
	}

	charge, ok := s.charges[input.ExternalID]
	if !ok {
		return SettleResult{}, ErrChargeNotFound
	}
	if charge.Terminal() {
		return SettleResult{}, ErrChargeClosed
	}

	tx := s.creditLocked(charge.Owner, charge.Asset, input.Amount, KindDeposit, charge.ExternalID)

	charge.Status = ChargeConcluded
	s.charges[input.ExternalID] = charge

	result := SettleResult{
		Charge:      charge,
		Transaction: tx,
		NewBalance:  s.balances[key(charge.Owner, charge.Asset)],
		SettledAt:   time.Now().UTC(),
	}
	s.settleResults[input.ExternalID] = result
	return result, nil
}

func (s *inMemoryStore) Swap(_ context.Context, input SwapInput) (SwapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcKey := key(input.Owner, input.SourceAsset)
	dstKey := key(input.Owner, input.TargetAsset)

	srcBalance := s.balances[srcKey]
	if srcBalance.LessThan(input.SourceAmount) {
		return SwapResult{}, ErrInsufficientBalance
	}

	if _, err := s.debitLocked(input.Owner, input.SourceAsset, input.SourceAmount, KindConvertOut, ""); err != nil {
		return SwapResult{}, err
	}
	if s.failSwap != nil {
		if err := s.failSwap(); err != nil {
			// Roll back the applied debit so no partial state escapes.
			s.balances[srcKey] = srcBalance
			s.transactions = s.transactions[:len(s.transactions)-1]
			return SwapResult{}, err
		}
	}
	s.creditLocked(input.Owner, input.TargetAsset, input.TargetAmount, KindConvertIn, "")

	record := Conversion{
		ID:           uuid.NewString(),
		Owner:        input.Owner,
		SourceAsset:  input.SourceAsset,
		SourceAmount: input.SourceAmount,
		TargetAsset:  input.TargetAsset,
		TargetAmount: input.TargetAmount,
		MarketRate:   input.MarketRate,
		UsedRate:     input.UsedRate,
		CreatedAt:    time.Now().UTC(),
	}
	s.conversions = append(s.conversions, record)

	return SwapResult{
		Record:        record,
		SourceBalance: s.balances[srcKey],
		TargetBalance: s.balances[dstKey],
	}, nil
}
