package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
)

// SeedBalance is a test helper that seeds the balance for an (owner, asset)
// key when using the in-memory store.
func SeedBalance(s Store, owner Owner, a asset.Asset, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[key(owner, a)] = amount
	}
}

// FailSwap installs a fault injected into the in-memory store's Swap after
// the source debit has been applied, forcing the rollback path. Pass nil to
// clear it.
func FailSwap(s Store, fault func() error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failSwap = fault
	}
}
