package owner

import (
	"time"

	"github.com/abacopay/abaco/internal/ledger"
)

// Owner is an onboarded client or merchant identity. Key material derived
// at onboarding is handed to the caller once and never stored.
type Owner struct {
	ID         string
	Type       ledger.OwnerType
	Name       string
	Document   string
	APIKeyHash string
	CreatedAt  time.Time
}

// Ref returns the ledger identity for this owner.
func (o Owner) Ref() ledger.Owner {
	return ledger.Owner{ID: o.ID, Type: o.Type}
}
