package asset

import (
	"fmt"
	"strings"
)

// Asset identifies a currency held on the ledger. The set is closed:
// anything not listed here is rejected at the boundary.
type Asset string

const (
	BRL Asset = "BRL"
	BTC Asset = "BTC"
	ETH Asset = "ETH"
	TRX Asset = "TRX"
	SOL Asset = "SOL"
)

var supported = map[Asset]struct{}{
	BRL: {},
	BTC: {},
	ETH: {},
	TRX: {},
	SOL: {},
}

// Parse validates a caller-provided asset code.
func Parse(code string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := supported[a]; !ok {
		return "", fmt.Errorf("unsupported asset %q", code)
	}
	return a, nil
}

// Valid reports whether a is in the supported set.
func Valid(a Asset) bool {
	_, ok := supported[a]
	return ok
}

// Scale returns the number of decimal places amounts of this asset are
// displayed with. Fiat uses centavos; chain assets use 8 places.
func Scale(a Asset) int32 {
	if a == BRL {
		return 2
	}
	return 8
}

// All returns the supported set in a stable order.
func All() []Asset {
	return []Asset{BRL, BTC, ETH, TRX, SOL}
}

func (a Asset) String() string { return string(a) }
