package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
)

// ErrUnavailable indicates the market-rate lookup failed or returned no
// usable price. Callers treat it as transient and retriable.
var ErrUnavailable = errors.New("market rate unavailable")

// Provider quotes the current market price of target denominated in quoteIn.
// Implementations are stateless and safe for concurrent use.
type Provider interface {
	Quote(ctx context.Context, target, quoteIn asset.Asset) (decimal.Decimal, error)
}

// Static serves fixed prices from a table, all denominated in a single
// quote asset (BRL unless QuotedIn says otherwise). Used in tests and as
// the dev fallback when no rate endpoint is configured.
type Static struct {
	Prices   map[asset.Asset]decimal.Decimal
	QuotedIn asset.Asset
}

// Quote returns the configured price or ErrUnavailable. Requests quoted in
// any other denomination than the table's are unavailable, never mispriced.
func (s Static) Quote(_ context.Context, target, quoteIn asset.Asset) (decimal.Decimal, error) {
	denom := s.QuotedIn
	if denom == "" {
		denom = asset.BRL
	}
	if quoteIn != denom {
		return decimal.Zero, fmt.Errorf("%w: no %s price quoted in %s", ErrUnavailable, target, quoteIn)
	}
	price, ok := s.Prices[target]
	if !ok || !price.IsPositive() {
		return decimal.Zero, ErrUnavailable
	}
	return price, nil
}

// DevStatic returns a Static provider with placeholder BRL-quoted prices
// for local development when no rate endpoint is configured.
func DevStatic() Static {
	return Static{Prices: map[asset.Asset]decimal.Decimal{
		asset.BTC: decimal.RequireFromString("350000"),
		asset.ETH: decimal.RequireFromString("18000"),
		asset.TRX: decimal.RequireFromString("0.65"),
		asset.SOL: decimal.RequireFromString("800"),
	}}
}

// HTTPProvider fetches prices from an external REST endpoint. Every request
// carries the configured timeout; the provider is never called while a
// ledger lock is held.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider builds a provider against the given base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Price string `json:"price"`
}

// Quote performs GET {base}/ticker?symbol={target}{quoteIn} and parses the
// returned price.
func (p *HTTPProvider) Quote(ctx context.Context, target, quoteIn asset.Asset) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/ticker?symbol=%s", p.baseURL, url.QueryEscape(string(target)+string(quoteIn)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: unusable price %q", ErrUnavailable, body.Price)
	}
	return price, nil
}
