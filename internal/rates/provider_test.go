package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
)

func TestStaticQuote(t *testing.T) {
	p := Static{Prices: map[asset.Asset]decimal.Decimal{
		asset.BTC: decimal.RequireFromString("300000.00"),
	}}

	price, err := p.Quote(context.Background(), asset.BTC, asset.BRL)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("300000.00")) {
		t.Fatalf("unexpected price %s", price)
	}

	if _, err := p.Quote(context.Background(), asset.SOL, asset.BRL); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for unlisted asset, got %v", err)
	}
}

func TestStaticQuoteHonorsDenomination(t *testing.T) {
	brlTable := Static{Prices: map[asset.Asset]decimal.Decimal{
		asset.BTC: decimal.RequireFromString("300000.00"),
	}}

	// A BRL-quoted table must not price a pair quoted in anything else.
	if _, err := brlTable.Quote(context.Background(), asset.BTC, asset.ETH); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for mismatched denomination, got %v", err)
	}

	btcTable := Static{
		QuotedIn: asset.BTC,
		Prices: map[asset.Asset]decimal.Decimal{
			asset.ETH: decimal.RequireFromString("0.06"),
		},
	}
	price, err := btcTable.Quote(context.Background(), asset.ETH, asset.BTC)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.06")) {
		t.Fatalf("unexpected price %s", price)
	}
	if _, err := btcTable.Quote(context.Background(), asset.ETH, asset.BRL); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for BRL against a BTC table, got %v", err)
	}
}

func TestHTTPProviderQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "ETHBRL" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"price":"18000.55"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	price, err := p.Quote(context.Background(), asset.ETH, asset.BRL)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("18000.55")) {
		t.Fatalf("unexpected price %s", price)
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("not json")) }},
		{"zero price", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(`{"price":"0"}`)) }},
		{"negative price", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(`{"price":"-10"}`)) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			p := NewHTTPProvider(srv.URL, time.Second)
			if _, err := p.Quote(context.Background(), asset.BTC, asset.BRL); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}
