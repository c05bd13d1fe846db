package keys

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestProvisionReturnsFourDistinctNetworks(t *testing.T) {
	svc := NewService()
	materials, err := svc.Provision(rand.Reader)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if len(materials) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(materials))
	}

	seenNetworks := map[Network]bool{}
	seenSecrets := map[string]bool{}
	for _, m := range materials {
		if seenNetworks[m.Network] {
			t.Fatalf("duplicate network %s", m.Network)
		}
		seenNetworks[m.Network] = true
		if m.Address == "" || m.Secret == "" {
			t.Fatalf("%s: empty address or secret", m.Network)
		}
		if seenSecrets[m.Secret] {
			t.Fatalf("secrets must be independent, %s repeated", m.Network)
		}
		seenSecrets[m.Secret] = true
	}
}

func TestAddressFormatsAreStructurallyDistinct(t *testing.T) {
	svc := NewService()
	materials, err := svc.Provision(rand.Reader)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	byNetwork := map[Network]Material{}
	for _, m := range materials {
		byNetwork[m.Network] = m
	}

	eth := byNetwork[NetworkEthereum]
	if !strings.HasPrefix(eth.Address, "0x") || len(eth.Address) != 42 {
		t.Fatalf("unexpected ethereum address %q", eth.Address)
	}
	if eth.Mnemonic != "" {
		t.Fatal("ethereum material must not carry a mnemonic")
	}

	btc := byNetwork[NetworkBitcoin]
	if !strings.HasPrefix(btc.Address, "bc1") {
		t.Fatalf("expected segwit bech32 address, got %q", btc.Address)
	}
	if words := strings.Fields(btc.Mnemonic); len(words) != 12 {
		t.Fatalf("expected 12-word mnemonic, got %d words", len(words))
	}

	trx := byNetwork[NetworkTron]
	if !strings.HasPrefix(trx.Address, "T") {
		t.Fatalf("expected base58check address starting with T, got %q", trx.Address)
	}

	sol := byNetwork[NetworkSolana]
	if len(sol.Address) < 32 || len(sol.Address) > 44 {
		t.Fatalf("unexpected solana address length %d", len(sol.Address))
	}
	if words := strings.Fields(sol.Mnemonic); len(words) != 12 {
		t.Fatalf("expected 12-word mnemonic, got %d words", len(words))
	}
}

func TestProvisionNeverRepeatsAddresses(t *testing.T) {
	svc := NewService()
	first, err := svc.Provision(rand.Reader)
	if err != nil {
		t.Fatalf("first provision: %v", err)
	}
	second, err := svc.Provision(rand.Reader)
	if err != nil {
		t.Fatalf("second provision: %v", err)
	}

	for i := range first {
		if first[i].Address == second[i].Address {
			t.Fatalf("%s: two invocations produced the same address", first[i].Network)
		}
	}
}

type failingReader struct {
	allow int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.allow <= 0 {
		return 0, errors.New("entropy exhausted")
	}
	r.allow--
	return io.ReadFull(rand.Reader, p)
}

func TestProvisionFailsEntirelyOnDerivationError(t *testing.T) {
	svc := NewService()

	// Enough randomness for the first deriver only; provisioning must
	// surface no partial result.
	materials, err := svc.Provision(&failingReader{allow: 1})
	if !errors.Is(err, ErrDerivationFailed) {
		t.Fatalf("expected ErrDerivationFailed, got %v", err)
	}
	if materials != nil {
		t.Fatal("no partial wallet set may be returned")
	}
}
