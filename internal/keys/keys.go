package keys

import (
	"errors"
	"fmt"
	"io"
)

// ErrDerivationFailed indicates one of the network derivations failed; the
// whole provisioning is abandoned so callers never persist a partial set.
var ErrDerivationFailed = errors.New("key derivation failed")

// Network identifies a supported blockchain account scheme.
type Network string

const (
	NetworkEthereum Network = "ETHEREUM"
	NetworkBitcoin  Network = "BITCOIN"
	NetworkTron     Network = "TRON"
	NetworkSolana   Network = "SOLANA"
)

// Material is the transient key material for one network. Secrets are
// surfaced exactly once by the caller and never retained or logged here.
type Material struct {
	Network  Network
	Address  string
	Secret   string
	Mnemonic string
}

// Deriver produces address material for a single network. Implementations
// are independent so each scheme can be audited and tested on its own.
type Deriver interface {
	Network() Network
	Derive(rand io.Reader) (Material, error)
}

// Service provisions the full wallet set across all configured networks.
type Service struct {
	derivers []Deriver
}

// NewService builds the provisioning service with the standard four
// network derivers.
func NewService() *Service {
	return &Service{derivers: []Deriver{
		ethereumDeriver{},
		bitcoinDeriver{},
		tronDeriver{},
		solanaDeriver{},
	}}
}

// Provision derives fresh, independent key material for every network.
// It fails entirely if any single derivation fails.
func (s *Service) Provision(rand io.Reader) ([]Material, error) {
	out := make([]Material, 0, len(s.derivers))
	for _, d := range s.derivers {
		material, err := d.Derive(rand)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDerivationFailed, d.Network(), err)
		}
		out = append(out, material)
	}
	return out, nil
}
