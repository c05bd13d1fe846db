package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/hdkeychain"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"
)

const tronAddressPrefix = 0x41

// ethereumDeriver produces a secp256k1 keypair with the standard
// keccak-derived 0x address.
type ethereumDeriver struct{}

func (ethereumDeriver) Network() Network { return NetworkEthereum }

func (ethereumDeriver) Derive(rand io.Reader) (Material, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand)
	if err != nil {
		return Material{}, err
	}
	return Material{
		Network: NetworkEthereum,
		Address: ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Secret:  hex.EncodeToString(ethcrypto.FromECDSA(key)),
	}, nil
}

// bitcoinDeriver produces a BIP39 mnemonic and the first external segwit
// key on the BIP84 path m/84'/0'/0'/0/0, addressed as P2WPKH.
type bitcoinDeriver struct{}

func (bitcoinDeriver) Network() Network { return NetworkBitcoin }

func (bitcoinDeriver) Derive(rand io.Reader) (Material, error) {
	entropy := make([]byte, 16)
	if _, err := io.ReadFull(rand, entropy); err != nil {
		return Material{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Material{}, err
	}
	seed := bip39.NewSeed(mnemonic, "")

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return Material{}, err
	}
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + 84,
		hdkeychain.HardenedKeyStart + 0,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	} {
		if key, err = key.Derive(step); err != nil {
			return Material{}, fmt.Errorf("derive path step %d: %w", step, err)
		}
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return Material{}, err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		return Material{}, err
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return Material{}, err
	}
	wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	if err != nil {
		return Material{}, err
	}

	return Material{
		Network:  NetworkBitcoin,
		Address:  addr.EncodeAddress(),
		Secret:   wif.String(),
		Mnemonic: mnemonic,
	}, nil
}

// tronDeriver produces a secp256k1 keypair addressed with the base58check
// encoding of 0x41 followed by the keccak-160 of the public key.
type tronDeriver struct{}

func (tronDeriver) Network() Network { return NetworkTron }

func (tronDeriver) Derive(rand io.Reader) (Material, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand)
	if err != nil {
		return Material{}, err
	}
	accountHash := ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()
	return Material{
		Network: NetworkTron,
		Address: base58.CheckEncode(accountHash, tronAddressPrefix),
		Secret:  hex.EncodeToString(ethcrypto.FromECDSA(key)),
	}, nil
}

// solanaDeriver produces an ed25519 keypair seeded from a BIP39 mnemonic,
// addressed as the base58 public key with a base58 64-byte secret key.
type solanaDeriver struct{}

func (solanaDeriver) Network() Network { return NetworkSolana }

func (solanaDeriver) Derive(rand io.Reader) (Material, error) {
	entropy := make([]byte, 16)
	if _, err := io.ReadFull(rand, entropy); err != nil {
		return Material{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Material{}, err
	}
	seed := bip39.NewSeed(mnemonic, "")

	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)

	return Material{
		Network:  NetworkSolana,
		Address:  base58.Encode(pub),
		Secret:   base58.Encode(priv),
		Mnemonic: mnemonic,
	}, nil
}
