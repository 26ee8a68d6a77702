// Package accounts holds the signing identities used by the harness: the
// well-known dev keys, named accounts from configuration, and the Signer
// abstraction shared by key-backed and impersonated accounts.
package accounts

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DevKeys are the deterministic accounts every hardhat-compatible dev node
// funds at genesis (derived from the "test test ... junk" mnemonic).
var DevKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b01690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926e",
	"8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba",
}

// DevBalance is the genesis balance of each dev account: 10000 ETH.
var DevBalance = new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18))

// ParseKey decodes a hex private key with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// ParseKeys decodes a list of hex private keys.
func ParseKeys(hexKeys []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, k := range hexKeys {
		key, err := ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// DevPrivateKeys returns the parsed dev keys.
func DevPrivateKeys() []*ecdsa.PrivateKey {
	keys, err := ParseKeys(DevKeys)
	if err != nil {
		panic(err)
	}
	return keys
}

// Address returns the address controlled by key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
