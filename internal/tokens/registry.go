// Package tokens maps token symbols to mainnet addresses and to holders
// whose balances seed test accounts through impersonation.
package tokens

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var defaultRegistryYAML []byte

var (
	ErrUnknownSymbol  = errors.New("unknown token symbol")
	ErrUnknownAddress = errors.New("unknown token address")
	ErrNoHolder       = errors.New("no holder defined")
)

// Token is one registry entry. Immutable after load.
type Token struct {
	Symbol   string         `yaml:"symbol"`
	Address  common.Address `yaml:"-"`
	Holder   common.Address `yaml:"-"`
	Decimals uint8          `yaml:"decimals"`

	RawAddress string `yaml:"address"`
	RawHolder  string `yaml:"holder"`
}

type registryFile struct {
	Tokens []Token `yaml:"tokens"`
}

// Registry is a read-only symbol/address table.
type Registry struct {
	tokens   []Token
	bySymbol map[string]int
}

// Default returns the embedded mainnet registry.
func Default() *Registry {
	r, err := Parse(defaultRegistryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded token registry: %v", err))
	}
	return r
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a registry document, validating addresses and rejecting
// duplicate symbols or addresses.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse token registry: %w", err)
	}

	r := &Registry{bySymbol: make(map[string]int, len(f.Tokens))}
	byAddress := make(map[common.Address]string, len(f.Tokens))
	for _, t := range f.Tokens {
		if t.Symbol == "" {
			return nil, errors.New("token entry without symbol")
		}
		if _, dup := r.bySymbol[t.Symbol]; dup {
			return nil, fmt.Errorf("duplicate token symbol %s", t.Symbol)
		}
		if !common.IsHexAddress(t.RawAddress) {
			return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.RawAddress)
		}
		t.Address = common.HexToAddress(t.RawAddress)
		if other, dup := byAddress[t.Address]; dup {
			return nil, fmt.Errorf("token %s: address %s already used by %s", t.Symbol, t.Address.Hex(), other)
		}
		byAddress[t.Address] = t.Symbol
		if t.RawHolder != "" {
			if !common.IsHexAddress(t.RawHolder) {
				return nil, fmt.Errorf("token %s: invalid holder %q", t.Symbol, t.RawHolder)
			}
			t.Holder = common.HexToAddress(t.RawHolder)
		}
		r.bySymbol[t.Symbol] = len(r.tokens)
		r.tokens = append(r.tokens, t)
	}
	return r, nil
}

// Lookup returns the entry for symbol.
func (r *Registry) Lookup(symbol string) (Token, error) {
	i, ok := r.bySymbol[symbol]
	if !ok {
		return Token{}, fmt.Errorf("no token defined for symbol %s: %w", symbol, ErrUnknownSymbol)
	}
	return r.tokens[i], nil
}

// AddressForSymbol returns the token contract address for symbol.
func (r *Registry) AddressForSymbol(symbol string) (common.Address, error) {
	t, err := r.Lookup(symbol)
	if err != nil {
		return common.Address{}, err
	}
	return t.Address, nil
}

// HolderForSymbol returns the large-balance holder for symbol.
func (r *Registry) HolderForSymbol(symbol string) (common.Address, error) {
	i, ok := r.bySymbol[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("no holder defined for token %s: %w", symbol, ErrUnknownSymbol)
	}
	if r.tokens[i].Holder == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no holder defined for token %s: %w", symbol, ErrNoHolder)
	}
	return r.tokens[i].Holder, nil
}

// SymbolForAddress scans the registry for addr.
func (r *Registry) SymbolForAddress(addr common.Address) (string, error) {
	for _, t := range r.tokens {
		if t.Address == addr {
			return t.Symbol, nil
		}
	}
	return "", fmt.Errorf("no token name found for address %s: %w", addr.Hex(), ErrUnknownAddress)
}

// HolderForAddress resolves addr to its symbol and then to its holder.
func (r *Registry) HolderForAddress(addr common.Address) (common.Address, error) {
	symbol, err := r.SymbolForAddress(addr)
	if err != nil {
		return common.Address{}, err
	}
	return r.HolderForSymbol(symbol)
}

// SymbolForHex is SymbolForAddress for a textual address, case-insensitive.
func (r *Registry) SymbolForHex(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("no token name found for address %s: %w", addr, ErrUnknownAddress)
	}
	return r.SymbolForAddress(common.HexToAddress(addr))
}

// Symbols returns all symbols in sorted order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t.Symbol)
	}
	sort.Strings(out)
	return out
}

// Tokens returns a copy of all entries in file order.
func (r *Registry) Tokens() []Token {
	return append([]Token(nil), r.tokens...)
}
