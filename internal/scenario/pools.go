package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed pools.yaml
var defaultPoolsYAML []byte

const defaultSwapAmountKey = "default"

// Pool is one Balancer pool profile.
type Pool struct {
	Name    string
	Address common.Address
}

type poolEntry struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

type poolsFile struct {
	Pools       []poolEntry      `yaml:"pools"`
	SwapAmounts map[string]int64 `yaml:"swap_amounts"`
}

// PoolSet is the list of pools plus the swap sizes used against them.
type PoolSet struct {
	Pools       []Pool
	swapAmounts map[string]int64
}

// DefaultPools returns the embedded pool profiles.
func DefaultPools() *PoolSet {
	ps, err := ParsePools(defaultPoolsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded pool profiles: %v", err))
	}
	return ps
}

func LoadPools(path string) (*PoolSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool profiles: %w", err)
	}
	return ParsePools(data)
}

func ParsePools(data []byte) (*PoolSet, error) {
	var f poolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pool profiles: %w", err)
	}
	if _, ok := f.SwapAmounts[defaultSwapAmountKey]; !ok {
		return nil, errors.New("pool profiles: swap_amounts needs a default entry")
	}

	ps := &PoolSet{swapAmounts: f.SwapAmounts}
	for _, p := range f.Pools {
		if !common.IsHexAddress(p.Address) {
			return nil, fmt.Errorf("pool %q: invalid address %q", p.Name, p.Address)
		}
		ps.Pools = append(ps.Pools, Pool{Name: p.Name, Address: common.HexToAddress(p.Address)})
	}
	return ps, nil
}

// SwapAmount returns the whole-token amount swapped for symbol.
func (ps *PoolSet) SwapAmount(symbol string) int64 {
	if v, ok := ps.swapAmounts[symbol]; ok {
		return v
	}
	return ps.swapAmounts[defaultSwapAmountKey]
}

// Pick reduces items to the first one in fast mode.
func Pick[T any](items []T, fast bool) []T {
	if fast && len(items) > 1 {
		return items[:1]
	}
	return items
}
