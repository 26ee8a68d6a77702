package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPools(t *testing.T) {
	ps := DefaultPools()
	require.Len(t, ps.Pools, 4)
	assert.Equal(t, common.HexToAddress("0x06Df3b2bbB68adc8B0e302443692037ED9f91b42"), ps.Pools[0].Address)

	assert.Equal(t, int64(10), ps.SwapAmount("WBTC"))
	assert.Equal(t, int64(50), ps.SwapAmount("WETH"))
	assert.Equal(t, int64(1000), ps.SwapAmount("wstETH"))
	assert.Equal(t, int64(1_000_000), ps.SwapAmount("USDC"), "falls back to default")
}

func TestParsePoolsRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"no default":  "pools: []\nswap_amounts:\n  WETH: 1\n",
		"bad address": "pools:\n  - name: x\n    address: nope\nswap_amounts:\n  default: 1\n",
		"not yaml":    "pools: [",
	}
	for name, doc := range cases {
		_, err := ParsePools([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadPools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	doc := "pools:\n  - name: only\n    address: \"0x0000000000000000000000000000000000000001\"\nswap_amounts:\n  default: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ps, err := LoadPools(path)
	require.NoError(t, err)
	want := []Pool{{Name: "only", Address: common.HexToAddress("0x1")}}
	if diff := cmp.Diff(want, ps.Pools); diff != "" {
		t.Errorf("pools mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(7), ps.SwapAmount("anything"))

	_, err = LoadPools(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPick(t *testing.T) {
	items := []int{1, 2, 3}
	assert.Equal(t, []int{1, 2, 3}, Pick(items, false))
	assert.Equal(t, []int{1}, Pick(items, true))
	assert.Empty(t, Pick([]int{}, true))
}
