package tokens

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryRoundTrip(t *testing.T) {
	r := Default()
	require.NotEmpty(t, r.Symbols())

	for _, sym := range r.Symbols() {
		addr, err := r.AddressForSymbol(sym)
		require.NoError(t, err, sym)
		got, err := r.SymbolForAddress(addr)
		require.NoError(t, err, sym)
		assert.Equal(t, sym, got)

		holder, err := r.HolderForSymbol(sym)
		require.NoError(t, err, sym)
		viaAddr, err := r.HolderForAddress(addr)
		require.NoError(t, err, sym)
		assert.Equal(t, holder, viaAddr)
	}
}

func TestKnownEntries(t *testing.T) {
	r := Default()

	weth, err := r.AddressForSymbol("WETH")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), weth)

	holder, err := r.HolderForSymbol("USDC")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x47ac0fb4f2d84898e4d9e7b4dab3c24507a6d503"), holder)

	sym, err := r.SymbolForHex("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)
	assert.Equal(t, "USDC", sym)

	usdc, err := r.Lookup("USDC")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), usdc.Decimals)
}

func TestUnknownLookupsFail(t *testing.T) {
	r := Default()

	_, err := r.AddressForSymbol("NOPE")
	require.ErrorIs(t, err, ErrUnknownSymbol)
	assert.Contains(t, err.Error(), "NOPE")

	_, err = r.HolderForSymbol("NOPE")
	require.ErrorIs(t, err, ErrUnknownSymbol)
	assert.Contains(t, err.Error(), "no holder defined for token NOPE")

	stray := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err = r.SymbolForAddress(stray)
	require.ErrorIs(t, err, ErrUnknownAddress)
	assert.Contains(t, err.Error(), stray.Hex())

	_, err = r.HolderForAddress(stray)
	assert.ErrorIs(t, err, ErrUnknownAddress)

	_, err = r.SymbolForHex("not-an-address")
	assert.ErrorIs(t, err, ErrUnknownAddress)
}

func TestParse(t *testing.T) {
	doc := `
tokens:
  - symbol: AAA
    address: "0x0000000000000000000000000000000000000001"
    holder: "0x0000000000000000000000000000000000000002"
    decimals: 6
  - symbol: BBB
    address: "0x0000000000000000000000000000000000000003"
`
	r, err := Parse([]byte(doc))
	require.NoError(t, err)

	want := []Token{
		{
			Symbol:     "AAA",
			Address:    common.HexToAddress("0x01"),
			Holder:     common.HexToAddress("0x02"),
			Decimals:   6,
			RawAddress: "0x0000000000000000000000000000000000000001",
			RawHolder:  "0x0000000000000000000000000000000000000002",
		},
		{
			Symbol:     "BBB",
			Address:    common.HexToAddress("0x03"),
			RawAddress: "0x0000000000000000000000000000000000000003",
		},
	}
	if diff := pretty.Compare(want, r.Tokens()); diff != "" {
		t.Errorf("Tokens() diff (-want +got):\n%s", diff)
	}

	_, err = r.HolderForSymbol("BBB")
	assert.ErrorIs(t, err, ErrNoHolder)
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "tokens: [",
		"no symbol":      "tokens:\n  - address: \"0x0000000000000000000000000000000000000001\"\n",
		"bad address":    "tokens:\n  - symbol: X\n    address: \"0x12\"\n",
		"bad holder":     "tokens:\n  - symbol: X\n    address: \"0x0000000000000000000000000000000000000001\"\n    holder: zz\n",
		"duplicate sym":  "tokens:\n  - symbol: X\n    address: \"0x0000000000000000000000000000000000000001\"\n  - symbol: X\n    address: \"0x0000000000000000000000000000000000000002\"\n",
		"duplicate addr": "tokens:\n  - symbol: X\n    address: \"0x00000000000000000000000000000000000000aa\"\n  - symbol: Y\n    address: \"0x00000000000000000000000000000000000000AA\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	require.NoError(t, os.WriteFile(path, defaultRegistryYAML, 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Symbols(), r.Symbols())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
