package scenario

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babylon-finance/forkharness/internal/contracts"
	"github.com/babylon-finance/forkharness/internal/tokens"
)

func testFixture(chain *fakeChain, backend *fakeBackend) *Fixture {
	return &Fixture{
		Chain:   chain,
		Backend: backend,
		Tokens:  tokens.Default(),
		Pools:   DefaultPools(),
		Keeper:  &fakeSigner{addr: common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), sent: chain.sent},
		Alice:   &fakeSigner{addr: common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"), sent: chain.sent},
		Bob:     &fakeSigner{addr: common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"), sent: chain.sent},
	}
}

func TestEnsureKeeperSkipsKnownKeeper(t *testing.T) {
	chain := newFakeChain()
	backend := newFakeBackend()
	backend.returns("isValidKeeper", true)

	require.NoError(t, testFixture(chain, backend).ensureKeeper(context.Background()))
	assert.Empty(t, chain.impersonated)
	assert.Empty(t, *chain.sent)
}

func TestEnsureKeeperAddsThroughOwner(t *testing.T) {
	chain := newFakeChain()
	backend := newFakeBackend()
	backend.returns("isValidKeeper", false)
	f := testFixture(chain, backend)

	require.NoError(t, f.ensureKeeper(context.Background()))
	assert.Equal(t, []common.Address{ProtocolOwner}, chain.impersonated)
	assert.Equal(t, impersonatedBalance, chain.balances[ProtocolOwner])

	require.Len(t, *chain.sent, 1)
	req := (*chain.sent)[0]
	assert.Equal(t, contracts.BabControllerAddress, *req.To)
	assert.Equal(t, contracts.BabControllerABI.Methods["addKeeper"].ID, req.Data[:4])
}

func TestCreateGardenReturnsNewest(t *testing.T) {
	chain := newFakeChain()
	backend := newFakeBackend()
	older := common.HexToAddress("0x1")
	newest := common.HexToAddress("0x2")
	backend.returns("getGardens", []common.Address{older, newest})
	f := testFixture(chain, backend)

	contribution := big1e18()
	garden, err := f.createGarden(context.Background(), f.Alice, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), DefaultGardenParams(), contribution, contribution)
	require.NoError(t, err)
	assert.Equal(t, newest, garden.Address)

	require.Len(t, *chain.sent, 1)
	req := (*chain.sent)[0]
	assert.Equal(t, contribution, req.Value)

	args, err := contracts.BabControllerABI.Methods["createGarden"].Inputs.Unpack(req.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, GardenName, args[1])
	assert.Len(t, args[5], 13)
	assert.Equal(t, []bool{true, true, true}, args[7])
}

func TestCustomIntegrationSource(t *testing.T) {
	f := testFixture(newFakeChain(), newFakeBackend())

	_, err := f.customIntegration(context.Background())
	assert.ErrorIs(t, err, ErrNoIntegration)

	f.IntegrationAddress = common.HexToAddress("0xfeed")
	addr, err := f.customIntegration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.IntegrationAddress, addr)
}

func TestFinalizeWaitsOutStrategyDuration(t *testing.T) {
	chain := newFakeChain()
	f := testFixture(chain, newFakeBackend())
	strategy := contracts.NewStrategy(common.HexToAddress("0x3"), f.Backend, nil)

	require.NoError(t, f.finalize(context.Background(), strategy))
	assert.Equal(t, 30*24*time.Hour, chain.advanced)
	require.Len(t, *chain.sent, 1)
	assert.Equal(t, contracts.StrategyABI.Methods["finalizeStrategy"].ID, (*chain.sent)[0].Data[:4])
}

func big1e18() *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) }
