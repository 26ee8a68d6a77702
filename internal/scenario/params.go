package scenario

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/babylon-finance/forkharness/internal/units"
)

// Mainnet addresses and constants shared by the scenarios.
var (
	ProtocolOwner             = common.HexToAddress("0x97FcC2Ae862D03143b393e9fA73A32b563d57A6e")
	UniswapV3TradeIntegration = common.HexToAddress("0xc300FB5dE5384bcA63fb6eb3EfD9DB7dFd10325C")

	// USDCStablePool is the pool the USDC garden strategy enters.
	USDCStablePool = Pool{
		Name:    "USDC-DAI-USDT StablePool",
		Address: common.HexToAddress("0x06Df3b2bbB68adc8B0e302443692037ED9f91b42"),
	}
)

const (
	NFTURI  = "https://babylon.mypinata.cloud/ipfs/QmcL826qNckBzEk2P11w4GQrrQFwGvR6XmUCuQgBX9ck1v"
	NFTSeed = 504592746

	GardenName   = "Fountain"
	GardenSymbol = "FTN"
)

// Operation types understood by strategies.
const (
	OpBuy    uint8 = 0
	OpCustom uint8 = 5
)

// GardenParams is the positional configuration vector of createGarden.
type GardenParams struct {
	MaxDepositLimit       *big.Int
	MinLiquidityAsset     *big.Int
	DepositHardlock       *big.Int // seconds
	MinContribution       *big.Int
	StrategyCooldown      *big.Int // seconds
	MinVoterQuorum        *big.Int
	MinStrategyDuration   *big.Int // seconds
	MaxStrategyDuration   *big.Int // seconds
	MinVoters             *big.Int
	PricePerShareDecay    *big.Int
	PricePerShareSlippage *big.Int
	CanMintNFTAfter       *big.Int // seconds of membership
	CustomIntegrations    bool
}

// DefaultGardenParams is the WETH garden configuration.
func DefaultGardenParams() GardenParams {
	return GardenParams{
		MaxDepositLimit:       units.EthInt(100),
		MinLiquidityAsset:     units.EthInt(100),
		DepositHardlock:       big.NewInt(1),
		MinContribution:       units.Eth("0.1"),
		StrategyCooldown:      big.NewInt(units.OneDayInSeconds),
		MinVoterQuorum:        units.Eth("0.1"),
		MinStrategyDuration:   big.NewInt(3 * units.OneDayInSeconds),
		MaxStrategyDuration:   big.NewInt(365 * units.OneDayInSeconds),
		MinVoters:             big.NewInt(1),
		PricePerShareDecay:    units.EthInt(1),
		PricePerShareSlippage: units.EthInt(1),
		CanMintNFTAfter:       big.NewInt(1),
	}
}

// USDCGardenParams is the configuration of a garden with a 6-decimal
// reserve asset.
func USDCGardenParams() GardenParams {
	p := DefaultGardenParams()
	p.MaxDepositLimit = units.EthInt(1)
	p.MinLiquidityAsset = big.NewInt(1)
	p.MinContribution = big.NewInt(10_000_000_000)
	p.CustomIntegrations = true
	return p
}

// Encode returns the 13-element vector createGarden expects.
func (p GardenParams) Encode() []*big.Int {
	custom := big.NewInt(0)
	if p.CustomIntegrations {
		custom = big.NewInt(1)
	}
	return []*big.Int{
		p.MaxDepositLimit,
		p.MinLiquidityAsset,
		p.DepositHardlock,
		p.MinContribution,
		p.StrategyCooldown,
		p.MinVoterQuorum,
		p.MinStrategyDuration,
		p.MaxStrategyDuration,
		p.MinVoters,
		p.PricePerShareDecay,
		p.PricePerShareSlippage,
		p.CanMintNFTAfter,
		custom,
	}
}

// StrategyParams is the positional configuration vector of addStrategy.
type StrategyParams struct {
	MaxCapitalRequested        *big.Int
	Stake                      *big.Int
	Duration                   *big.Int // seconds
	ExpectedReturn             *big.Int
	MaxAllocationPercentage    *big.Int
	MaxGasFeePercentage        *big.Int
	MaxTradeSlippagePercentage *big.Int
}

func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		MaxCapitalRequested:        units.EthInt(10),
		Stake:                      units.Eth("0.1"),
		Duration:                   big.NewInt(30 * units.OneDayInSeconds),
		ExpectedReturn:             units.Eth("0.05"),
		MaxAllocationPercentage:    units.Eth("0.1"),
		MaxGasFeePercentage:        units.Eth("0.05"),
		MaxTradeSlippagePercentage: units.Eth("0.09"),
	}
}

// Encode returns the 7-element vector addStrategy expects.
func (p StrategyParams) Encode() []*big.Int {
	return []*big.Int{
		p.MaxCapitalRequested,
		p.Stake,
		p.Duration,
		p.ExpectedReturn,
		p.MaxAllocationPercentage,
		p.MaxGasFeePercentage,
		p.MaxTradeSlippagePercentage,
	}
}
