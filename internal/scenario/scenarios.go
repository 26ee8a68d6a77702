package scenario

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/contracts"
	"github.com/babylon-finance/forkharness/internal/units"
)

// Result is the typed outcome of a scenario.
type Result interface {
	Summary() string
}

// LifecycleResult is the outcome of GardenLifecycle.
type LifecycleResult struct {
	Garden           common.Address
	Strategy         common.Address
	CapitalAllocated *big.Int
}

func (r *LifecycleResult) Summary() string {
	return fmt.Sprintf("garden %s strategy %s allocated %s wei", r.Garden.Hex(), r.Strategy.Hex(), r.CapitalAllocated)
}

// GardenLifecycle creates a WETH garden, trades into DAI through the
// Uniswap V3 integration and walks the strategy through vote, execute,
// finalize and withdraw.
func GardenLifecycle(ctx context.Context, f *Fixture) (*LifecycleResult, error) {
	if err := f.ensureKeeper(ctx); err != nil {
		return nil, err
	}
	weth, err := f.Tokens.AddressForSymbol("WETH")
	if err != nil {
		return nil, err
	}
	dai, err := f.Tokens.AddressForSymbol("DAI")
	if err != nil {
		return nil, err
	}

	contribution := units.EthInt(1)
	garden, err := f.createGarden(ctx, f.Alice, weth, DefaultGardenParams(), contribution, contribution)
	if err != nil {
		return nil, err
	}

	opData, err := encodeOpData(dai, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	strategy, err := f.addStrategy(ctx, garden, "Hold DAI", DefaultStrategyParams(), contracts.StrategyOps{
		Types:        []uint8{OpBuy},
		Integrations: []common.Address{UniswapV3TradeIntegration},
		Data:         opData,
	})
	if err != nil {
		return nil, err
	}

	deposit := units.EthInt(1)
	if _, err := garden.Deposit(ctx, f.Bob, deposit, big.NewInt(0), f.Bob.Address(), units.AddressZero, deposit); err != nil {
		return nil, err
	}

	voters := []common.Address{f.Alice.Address(), f.Bob.Address()}
	if err := f.voteAndExecute(ctx, garden, strategy, voters, units.EthInt(1)); err != nil {
		return nil, err
	}
	allocated, err := strategy.CapitalAllocated(ctx)
	if err != nil {
		return nil, err
	}
	if err := expectPositive("capital allocated after execute", allocated); err != nil {
		return nil, err
	}

	if err := f.finalize(ctx, strategy); err != nil {
		return nil, err
	}
	held, err := f.erc20(dai).BalanceOf(ctx, strategy.Address)
	if err != nil {
		return nil, err
	}
	if err := expectZero("strategy DAI after finalize", held); err != nil {
		return nil, err
	}

	if _, err := garden.Withdraw(ctx, f.Alice, units.EthInt(1), big.NewInt(0), f.Alice.Address(), false, units.AddressZero); err != nil {
		return nil, err
	}

	return &LifecycleResult{Garden: garden.Address, Strategy: strategy.Address, CapitalAllocated: allocated}, nil
}

// PoolRun is one custom integration strategy entering and leaving a pool.
type PoolRun struct {
	Pool            Pool
	Strategy        common.Address
	BPTAfterExecute *big.Int
	// GardenReserve is the garden's reserve asset balance after finalize.
	GardenReserve *big.Int
}

// poolRunOpts sizes one runPoolStrategy call. Amounts are in reserve asset
// units.
type poolRunOpts struct {
	Deposit *big.Int
	Capital *big.Int
	// Value is the ether sent along with the deposit.
	Value  *big.Int
	Params StrategyParams
	// MinBPT is the BPT balance the strategy must exceed after execute.
	MinBPT *big.Int
	// CheckDust requires every pool token left on the strategy after
	// execute to be within [0, 10] wei.
	CheckDust bool
	Swaps     bool
}

// wethPoolRun deposits and invests 1 ETH in a WETH garden.
func wethPoolRun(withSwaps bool) poolRunOpts {
	one := units.EthInt(1)
	return poolRunOpts{
		Deposit:   one,
		Capital:   one,
		Value:     one,
		Params:    DefaultStrategyParams(),
		MinBPT:    big.NewInt(0),
		CheckDust: true,
		Swaps:     withSwaps,
	}
}

// runPoolStrategy enters pool through the custom integration, optionally
// swaps through the pool while the strategy is live, and exits.
func (f *Fixture) runPoolStrategy(ctx context.Context, garden *contracts.Garden, pool Pool, opts poolRunOpts) (*PoolRun, error) {
	log := f.logger().With(zap.String("pool", pool.Name))

	reserve, err := garden.ReserveAsset(ctx)
	if err != nil {
		return nil, err
	}
	basePool := contracts.NewBasePool(pool.Address, f.Backend, f.logger())
	poolID, err := basePool.PoolID(ctx)
	if err != nil {
		return nil, err
	}
	bpt := f.erc20(pool.Address)

	integration, err := f.customIntegration(ctx)
	if err != nil {
		return nil, err
	}
	opData, err := encodeOpData(pool.Address, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	strategy, err := f.addStrategy(ctx, garden, "Execute my custom integration", opts.Params, contracts.StrategyOps{
		Types:        []uint8{OpCustom},
		Integrations: []common.Address{integration},
		Data:         opData,
	})
	if err != nil {
		return nil, err
	}

	if _, err := garden.Deposit(ctx, f.Alice, opts.Deposit, big.NewInt(0), f.Alice.Address(), units.AddressZero, opts.Value); err != nil {
		return nil, err
	}
	if err := f.voteAndExecute(ctx, garden, strategy, []common.Address{f.Alice.Address()}, opts.Capital); err != nil {
		return nil, err
	}

	bptAfterExecute, err := bpt.BalanceOf(ctx, strategy.Address)
	if err != nil {
		return nil, err
	}
	if err := expectGreater(pool.Name+" BPT after execute", bptAfterExecute, opts.MinBPT); err != nil {
		return nil, err
	}

	vault := contracts.NewVault(contracts.BalancerVaultAddress, f.Backend, f.logger())
	var poolTokens contracts.PoolTokens
	if opts.CheckDust || opts.Swaps {
		if poolTokens, err = vault.GetPoolTokens(ctx, poolID); err != nil {
			return nil, err
		}
	}
	if opts.CheckDust {
		for _, token := range poolTokens.Tokens {
			left, err := f.erc20(token).BalanceOf(ctx, strategy.Address)
			if err != nil {
				return nil, err
			}
			if err := expectWithin(fmt.Sprintf("strategy balance of %s", token.Hex()), left, 0, 10); err != nil {
				return nil, err
			}
		}
	}

	if opts.Swaps {
		if err := f.swapRoundTrips(ctx, vault, poolID, poolTokens.Tokens); err != nil {
			return nil, err
		}
	}

	if err := f.finalize(ctx, strategy); err != nil {
		return nil, err
	}
	bptAfterFinalize, err := bpt.BalanceOf(ctx, strategy.Address)
	if err != nil {
		return nil, err
	}
	if err := expectZero(pool.Name+" BPT after finalize", bptAfterFinalize); err != nil {
		return nil, err
	}

	reserveBalance, err := f.erc20(reserve).BalanceOf(ctx, garden.Address)
	if err != nil {
		return nil, err
	}
	log.Info("pool strategy finished",
		zap.Stringer("strategy", strategy.Address),
		zap.Stringer("bpt", bptAfterExecute),
		zap.Stringer("reserve", reserveBalance),
		zap.Bool("swaps", opts.Swaps))

	return &PoolRun{Pool: pool, Strategy: strategy.Address, BPTAfterExecute: bptAfterExecute, GardenReserve: reserveBalance}, nil
}

// swapRoundTrips swaps each token into the next one and back, as the
// holder of the first token, to accrue swap fees in the pool.
func (f *Fixture) swapRoundTrips(ctx context.Context, vault *contracts.Vault, poolID [32]byte, tokens []common.Address) error {
	for i := 0; i+1 < len(tokens); i++ {
		one, two := tokens[i], tokens[i+1]

		symbol, err := f.Tokens.SymbolForAddress(one)
		if err != nil {
			return err
		}
		holderAddr, err := f.Tokens.HolderForAddress(one)
		if err != nil {
			return err
		}
		holder, err := f.impersonate(ctx, holderAddr)
		if err != nil {
			return fmt.Errorf("impersonate %s holder: %w", symbol, err)
		}
		md, err := f.tokenMetadata(ctx, one)
		if err != nil {
			return err
		}
		amount := units.TokenAmount(f.Pools.SwapAmount(symbol), md.Decimals)

		before, err := f.erc20(two).BalanceOf(ctx, holderAddr)
		if err != nil {
			return err
		}
		if err := f.swap(ctx, vault, holder, poolID, one, two, amount); err != nil {
			return err
		}
		after, err := f.erc20(two).BalanceOf(ctx, holderAddr)
		if err != nil {
			return err
		}
		back := new(big.Int).Sub(after, before)
		if err := f.swap(ctx, vault, holder, poolID, two, one, back); err != nil {
			return err
		}
		f.logger().Debug("round trip swap",
			zap.String("in", symbol),
			zap.Stringer("amount", amount),
			zap.Stringer("received", back))
	}
	return nil
}

func (f *Fixture) swap(ctx context.Context, vault *contracts.Vault, holder accounts.Signer, poolID [32]byte, in, out common.Address, amount *big.Int) error {
	if _, err := f.erc20(in).Approve(ctx, holder, vault.Address, amount); err != nil {
		return err
	}
	now, err := f.Chain.Timestamp(ctx)
	if err != nil {
		return err
	}
	_, err = vault.Swap(ctx, holder,
		contracts.SingleSwap{
			PoolId:   poolID,
			Kind:     uint8(contracts.GivenIn),
			AssetIn:  in,
			AssetOut: out,
			Amount:   amount,
			UserData: []byte{},
		},
		contracts.FundManagement{
			Sender:    holder.Address(),
			Recipient: holder.Address(),
		},
		big.NewInt(0),
		new(big.Int).SetUint64(now+swapDeadline),
		nil,
	)
	return err
}

// customGarden creates a WETH garden with custom integrations enabled.
func (f *Fixture) customGarden(ctx context.Context) (*contracts.Garden, error) {
	weth, err := f.Tokens.AddressForSymbol("WETH")
	if err != nil {
		return nil, err
	}
	params := DefaultGardenParams()
	params.CustomIntegrations = true
	contribution := units.EthInt(1)
	return f.createGarden(ctx, f.Alice, weth, params, contribution, contribution)
}

// BalancerResult is the outcome of BalancerEntryExit.
type BalancerResult struct {
	Garden common.Address
	Runs   []*PoolRun
}

func (r *BalancerResult) Summary() string {
	return fmt.Sprintf("garden %s entered and exited %d pools", r.Garden.Hex(), len(r.Runs))
}

// BalancerEntryExit enters and exits every configured pool through the
// custom Balancer integration.
func BalancerEntryExit(ctx context.Context, f *Fixture) (*BalancerResult, error) {
	if err := f.ensureKeeper(ctx); err != nil {
		return nil, err
	}
	garden, err := f.customGarden(ctx)
	if err != nil {
		return nil, err
	}

	res := &BalancerResult{Garden: garden.Address}
	for _, pool := range Pick(f.Pools.Pools, f.Fast) {
		run, err := f.runPoolStrategy(ctx, garden, pool, wethPoolRun(false))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pool.Name, err)
		}
		res.Runs = append(res.Runs, run)
	}
	return res, nil
}

// SwapFeeRun compares the garden reserve of a plain pool run with one where
// swaps accrued fees.
type SwapFeeRun struct {
	Pool      Pool
	Baseline  *big.Int
	WithSwaps *big.Int
}

// SwapFeesResult is the outcome of BalancerSwapFees.
type SwapFeesResult struct {
	Garden common.Address
	Runs   []SwapFeeRun
}

func (r *SwapFeesResult) Summary() string {
	return fmt.Sprintf("garden %s earned swap fees in %d pools", r.Garden.Hex(), len(r.Runs))
}

// BalancerSwapFees runs each pool twice, the second time with swaps while
// the strategy is live, and expects the garden reserve to grow.
func BalancerSwapFees(ctx context.Context, f *Fixture) (*SwapFeesResult, error) {
	if err := f.ensureKeeper(ctx); err != nil {
		return nil, err
	}
	garden, err := f.customGarden(ctx)
	if err != nil {
		return nil, err
	}

	res := &SwapFeesResult{Garden: garden.Address}
	for _, pool := range Pick(f.Pools.Pools, f.Fast) {
		run, err := f.compareSwapFees(ctx, garden, pool)
		if err != nil {
			return nil, err
		}
		res.Runs = append(res.Runs, *run)
	}
	return res, nil
}

// compareSwapFees runs a pool strategy without and then with swaps and
// expects the swaps to leave the garden reserve larger.
func (f *Fixture) compareSwapFees(ctx context.Context, garden *contracts.Garden, pool Pool) (*SwapFeeRun, error) {
	baseline, err := f.runPoolStrategy(ctx, garden, pool, wethPoolRun(false))
	if err != nil {
		return nil, fmt.Errorf("%s baseline: %w", pool.Name, err)
	}
	swapped, err := f.runPoolStrategy(ctx, garden, pool, wethPoolRun(true))
	if err != nil {
		return nil, fmt.Errorf("%s with swaps: %w", pool.Name, err)
	}
	if err := expectGreater(pool.Name+" garden reserve with swaps", swapped.GardenReserve, baseline.GardenReserve); err != nil {
		return nil, err
	}
	return &SwapFeeRun{Pool: pool, Baseline: baseline.GardenReserve, WithSwaps: swapped.GardenReserve}, nil
}

// WeightedPoolResult is the outcome of CreateAndJoinWeightedPool.
type WeightedPoolResult struct {
	Pool      common.Address
	PoolID    [32]byte
	JoinerBPT *big.Int
	Run       *PoolRun
	Fees      *SwapFeeRun
}

func (r *WeightedPoolResult) Summary() string {
	return fmt.Sprintf("pool %s created, joiner holds %s BPT, reserve %s -> %s with swaps",
		r.Pool.Hex(), r.JoinerBPT, r.Fees.Baseline, r.Fees.WithSwaps)
}

// CreateAndJoinWeightedPool creates a three-token weighted pool, seeds it
// with an INIT join from bob, then enters and exits it through the custom
// integration and checks that swaps on it accrue fees to the garden.
func CreateAndJoinWeightedPool(ctx context.Context, f *Fixture) (*WeightedPoolResult, error) {
	if err := f.ensureKeeper(ctx); err != nil {
		return nil, err
	}

	symbols := []string{"AAVE", "WETH", "USDT"}
	tokens := make([]common.Address, len(symbols))
	for i, s := range symbols {
		addr, err := f.Tokens.AddressForSymbol(s)
		if err != nil {
			return nil, err
		}
		tokens[i] = addr
	}

	factory := contracts.NewWeightedPoolFactory(contracts.WeightedPoolFactoryAddress, f.Backend, f.logger())
	pool, _, err := factory.Create(ctx, f.Bob, contracts.WeightedPoolArgs{
		Name:              "Three-token Test Pool",
		Symbol:            "60AAVE-15WETH-25USDT",
		Tokens:            tokens,
		Weights:           []*big.Int{units.Eth("0.6"), units.Eth("0.15"), units.Eth("0.25")},
		SwapFeePercentage: units.Eth("0.005"),
		Owner:             units.AddressZero,
	})
	if err != nil {
		return nil, err
	}
	f.logger().Info("weighted pool created", zap.Stringer("pool", pool))

	poolID, err := contracts.NewBasePool(pool, f.Backend, f.logger()).PoolID(ctx)
	if err != nil {
		return nil, err
	}

	amounts := []*big.Int{units.EthInt(30_000), units.EthInt(300), units.TokenAmount(1_000_000, 6)}
	approval := units.Eth("400000000000000000")
	for i, s := range symbols {
		if err := f.fundFromHolder(ctx, s, f.Bob.Address(), amounts[i]); err != nil {
			return nil, err
		}
		if _, err := f.erc20(tokens[i]).Approve(ctx, f.Bob, contracts.BalancerVaultAddress, approval); err != nil {
			return nil, err
		}
	}

	userData, err := encodeInitJoin(amounts)
	if err != nil {
		return nil, err
	}
	vault := contracts.NewVault(contracts.BalancerVaultAddress, f.Backend, f.logger())
	_, err = vault.JoinPool(ctx, f.Bob, poolID, f.Bob.Address(), f.Bob.Address(), contracts.JoinPoolRequest{
		Assets:       tokens,
		MaxAmountsIn: amounts,
		UserData:     userData,
	}, nil)
	if err != nil {
		return nil, err
	}

	joined, err := f.erc20(pool).BalanceOf(ctx, f.Bob.Address())
	if err != nil {
		return nil, err
	}
	if err := expectPositive("joiner BPT", joined); err != nil {
		return nil, err
	}

	garden, err := f.customGarden(ctx)
	if err != nil {
		return nil, err
	}
	created := Pool{Name: "AAVE-WETH-USDT WeightedPool", Address: pool}
	run, err := f.runPoolStrategy(ctx, garden, created, wethPoolRun(false))
	if err != nil {
		return nil, err
	}
	fees, err := f.compareSwapFees(ctx, garden, created)
	if err != nil {
		return nil, err
	}

	return &WeightedPoolResult{Pool: pool, PoolID: poolID, JoinerBPT: joined, Run: run, Fees: fees}, nil
}

// USDCGardenResult is the outcome of USDCGarden.
type USDCGardenResult struct {
	Garden       common.Address
	Contribution *big.Int
	Shares       *big.Int
	Run          *PoolRun
}

func (r *USDCGardenResult) Summary() string {
	return fmt.Sprintf("USDC garden %s created with %s USDC, stable pool strategy held %s BPT",
		r.Garden.Hex(), units.FormatUnits(r.Contribution, 6), r.Run.BPTAfterExecute)
}

// usdcAmount is both the garden contribution and the strategy deposit:
// 10000 USDC.
var usdcAmount = big.NewInt(10_000_000_000)

// usdcStablePoolRun invests the whole deposit in the stable pool.
func usdcStablePoolRun() poolRunOpts {
	params := DefaultStrategyParams()
	params.MaxCapitalRequested = units.EthInt(100)
	return poolRunOpts{
		Deposit: usdcAmount,
		Capital: usdcAmount,
		Value:   usdcAmount,
		Params:  params,
		MinBPT:  units.EthInt(9500),
	}
}

// USDCGarden funds alice from the USDC holder, creates a USDC reserve
// garden with her contribution, then enters and exits the USDC stable pool
// through the custom integration.
func USDCGarden(ctx context.Context, f *Fixture) (*USDCGardenResult, error) {
	if err := f.ensureKeeper(ctx); err != nil {
		return nil, err
	}
	usdc, err := f.Tokens.Lookup("USDC")
	if err != nil {
		return nil, err
	}

	// one contribution for the garden and one deposit for the strategy
	funding := new(big.Int).Mul(usdcAmount, big.NewInt(2))
	if err := f.fundFromHolder(ctx, usdc.Symbol, f.Alice.Address(), funding); err != nil {
		return nil, err
	}
	allowance := units.Eth("400000000000000000")
	if _, err := f.erc20(usdc.Address).Approve(ctx, f.Alice, contracts.BabControllerAddress, allowance); err != nil {
		return nil, err
	}

	controller := f.controller()
	before, err := controller.Gardens(ctx)
	if err != nil {
		return nil, err
	}
	garden, err := f.createGarden(ctx, f.Alice, usdc.Address, USDCGardenParams(), usdcAmount, usdcAmount)
	if err != nil {
		return nil, err
	}
	after, err := controller.Gardens(ctx)
	if err != nil {
		return nil, err
	}
	if len(after) != len(before)+1 {
		return nil, fmt.Errorf("%w: %d gardens after create, want %d", ErrAssertion, len(after), len(before)+1)
	}

	reserve, err := garden.ReserveAsset(ctx)
	if err != nil {
		return nil, err
	}
	if reserve != usdc.Address {
		return nil, fmt.Errorf("%w: garden reserve is %s, want USDC", ErrAssertion, reserve.Hex())
	}
	shares, err := garden.BalanceOf(ctx, f.Alice.Address())
	if err != nil {
		return nil, err
	}
	if err := expectPositive("creator garden shares", shares); err != nil {
		return nil, err
	}

	if _, err := f.erc20(usdc.Address).Approve(ctx, f.Alice, garden.Address, allowance); err != nil {
		return nil, err
	}
	run, err := f.runPoolStrategy(ctx, garden, USDCStablePool, usdcStablePoolRun())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", USDCStablePool.Name, err)
	}

	return &USDCGardenResult{Garden: garden.Address, Contribution: usdcAmount, Shares: shares, Run: run}, nil
}
