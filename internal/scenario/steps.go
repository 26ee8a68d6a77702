package scenario

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/contracts"
	"github.com/babylon-finance/forkharness/internal/units"
)

const (
	// executeDelay covers the strategy cooldown after voting.
	executeDelay = units.OneDayInSeconds * time.Second
	// finalizeDelay covers the strategy duration.
	finalizeDelay = 30 * units.OneDayInSeconds * time.Second

	// swapDeadline is how far past the latest block a swap stays valid.
	swapDeadline = 20
)

// impersonatedBalance is the ether given to impersonated accounts for gas.
var impersonatedBalance = units.EthInt(100)

var (
	addressType, _  = abi.NewType("address", "", nil)
	uint256Type, _  = abi.NewType("uint256", "", nil)
	uint256Slice, _ = abi.NewType("uint256[]", "", nil)
)

// encodeOpData encodes the (address, uint256) operation parameter of a
// strategy.
func encodeOpData(target common.Address, param *big.Int) ([]byte, error) {
	return abi.Arguments{{Type: addressType}, {Type: uint256Type}}.Pack(target, param)
}

// encodeInitJoin encodes the INIT join kind userData of a weighted pool.
func encodeInitJoin(maxAmountsIn []*big.Int) ([]byte, error) {
	return abi.Arguments{{Type: uint256Type}, {Type: uint256Slice}, {Type: uint256Type}}.
		Pack(big.NewInt(0), maxAmountsIn, big.NewInt(0))
}

// impersonate unlocks addr and gives it ether for gas.
func (f *Fixture) impersonate(ctx context.Context, addr common.Address) (accounts.Signer, error) {
	signer, err := f.Chain.Impersonate(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := f.Chain.SetBalance(ctx, addr, impersonatedBalance); err != nil {
		return nil, err
	}
	return signer, nil
}

// ensureKeeper registers the keeper through the protocol owner unless it is
// already valid.
func (f *Fixture) ensureKeeper(ctx context.Context) error {
	controller := f.controller()
	ok, err := controller.IsValidKeeper(ctx, f.Keeper.Address())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	owner, err := f.impersonate(ctx, ProtocolOwner)
	if err != nil {
		return fmt.Errorf("impersonate owner: %w", err)
	}
	if _, err := controller.AddKeeper(ctx, owner, f.Keeper.Address()); err != nil {
		return err
	}
	f.logger().Debug("keeper added", zap.Stringer("keeper", f.Keeper.Address()))
	return nil
}

// createGarden creates a garden from creator and returns the newest one.
func (f *Fixture) createGarden(ctx context.Context, creator accounts.Signer, reserve common.Address, params GardenParams, contribution, value *big.Int) (*contracts.Garden, error) {
	controller := f.controller()
	_, err := controller.CreateGarden(ctx, creator, contracts.CreateGardenArgs{
		ReserveAsset:        reserve,
		Name:                GardenName,
		Symbol:              GardenSymbol,
		TokenURI:            NFTURI,
		Seed:                big.NewInt(NFTSeed),
		Params:              params.Encode(),
		InitialContribution: contribution,
		Flags:               []bool{true, true, true},
		ProfitSharing:       []*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
	}, value)
	if err != nil {
		return nil, err
	}

	gardens, err := controller.Gardens(ctx)
	if err != nil {
		return nil, err
	}
	if len(gardens) == 0 {
		return nil, fmt.Errorf("%w: controller lists no gardens after createGarden", ErrAssertion)
	}
	addr := gardens[len(gardens)-1]
	f.logger().Debug("garden created", zap.Stringer("garden", addr))
	return contracts.NewGarden(addr, f.Backend, f.logger()), nil
}

// addStrategy adds a strategy from alice and returns the newest one.
func (f *Fixture) addStrategy(ctx context.Context, garden *contracts.Garden, name string, params StrategyParams, ops contracts.StrategyOps) (*contracts.Strategy, error) {
	if _, err := garden.AddStrategy(ctx, f.Alice, name, "💎", params.Encode(), ops); err != nil {
		return nil, err
	}
	strategies, err := garden.Strategies(ctx)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: garden lists no strategies after addStrategy", ErrAssertion)
	}
	addr := strategies[len(strategies)-1]
	f.logger().Debug("strategy added", zap.String("name", name), zap.Stringer("strategy", addr))
	return contracts.NewStrategy(addr, f.Backend, f.logger()), nil
}

// voteAndExecute votes with the full garden balance of voters, waits out
// the cooldown and executes with capital.
func (f *Fixture) voteAndExecute(ctx context.Context, garden *contracts.Garden, strategy *contracts.Strategy, voters []common.Address, capital *big.Int) error {
	votes := make([]*big.Int, len(voters))
	for i, v := range voters {
		bal, err := garden.BalanceOf(ctx, v)
		if err != nil {
			return err
		}
		votes[i] = bal
	}
	if _, err := strategy.ResolveVoting(ctx, f.Keeper, voters, votes, big.NewInt(0)); err != nil {
		return err
	}
	if err := f.Chain.AdvanceDuration(ctx, executeDelay); err != nil {
		return err
	}
	_, err := strategy.ExecuteStrategy(ctx, f.Keeper, capital, big.NewInt(0))
	return err
}

// finalize waits out the strategy duration and finalizes.
func (f *Fixture) finalize(ctx context.Context, strategy *contracts.Strategy) error {
	if err := f.Chain.AdvanceDuration(ctx, finalizeDelay); err != nil {
		return err
	}
	_, err := strategy.FinalizeStrategy(ctx, f.Keeper, big.NewInt(0), "", big.NewInt(0))
	return err
}

// fundFromHolder transfers amount of symbol from its registry holder to to.
func (f *Fixture) fundFromHolder(ctx context.Context, symbol string, to common.Address, amount *big.Int) error {
	tok, err := f.Tokens.Lookup(symbol)
	if err != nil {
		return err
	}
	holder, err := f.Tokens.HolderForSymbol(symbol)
	if err != nil {
		return err
	}
	signer, err := f.impersonate(ctx, holder)
	if err != nil {
		return fmt.Errorf("impersonate %s holder: %w", symbol, err)
	}
	if _, err := f.erc20(tok.Address).Transfer(ctx, signer, to, amount); err != nil {
		return fmt.Errorf("fund %s with %s: %w", to.Hex(), symbol, err)
	}
	return nil
}

func expectPositive(what string, v *big.Int) error {
	if v.Sign() <= 0 {
		return fmt.Errorf("%w: %s is %s, want > 0", ErrAssertion, what, v)
	}
	return nil
}

func expectZero(what string, v *big.Int) error {
	if v.Sign() != 0 {
		return fmt.Errorf("%w: %s is %s, want 0", ErrAssertion, what, v)
	}
	return nil
}

func expectWithin(what string, v *big.Int, lo, hi int64) error {
	if v.Cmp(big.NewInt(lo)) < 0 || v.Cmp(big.NewInt(hi)) > 0 {
		return fmt.Errorf("%w: %s is %s, want within [%d, %d]", ErrAssertion, what, v, lo, hi)
	}
	return nil
}

func expectGreater(what string, v, than *big.Int) error {
	if v.Cmp(than) <= 0 {
		return fmt.Errorf("%w: %s is %s, want > %s", ErrAssertion, what, v, than)
	}
	return nil
}
