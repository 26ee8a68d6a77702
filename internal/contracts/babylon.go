package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

// BabControllerAddress is the mainnet Babylon controller proxy.
var BabControllerAddress = common.HexToAddress("0xD4a5b5fcB561dAF3aDF86F8477555B92FBa43b5F")

// CreateGardenArgs are the createGarden arguments.
type CreateGardenArgs struct {
	ReserveAsset        common.Address
	Name                string
	Symbol              string
	TokenURI            string
	Seed                *big.Int
	Params              []*big.Int
	InitialContribution *big.Int
	// PublicGardenStrategistsStewards
	Flags         []bool
	ProfitSharing []*big.Int
}

// Controller binds the BabController.
type Controller struct {
	*Contract
}

func NewController(address common.Address, backend Backend, logger *zap.Logger) *Controller {
	return &Controller{NewContract(address, BabControllerABI, backend, logger)}
}

// CreateGarden creates a garden. value is sent with the call and must equal
// the contribution for WETH gardens.
func (c *Controller) CreateGarden(ctx context.Context, creator accounts.Signer, args CreateGardenArgs, value *big.Int) (*types.Receipt, error) {
	return c.Send(ctx, creator, value, "createGarden",
		args.ReserveAsset,
		args.Name,
		args.Symbol,
		args.TokenURI,
		args.Seed,
		args.Params,
		args.InitialContribution,
		args.Flags,
		args.ProfitSharing,
	)
}

func (c *Controller) Gardens(ctx context.Context) ([]common.Address, error) {
	return one[[]common.Address](c.Call(ctx, "getGardens"))
}

func (c *Controller) AddKeeper(ctx context.Context, owner accounts.Signer, keeper common.Address) (*types.Receipt, error) {
	return c.Send(ctx, owner, nil, "addKeeper", keeper)
}

func (c *Controller) IsValidKeeper(ctx context.Context, keeper common.Address) (bool, error) {
	return one[bool](c.Call(ctx, "isValidKeeper", keeper))
}

// Garden binds a Babylon garden.
type Garden struct {
	*Contract
}

func NewGarden(address common.Address, backend Backend, logger *zap.Logger) *Garden {
	return &Garden{NewContract(address, GardenABI, backend, logger)}
}

// StrategyOps describes the operations of a new strategy.
type StrategyOps struct {
	Types        []uint8
	Integrations []common.Address
	Data         []byte
}

func (g *Garden) AddStrategy(ctx context.Context, strategist accounts.Signer, name, symbol string, params []*big.Int, ops StrategyOps) (*types.Receipt, error) {
	return g.Send(ctx, strategist, nil, "addStrategy", name, symbol, params, ops.Types, ops.Integrations, ops.Data)
}

func (g *Garden) Strategies(ctx context.Context) ([]common.Address, error) {
	return one[[]common.Address](g.Call(ctx, "getStrategies"))
}

func (g *Garden) ReserveAsset(ctx context.Context) (common.Address, error) {
	return one[common.Address](g.Call(ctx, "reserveAsset"))
}

// Deposit contributes amountIn of the reserve asset. value carries ether for
// WETH gardens and is nil otherwise.
func (g *Garden) Deposit(ctx context.Context, from accounts.Signer, amountIn, minAmountOut *big.Int, to, referrer common.Address, value *big.Int) (*types.Receipt, error) {
	return g.Send(ctx, from, value, "deposit", amountIn, minAmountOut, to, referrer)
}

func (g *Garden) Withdraw(ctx context.Context, from accounts.Signer, amountIn, minAmountOut *big.Int, to common.Address, withPenalty bool, unwind common.Address) (*types.Receipt, error) {
	return g.Send(ctx, from, nil, "withdraw", amountIn, minAmountOut, to, withPenalty, unwind)
}

func (g *Garden) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return one[*big.Int](g.Call(ctx, "balanceOf", owner))
}

// Strategy binds a garden strategy.
type Strategy struct {
	*Contract
}

func NewStrategy(address common.Address, backend Backend, logger *zap.Logger) *Strategy {
	return &Strategy{NewContract(address, StrategyABI, backend, logger)}
}

func (s *Strategy) ResolveVoting(ctx context.Context, keeper accounts.Signer, voters []common.Address, votes []*big.Int, fee *big.Int) (*types.Receipt, error) {
	return s.Send(ctx, keeper, nil, "resolveVoting", voters, votes, fee)
}

func (s *Strategy) ExecuteStrategy(ctx context.Context, keeper accounts.Signer, capital, fee *big.Int) (*types.Receipt, error) {
	return s.Send(ctx, keeper, nil, "executeStrategy", capital, fee)
}

func (s *Strategy) FinalizeStrategy(ctx context.Context, keeper accounts.Signer, fee *big.Int, tokenURI string, minReserveOut *big.Int) (*types.Receipt, error) {
	return s.Send(ctx, keeper, nil, "finalizeStrategy", fee, tokenURI, minReserveOut)
}

func (s *Strategy) CapitalAllocated(ctx context.Context) (*big.Int, error) {
	return one[*big.Int](s.Call(ctx, "capitalAllocated"))
}
