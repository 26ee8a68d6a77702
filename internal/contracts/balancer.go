package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

// Mainnet Balancer v2 deployments.
var (
	BalancerVaultAddress         = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	WeightedPoolFactoryAddress   = common.HexToAddress("0x8E9aa87E45e92bad84D5F8DD1bff34Fb92637dE9")
	ProtocolFeesCollectorAddress = common.HexToAddress("0xce88686553686DA562CE7Cea497CE749DA109f9F")
)

// SwapKind selects which side of a swap is fixed.
type SwapKind uint8

const (
	GivenIn SwapKind = iota
	GivenOut
)

// SingleSwap is the Vault's SingleSwap struct.
type SingleSwap struct {
	PoolId   [32]byte
	Kind     uint8
	AssetIn  common.Address
	AssetOut common.Address
	Amount   *big.Int
	UserData []byte
}

// FundManagement is the Vault's FundManagement struct.
type FundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

// JoinPoolRequest is the Vault's JoinPoolRequest struct.
type JoinPoolRequest struct {
	Assets              []common.Address
	MaxAmountsIn        []*big.Int
	UserData            []byte
	FromInternalBalance bool
}

// PoolTokens is the result of Vault.getPoolTokens.
type PoolTokens struct {
	Tokens          []common.Address
	Balances        []*big.Int
	LastChangeBlock *big.Int
}

// Vault binds the Balancer v2 vault.
type Vault struct {
	*Contract
}

func NewVault(address common.Address, backend Backend, logger *zap.Logger) *Vault {
	return &Vault{NewContract(address, VaultABI, backend, logger)}
}

func (v *Vault) GetPoolTokens(ctx context.Context, poolID [32]byte) (PoolTokens, error) {
	res, err := v.Call(ctx, "getPoolTokens", poolID)
	if err != nil {
		return PoolTokens{}, err
	}
	if len(res) != 3 {
		return PoolTokens{}, fmt.Errorf("getPoolTokens: expected 3 return values, got %d", len(res))
	}
	return PoolTokens{
		Tokens:          *abi.ConvertType(res[0], new([]common.Address)).(*[]common.Address),
		Balances:        *abi.ConvertType(res[1], new([]*big.Int)).(*[]*big.Int),
		LastChangeBlock: *abi.ConvertType(res[2], new(*big.Int)).(**big.Int),
	}, nil
}

// BalanceOf returns the vault balance of token in the pool, or an error when
// the pool does not hold token.
func (pt PoolTokens) BalanceOf(token common.Address) (*big.Int, error) {
	for i, t := range pt.Tokens {
		if t == token {
			return pt.Balances[i], nil
		}
	}
	return nil, fmt.Errorf("pool does not hold %s", token.Hex())
}

func (v *Vault) Swap(ctx context.Context, from accounts.Signer, swap SingleSwap, funds FundManagement, limit, deadline, value *big.Int) (*types.Receipt, error) {
	return v.Send(ctx, from, value, "swap", swap, funds, limit, deadline)
}

func (v *Vault) JoinPool(ctx context.Context, from accounts.Signer, poolID [32]byte, sender, recipient common.Address, req JoinPoolRequest, value *big.Int) (*types.Receipt, error) {
	return v.Send(ctx, from, value, "joinPool", poolID, sender, recipient, req)
}

// BasePool binds the pool surface shared by every Balancer pool.
type BasePool struct {
	*Contract
}

func NewBasePool(address common.Address, backend Backend, logger *zap.Logger) *BasePool {
	return &BasePool{NewContract(address, BasePoolABI, backend, logger)}
}

func (p *BasePool) PoolID(ctx context.Context) ([32]byte, error) {
	return one[[32]byte](p.Call(ctx, "getPoolId"))
}

func (p *BasePool) SwapFeePercentage(ctx context.Context) (*big.Int, error) {
	return one[*big.Int](p.Call(ctx, "getSwapFeePercentage"))
}

// WeightedPoolFactory binds the weighted pool factory.
type WeightedPoolFactory struct {
	*Contract
	events *LogDecoder
}

func NewWeightedPoolFactory(address common.Address, backend Backend, logger *zap.Logger) *WeightedPoolFactory {
	return &WeightedPoolFactory{
		Contract: NewContract(address, WeightedPoolFactoryABI, backend, logger),
		events:   NewLogDecoder(WeightedPoolFactoryABI),
	}
}

// WeightedPoolArgs are the create arguments. Tokens must be sorted
// ascending and Weights must sum to 1e18.
type WeightedPoolArgs struct {
	Name              string
	Symbol            string
	Tokens            []common.Address
	Weights           []*big.Int
	SwapFeePercentage *big.Int
	Owner             common.Address
}

// Create deploys a weighted pool and returns its address from the
// PoolCreated event.
func (f *WeightedPoolFactory) Create(ctx context.Context, from accounts.Signer, args WeightedPoolArgs) (common.Address, *types.Receipt, error) {
	receipt, err := f.Send(ctx, from, nil, "create",
		args.Name, args.Symbol, args.Tokens, args.Weights, args.SwapFeePercentage, args.Owner)
	if err != nil {
		return common.Address{}, receipt, err
	}
	created, err := f.events.First("PoolCreated", receipt.Logs)
	if err != nil {
		return common.Address{}, receipt, err
	}
	pool, ok := created["pool"].(common.Address)
	if !ok {
		return common.Address{}, receipt, fmt.Errorf("PoolCreated: pool has type %T", created["pool"])
	}
	return pool, receipt, nil
}

// ProtocolFeesCollector binds the vault's fee collector.
type ProtocolFeesCollector struct {
	*Contract
}

func NewProtocolFeesCollector(address common.Address, backend Backend, logger *zap.Logger) *ProtocolFeesCollector {
	return &ProtocolFeesCollector{NewContract(address, ProtocolFeesCollectorABI, backend, logger)}
}

func (c *ProtocolFeesCollector) SwapFeePercentage(ctx context.Context) (*big.Int, error) {
	return one[*big.Int](c.Call(ctx, "getSwapFeePercentage"))
}
