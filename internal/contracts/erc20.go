package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/bluele/gcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

// ERC20 binds a token contract.
type ERC20 struct {
	*Contract
}

func NewERC20(address common.Address, backend Backend, logger *zap.Logger) *ERC20 {
	return &ERC20{NewContract(address, ERC20ABI, backend, logger)}
}

func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return one[*big.Int](t.Call(ctx, "balanceOf", owner))
}

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return one[*big.Int](t.Call(ctx, "allowance", owner, spender))
}

func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	return one[uint8](t.Call(ctx, "decimals"))
}

func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	return one[string](t.Call(ctx, "symbol"))
}

func (t *ERC20) Transfer(ctx context.Context, from accounts.Signer, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return t.Send(ctx, from, nil, "transfer", to, amount)
}

func (t *ERC20) Approve(ctx context.Context, owner accounts.Signer, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	return t.Send(ctx, owner, nil, "approve", spender, amount)
}

// TokenMetadata is the immutable part of an ERC-20.
type TokenMetadata struct {
	Symbol   string
	Decimals uint8
}

// MetadataCache memoizes symbol and decimals reads per token address.
type MetadataCache struct {
	backend Backend
	logger  *zap.Logger
	cache   gcache.Cache
}

func NewMetadataCache(backend Backend, size int, logger *zap.Logger) *MetadataCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataCache{
		backend: backend,
		logger:  logger,
		cache:   gcache.New(size).LRU().Build(),
	}
}

// Metadata returns the symbol and decimals of token, reading the chain on
// the first request only.
func (m *MetadataCache) Metadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	if v, err := m.cache.Get(token); err == nil {
		return v.(TokenMetadata), nil
	}

	erc20 := NewERC20(token, m.backend, m.logger)
	symbol, err := erc20.Symbol(ctx)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("symbol of %s: %w", token.Hex(), err)
	}
	decimals, err := erc20.Decimals(ctx)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
	}

	md := TokenMetadata{Symbol: symbol, Decimals: decimals}
	if err := m.cache.Set(token, md); err != nil {
		m.logger.Warn("cannot cache token metadata", zap.Stringer("token", token), zap.Error(err))
	}
	return md, nil
}
