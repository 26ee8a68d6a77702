package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// UpstreamCacheBytes bounds the in-memory cache of fetched accounts and slots.
const UpstreamCacheBytes = 64 << 20

// Account is the upstream view of an account at the fork block.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
}

// IsEmpty reports whether the account has no balance, nonce or code.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && len(a.Code) == 0 && (a.Balance == nil || a.Balance.IsZero())
}

// Upstream serves state of the forked chain at a fixed block.
type Upstream interface {
	Account(ctx context.Context, addr common.Address) (*Account, error)
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	Header(ctx context.Context) (*types.Header, error)
}

// RPCUpstream fetches fork state over JSON-RPC from an archive node.
//
// Concurrent loads of the same key share one request (singleflight).
// Results are cached in fastcache, and code is also persisted in the
// BytecodeStore so later runs skip the largest fetches.
type RPCUpstream struct {
	client   *ethclient.Client
	block    uint64
	blockBig *big.Int
	code     *BytecodeStore
	cache    *fastcache.Cache
	group    singleflight.Group
	logger   *zap.Logger
}

// NewRPCUpstream creates an upstream pinned at block.
func NewRPCUpstream(client *ethclient.Client, block uint64, code *BytecodeStore, logger *zap.Logger) *RPCUpstream {
	return &RPCUpstream{
		client:   client,
		block:    block,
		blockBig: new(big.Int).SetUint64(block),
		code:     code,
		cache:    fastcache.New(UpstreamCacheBytes),
		logger:   logger.Named("upstream"),
	}
}

// Block returns the pinned fork block.
func (u *RPCUpstream) Block() uint64 { return u.block }

func accountKey(addr common.Address) []byte {
	return append([]byte{'a'}, addr.Bytes()...)
}

func slotKey(addr common.Address, slot common.Hash) []byte {
	key := make([]byte, 0, 1+common.AddressLength+common.HashLength)
	key = append(key, 's')
	key = append(key, addr.Bytes()...)
	return append(key, slot.Bytes()...)
}

// Account implements Upstream.
func (u *RPCUpstream) Account(ctx context.Context, addr common.Address) (*Account, error) {
	key := accountKey(addr)
	if enc, ok := u.cache.HasGet(nil, key); ok {
		return u.decodeAccount(addr, enc)
	}

	v, err, _ := u.group.Do(string(key), func() (interface{}, error) {
		bal, err := u.client.BalanceAt(ctx, addr, u.blockBig)
		if err != nil {
			return nil, fmt.Errorf("upstream balance of %s: %w", addr.Hex(), err)
		}
		nonce, err := u.client.NonceAt(ctx, addr, u.blockBig)
		if err != nil {
			return nil, fmt.Errorf("upstream nonce of %s: %w", addr.Hex(), err)
		}
		code, ok := u.code.Get(u.block, addr)
		if !ok {
			code, err = u.client.CodeAt(ctx, addr, u.blockBig)
			if err != nil {
				return nil, fmt.Errorf("upstream code of %s: %w", addr.Hex(), err)
			}
			if err := u.code.Put(u.block, addr, code); err != nil {
				u.logger.Warn("cannot persist bytecode", zap.Stringer("addr", addr), zap.Error(err))
			}
		}

		balance, overflow := uint256.FromBig(bal)
		if overflow {
			return nil, fmt.Errorf("upstream balance of %s overflows 256 bits", addr.Hex())
		}
		acc := &Account{Balance: balance, Nonce: nonce, Code: code}
		u.cache.Set(key, encodeAccount(acc))
		u.logger.Debug("loaded account",
			zap.Stringer("addr", addr),
			zap.Stringer("balance", bal),
			zap.Uint64("nonce", nonce),
			zap.Int("code", len(code)))
		return acc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Account), nil
}

// encodeAccount packs balance and nonce; code lives in the BytecodeStore
func encodeAccount(a *Account) []byte {
	enc := make([]byte, 32+8)
	a.Balance.WriteToSlice(enc[:32])
	binary.BigEndian.PutUint64(enc[32:], a.Nonce)
	return enc
}

func (u *RPCUpstream) decodeAccount(addr common.Address, enc []byte) (*Account, error) {
	if len(enc) != 40 {
		return nil, fmt.Errorf("corrupt cached account %s", addr.Hex())
	}
	code, _ := u.code.Get(u.block, addr)
	return &Account{
		Balance: new(uint256.Int).SetBytes(enc[:32]),
		Nonce:   binary.BigEndian.Uint64(enc[32:]),
		Code:    code,
	}, nil
}

// Storage implements Upstream.
func (u *RPCUpstream) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	key := slotKey(addr, slot)
	if enc, ok := u.cache.HasGet(nil, key); ok {
		return common.BytesToHash(enc), nil
	}

	v, err, _ := u.group.Do(string(key), func() (interface{}, error) {
		raw, err := u.client.StorageAt(ctx, addr, slot, u.blockBig)
		if err != nil {
			return nil, fmt.Errorf("upstream storage %s[%s]: %w", addr.Hex(), slot.Hex(), err)
		}
		value := common.BytesToHash(raw)
		u.cache.Set(key, value.Bytes())
		return value, nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return v.(common.Hash), nil
}

// Header implements Upstream.
func (u *RPCUpstream) Header(ctx context.Context) (*types.Header, error) {
	h, err := u.client.HeaderByNumber(ctx, u.blockBig)
	if err != nil {
		return nil, fmt.Errorf("upstream header %d: %w", u.block, err)
	}
	return h, nil
}

// ChainID returns the upstream chain id.
func (u *RPCUpstream) ChainID(ctx context.Context) (*big.Int, error) {
	return u.client.ChainID(ctx)
}
