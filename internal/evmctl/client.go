// Package evmctl drives the node-control surface of hardhat-compatible dev
// nodes: time warps, mining, automine, snapshots and impersonation.
package evmctl

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/network"
)

// BlockInterval is the simulated time between blocks mined by AdvanceBlocks.
const BlockInterval = 20

const methodNotFoundCode = -32601

var (
	ErrNegativeDuration         = errors.New("negative duration")
	ErrImpersonationUnsupported = errors.New("node does not support impersonation")
	ErrUnknownSnapshot          = errors.New("unknown snapshot")
)

// SnapshotID identifies an evm_snapshot.
type SnapshotID string

// Client wraps one node connection.
type Client struct {
	rpc        *rpc.Client
	eth        *ethclient.Client
	logger     *zap.Logger
	defaultGas uint64
}

// New wraps an established RPC connection. defaultGas is the gas limit used
// for transactions that do not set one.
func New(c *rpc.Client, defaultGas uint64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		rpc:        c,
		eth:        ethclient.NewClient(c),
		logger:     logger.Named("evmctl"),
		defaultGas: defaultGas,
	}
}

// Dial connects to url through the throttled transport.
func Dial(ctx context.Context, url string, cfg network.NetworkConfig, defaultGas uint64, logger *zap.Logger) (*Client, error) {
	c, err := network.Dial(ctx, url, cfg)
	if err != nil {
		return nil, err
	}
	return New(c, defaultGas, logger), nil
}

// Eth returns the standard client over the same connection.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// RPC returns the raw connection.
func (c *Client) RPC() *rpc.Client { return c.rpc }

func (c *Client) Close() { c.rpc.Close() }

// AdvanceTime moves the node clock forward by seconds and mines a block
// carrying the new time.
func (c *Client) AdvanceTime(ctx context.Context, seconds int64) error {
	if seconds < 0 {
		return fmt.Errorf("%w: %d seconds", ErrNegativeDuration, seconds)
	}
	if err := c.rpc.CallContext(ctx, nil, "evm_increaseTime", seconds); err != nil {
		return fmt.Errorf("evm_increaseTime: %w", err)
	}
	c.logger.Debug("advanced time", zap.Int64("seconds", seconds))
	return c.Mine(ctx)
}

// AdvanceDuration is AdvanceTime for a duration, truncated to seconds.
func (c *Client) AdvanceDuration(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeDuration, d)
	}
	return c.AdvanceTime(ctx, int64(d/time.Second))
}

// AdvanceBlocks mines n blocks, BlockInterval seconds apart.
func (c *Client) AdvanceBlocks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := c.rpc.CallContext(ctx, nil, "evm_increaseTime", BlockInterval); err != nil {
			return fmt.Errorf("block %d of %d: evm_increaseTime: %w", i+1, n, err)
		}
		if err := c.Mine(ctx); err != nil {
			return fmt.Errorf("block %d of %d: %w", i+1, n, err)
		}
	}
	return nil
}

// RunAtomicInBlock runs action with automine off and mines everything it
// submitted into one block. The block is mined and automine restored even
// when action fails. action must not wait for receipts.
func (c *Client) RunAtomicInBlock(ctx context.Context, action func(ctx context.Context) error) error {
	if err := c.SetAutomine(ctx, false); err != nil {
		return err
	}

	actionErr := action(ctx)

	restoreCtx := context.WithoutCancel(ctx)
	mineErr := c.Mine(restoreCtx)
	autoErr := c.SetAutomine(restoreCtx, true)

	if actionErr != nil {
		if err := errors.Join(mineErr, autoErr); err != nil {
			c.logger.Warn("cannot restore node after failed atomic action", zap.Error(err))
		}
		return actionErr
	}
	return errors.Join(mineErr, autoErr)
}

// Mine mines one block with every queued transaction.
func (c *Client) Mine(ctx context.Context) error {
	if err := c.rpc.CallContext(ctx, nil, "evm_mine"); err != nil {
		return fmt.Errorf("evm_mine: %w", err)
	}
	return nil
}

func (c *Client) SetAutomine(ctx context.Context, on bool) error {
	if err := c.rpc.CallContext(ctx, nil, "evm_setAutomine", on); err != nil {
		return fmt.Errorf("evm_setAutomine(%v): %w", on, err)
	}
	return nil
}

// Timestamp returns the timestamp of the latest block.
func (c *Client) Timestamp(ctx context.Context) (uint64, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return head.Time, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// Snapshot records the node state.
func (c *Client) Snapshot(ctx context.Context) (SnapshotID, error) {
	var id string
	if err := c.rpc.CallContext(ctx, &id, "evm_snapshot"); err != nil {
		return "", fmt.Errorf("evm_snapshot: %w", err)
	}
	return SnapshotID(id), nil
}

// Revert restores a snapshot. Snapshots are single use.
func (c *Client) Revert(ctx context.Context, id SnapshotID) error {
	var ok bool
	if err := c.rpc.CallContext(ctx, &ok, "evm_revert", string(id)); err != nil {
		return fmt.Errorf("evm_revert: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSnapshot, id)
	}
	return nil
}

// SetBalance overwrites the ether balance of addr.
func (c *Client) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	if err := c.rpc.CallContext(ctx, nil, "hardhat_setBalance", addr, (*hexutil.Big)(wei)); err != nil {
		return fmt.Errorf("hardhat_setBalance %s: %w", addr.Hex(), err)
	}
	return nil
}

// Impersonate unlocks addr on the node and returns a signer sending as it.
func (c *Client) Impersonate(ctx context.Context, addr common.Address) (accounts.Signer, error) {
	if err := c.rpc.CallContext(ctx, nil, "hardhat_impersonateAccount", addr); err != nil {
		if isMethodNotFound(err) {
			return nil, fmt.Errorf("impersonate %s: %w", addr.Hex(), ErrImpersonationUnsupported)
		}
		return nil, fmt.Errorf("impersonate %s: %w", addr.Hex(), err)
	}
	c.logger.Debug("impersonating", zap.Stringer("addr", addr))
	return &ImpersonatedSigner{addr: addr, rpc: c.rpc, defaultGas: c.defaultGas}, nil
}

func (c *Client) StopImpersonating(ctx context.Context, addr common.Address) error {
	if err := c.rpc.CallContext(ctx, nil, "hardhat_stopImpersonatingAccount", addr); err != nil {
		return fmt.Errorf("stop impersonating %s: %w", addr.Hex(), err)
	}
	return nil
}

// KeySigner returns a signer for a local private key on this connection.
func (c *Client) KeySigner(key *ecdsa.PrivateKey) *accounts.KeySigner {
	return accounts.NewKeySigner(key, c.eth, c.defaultGas)
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == methodNotFoundCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") || strings.Contains(msg, "does not exist")
}
