// Package contracts binds the external protocol contracts the scenarios
// drive: ABI packing, transaction submission, receipt waiting and revert
// decoding.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

// ReceiptPollInterval is how often WaitMined asks for a receipt.
const ReceiptPollInterval = 50 * time.Millisecond

var ErrReverted = errors.New("execution reverted")

// Backend is the node surface contracts need. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RevertError is a reverted call or transaction with its decoded reason.
type RevertError struct {
	Method string
	Reason string // empty when the revert carried no Error(string) payload
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Method, ErrReverted)
	}
	return fmt.Sprintf("%s: %v: %s", e.Method, ErrReverted, e.Reason)
}

func (e *RevertError) Unwrap() error { return ErrReverted }

// Contract is an ABI bound to an address.
type Contract struct {
	Address common.Address
	ABI     abi.ABI
	backend Backend
	logger  *zap.Logger
}

func NewContract(address common.Address, parsed abi.ABI, backend Backend, logger *zap.Logger) *Contract {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contract{Address: address, ABI: parsed, backend: backend, logger: logger}
}

// Call runs a read-only method against the latest state.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.Address, Data: input}, nil)
	if err != nil {
		if rerr := asRevert(method, err); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("call %s on %s: %w", method, c.Address.Hex(), err)
	}
	res, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}

// Transact submits method from signer without waiting for inclusion.
func (c *Contract) Transact(ctx context.Context, signer accounts.Signer, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	input, err := c.ABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}
	hash, err := signer.Send(ctx, accounts.TxRequest{To: &c.Address, Data: input, Value: value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, err)
	}
	return hash, nil
}

// Send submits method and waits for the receipt. A reverted transaction is
// replayed as a call to recover its reason and returned as *RevertError.
func (c *Contract) Send(ctx context.Context, signer accounts.Signer, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	hash, err := c.Transact(ctx, signer, value, method, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := WaitMined(ctx, c.backend, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return receipt, nil
	}

	c.logger.Debug("transaction reverted",
		zap.String("method", method),
		zap.Stringer("contract", c.Address),
		zap.String("receipt", spew.Sdump(receipt)))

	input, _ := c.ABI.Pack(method, args...)
	msg := ethereum.CallMsg{From: signer.Address(), To: &c.Address, Data: input, Value: value}
	return receipt, c.replayRevert(ctx, method, msg, receipt.BlockNumber)
}

// replayRevert reruns a failed transaction on the state it saw
func (c *Contract) replayRevert(ctx context.Context, method string, msg ethereum.CallMsg, mined *big.Int) error {
	var parent *big.Int
	if mined != nil && mined.Sign() > 0 {
		parent = new(big.Int).Sub(mined, big.NewInt(1))
	}
	_, err := c.backend.CallContract(ctx, msg, parent)
	if rerr := asRevert(method, err); rerr != nil {
		return rerr
	}
	// The replay succeeded or failed for another reason; the receipt is
	// still authoritative.
	return &RevertError{Method: method}
}

// asRevert extracts revert data from a JSON-RPC error, or returns nil when
// err is not a revert
func asRevert(method string, err error) *RevertError {
	if err == nil {
		return nil
	}
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}
	var data []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		decoded, derr := hexutil.Decode(v)
		if derr != nil {
			return nil
		}
		data = decoded
	case []byte:
		data = v
	default:
		return nil
	}
	rerr := &RevertError{Method: method, Data: data}
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		rerr.Reason = reason
	}
	return rerr
}

// WaitMined polls until the transaction has a receipt.
func WaitMined(ctx context.Context, b Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// one unpacks the single return value of a call into T
func one[T any](res []interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if len(res) != 1 {
		return zero, fmt.Errorf("expected 1 return value, got %d", len(res))
	}
	return *abi.ConvertType(res[0], new(T)).(*T), nil
}
