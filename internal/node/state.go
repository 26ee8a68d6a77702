package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// MainnetMergeBlock is the first proof-of-stake block on mainnet.
const MainnetMergeBlock = 15537394

const (
	txGas                 = 21000
	txCreateGas           = 53000
	txDataZeroGas         = 4
	txDataNonZeroGas      = 16
	maxRefundQuotient     = 5
	defaultBlockGasLimit  = 30_000_000
	initialBlobBaseFeeWei = 1
)

// ErrIntrinsicGas is returned when a message cannot pay for its calldata.
var ErrIntrinsicGas = errors.New("intrinsic gas too low")

// Message is a transaction or call as the executor sees it.
type Message struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// BlockEnv is the block a message executes in.
type BlockEnv struct {
	Number   uint64
	Time     uint64
	Coinbase common.Address
	GasLimit uint64
	GetHash  vm.GetHashFunc
}

// ExecResult is the outcome of one message. Err holds EVM-level failures
// (revert, out of gas); infrastructure failures are returned separately.
type ExecResult struct {
	ReturnData      []byte
	GasUsed         uint64
	Err             error
	ContractAddress *common.Address
	Logs            []*types.Log
}

// Failed reports whether the EVM rejected the message.
func (r *ExecResult) Failed() bool { return r.Err != nil }

// Reverted reports whether the message ended in REVERT.
func (r *ExecResult) Reverted() bool { return errors.Is(r.Err, vm.ErrExecutionReverted) }

// EVMState wraps a ForkStateDB with standalone EVM execution
type EVMState struct {
	db       *ForkStateDB
	chainCfg *params.ChainConfig
	isMerge  bool
}

// DevChainConfig enables every fork from genesis.
func DevChainConfig(chainID uint64) *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:             new(big.Int).SetUint64(chainID),
		HomesteadBlock:      big.NewInt(0),
		EIP150Block:         big.NewInt(0),
		EIP155Block:         big.NewInt(0),
		EIP158Block:         big.NewInt(0),
		ByzantiumBlock:      big.NewInt(0),
		ConstantinopleBlock: big.NewInt(0),
		PetersburgBlock:     big.NewInt(0),
		IstanbulBlock:       big.NewInt(0),
		BerlinBlock:         big.NewInt(0),
		LondonBlock:         big.NewInt(0),
		ShanghaiTime:        new(uint64),
		CancunTime:          new(uint64),
	}
}

// ForkChainConfig returns the rules of the upstream chain with the local
// chain id. Mainnet forks follow mainnet's schedule; anything else is
// treated as a dev chain.
func ForkChainConfig(upstreamChainID, localChainID uint64) *params.ChainConfig {
	if upstreamChainID != 1 {
		return DevChainConfig(localChainID)
	}
	cfg := *params.MainnetChainConfig
	cfg.ChainID = new(big.Int).SetUint64(localChainID)
	return &cfg
}

// NewMemoryEVMState creates an in-memory state. With a non-nil upstream,
// untouched accounts and slots load lazily from it.
func NewMemoryEVMState(chainCfg *params.ChainConfig, upstream Upstream, isMerge bool) (*EVMState, error) {
	memDB := rawdb.NewMemoryDatabase()
	trieDB := triedb.NewDatabase(memDB, nil)
	db := state.NewDatabase(trieDB, nil)

	stateDB, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return nil, err
	}

	return &EVMState{
		db:       NewForkStateDB(stateDB, upstream),
		chainCfg: chainCfg,
		isMerge:  isMerge,
	}, nil
}

// Copy returns an independent copy of the state.
func (e *EVMState) Copy() *EVMState {
	return &EVMState{db: e.db.Copy(), chainCfg: e.chainCfg, isMerge: e.isMerge}
}

// ChainConfig returns the execution rules.
func (e *EVMState) ChainConfig() *params.ChainConfig { return e.chainCfg }

// Root finalises pending changes and returns the state root.
func (e *EVMState) Root() common.Hash {
	return e.db.IntermediateRoot(true)
}

// GetBalance returns account balance
func (e *EVMState) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	bal := e.db.GetBalance(addr).ToBig()
	return bal, e.db.Err()
}

// GetNonce returns account nonce
func (e *EVMState) GetNonce(ctx context.Context, addr common.Address) (uint64, error) {
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	nonce := e.db.GetNonce(addr)
	return nonce, e.db.Err()
}

// GetCode returns contract code
func (e *EVMState) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	code := e.db.GetCode(addr)
	return code, e.db.Err()
}

// GetStorageAt returns storage value at a given slot
func (e *EVMState) GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	value := e.db.GetState(addr, slot)
	return value, e.db.Err()
}

// SetBalance overwrites an account balance (hardhat_setBalance, genesis)
func (e *EVMState) SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	v, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return fmt.Errorf("balance %s out of range", amount)
	}
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	e.db.ensureAccount(addr)
	e.db.Inner().SetBalance(addr, v, tracing.BalanceChangeUnspecified)
	return e.db.Err()
}

// SetCode replaces the code at addr (hardhat_setCode)
func (e *EVMState) SetCode(ctx context.Context, addr common.Address, code []byte) error {
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	e.db.SetCode(addr, code, seedCodeReason)
	return e.db.Err()
}

// Finalise ends the current transaction: refunds, transient storage and
// journal are reset.
func (e *EVMState) Finalise() {
	e.db.Finalise(true)
}

// bumpNonce consumes a nonce of a transaction that could not execute
func (e *EVMState) bumpNonce(ctx context.Context, addr common.Address) error {
	e.db.SetContext(ctx)
	e.db.ClearErrors()
	e.db.SetNonce(addr, e.db.GetNonce(addr)+1, tracing.NonceChangeUnspecified)
	return e.db.Err()
}

// intrinsicGas is the base cost of a message before execution
func intrinsicGas(data []byte, isCreate bool) uint64 {
	gas := uint64(txGas)
	if isCreate {
		gas = txCreateGas
	}
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	return gas
}

// Apply executes msg as transaction txIndex of the block described by env.
// Changes stay in the state; the caller decides when to finalise.
func (e *EVMState) Apply(ctx context.Context, msg Message, env BlockEnv, txHash common.Hash, txIndex int) (*ExecResult, error) {
	e.db.SetContext(ctx)
	e.db.ClearErrors()

	intrinsic := intrinsicGas(msg.Data, msg.To == nil)
	if msg.Gas < intrinsic {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, msg.Gas, intrinsic)
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	v, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("value %s overflows 256 bits", value)
	}

	snap := e.db.Snapshot()
	e.db.Inner().SetTxContext(txHash, txIndex)

	evm := e.newEVM(env, msg.From)
	rules := e.chainCfg.Rules(new(big.Int).SetUint64(env.Number), e.isMerge, env.Time)
	e.db.Prepare(rules, msg.From, env.Coinbase, msg.To, vm.ActivePrecompiles(rules), nil)

	res := &ExecResult{}
	var leftOverGas uint64
	if msg.To == nil {
		var addr common.Address
		res.ReturnData, addr, leftOverGas, res.Err = evm.Create(msg.From, msg.Data, msg.Gas-intrinsic, v)
		if res.Err == nil {
			res.ContractAddress = &addr
		}
	} else {
		// The EVM only bumps the nonce for creations
		e.db.SetNonce(msg.From, e.db.GetNonce(msg.From)+1, tracing.NonceChangeUnspecified)
		res.ReturnData, leftOverGas, res.Err = evm.Call(msg.From, *msg.To, msg.Data, msg.Gas-intrinsic, v)
	}

	if err := e.db.Err(); err != nil {
		e.db.RevertToSnapshot(snap)
		return nil, err
	}

	res.GasUsed = msg.Gas - leftOverGas
	refund := e.db.GetRefund()
	if limit := res.GasUsed / maxRefundQuotient; refund > limit {
		refund = limit
	}
	res.GasUsed -= refund

	for _, l := range e.db.Inner().Logs() {
		if l.TxHash == txHash {
			res.Logs = append(res.Logs, l)
		}
	}
	return res, nil
}

// Call executes msg against the current state and discards every change.
func (e *EVMState) Call(ctx context.Context, msg Message, env BlockEnv) (*ExecResult, error) {
	snap := e.db.Snapshot()
	defer e.db.RevertToSnapshot(snap)
	return e.Apply(ctx, msg, env, common.Hash{}, 0)
}

func (e *EVMState) newEVM(env BlockEnv, origin common.Address) *vm.EVM {
	gasLimit := env.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultBlockGasLimit
	}
	getHash := env.GetHash
	if getHash == nil {
		getHash = func(uint64) common.Hash { return common.Hash{} }
	}

	blockCtx := vm.BlockContext{
		CanTransfer: func(db vm.StateDB, addr common.Address, amount *uint256.Int) bool {
			return db.GetBalance(addr).Cmp(amount) >= 0
		},
		Transfer: func(db vm.StateDB, from, to common.Address, amount *uint256.Int) {
			db.SubBalance(from, amount, tracing.BalanceChangeTransfer)
			db.AddBalance(to, amount, tracing.BalanceChangeTransfer)
		},
		GetHash:     getHash,
		Coinbase:    env.Coinbase,
		GasLimit:    gasLimit,
		BlockNumber: new(big.Int).SetUint64(env.Number),
		Time:        env.Time,
		Difficulty:  big.NewInt(0),
		BaseFee:     big.NewInt(0),
		BlobBaseFee: big.NewInt(initialBlobBaseFeeWei),
	}
	if e.isMerge {
		blockCtx.Random = &common.Hash{}
	} else {
		blockCtx.Difficulty = big.NewInt(1)
	}

	evm := vm.NewEVM(blockCtx, e.db, e.chainCfg, vm.Config{})
	evm.TxContext = vm.TxContext{
		Origin:   origin,
		GasPrice: big.NewInt(0),
	}
	return evm
}
