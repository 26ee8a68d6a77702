package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

const (
	DefaultChainID       = 31337
	DefaultTxGas         = 15_000_000
	DefaultBlockGasLimit = 0x1fffffffffffff
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrNonceTooLow    = errors.New("nonce too low")
	ErrNonceTooHigh   = errors.New("nonce too high")
)

// Config describes a dev node.
type Config struct {
	ChainID       uint64
	BlockGasLimit uint64
	DefaultGas    uint64

	// Upstream enables fork mode. ForkBlock must match its pinned block.
	Upstream        Upstream
	UpstreamChainID uint64
	ForkBlock       uint64

	// Accounts are unlocked for eth_sendTransaction and funded at genesis.
	Accounts []*ecdsa.PrivateKey

	Now    func() time.Time
	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.BlockGasLimit == 0 {
		c.BlockGasLimit = DefaultBlockGasLimit
	}
	if c.DefaultGas == 0 {
		c.DefaultGas = DefaultTxGas
	}
	if c.Accounts == nil {
		c.Accounts = accounts.DevPrivateKeys()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Node is an in-process simulated chain with hardhat-style controls.
// All methods are safe for concurrent use.
type Node struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	state    *EVMState
	chain    *Chain
	receipts *ReceiptStore

	automine     bool
	unlocked     []common.Address
	impersonated map[common.Address]bool

	snapshots      map[uint64]*nodeSnapshot
	nextSnapshotID uint64
}

type nodeSnapshot struct {
	state        *EVMState
	chain        *Chain
	receipts     *ReceiptStore
	automine     bool
	impersonated map[common.Address]bool
}

// New creates a node at genesis. In fork mode the genesis block mirrors the
// upstream fork block header.
func New(ctx context.Context, cfg Config) (*Node, error) {
	cfg.setDefaults()

	chainCfg := DevChainConfig(cfg.ChainID)
	isMerge := true
	genesis := &Block{GasLimit: cfg.BlockGasLimit}

	if cfg.Upstream != nil {
		header, err := cfg.Upstream.Header(ctx)
		if err != nil {
			return nil, fmt.Errorf("fork header: %w", err)
		}
		chainCfg = ForkChainConfig(cfg.UpstreamChainID, cfg.ChainID)
		if cfg.UpstreamChainID == params.MainnetChainConfig.ChainID.Uint64() {
			isMerge = header.Number.Uint64() >= MainnetMergeBlock
		}
		genesis.Number = header.Number.Uint64()
		genesis.Hash = header.Hash()
		genesis.ParentHash = header.ParentHash
		genesis.Timestamp = header.Time
	}

	state, err := NewMemoryEVMState(chainCfg, cfg.Upstream, isMerge)
	if err != nil {
		return nil, fmt.Errorf("create state: %w", err)
	}

	n := &Node{
		cfg:          cfg,
		logger:       cfg.Logger.Named("node"),
		state:        state,
		receipts:     NewReceiptStore(),
		automine:     true,
		impersonated: make(map[common.Address]bool),
		snapshots:    make(map[uint64]*nodeSnapshot),
	}

	for _, key := range cfg.Accounts {
		addr := accounts.Address(key)
		if err := state.SetBalance(ctx, addr, accounts.DevBalance); err != nil {
			return nil, fmt.Errorf("fund %s: %w", addr.Hex(), err)
		}
		n.unlocked = append(n.unlocked, addr)
	}
	genesis.StateRoot = state.Root()

	if cfg.Upstream == nil {
		now := time.Now
		if cfg.Now != nil {
			now = cfg.Now
		}
		genesis.Timestamp = uint64(now().Unix())
	}
	n.chain = NewChain(genesis, cfg.Now)

	n.logger.Info("dev node ready",
		zap.Uint64("chainId", cfg.ChainID),
		zap.Bool("fork", cfg.Upstream != nil),
		zap.Uint64("head", genesis.Number),
		zap.Int("accounts", len(n.unlocked)))
	return n, nil
}

// ChainID returns the local chain id.
func (n *Node) ChainID() uint64 { return n.cfg.ChainID }

// Accounts returns the unlocked dev accounts.
func (n *Node) Accounts() []common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]common.Address(nil), n.unlocked...)
}

// Head returns the latest block.
func (n *Node) Head() *Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.Head()
}

// First returns the genesis or fork block number.
func (n *Node) First() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.First()
}

// BlockByNumber returns block num, or nil when unknown.
func (n *Node) BlockByNumber(num uint64) *Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.BlockByNumber(num)
}

// IsLondon reports whether blocks at num carry a base fee.
func (n *Node) IsLondon(num uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.ChainConfig().IsLondon(new(big.Int).SetUint64(num))
}

func (n *Node) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetBalance(ctx, addr)
}

func (n *Node) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetCode(ctx, addr)
}

func (n *Node) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetStorageAt(ctx, addr, slot)
}

// Nonce returns the account nonce, counting queued transactions when
// pending is set.
func (n *Node) Nonce(ctx context.Context, addr common.Address, pending bool) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonceLocked(ctx, addr, pending)
}

func (n *Node) nonceLocked(ctx context.Context, addr common.Address, pending bool) (uint64, error) {
	nonce, err := n.state.GetNonce(ctx, addr)
	if err != nil {
		return 0, err
	}
	if pending {
		nonce += n.chain.PendingCount(addr)
	}
	return nonce, nil
}

// pendingEnv is the block environment calls run in
func (n *Node) pendingEnv() BlockEnv {
	head := n.chain.Head()
	return BlockEnv{
		Number:   head.Number + 1,
		Time:     head.Timestamp + 1,
		GasLimit: n.cfg.BlockGasLimit,
		GetHash:  n.chain.HashAt,
	}
}

// Call runs msg on top of the latest state without persisting anything.
func (n *Node) Call(ctx context.Context, msg Message) (*ExecResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg.Gas == 0 {
		msg.Gas = n.cfg.BlockGasLimit
	}
	return n.state.Call(ctx, msg, n.pendingEnv())
}

// EstimateGas returns a gas limit that lets msg succeed, or the execution
// failure.
func (n *Node) EstimateGas(ctx context.Context, msg Message) (uint64, *ExecResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg.Gas == 0 {
		msg.Gas = n.cfg.BlockGasLimit
	}
	res, err := n.state.Call(ctx, msg, n.pendingEnv())
	if err != nil || res.Failed() {
		return 0, res, err
	}
	// Leave room for the 63/64 call-gas rule and refund ordering.
	estimate := res.GasUsed + res.GasUsed/3
	if estimate > msg.Gas {
		estimate = msg.Gas
	}
	return estimate, res, nil
}

// SendTransaction queues an unsigned transaction from an unlocked or
// impersonated account.
func (n *Node) SendTransaction(ctx context.Context, msg Message) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.canSendLocked(msg.From) {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownAccount, msg.From.Hex())
	}
	if msg.Gas == 0 {
		msg.Gas = n.cfg.DefaultGas
	}
	nonce, err := n.nonceLocked(ctx, msg.From, true)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: new(big.Int),
		Gas:      msg.Gas,
		To:       msg.To,
		Value:    msg.Value,
		Data:     msg.Data,
	})
	// Unsigned transactions from different senders may share contents.
	hash := crypto.Keccak256Hash(msg.From.Bytes(), tx.Hash().Bytes())

	return hash, n.submitLocked(ctx, &PendingTx{Hash: hash, From: msg.From, Nonce: nonce, Msg: msg})
}

// SendRawTransaction queues a signed transaction.
func (n *Node) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("invalid transaction: %w", err)
	}
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(n.cfg.ChainID))
	from, err := types.Sender(signer, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	expected, err := n.nonceLocked(ctx, from, true)
	if err != nil {
		return common.Hash{}, err
	}
	switch {
	case tx.Nonce() < expected:
		return common.Hash{}, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		return common.Hash{}, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), expected)
	}

	msg := Message{From: from, To: tx.To(), Data: tx.Data(), Value: tx.Value(), Gas: tx.Gas()}
	return tx.Hash(), n.submitLocked(ctx, &PendingTx{Hash: tx.Hash(), From: from, Nonce: tx.Nonce(), Msg: msg})
}

func (n *Node) canSendLocked(addr common.Address) bool {
	if n.impersonated[addr] {
		return true
	}
	for _, a := range n.unlocked {
		if a == addr {
			return true
		}
	}
	return false
}

func (n *Node) submitLocked(ctx context.Context, tx *PendingTx) error {
	n.chain.AddPending(tx)
	n.logger.Debug("queued tx",
		zap.Stringer("hash", tx.Hash),
		zap.Stringer("from", tx.From),
		zap.Uint64("nonce", tx.Nonce),
		zap.Bool("automine", n.automine))
	if !n.automine {
		return nil
	}
	_, err := n.mineLocked(ctx)
	return err
}

// Receipt returns the receipt of a mined transaction, or nil.
func (n *Node) Receipt(hash common.Hash) *Receipt {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receipts.GetReceipt(hash)
}

// Mine mines one block with every queued transaction. A non-nil timestamp
// pins the block time.
func (n *Node) Mine(ctx context.Context, timestamp *uint64) (*Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if timestamp != nil {
		if err := n.chain.SetNextTimestamp(*timestamp); err != nil {
			return nil, err
		}
	}
	return n.mineLocked(ctx)
}

func (n *Node) mineLocked(ctx context.Context) (*Block, error) {
	head := n.chain.Head()
	env := BlockEnv{
		Number:   head.Number + 1,
		Time:     n.chain.nextBlockTime(),
		GasLimit: n.cfg.BlockGasLimit,
		GetHash:  n.chain.HashAt,
	}

	txs := n.chain.takePending()
	block := &Block{Timestamp: env.Time, GasLimit: env.GasLimit}
	receipts := make([]*Receipt, 0, len(txs))

	var cumulative uint64
	for i, tx := range txs {
		receipt := &Receipt{
			TxHash:            tx.Hash,
			TransactionIndex:  hexutil.Uint64(i),
			From:              tx.From,
			To:                tx.Msg.To,
			EffectiveGasPrice: (*hexutil.Big)(new(big.Int)),
			Logs:              []*types.Log{},
		}

		res, err := n.state.Apply(ctx, tx.Msg, env, tx.Hash, i)
		if err != nil {
			// Upstream or intrinsic failure: the tx still consumes its nonce.
			n.logger.Warn("tx dropped during mining", zap.Stringer("hash", tx.Hash), zap.Error(err))
			if nerr := n.state.bumpNonce(ctx, tx.From); nerr != nil {
				n.logger.Warn("cannot consume nonce of dropped tx",
					zap.Stringer("hash", tx.Hash),
					zap.Stringer("from", tx.From),
					zap.Error(nerr))
			}
			receipt.Status = hexutil.Uint64(types.ReceiptStatusFailed)
		} else {
			receipt.GasUsed = hexutil.Uint64(res.GasUsed)
			receipt.ContractAddress = res.ContractAddress
			receipt.ReturnData = res.ReturnData
			if res.Failed() {
				receipt.Status = hexutil.Uint64(types.ReceiptStatusFailed)
				n.logger.Debug("tx failed", zap.Stringer("hash", tx.Hash), zap.Error(res.Err))
			} else {
				receipt.Status = hexutil.Uint64(types.ReceiptStatusSuccessful)
				receipt.ReturnData = nil
				receipt.Logs = append(receipt.Logs, res.Logs...)
			}
		}

		n.state.Finalise()

		cumulative += uint64(receipt.GasUsed)
		receipt.CumulativeGasUsed = hexutil.Uint64(cumulative)
		for _, l := range receipt.Logs {
			receipt.LogsBloom.Add(l.Address.Bytes())
			block.Bloom.Add(l.Address.Bytes())
			for _, topic := range l.Topics {
				receipt.LogsBloom.Add(topic.Bytes())
				block.Bloom.Add(topic.Bytes())
			}
		}
		receipts = append(receipts, receipt)
		block.TxHashes = append(block.TxHashes, tx.Hash)
	}

	block.GasUsed = cumulative
	block.StateRoot = n.state.Root()
	n.chain.appendBlock(block)

	var logIndex uint
	for _, r := range receipts {
		r.BlockHash = block.Hash
		r.BlockNumber = (*hexutil.Big)(new(big.Int).SetUint64(block.Number))
		for _, l := range r.Logs {
			l.BlockNumber = block.Number
			l.BlockHash = block.Hash
			l.TxIndex = uint(r.TransactionIndex)
			l.Index = logIndex
			logIndex++
		}
		n.receipts.AddReceipt(r)
	}

	n.logger.Debug("mined block",
		zap.Uint64("number", block.Number),
		zap.Uint64("timestamp", block.Timestamp),
		zap.Int("txs", len(txs)))
	return block, nil
}

// SetAutomine toggles mining on every submission. Turning it on does not
// mine already queued transactions.
func (n *Node) SetAutomine(on bool) {
	n.mu.Lock()
	n.automine = on
	n.mu.Unlock()
}

// Automine reports whether automine is on.
func (n *Node) Automine() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.automine
}

// IncreaseTime warps the clock and returns the total warp in seconds.
func (n *Node) IncreaseTime(seconds uint64) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.IncreaseTime(seconds)
}

// SetNextBlockTimestamp pins the next block's timestamp.
func (n *Node) SetNextBlockTimestamp(ts uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.SetNextTimestamp(ts)
}

// Impersonate unlocks addr for eth_sendTransaction.
func (n *Node) Impersonate(addr common.Address) {
	n.mu.Lock()
	n.impersonated[addr] = true
	n.mu.Unlock()
	n.logger.Debug("impersonating", zap.Stringer("addr", addr))
}

// StopImpersonating locks addr again.
func (n *Node) StopImpersonating(addr common.Address) {
	n.mu.Lock()
	delete(n.impersonated, addr)
	n.mu.Unlock()
}

// SetBalance overwrites the balance of addr.
func (n *Node) SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.SetBalance(ctx, addr, amount)
}

// SetCode overwrites the code at addr.
func (n *Node) SetCode(ctx context.Context, addr common.Address, code []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.SetCode(ctx, addr, code)
}

// Snapshot records the whole node state and returns its id.
func (n *Node) Snapshot() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextSnapshotID++
	imp := make(map[common.Address]bool, len(n.impersonated))
	for a := range n.impersonated {
		imp[a] = true
	}
	n.snapshots[n.nextSnapshotID] = &nodeSnapshot{
		state:        n.state.Copy(),
		chain:        n.chain.Copy(),
		receipts:     n.receipts.Copy(),
		automine:     n.automine,
		impersonated: imp,
	}
	return n.nextSnapshotID
}

// Revert restores snapshot id. The snapshot and every later one are
// consumed. It reports false for unknown ids.
func (n *Node) Revert(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	snap, ok := n.snapshots[id]
	if !ok {
		return false
	}
	n.state = snap.state
	n.chain = snap.chain
	n.receipts = snap.receipts
	n.automine = snap.automine
	n.impersonated = snap.impersonated

	for sid := range n.snapshots {
		if sid >= id {
			delete(n.snapshots, sid)
		}
	}
	n.logger.Debug("reverted to snapshot", zap.Uint64("id", id), zap.Uint64("head", n.chain.Head().Number))
	return true
}
