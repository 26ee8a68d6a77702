package node

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Block is a mined block. Immutable once appended.
type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	StateRoot  common.Hash
	GasLimit   uint64
	GasUsed    uint64
	Bloom      types.Bloom
	TxHashes   []common.Hash
}

// PendingTx is a submitted transaction waiting to be mined.
type PendingTx struct {
	Hash  common.Hash
	From  common.Address
	Nonce uint64
	Msg   Message
}

// Chain tracks mined blocks, the pending pool and the simulated clock.
// Not safe for concurrent use; Node serializes access.
type Chain struct {
	blocks  []*Block
	pending []*PendingTx

	offset        int64  // seconds added to wall clock
	nextTimestamp uint64 // one-shot override for the next block, 0 if unset
	now           func() time.Time
}

// NewChain starts a chain at genesis. now may be nil for wall clock.
func NewChain(genesis *Block, now func() time.Time) *Chain {
	if now == nil {
		now = time.Now
	}
	if genesis.Hash == (common.Hash{}) {
		genesis.Hash = blockHash(genesis)
	}
	return &Chain{blocks: []*Block{genesis}, now: now}
}

// blockHash derives a stable identifier from the block contents
func blockHash(b *Block) common.Hash {
	buf := make([]byte, 0, 32*3+16+32*len(b.TxHashes))
	buf = append(buf, b.ParentHash.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, b.Number)
	buf = binary.BigEndian.AppendUint64(buf, b.Timestamp)
	buf = append(buf, b.StateRoot.Bytes()...)
	for _, h := range b.TxHashes {
		buf = append(buf, h.Bytes()...)
	}
	return crypto.Keccak256Hash(buf)
}

// Head returns the latest block.
func (c *Chain) Head() *Block {
	return c.blocks[len(c.blocks)-1]
}

// First returns the genesis (or fork) block number.
func (c *Chain) First() uint64 {
	return c.blocks[0].Number
}

// BlockByNumber returns the block at height n, or nil.
func (c *Chain) BlockByNumber(n uint64) *Block {
	first := c.First()
	if n < first || n > c.Head().Number {
		return nil
	}
	return c.blocks[n-first]
}

// HashAt returns the hash of block n, or the zero hash when unknown.
func (c *Chain) HashAt(n uint64) common.Hash {
	if b := c.BlockByNumber(n); b != nil {
		return b.Hash
	}
	return common.Hash{}
}

// IncreaseTime moves the clock forward and returns the total offset.
func (c *Chain) IncreaseTime(seconds uint64) int64 {
	c.offset += int64(seconds)
	return c.offset
}

// SetNextTimestamp pins the timestamp of the next mined block.
func (c *Chain) SetNextTimestamp(ts uint64) error {
	if head := c.Head().Timestamp; ts <= head {
		return fmt.Errorf("timestamp %d is lower than or equal to previous block's timestamp %d", ts, head)
	}
	c.nextTimestamp = ts
	return nil
}

// nextBlockTime returns the timestamp of the block about to be mined. The
// offset absorbs any bump past wall clock so later warps stay additive.
func (c *Chain) nextBlockTime() uint64 {
	now := c.now().Unix()
	parent := c.Head().Timestamp

	var ts uint64
	if c.nextTimestamp != 0 {
		ts = c.nextTimestamp
		c.nextTimestamp = 0
	} else if v := now + c.offset; v > 0 {
		ts = uint64(v)
	}
	if ts <= parent {
		ts = parent + 1
	}
	c.offset = int64(ts) - now
	return ts
}

// AddPending queues tx for the next block.
func (c *Chain) AddPending(tx *PendingTx) {
	c.pending = append(c.pending, tx)
}

// PendingCount returns the number of queued transactions from addr.
func (c *Chain) PendingCount(addr common.Address) uint64 {
	var n uint64
	for _, tx := range c.pending {
		if tx.From == addr {
			n++
		}
	}
	return n
}

// PendingLen returns the pool size.
func (c *Chain) PendingLen() int { return len(c.pending) }

// IsPending reports whether hash is queued.
func (c *Chain) IsPending(hash common.Hash) bool {
	for _, tx := range c.pending {
		if tx.Hash == hash {
			return true
		}
	}
	return false
}

// takePending empties the pool
func (c *Chain) takePending() []*PendingTx {
	txs := c.pending
	c.pending = nil
	return txs
}

// appendBlock links b to the head and adds it
func (c *Chain) appendBlock(b *Block) {
	b.ParentHash = c.Head().Hash
	b.Number = c.Head().Number + 1
	b.Hash = blockHash(b)
	c.blocks = append(c.blocks, b)
}

// Copy returns a snapshot of the chain. Blocks are shared; they are immutable.
func (c *Chain) Copy() *Chain {
	return &Chain{
		blocks:        append([]*Block(nil), c.blocks...),
		pending:       append([]*PendingTx(nil), c.pending...),
		offset:        c.offset,
		nextTimestamp: c.nextTimestamp,
		now:           c.now,
	}
}
