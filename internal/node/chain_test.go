package node

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func newTestChain(now *time.Time) *Chain {
	return NewChain(&Block{Timestamp: uint64(now.Unix())}, func() time.Time { return *now })
}

func TestChain_TimestampsAreMonotonic(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := newTestChain(&now)

	// wall clock does not move: every block bumps by one second
	for i := 1; i <= 3; i++ {
		ts := c.nextBlockTime()
		c.appendBlock(&Block{Timestamp: ts})
		if want := uint64(1_000_000 + i); ts != want {
			t.Errorf("block %d: timestamp %d, want %d", i, ts, want)
		}
	}

	// the bumps stay in the offset, so a warp adds on top of them
	c.IncreaseTime(100)
	if ts := c.nextBlockTime(); ts != 1_000_103 {
		t.Errorf("after warp: timestamp %d, want %d", ts, 1_000_103)
	}
}

func TestChain_WallClockMovesBlocks(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := newTestChain(&now)

	now = now.Add(30 * time.Second)
	if ts := c.nextBlockTime(); ts != 1_000_030 {
		t.Errorf("timestamp %d, want %d", ts, 1_000_030)
	}
}

func TestChain_SetNextTimestamp(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := newTestChain(&now)

	if err := c.SetNextTimestamp(1_000_000); err == nil {
		t.Error("Expected error for timestamp equal to head")
	}
	if err := c.SetNextTimestamp(2_000_000); err != nil {
		t.Fatalf("SetNextTimestamp failed: %v", err)
	}
	if ts := c.nextBlockTime(); ts != 2_000_000 {
		t.Errorf("timestamp %d, want pinned %d", ts, 2_000_000)
	}
	if c.nextTimestamp != 0 {
		t.Error("pinned timestamp must apply once")
	}
}

func TestChain_Blocks(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := newTestChain(&now)
	genesis := c.Head()

	c.appendBlock(&Block{Timestamp: c.nextBlockTime()})
	head := c.Head()
	if head.Number != 1 || head.ParentHash != genesis.Hash {
		t.Fatalf("bad link: number %d parent %s", head.Number, head.ParentHash.Hex())
	}
	if c.HashAt(1) != head.Hash {
		t.Error("HashAt(1) mismatch")
	}
	if c.HashAt(5) != (common.Hash{}) {
		t.Error("HashAt beyond head must be zero")
	}
	if c.BlockByNumber(2) != nil {
		t.Error("Expected nil for unknown block")
	}
}

func TestChain_PendingPoolAndCopy(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := newTestChain(&now)
	from := common.HexToAddress("0x1")
	hash := common.HexToHash("0x99")

	c.AddPending(&PendingTx{Hash: hash, From: from})
	c.AddPending(&PendingTx{Hash: common.HexToHash("0x98"), From: common.HexToAddress("0x2")})
	if c.PendingCount(from) != 1 || c.PendingLen() != 2 {
		t.Fatalf("pending count %d len %d", c.PendingCount(from), c.PendingLen())
	}
	if !c.IsPending(hash) {
		t.Error("Expected hash to be pending")
	}

	cp := c.Copy()
	txs := c.takePending()
	c.appendBlock(&Block{Timestamp: c.nextBlockTime()})
	if len(txs) != 2 || c.PendingLen() != 0 {
		t.Errorf("takePending returned %d, left %d", len(txs), c.PendingLen())
	}
	if cp.PendingLen() != 2 || cp.Head().Number != 0 {
		t.Error("Copy must not observe later changes")
	}
}
