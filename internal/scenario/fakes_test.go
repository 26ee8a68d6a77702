package scenario

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/contracts"
	"github.com/babylon-finance/forkharness/internal/evmctl"
)

type fakeChain struct {
	mu           sync.Mutex
	snapshots    int
	reverts      []evmctl.SnapshotID
	revertErr    error
	advanced     time.Duration
	impersonated []common.Address
	balances     map[common.Address]*big.Int
	sent         *[]accounts.TxRequest
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: make(map[common.Address]*big.Int), sent: new([]accounts.TxRequest)}
}

func (c *fakeChain) AdvanceDuration(_ context.Context, d time.Duration) error {
	c.advanced += d
	return nil
}

func (c *fakeChain) Timestamp(context.Context) (uint64, error) { return 1_646_000_000, nil }

func (c *fakeChain) SetBalance(_ context.Context, addr common.Address, wei *big.Int) error {
	c.balances[addr] = wei
	return nil
}

func (c *fakeChain) Impersonate(_ context.Context, addr common.Address) (accounts.Signer, error) {
	c.impersonated = append(c.impersonated, addr)
	return &fakeSigner{addr: addr, sent: c.sent}, nil
}

func (c *fakeChain) StopImpersonating(context.Context, common.Address) error { return nil }

func (c *fakeChain) Snapshot(context.Context) (evmctl.SnapshotID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots++
	return evmctl.SnapshotID(fmt.Sprintf("0x%x", c.snapshots)), nil
}

func (c *fakeChain) Revert(_ context.Context, id evmctl.SnapshotID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reverts = append(c.reverts, id)
	return c.revertErr
}

type fakeSigner struct {
	addr common.Address
	sent *[]accounts.TxRequest
}

func (s *fakeSigner) Address() common.Address { return s.addr }

func (s *fakeSigner) Send(_ context.Context, req accounts.TxRequest) (common.Hash, error) {
	*s.sent = append(*s.sent, req)
	return crypto.Keccak256Hash(s.addr.Bytes(), big.NewInt(int64(len(*s.sent))).Bytes()), nil
}

// fakeBackend answers calls by exact calldata, then by controller
// selector, and mines every transaction successfully.
type fakeBackend struct {
	results map[[4]byte][]byte
	calls   map[fakeCall][][]byte
}

type fakeCall struct {
	to   common.Address
	data string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{results: make(map[[4]byte][]byte), calls: make(map[fakeCall][][]byte)}
}

// on queues the outputs of method called with args on to. Queued answers
// are consumed in order and the last one repeats.
func (b *fakeBackend) on(to common.Address, parsed abi.ABI, method string, args []interface{}, outs ...interface{}) {
	in, err := parsed.Pack(method, args...)
	if err != nil {
		panic(err)
	}
	out, err := parsed.Methods[method].Outputs.Pack(outs...)
	if err != nil {
		panic(err)
	}
	key := fakeCall{to: to, data: string(in)}
	b.calls[key] = append(b.calls[key], out)
}

func (b *fakeBackend) returns(method string, values ...interface{}) {
	m := contracts.BabControllerABI.Methods[method]
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		panic(err)
	}
	b.results[[4]byte(m.ID)] = out
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To != nil {
		key := fakeCall{to: *msg.To, data: string(msg.Data)}
		if queued := b.calls[key]; len(queued) > 0 {
			if len(queued) > 1 {
				b.calls[key] = queued[1:]
			}
			return queued[0], nil
		}
	}
	out, ok := b.results[[4]byte(msg.Data[:4])]
	if !ok {
		return nil, fmt.Errorf("unexpected call %x", msg.Data[:4])
	}
	return out, nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
}
