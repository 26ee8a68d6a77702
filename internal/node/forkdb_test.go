package node

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream serves fixed fork state and counts loads
type fakeUpstream struct {
	mu       sync.Mutex
	accounts map[common.Address]*Account
	slots    map[common.Address]map[common.Hash]common.Hash
	header   *types.Header
	err      error

	accountLoads int
	slotLoads    int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		accounts: make(map[common.Address]*Account),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
		header: &types.Header{
			Number:     big.NewInt(14357000),
			Time:       1_646_000_000,
			Difficulty: big.NewInt(0),
		},
	}
}

func (f *fakeUpstream) setSlot(addr common.Address, slot, value common.Hash) {
	if f.slots[addr] == nil {
		f.slots[addr] = make(map[common.Hash]common.Hash)
	}
	f.slots[addr][slot] = value
}

func (f *fakeUpstream) Account(_ context.Context, addr common.Address) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountLoads++
	if f.err != nil {
		return nil, f.err
	}
	if acc, ok := f.accounts[addr]; ok {
		return acc, nil
	}
	return &Account{Balance: new(uint256.Int)}, nil
}

func (f *fakeUpstream) Storage(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotLoads++
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return f.slots[addr][slot], nil
}

func (f *fakeUpstream) Header(context.Context) (*types.Header, error) {
	return f.header, f.err
}

var (
	whaleAddr = common.HexToAddress("0x47ac0Fb4F2D84898e4D9E7b4DaB3C24507a6D503")
	tokenAddr = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	slotOne   = common.BigToHash(big.NewInt(1))
	valueOne  = common.HexToHash("0x2a")
)

func newForkState(t *testing.T, up Upstream) *EVMState {
	t.Helper()
	st, err := NewMemoryEVMState(DevChainConfig(DefaultChainID), up, true)
	require.NoError(t, err)
	return st
}

func TestForkStateDBLoadsAccountOnce(t *testing.T) {
	up := newFakeUpstream()
	up.accounts[whaleAddr] = &Account{Balance: uint256.NewInt(5e18), Nonce: 3}
	st := newForkState(t, up)
	ctx := context.Background()

	bal, err := st.GetBalance(ctx, whaleAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e18), bal)

	nonce, err := st.GetNonce(ctx, whaleAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nonce)
	assert.Equal(t, 1, up.accountLoads)

	// local writes win over the upstream from now on
	require.NoError(t, st.SetBalance(ctx, whaleAddr, big.NewInt(1)))
	bal, err = st.GetBalance(ctx, whaleAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), bal)
	assert.Equal(t, 1, up.accountLoads)
}

func TestForkStateDBSeedsSurviveRevert(t *testing.T) {
	up := newFakeUpstream()
	up.accounts[tokenAddr] = &Account{Balance: new(uint256.Int), Nonce: 1, Code: []byte{0x00}}
	up.setSlot(tokenAddr, slotOne, valueOne)
	st := newForkState(t, up)
	db := st.db

	snap := db.Snapshot()
	assert.Equal(t, valueOne, db.GetState(tokenAddr, slotOne))
	db.RevertToSnapshot(snap)

	assert.Equal(t, valueOne, db.GetState(tokenAddr, slotOne))
	assert.Equal(t, []byte{0x00}, db.GetCode(tokenAddr))
	assert.Equal(t, 1, up.slotLoads)
	assert.Equal(t, 1, up.accountLoads)
	require.NoError(t, db.Err())
}

func TestForkStateDBCreatedContractSkipsUpstreamStorage(t *testing.T) {
	up := newFakeUpstream()
	fresh := common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	up.setSlot(fresh, slotOne, valueOne)
	st := newForkState(t, up)
	db := st.db

	db.CreateAccount(fresh)
	db.CreateContract(fresh)
	assert.Equal(t, common.Hash{}, db.GetState(fresh, slotOne))
	assert.Equal(t, 0, up.slotLoads)
}

func TestForkStateDBSurfacesUpstreamErrors(t *testing.T) {
	up := newFakeUpstream()
	up.err = errors.New("archive node unavailable")
	st := newForkState(t, up)
	ctx := context.Background()

	_, err := st.GetBalance(ctx, whaleAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive node unavailable")

	up.err = nil
	_, err = st.GetStorageAt(ctx, tokenAddr, slotOne)
	require.NoError(t, err, "errors are cleared per request")
}

func TestForkStateDBCopyIsIndependent(t *testing.T) {
	up := newFakeUpstream()
	up.accounts[whaleAddr] = &Account{Balance: uint256.NewInt(100)}
	st := newForkState(t, up)
	ctx := context.Background()

	_, err := st.GetBalance(ctx, whaleAddr)
	require.NoError(t, err)
	cp := st.Copy()

	require.NoError(t, st.SetBalance(ctx, whaleAddr, big.NewInt(1)))
	bal, err := cp.GetBalance(ctx, whaleAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), bal)
	assert.Equal(t, 1, up.accountLoads, "copy keeps the loaded set")
}

func TestForkModeNode(t *testing.T) {
	up := newFakeUpstream()
	up.accounts[whaleAddr] = &Account{Balance: uint256.NewInt(7e18)}
	ctx := context.Background()

	n, err := New(ctx, Config{
		Upstream:        up,
		UpstreamChainID: 5,
		Now:             func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(14357000), n.Head().Number)
	assert.Equal(t, uint64(14357000), n.First())
	assert.Equal(t, up.header.Hash(), n.Head().Hash)

	n.Impersonate(whaleAddr)
	to := devAddr(2)
	hash, err := n.SendTransaction(ctx, Message{From: whaleAddr, To: &to, Value: big.NewInt(1e18)})
	require.NoError(t, err)
	receipt := n.Receipt(hash)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(14357001), receipt.BlockNumber.ToInt().Uint64())

	bal, err := n.Balance(ctx, whaleAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6e18), bal)
}
