package node

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"
)

// ForkStateDB wraps a StateDB and lazily seeds it from an upstream chain at
// the fork block. Every account and slot is fetched at most once; after
// that the local StateDB owns the value.
//
// Error Handling Strategy:
// vm.StateDB methods cannot return errors. A failed upstream load is
// recorded and the method returns the zero value; callers MUST check Err()
// after execution and discard the result if it is set.
//
// Seeds are written through the journaled StateDB. When the EVM reverts a
// call frame, seeds taken inside that frame are replayed so upstream values
// survive the revert.
type ForkStateDB struct {
	mu       sync.Mutex
	inner    *state.StateDB
	upstream Upstream
	ctx      context.Context

	accounts map[common.Address]bool
	slots    map[common.Address]map[common.Hash]bool
	created  map[common.Address]bool // accounts born locally; their storage starts empty

	seeds []seed
	marks map[int]int // snapshot id -> len(seeds) at snapshot time

	fetchErrors []error
}

type seed struct {
	addr    common.Address
	account *Account     // set for account seeds
	slot    *common.Hash // set for storage seeds
	value   common.Hash
}

const (
	seedCodeReason  tracing.CodeChangeReason  = tracing.CodeChangeUnspecified
	seedNonceReason tracing.NonceChangeReason = tracing.NonceChangeUnspecified
)

// NewForkStateDB wraps inner. A nil upstream disables lazy loading.
func NewForkStateDB(inner *state.StateDB, upstream Upstream) *ForkStateDB {
	return &ForkStateDB{
		inner:    inner,
		upstream: upstream,
		ctx:      context.Background(),
		accounts: make(map[common.Address]bool),
		slots:    make(map[common.Address]map[common.Hash]bool),
		created:  make(map[common.Address]bool),
		marks:    make(map[int]int),
	}
}

// SetContext sets the context used for upstream loads until the next call.
func (f *ForkStateDB) SetContext(ctx context.Context) {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
}

// Inner returns the wrapped StateDB.
func (f *ForkStateDB) Inner() *state.StateDB { return f.inner }

// Err returns the first upstream failure since the last ClearErrors.
func (f *ForkStateDB) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetchErrors) == 0 {
		return nil
	}
	return f.fetchErrors[0]
}

// ClearErrors resets recorded upstream failures.
func (f *ForkStateDB) ClearErrors() {
	f.mu.Lock()
	f.fetchErrors = nil
	f.mu.Unlock()
}

// Copy returns an independent deep copy, used by evm_snapshot.
func (f *ForkStateDB) Copy() *ForkStateDB {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := NewForkStateDB(f.inner.Copy(), f.upstream)
	for a := range f.accounts {
		cp.accounts[a] = true
	}
	for a := range f.created {
		cp.created[a] = true
	}
	for a, m := range f.slots {
		inner := make(map[common.Hash]bool, len(m))
		for k := range m {
			inner[k] = true
		}
		cp.slots[a] = inner
	}
	return cp
}

// ensureAccount seeds balance, nonce and code of addr on first touch
func (f *ForkStateDB) ensureAccount(addr common.Address) {
	if f.upstream == nil {
		return
	}
	f.mu.Lock()
	if f.accounts[addr] {
		f.mu.Unlock()
		return
	}
	f.accounts[addr] = true
	ctx := f.ctx
	f.mu.Unlock()

	acc, err := f.upstream.Account(ctx, addr)
	if err != nil {
		f.mu.Lock()
		delete(f.accounts, addr)
		f.mu.Unlock()
		f.recordError(err)
		return
	}
	if acc.IsEmpty() {
		return
	}
	f.applyAccount(addr, acc)

	f.mu.Lock()
	f.seeds = append(f.seeds, seed{addr: addr, account: acc})
	f.mu.Unlock()
}

// ensureSlot seeds one storage slot of addr on first touch
func (f *ForkStateDB) ensureSlot(addr common.Address, slot common.Hash) {
	if f.upstream == nil {
		return
	}
	f.ensureAccount(addr)

	f.mu.Lock()
	if f.created[addr] || f.slots[addr][slot] {
		f.mu.Unlock()
		return
	}
	if f.slots[addr] == nil {
		f.slots[addr] = make(map[common.Hash]bool)
	}
	f.slots[addr][slot] = true
	ctx := f.ctx
	f.mu.Unlock()

	value, err := f.upstream.Storage(ctx, addr, slot)
	if err != nil {
		f.mu.Lock()
		delete(f.slots[addr], slot)
		f.mu.Unlock()
		f.recordError(err)
		return
	}
	if value == (common.Hash{}) {
		return
	}
	f.inner.SetState(addr, slot, value)

	s := slot
	f.mu.Lock()
	f.seeds = append(f.seeds, seed{addr: addr, slot: &s, value: value})
	f.mu.Unlock()
}

func (f *ForkStateDB) applyAccount(addr common.Address, acc *Account) {
	f.inner.SetBalance(addr, acc.Balance, tracing.BalanceChangeUnspecified)
	f.inner.SetNonce(addr, acc.Nonce, seedNonceReason)
	if len(acc.Code) > 0 {
		f.inner.SetCode(addr, acc.Code, seedCodeReason)
	}
}

func (f *ForkStateDB) recordError(err error) {
	f.mu.Lock()
	f.fetchErrors = append(f.fetchErrors, err)
	f.mu.Unlock()
}

// markLocal records that addr and its storage exist only locally from now
// on, so no upstream load may overwrite them.
func (f *ForkStateDB) markLocal(addr common.Address) {
	f.mu.Lock()
	f.accounts[addr] = true
	f.created[addr] = true
	f.mu.Unlock()
}

// =============================================================================
// vm.StateDB interface implementation
// =============================================================================

func (f *ForkStateDB) CreateAccount(addr common.Address) {
	f.ensureAccount(addr)
	f.inner.CreateAccount(addr)
}

func (f *ForkStateDB) CreateContract(addr common.Address) {
	f.markLocal(addr)
	f.inner.CreateContract(addr)
}

func (f *ForkStateDB) SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	f.ensureAccount(addr)
	return f.inner.SubBalance(addr, amount, reason)
}

func (f *ForkStateDB) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	f.ensureAccount(addr)
	return f.inner.AddBalance(addr, amount, reason)
}

func (f *ForkStateDB) GetBalance(addr common.Address) *uint256.Int {
	f.ensureAccount(addr)
	return f.inner.GetBalance(addr)
}

func (f *ForkStateDB) GetNonce(addr common.Address) uint64 {
	f.ensureAccount(addr)
	return f.inner.GetNonce(addr)
}

func (f *ForkStateDB) SetNonce(addr common.Address, nonce uint64, reason tracing.NonceChangeReason) {
	f.ensureAccount(addr)
	f.inner.SetNonce(addr, nonce, reason)
}

func (f *ForkStateDB) GetCodeHash(addr common.Address) common.Hash {
	f.ensureAccount(addr)
	return f.inner.GetCodeHash(addr)
}

func (f *ForkStateDB) GetCode(addr common.Address) []byte {
	f.ensureAccount(addr)
	return f.inner.GetCode(addr)
}

func (f *ForkStateDB) SetCode(addr common.Address, code []byte, reason tracing.CodeChangeReason) []byte {
	f.ensureAccount(addr)
	return f.inner.SetCode(addr, code, reason)
}

func (f *ForkStateDB) GetCodeSize(addr common.Address) int {
	f.ensureAccount(addr)
	return f.inner.GetCodeSize(addr)
}

func (f *ForkStateDB) AddRefund(gas uint64) {
	f.inner.AddRefund(gas)
}

func (f *ForkStateDB) SubRefund(gas uint64) {
	f.inner.SubRefund(gas)
}

func (f *ForkStateDB) GetRefund() uint64 {
	return f.inner.GetRefund()
}

// GetCommittedState reports a seeded slot as dirty rather than committed,
// which only affects SSTORE gas pricing.
func (f *ForkStateDB) GetCommittedState(addr common.Address, hash common.Hash) common.Hash {
	f.ensureSlot(addr, hash)
	return f.inner.GetCommittedState(addr, hash)
}

func (f *ForkStateDB) GetState(addr common.Address, hash common.Hash) common.Hash {
	f.ensureSlot(addr, hash)
	return f.inner.GetState(addr, hash)
}

func (f *ForkStateDB) GetStateAndCommittedState(addr common.Address, slot common.Hash) (common.Hash, common.Hash) {
	f.ensureSlot(addr, slot)
	return f.inner.GetState(addr, slot), f.inner.GetCommittedState(addr, slot)
}

func (f *ForkStateDB) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	f.ensureSlot(addr, key)
	return f.inner.SetState(addr, key, value)
}

func (f *ForkStateDB) GetStorageRoot(addr common.Address) common.Hash {
	f.ensureAccount(addr)
	return f.inner.GetStorageRoot(addr)
}

func (f *ForkStateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return f.inner.GetTransientState(addr, key)
}

func (f *ForkStateDB) SetTransientState(addr common.Address, key common.Hash, value common.Hash) {
	f.inner.SetTransientState(addr, key, value)
}

func (f *ForkStateDB) SelfDestruct(addr common.Address) uint256.Int {
	f.ensureAccount(addr)
	return f.inner.SelfDestruct(addr)
}

func (f *ForkStateDB) HasSelfDestructed(addr common.Address) bool {
	return f.inner.HasSelfDestructed(addr)
}

func (f *ForkStateDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	f.ensureAccount(addr)
	return f.inner.SelfDestruct6780(addr)
}

func (f *ForkStateDB) Exist(addr common.Address) bool {
	f.ensureAccount(addr)
	return f.inner.Exist(addr)
}

func (f *ForkStateDB) Empty(addr common.Address) bool {
	f.ensureAccount(addr)
	return f.inner.Empty(addr)
}

func (f *ForkStateDB) AddressInAccessList(addr common.Address) bool {
	return f.inner.AddressInAccessList(addr)
}

func (f *ForkStateDB) SlotInAccessList(addr common.Address, slot common.Hash) (addressOk bool, slotOk bool) {
	return f.inner.SlotInAccessList(addr, slot)
}

func (f *ForkStateDB) AddAddressToAccessList(addr common.Address) {
	f.inner.AddAddressToAccessList(addr)
}

func (f *ForkStateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	f.inner.AddSlotToAccessList(addr, slot)
}

func (f *ForkStateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	f.inner.Prepare(rules, sender, coinbase, dest, precompiles, txAccesses)
}

// RevertToSnapshot reverts the wrapped StateDB and replays the upstream
// seeds taken after the snapshot.
func (f *ForkStateDB) RevertToSnapshot(revid int) {
	f.inner.RevertToSnapshot(revid)

	f.mu.Lock()
	mark, ok := f.marks[revid]
	var replay []seed
	if ok && mark < len(f.seeds) {
		replay = append(replay, f.seeds[mark:]...)
	}
	for id := range f.marks {
		if id >= revid {
			delete(f.marks, id)
		}
	}
	f.mu.Unlock()

	for _, s := range replay {
		if s.account != nil {
			f.applyAccount(s.addr, s.account)
		} else {
			f.inner.SetState(s.addr, *s.slot, s.value)
		}
	}
}

func (f *ForkStateDB) Snapshot() int {
	id := f.inner.Snapshot()
	f.mu.Lock()
	f.marks[id] = len(f.seeds)
	f.mu.Unlock()
	return id
}

func (f *ForkStateDB) AddLog(log *types.Log) {
	f.inner.AddLog(log)
}

func (f *ForkStateDB) AddPreimage(hash common.Hash, preimage []byte) {
	f.inner.AddPreimage(hash, preimage)
}

func (f *ForkStateDB) PointCache() *utils.PointCache {
	return f.inner.PointCache()
}

func (f *ForkStateDB) Witness() *stateless.Witness {
	return f.inner.Witness()
}

func (f *ForkStateDB) AccessEvents() *state.AccessEvents {
	return f.inner.AccessEvents()
}

// Finalise ends a transaction. The journal is reset, so the seed log and
// snapshot marks are dropped with it.
func (f *ForkStateDB) Finalise(deleteEmptyObjects bool) {
	f.inner.Finalise(deleteEmptyObjects)
	f.mu.Lock()
	f.seeds = f.seeds[:0]
	f.marks = make(map[int]int)
	f.mu.Unlock()
}

// IntermediateRoot finalises pending changes and returns the state root.
func (f *ForkStateDB) IntermediateRoot(deleteEmptyObjects bool) common.Hash {
	f.Finalise(deleteEmptyObjects)
	return f.inner.IntermediateRoot(deleteEmptyObjects)
}
