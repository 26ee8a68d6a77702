package node

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"go.uber.org/zap"
)

const (
	// BytecodeStoreCacheMB is the LevelDB block cache size in MB.
	BytecodeStoreCacheMB = 16

	// BytecodeStoreHandles is the maximum number of open file handles for LevelDB.
	BytecodeStoreHandles = 16
)

var errStoreClosed = errors.New("bytecode store is closed")

// BytecodeStore persists upstream contract code across dev node runs.
// Code at a fixed fork block never changes, so entries are keyed by
// (fork block, address) and never invalidated.
type BytecodeStore struct {
	db     ethdb.Database
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewBytecodeStore opens a LevelDB store at path. An empty path, or a path
// that cannot be opened, falls back to in-memory storage.
func NewBytecodeStore(path string, logger *zap.Logger) *BytecodeStore {
	logger = logger.Named("bytecode")
	if path == "" {
		logger.Debug("using in-memory bytecode store")
		return &BytecodeStore{db: rawdb.NewMemoryDatabase(), logger: logger}
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.Warn("cannot create bytecode store directory, using memory", zap.String("path", path), zap.Error(err))
		return &BytecodeStore{db: rawdb.NewMemoryDatabase(), logger: logger}
	}
	ldb, err := leveldb.New(path, BytecodeStoreCacheMB, BytecodeStoreHandles, "", false)
	if err != nil {
		logger.Warn("cannot open bytecode store, using memory", zap.String("path", path), zap.Error(err))
		return &BytecodeStore{db: rawdb.NewMemoryDatabase(), logger: logger}
	}
	logger.Info("opened persistent bytecode store", zap.String("path", path))
	return &BytecodeStore{db: rawdb.NewDatabase(ldb), logger: logger}
}

func codeKey(block uint64, addr common.Address) []byte {
	key := make([]byte, 0, 5+8+common.AddressLength)
	key = append(key, "code:"...)
	key = binary.BigEndian.AppendUint64(key, block)
	return append(key, addr.Bytes()...)
}

// Get returns the code stored for addr at block. The bool reports whether
// an entry exists; accounts without code are stored as an empty marker.
func (bs *BytecodeStore) Get(block uint64, addr common.Address) ([]byte, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	if bs.closed {
		return nil, false
	}
	data, err := bs.db.Get(codeKey(block, addr))
	if err != nil {
		return nil, false
	}
	return common.CopyBytes(data), true
}

// Put stores code for addr at block. Empty code records "no code".
func (bs *BytecodeStore) Put(block uint64, addr common.Address, code []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.closed {
		return errStoreClosed
	}
	if code == nil {
		code = []byte{}
	}
	return bs.db.Put(codeKey(block, addr), code)
}

// Close gracefully closes the underlying database
func (bs *BytecodeStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.closed {
		return nil
	}
	bs.closed = true
	return bs.db.Close()
}
