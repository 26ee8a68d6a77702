package node

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var testCodeAddr = common.HexToAddress("0x1234567890123456789012345678901234567890")

func TestBytecodeStore_InMemory(t *testing.T) {
	store := NewBytecodeStore("", zap.NewNop())
	defer store.Close()

	code := []byte{0x60, 0x80, 0x60, 0x40}

	if _, ok := store.Get(100, testCodeAddr); ok {
		t.Error("Expected no entry before Put()")
	}
	if err := store.Put(100, testCodeAddr, code); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	got, ok := store.Get(100, testCodeAddr)
	if !ok {
		t.Fatal("Get() found nothing after Put()")
	}
	if !bytes.Equal(got, code) {
		t.Errorf("Bytecode mismatch: got %x, want %x", got, code)
	}

	// entries are scoped to the fork block
	if _, ok := store.Get(101, testCodeAddr); ok {
		t.Error("Expected no entry for another fork block")
	}
}

func TestBytecodeStore_EmptyCodeMarker(t *testing.T) {
	store := NewBytecodeStore("", zap.NewNop())
	defer store.Close()

	if err := store.Put(1, testCodeAddr, nil); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	got, ok := store.Get(1, testCodeAddr)
	if !ok {
		t.Fatal("Expected empty-code marker to be found")
	}
	if len(got) != 0 {
		t.Errorf("Expected empty code, got %x", got)
	}
}

func TestBytecodeStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	code := []byte{0xde, 0xad, 0xbe, 0xef}

	store := NewBytecodeStore(dir, zap.NewNop())
	if err := store.Put(14357000, testCodeAddr, code); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened := NewBytecodeStore(dir, zap.NewNop())
	defer reopened.Close()
	got, ok := reopened.Get(14357000, testCodeAddr)
	if !ok || !bytes.Equal(got, code) {
		t.Errorf("Expected persisted code %x, got %x (found=%v)", code, got, ok)
	}
}

func TestBytecodeStore_Closed(t *testing.T) {
	store := NewBytecodeStore("", zap.NewNop())
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
	if err := store.Put(1, testCodeAddr, []byte{1}); err == nil {
		t.Error("Expected Put() on closed store to fail")
	}
	if _, ok := store.Get(1, testCodeAddr); ok {
		t.Error("Expected Get() on closed store to find nothing")
	}
}
