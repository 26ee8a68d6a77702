package evmctl

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/node"
)

var (
	// returns TIMESTAMP as a 32-byte word
	timestampInitCode = hexutil.MustDecode("0x684260005260206000f360005260096017f3")

	whale = common.HexToAddress("0x47ac0Fb4F2D84898e4D9E7b4DaB3C24507a6D503")
)

// setup starts a dev node with a frozen wall clock behind an HTTP server
func setup(t *testing.T) (*Client, *node.Node) {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	n, err := node.New(ctx, node.Config{Now: func() time.Time { return now }})
	require.NoError(t, err)

	srv := httptest.NewServer(node.NewServerForTest(n, zap.NewNop()).Router())
	rc, err := rpc.DialContext(ctx, srv.URL)
	require.NoError(t, err)

	c := New(rc, 0, zap.NewNop())
	t.Cleanup(func() {
		c.Close()
		srv.Close()
	})
	return c, n
}

func TestAdvanceTimeMovesClockAtLeastSeconds(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	for _, s := range []int64{0, 1, 59, 3600, 30 * 86400} {
		before, err := c.Timestamp(ctx)
		require.NoError(t, err)

		require.NoError(t, c.AdvanceTime(ctx, s))

		after, err := c.Timestamp(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, after, before+uint64(s), "s=%d", s)
		assert.LessOrEqual(t, after, before+uint64(s)+1, "s=%d", s)
	}
}

func TestAdvanceTimeRejectsNegative(t *testing.T) {
	c, n := setup(t)
	ctx := context.Background()

	err := c.AdvanceTime(ctx, -1)
	assert.ErrorIs(t, err, ErrNegativeDuration)
	err = c.AdvanceDuration(ctx, -time.Second)
	assert.ErrorIs(t, err, ErrNegativeDuration)
	assert.Equal(t, uint64(0), n.Head().Number, "no block is mined")
}

func TestAdvanceDurationTruncatesToSeconds(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	before, err := c.Timestamp(ctx)
	require.NoError(t, err)
	require.NoError(t, c.AdvanceDuration(ctx, 24*time.Hour+900*time.Millisecond))
	after, err := c.Timestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+86400, after)
}

func TestAdvanceBlocks(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	startBlock, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	startTime, err := c.Timestamp(ctx)
	require.NoError(t, err)

	require.NoError(t, c.AdvanceBlocks(ctx, 3))

	block, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	ts, err := c.Timestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, startBlock+3, block)
	assert.Equal(t, startTime+3*BlockInterval, ts)
}

func TestRunAtomicInBlockMinesExactlyOneBlock(t *testing.T) {
	for _, count := range []int{0, 1, 3} {
		c, n := setup(t)
		ctx := context.Background()
		signer := c.KeySigner(accounts.DevPrivateKeys()[0])
		to := common.HexToAddress("0xbeef")

		var hashes []common.Hash
		err := c.RunAtomicInBlock(ctx, func(ctx context.Context) error {
			for i := 0; i < count; i++ {
				h, err := signer.Send(ctx, accounts.TxRequest{To: &to, Value: big.NewInt(1), Gas: 21000})
				if err != nil {
					return err
				}
				hashes = append(hashes, h)
			}
			return nil
		})
		require.NoError(t, err, "count=%d", count)

		head := n.Head()
		assert.Equal(t, uint64(1), head.Number, "count=%d", count)
		assert.ElementsMatch(t, hashes, head.TxHashes)
		assert.True(t, n.Automine(), "automine restored")

		for _, h := range hashes {
			receipt, err := c.Eth().TransactionReceipt(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), receipt.BlockNumber.Uint64())
		}
	}
}

func TestRunAtomicInBlockRestoresOnFailure(t *testing.T) {
	c, n := setup(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := c.RunAtomicInBlock(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), n.Head().Number)
	assert.True(t, n.Automine())
}

func TestImpersonation(t *testing.T) {
	c, n := setup(t)
	ctx := context.Background()
	to := common.HexToAddress("0xdead")
	req := accounts.TxRequest{To: &to, Value: big.NewInt(5)}

	// eth_sendTransaction is refused before impersonation
	unlocked := &ImpersonatedSigner{addr: whale, rpc: c.RPC()}
	_, err := unlocked.Send(ctx, req)
	require.Error(t, err)

	require.NoError(t, c.SetBalance(ctx, whale, big.NewInt(1e18)))
	signer, err := c.Impersonate(ctx, whale)
	require.NoError(t, err)
	assert.Equal(t, whale, signer.Address())

	hash, err := signer.Send(ctx, req)
	require.NoError(t, err)
	receipt, err := c.Eth().TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)

	bal, err := n.Balance(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), bal)

	require.NoError(t, c.StopImpersonating(ctx, whale))
	_, err = signer.Send(ctx, req)
	assert.Error(t, err)
}

func TestImpersonationUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32601, "message": "Method not found"},
		})
	}))
	defer srv.Close()

	rc, err := rpc.DialContext(context.Background(), srv.URL)
	require.NoError(t, err)
	c := New(rc, 0, nil)
	defer c.Close()

	_, err = c.Impersonate(context.Background(), whale)
	assert.ErrorIs(t, err, ErrImpersonationUnsupported)
}

func TestSnapshotRevert(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	id, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, c.AdvanceBlocks(ctx, 2))

	require.NoError(t, c.Revert(ctx, id))
	block, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)

	assert.ErrorIs(t, c.Revert(ctx, id), ErrUnknownSnapshot)
}

func TestTimestampContractSeesWarp(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	signer := c.KeySigner(accounts.DevPrivateKeys()[0])

	hash, err := signer.Send(ctx, accounts.TxRequest{Data: timestampInitCode, Gas: 200_000})
	require.NoError(t, err)
	receipt, err := c.Eth().TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	contract := receipt.ContractAddress

	before, err := c.Timestamp(ctx)
	require.NoError(t, err)
	require.NoError(t, c.AdvanceTime(ctx, 3600))

	ret, err := c.Eth().CallContract(ctx, ethereum.CallMsg{To: &contract}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, new(big.Int).SetBytes(ret).Uint64(), before+3600)
}
