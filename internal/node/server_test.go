package node

import (
	"bytes"
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
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServerForTest(newTestNode(t), zap.NewNop())
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func rpcCall(t *testing.T, s *Server, method string, params ...interface{}) rpcResponse {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp rpcResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func dialTestServer(t *testing.T, s *Server) *ethclient.Client {
	t.Helper()
	srv := httptest.NewServer(s.Router())
	client, err := ethclient.Dial(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return client
}

// =============================================================================
// Raw JSON-RPC
// =============================================================================

func TestJSONRPC_UnknownMethod(t *testing.T) {
	s := setupTestServer(t)
	resp := rpcCall(t, s, "eth_mining")
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestJSONRPC_InvalidParams(t *testing.T) {
	s := setupTestServer(t)

	resp := rpcCall(t, s, "eth_getBalance")
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = rpcCall(t, s, "evm_increaseTime", -5)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = rpcCall(t, s, "evm_increaseTime", "0x8000000000000000")
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	assert.Equal(t, int64(0), s.Node().IncreaseTime(0), "clock offset untouched")
}

func TestJSONRPC_NullResultForMissingReceipt(t *testing.T) {
	s := setupTestServer(t)
	resp := rpcCall(t, s, "eth_getTransactionReceipt", common.HexToHash("0x01"))
	assert.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))
}

func TestJSONRPC_ControlMethods(t *testing.T) {
	s := setupTestServer(t)

	resp := rpcCall(t, s, "evm_snapshot")
	require.Nil(t, resp.Error)
	var id string
	require.NoError(t, json.Unmarshal(resp.Result, &id))
	assert.Equal(t, "0x1", id)

	resp = rpcCall(t, s, "evm_setAutomine", false)
	require.Nil(t, resp.Error)
	assert.False(t, s.Node().Automine())

	resp = rpcCall(t, s, "evm_increaseTime", 86400)
	require.Nil(t, resp.Error)
	assert.Equal(t, "86400", string(resp.Result))

	before := s.Node().Head().Timestamp
	resp = rpcCall(t, s, "evm_mine")
	require.Nil(t, resp.Error)
	assert.GreaterOrEqual(t, s.Node().Head().Timestamp, before+86400)

	resp = rpcCall(t, s, "evm_revert", id)
	require.Nil(t, resp.Error)
	assert.Equal(t, "true", string(resp.Result))
	assert.Equal(t, uint64(0), s.Node().Head().Number)

	resp = rpcCall(t, s, "evm_revert", id)
	require.Nil(t, resp.Error)
	assert.Equal(t, "false", string(resp.Result))
}

func TestJSONRPC_HardhatSetters(t *testing.T) {
	s := setupTestServer(t)
	addr := common.HexToAddress("0xabcdef")

	resp := rpcCall(t, s, "hardhat_setBalance", addr, "0xde0b6b3a7640000")
	require.Nil(t, resp.Error)
	resp = rpcCall(t, s, "hardhat_setCode", addr, "0x60006000fd")
	require.Nil(t, resp.Error)

	bal, err := s.Node().Balance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e18), bal)
	code, err := s.Node().Code(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x00, 0x60, 0x00, 0xfd}, code)
}

// =============================================================================
// ethclient compatibility
// =============================================================================

func TestEthClientRoundTrip(t *testing.T) {
	s := setupTestServer(t)
	client := dialTestServer(t, s)
	ctx := context.Background()

	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(DefaultChainID), chainID)

	header, err := client.HeaderByNumber(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), header.Number.Uint64())
	assert.Equal(t, uint64(testNow.Unix()), header.Time)

	key := accounts.DevPrivateKeys()[0]
	from := accounts.Address(key)
	nonce, err := client.PendingNonceAt(ctx, from)
	require.NoError(t, err)

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce: nonce, GasPrice: big.NewInt(0), Gas: 200_000, Data: timestampInitCode,
	}), types.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)
	require.NoError(t, client.SendTransaction(ctx, tx))

	receipt, err := client.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, crypto.CreateAddress(from, nonce), receipt.ContractAddress)

	ret, err := client.CallContract(ctx, ethereum.CallMsg{From: from, To: &receipt.ContractAddress}, nil)
	require.NoError(t, err)
	assert.Len(t, ret, 32)

	_, err = client.TransactionReceipt(ctx, common.HexToHash("0x1234"))
	assert.ErrorIs(t, err, ethereum.NotFound)
}

func TestEthClientRevertCarriesErrorCode(t *testing.T) {
	s := setupTestServer(t)
	n := s.Node()
	target := deploy(t, n, revertInitCode)
	client := dialTestServer(t, s)

	_, err := client.CallContract(context.Background(), ethereum.CallMsg{From: devAddr(0), To: &target}, nil)
	require.Error(t, err)

	var rpcErr rpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, codeReverted, rpcErr.ErrorCode())
	assert.Contains(t, err.Error(), "execution reverted")
}

// =============================================================================
// Interval mining
// =============================================================================

func TestBlockProducerStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewServer(newTestNode(t), 10*time.Millisecond, zap.NewNop())
	require.Eventually(t, func() bool {
		return s.Node().Head().Number >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Close()
	s.Close() // idempotent
	head := s.Node().Head().Number
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, head, s.Node().Head().Number)
}
