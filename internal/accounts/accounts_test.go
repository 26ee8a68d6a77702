package accounts

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevKeysMatchHardhatAccounts(t *testing.T) {
	keys := DevPrivateKeys()
	require.Len(t, keys, len(DevKeys))

	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), Address(keys[0]))
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), Address(keys[1]))
}

func TestParseKey(t *testing.T) {
	k1, err := ParseKey("0x" + DevKeys[0])
	require.NoError(t, err)
	k2, err := ParseKey(DevKeys[0])
	require.NoError(t, err)
	assert.Equal(t, Address(k1), Address(k2))

	_, err = ParseKey("xyz")
	assert.Error(t, err)

	_, err = ParseKeys([]string{DevKeys[0], "nothex"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account 1")
}

type fakeSender struct {
	chainIDCalls int
	nonce        uint64
	sent         []*types.Transaction
	sendErr      error
}

func (f *fakeSender) ChainID(context.Context) (*big.Int, error) {
	f.chainIDCalls++
	return big.NewInt(31337), nil
}

func (f *fakeSender) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce + uint64(len(f.sent)), nil
}

func (f *fakeSender) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeSender) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func TestKeySignerSend(t *testing.T) {
	ctx := context.Background()
	key := DevPrivateKeys()[2]
	client := &fakeSender{nonce: 7}
	signer := NewKeySigner(key, client, 15_000_000)

	to := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	h1, err := signer.Send(ctx, TxRequest{To: &to, Data: []byte{0xd0, 0xe3, 0x0d, 0xb0}, Value: big.NewInt(5)})
	require.NoError(t, err)
	h2, err := signer.Send(ctx, TxRequest{To: &to, Gas: 50_000})
	require.NoError(t, err)

	require.Len(t, client.sent, 2)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 1, client.chainIDCalls, "chain id should be cached")

	first, second := client.sent[0], client.sent[1]
	assert.Equal(t, uint64(7), first.Nonce())
	assert.Equal(t, uint64(8), second.Nonce())
	assert.Equal(t, uint64(15_000_000), first.Gas())
	assert.Equal(t, uint64(50_000), second.Gas())
	assert.Equal(t, big.NewInt(5), first.Value())
	assert.Equal(t, h1, first.Hash())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), first)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}

func TestKeySignerSendError(t *testing.T) {
	client := &fakeSender{sendErr: errors.New("nonce too low")}
	signer := NewKeySigner(DevPrivateKeys()[0], client, 21_000)

	_, err := signer.Send(context.Background(), TxRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low")
	assert.Contains(t, err.Error(), signer.Address().Hex())
}
