package accounts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxRequest is an unsigned transaction as scenarios describe it. A nil To
// deploys Data as init code.
type TxRequest struct {
	To    *common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64 // zero means the signer's default
}

// Signer submits transactions from one address.
type Signer interface {
	Address() common.Address
	// Send submits the transaction and returns its hash without waiting
	// for inclusion.
	Send(ctx context.Context, req TxRequest) (common.Hash, error)
}

// TxSender is the node surface a KeySigner needs. *ethclient.Client
// satisfies it.
type TxSender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySigner signs legacy EIP-155 transactions with a local private key.
type KeySigner struct {
	key        *ecdsa.PrivateKey
	addr       common.Address
	client     TxSender
	defaultGas uint64

	mu      sync.Mutex
	chainID *big.Int
}

// NewKeySigner binds key to client. defaultGas is used when a request
// leaves Gas at zero.
func NewKeySigner(key *ecdsa.PrivateKey, client TxSender, defaultGas uint64) *KeySigner {
	return &KeySigner{
		key:        key,
		addr:       Address(key),
		client:     client,
		defaultGas: defaultGas,
	}
}

// Address implements Signer.
func (s *KeySigner) Address() common.Address { return s.addr }

// Send implements Signer. The nonce comes from the pending pool so several
// sends may be queued before a block is mined.
func (s *KeySigner) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	chainID, err := s.loadChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := s.client.PendingNonceAt(ctx, s.addr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce for %s: %w", s.addr.Hex(), err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	gas := req.Gas
	if gas == 0 {
		gas = s.defaultGas
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       req.To,
		Value:    value,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx from %s: %w", s.addr.Hex(), err)
	}
	return signed.Hash(), nil
}

func (s *KeySigner) loadChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return s.chainID, nil
	}
	id, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	s.chainID = id
	return id, nil
}
