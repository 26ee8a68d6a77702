package evmctl

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

// ImpersonatedSigner sends unsigned transactions as an account the node
// has unlocked.
type ImpersonatedSigner struct {
	addr       common.Address
	rpc        *rpc.Client
	defaultGas uint64
}

var _ accounts.Signer = (*ImpersonatedSigner)(nil)

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   hexutil.Uint64  `json:"gas"`
}

func (s *ImpersonatedSigner) Address() common.Address { return s.addr }

// Send implements accounts.Signer through eth_sendTransaction.
func (s *ImpersonatedSigner) Send(ctx context.Context, req accounts.TxRequest) (common.Hash, error) {
	gas := req.Gas
	if gas == 0 {
		gas = s.defaultGas
	}
	args := sendTxArgs{
		From: s.addr,
		To:   req.To,
		Data: req.Data,
		Gas:  hexutil.Uint64(gas),
	}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}

	var hash common.Hash
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, fmt.Errorf("send tx as %s: %w", s.addr.Hex(), err)
	}
	return hash, nil
}
