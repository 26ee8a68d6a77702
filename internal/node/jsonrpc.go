package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const ClientVersion = "forkharness-devnode/v1"

// JSON-RPC error codes
const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeServerError    = -32000
	codeReverted       = 3
)

type jsonRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Result is not omitempty: clients tell "not found" apart by a null result.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result"`
	ID      json.RawMessage `json:"id"`
}

type jsonRPCErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *rpcError       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

func invalidParams(format string, args ...interface{}) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func serverError(err error) *rpcError {
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

// txArgs accepts both "data" and "input"; ethclient sends the latter.
type txArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
	Value *hexutil.Big    `json:"value"`
	Gas   *hexutil.Uint64 `json:"gas"`
}

func (a *txArgs) message() Message {
	msg := Message{From: a.From, To: a.To, Value: new(big.Int)}
	if a.Input != nil {
		msg.Data = *a.Input
	} else if a.Data != nil {
		msg.Data = *a.Data
	}
	if a.Value != nil {
		msg.Value = (*big.Int)(a.Value)
	}
	if a.Gas != nil {
		msg.Gas = uint64(*a.Gas)
	}
	return msg
}

type rpcBlock struct {
	Number          hexutil.Uint64   `json:"number"`
	Hash            common.Hash      `json:"hash"`
	ParentHash      common.Hash      `json:"parentHash"`
	Nonce           types.BlockNonce `json:"nonce"`
	MixHash         common.Hash      `json:"mixHash"`
	UncleHash       common.Hash      `json:"sha3Uncles"`
	LogsBloom       types.Bloom      `json:"logsBloom"`
	TxRoot          common.Hash      `json:"transactionsRoot"`
	StateRoot       common.Hash      `json:"stateRoot"`
	ReceiptsRoot    common.Hash      `json:"receiptsRoot"`
	Miner           common.Address   `json:"miner"`
	Difficulty      *hexutil.Big     `json:"difficulty"`
	TotalDifficulty *hexutil.Big     `json:"totalDifficulty"`
	ExtraData       hexutil.Bytes    `json:"extraData"`
	Size            hexutil.Uint64   `json:"size"`
	GasLimit        hexutil.Uint64   `json:"gasLimit"`
	GasUsed         hexutil.Uint64   `json:"gasUsed"`
	Timestamp       hexutil.Uint64   `json:"timestamp"`
	BaseFee         *hexutil.Big     `json:"baseFeePerGas,omitempty"`
	Transactions    []common.Hash    `json:"transactions"`
	Uncles          []common.Hash    `json:"uncles"`
}

func (s *Server) marshalBlock(b *Block) *rpcBlock {
	out := &rpcBlock{
		Number:          hexutil.Uint64(b.Number),
		Hash:            b.Hash,
		ParentHash:      b.ParentHash,
		UncleHash:       types.EmptyUncleHash,
		LogsBloom:       b.Bloom,
		TxRoot:          types.EmptyTxsHash,
		StateRoot:       b.StateRoot,
		ReceiptsRoot:    types.EmptyReceiptsHash,
		Difficulty:      (*hexutil.Big)(new(big.Int)),
		TotalDifficulty: (*hexutil.Big)(new(big.Int)),
		ExtraData:       hexutil.Bytes{},
		GasLimit:        hexutil.Uint64(b.GasLimit),
		GasUsed:         hexutil.Uint64(b.GasUsed),
		Timestamp:       hexutil.Uint64(b.Timestamp),
		Transactions:    append([]common.Hash{}, b.TxHashes...),
		Uncles:          []common.Hash{},
	}
	if s.node.IsLondon(b.Number) {
		out.BaseFee = (*hexutil.Big)(new(big.Int))
	}
	return out
}

// param decodes params[i] into v
func param(req *jsonRPCRequest, i int, v interface{}) *rpcError {
	if i >= len(req.Params) {
		return invalidParams("missing value for required argument %d", i)
	}
	if err := json.Unmarshal(req.Params[i], v); err != nil {
		return invalidParams("invalid argument %d: %v", i, err)
	}
	return nil
}

// quantity decodes a non-negative integer given as a JSON number or a hex
// string
func quantity(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var h hexutil.Uint64
	if err := json.Unmarshal(raw, &h); err != nil {
		return 0, fmt.Errorf("expected non-negative quantity, got %s", string(raw))
	}
	return uint64(h), nil
}

// isPendingTag reports whether an optional block tag argument asks for the
// pending state
func isPendingTag(req *jsonRPCRequest, i int) bool {
	if i >= len(req.Params) {
		return false
	}
	var tag string
	if err := json.Unmarshal(req.Params[i], &tag); err != nil {
		return false
	}
	return tag == "pending"
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)

	w.Header().Set("Content-Type", "application/json")
	var resp interface{}
	if rpcErr != nil {
		s.logger.Debug("rpc error",
			zap.String("method", req.Method),
			zap.Int("code", rpcErr.Code),
			zap.String("message", rpcErr.Message))
		resp = jsonRPCErrorResponse{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	} else {
		resp = jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("cannot write rpc response", zap.String("method", req.Method), zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, req *jsonRPCRequest) (interface{}, *rpcError) {
	n := s.node

	switch req.Method {
	case "eth_chainId":
		return hexutil.Uint64(n.ChainID()), nil

	case "net_version":
		return fmt.Sprintf("%d", n.ChainID()), nil

	case "web3_clientVersion":
		return ClientVersion, nil

	case "eth_accounts":
		return n.Accounts(), nil

	case "eth_blockNumber":
		return hexutil.Uint64(n.Head().Number), nil

	case "eth_gasPrice", "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(new(big.Int)), nil

	case "eth_getBlockByNumber":
		if len(req.Params) == 0 {
			return nil, invalidParams("missing value for required argument 0")
		}
		var tag string
		var block *Block
		if err := json.Unmarshal(req.Params[0], &tag); err == nil && !strings.HasPrefix(tag, "0x") {
			switch tag {
			case "latest", "pending", "safe", "finalized":
				block = n.Head()
			case "earliest":
				block = n.BlockByNumber(n.First())
			default:
				return nil, invalidParams("unknown block tag %q", tag)
			}
		} else {
			num, err := quantity(req.Params[0])
			if err != nil {
				return nil, invalidParams("%v", err)
			}
			block = n.BlockByNumber(num)
		}
		if block == nil {
			return nil, nil
		}
		return s.marshalBlock(block), nil

	case "eth_getBalance":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		bal, err := n.Balance(ctx, addr)
		if err != nil {
			return nil, serverError(err)
		}
		return (*hexutil.Big)(bal), nil

	case "eth_getCode":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		code, err := n.Code(ctx, addr)
		if err != nil {
			return nil, serverError(err)
		}
		return hexutil.Bytes(code), nil

	case "eth_getStorageAt":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		var slot hexutil.Big
		if e := param(req, 1, &slot); e != nil {
			return nil, e
		}
		value, err := n.StorageAt(ctx, addr, common.BigToHash((*big.Int)(&slot)))
		if err != nil {
			return nil, serverError(err)
		}
		return value, nil

	case "eth_getTransactionCount":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		nonce, err := n.Nonce(ctx, addr, isPendingTag(req, 1))
		if err != nil {
			return nil, serverError(err)
		}
		return hexutil.Uint64(nonce), nil

	case "eth_call":
		var args txArgs
		if e := param(req, 0, &args); e != nil {
			return nil, e
		}
		res, err := n.Call(ctx, args.message())
		if err != nil {
			return nil, serverError(err)
		}
		if res.Failed() {
			return nil, executionError(res)
		}
		return hexutil.Bytes(res.ReturnData), nil

	case "eth_estimateGas":
		var args txArgs
		if e := param(req, 0, &args); e != nil {
			return nil, e
		}
		gas, res, err := n.EstimateGas(ctx, args.message())
		if err != nil {
			return nil, serverError(err)
		}
		if res.Failed() {
			return nil, executionError(res)
		}
		return hexutil.Uint64(gas), nil

	case "eth_sendTransaction":
		var args txArgs
		if e := param(req, 0, &args); e != nil {
			return nil, e
		}
		hash, err := n.SendTransaction(ctx, args.message())
		if err != nil {
			return nil, serverError(err)
		}
		return hash, nil

	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if e := param(req, 0, &raw); e != nil {
			return nil, e
		}
		hash, err := n.SendRawTransaction(ctx, raw)
		if err != nil {
			return nil, serverError(err)
		}
		return hash, nil

	case "eth_getTransactionReceipt":
		var hash common.Hash
		if e := param(req, 0, &hash); e != nil {
			return nil, e
		}
		if receipt := n.Receipt(hash); receipt != nil {
			return receipt, nil
		}
		return nil, nil

	case "evm_increaseTime":
		if len(req.Params) == 0 {
			return nil, invalidParams("missing value for required argument 0")
		}
		seconds, err := quantity(req.Params[0])
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		if seconds > math.MaxInt64 {
			return nil, invalidParams("time increase %d exceeds %d seconds", seconds, int64(math.MaxInt64))
		}
		return n.IncreaseTime(seconds), nil

	case "evm_setNextBlockTimestamp":
		if len(req.Params) == 0 {
			return nil, invalidParams("missing value for required argument 0")
		}
		ts, err := quantity(req.Params[0])
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		if err := n.SetNextBlockTimestamp(ts); err != nil {
			return nil, invalidParams("%v", err)
		}
		return nil, nil

	case "evm_mine":
		var ts *uint64
		if len(req.Params) > 0 && string(req.Params[0]) != "null" {
			v, err := quantity(req.Params[0])
			if err != nil {
				return nil, invalidParams("%v", err)
			}
			ts = &v
		}
		if _, err := n.Mine(ctx, ts); err != nil {
			return nil, serverError(err)
		}
		return "0x0", nil

	case "evm_setAutomine":
		var on bool
		if e := param(req, 0, &on); e != nil {
			return nil, e
		}
		n.SetAutomine(on)
		return true, nil

	case "hardhat_getAutomine":
		return n.Automine(), nil

	case "evm_snapshot":
		return hexutil.Uint64(n.Snapshot()), nil

	case "evm_revert":
		var id hexutil.Uint64
		if e := param(req, 0, &id); e != nil {
			return nil, e
		}
		return n.Revert(uint64(id)), nil

	case "hardhat_impersonateAccount":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		n.Impersonate(addr)
		return true, nil

	case "hardhat_stopImpersonatingAccount":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		n.StopImpersonating(addr)
		return true, nil

	case "hardhat_setBalance":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		var amount hexutil.Big
		if e := param(req, 1, &amount); e != nil {
			return nil, e
		}
		if err := n.SetBalance(ctx, addr, (*big.Int)(&amount)); err != nil {
			return nil, serverError(err)
		}
		return true, nil

	case "hardhat_setCode":
		var addr common.Address
		if e := param(req, 0, &addr); e != nil {
			return nil, e
		}
		var code hexutil.Bytes
		if e := param(req, 1, &code); e != nil {
			return nil, e
		}
		if err := n.SetCode(ctx, addr, code); err != nil {
			return nil, serverError(err)
		}
		return true, nil

	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "the method " + req.Method + " does not exist/is not available"}
	}
}

// executionError maps a failed execution to the error clients decode revert
// reasons from
func executionError(res *ExecResult) *rpcError {
	if !res.Reverted() {
		return serverError(res.Err)
	}
	msg := "execution reverted"
	if reason, err := abi.UnpackRevert(res.ReturnData); err == nil {
		msg += ": " + reason
	}
	return &rpcError{Code: codeReverted, Message: msg, Data: hexutil.Bytes(res.ReturnData)}
}
