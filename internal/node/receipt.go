package node

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt represents the result of a mined transaction
type Receipt struct {
	Type              hexutil.Uint64  `json:"type"`
	TxHash            common.Hash     `json:"transactionHash"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Logs              []*types.Log    `json:"logs"`
	LogsBloom         types.Bloom     `json:"logsBloom"`
	Status            hexutil.Uint64  `json:"status"`
	ReturnData        hexutil.Bytes   `json:"returnData,omitempty"` // revert data of failed transactions
}

// ReceiptStore manages transaction receipts in memory
type ReceiptStore struct {
	receipts map[common.Hash]*Receipt
	mu       sync.RWMutex
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[common.Hash]*Receipt),
	}
}

func (s *ReceiptStore) AddReceipt(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.TxHash] = r.DeepCopy()
}

func (s *ReceiptStore) GetReceipt(hash common.Hash) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[hash].DeepCopy()
}

// Copy returns an independent store with the same receipts.
func (s *ReceiptStore) Copy() *ReceiptStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := NewReceiptStore()
	for h, r := range s.receipts {
		cp.receipts[h] = r // stored receipts are never mutated
	}
	return cp
}

// DeepCopy creates a deep copy of the Receipt
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}

	result := *r
	if r.BlockNumber != nil {
		result.BlockNumber = (*hexutil.Big)(new(big.Int).Set(r.BlockNumber.ToInt()))
	}
	if r.EffectiveGasPrice != nil {
		result.EffectiveGasPrice = (*hexutil.Big)(new(big.Int).Set(r.EffectiveGasPrice.ToInt()))
	}
	if r.To != nil {
		to := *r.To
		result.To = &to
	}
	if r.ContractAddress != nil {
		ca := *r.ContractAddress
		result.ContractAddress = &ca
	}

	result.Logs = make([]*types.Log, len(r.Logs))
	for i, log := range r.Logs {
		if log == nil {
			continue
		}
		logCopy := *log
		logCopy.Topics = append([]common.Hash{}, log.Topics...)
		logCopy.Data = common.CopyBytes(log.Data)
		result.Logs[i] = &logCopy
	}

	result.ReturnData = common.CopyBytes(r.ReturnData)
	return &result
}
