package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/babylon-finance/forkharness/internal/accounts"
)

var ErrNoBytecode = errors.New("artifact has no bytecode")

// Artifact is a compiled contract in the hardhat artifact format.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// LoadArtifact reads a hardhat artifact JSON file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	a, err := ParseArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return a, nil
}

func ParseArtifact(data []byte) (*Artifact, error) {
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(f.ABI)))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	a := &Artifact{ContractName: f.ContractName, ABI: parsed}
	if f.Bytecode != "" && f.Bytecode != "0x" {
		code, err := hexutil.Decode(f.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("decode bytecode: %w", err)
		}
		a.Bytecode = code
	}
	return a, nil
}

// Deploy creates the contract with constructor args and returns it bound
// to the new address.
func (a *Artifact) Deploy(ctx context.Context, deployer accounts.Signer, backend Backend, args ...interface{}) (*Contract, *types.Receipt, error) {
	if len(a.Bytecode) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", a.ContractName, ErrNoBytecode)
	}
	ctorArgs, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s constructor: %w", a.ContractName, err)
	}
	initCode := append(append([]byte{}, a.Bytecode...), ctorArgs...)

	hash, err := deployer.Send(ctx, accounts.TxRequest{Data: initCode})
	if err != nil {
		return nil, nil, fmt.Errorf("deploy %s: %w", a.ContractName, err)
	}
	receipt, err := WaitMined(ctx, backend, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("deploy %s: %w", a.ContractName, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, receipt, &RevertError{Method: a.ContractName + ".constructor"}
	}
	return NewContract(receipt.ContractAddress, a.ABI, backend, nil), receipt, nil
}

// Attach binds the artifact ABI to an existing deployment.
func (a *Artifact) Attach(address common.Address, backend Backend) *Contract {
	return NewContract(address, a.ABI, backend, nil)
}
