package contracts

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrEventMismatch = errors.New("log does not match event")
	ErrEventNotFound = errors.New("event not found in logs")
)

// LogDecoder decodes logs emitted by one contract ABI.
type LogDecoder struct {
	abi abi.ABI
}

func NewLogDecoder(parsed abi.ABI) *LogDecoder {
	return &LogDecoder{abi: parsed}
}

// Decode unpacks log as event into a map keyed by argument name. The first
// topic must equal the event ID.
func (d *LogDecoder) Decode(event string, log *types.Log) (map[string]interface{}, error) {
	ev, ok := d.abi.Events[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", event)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, fmt.Errorf("%w: %s", ErrEventMismatch, event)
	}

	out := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := d.abi.UnpackIntoMap(out, event, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s data: %w", event, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse %s topics: %w", event, err)
	}
	return out, nil
}

// FindAll decodes every log matching event and skips the rest.
func (d *LogDecoder) FindAll(event string, logs []*types.Log) ([]map[string]interface{}, error) {
	var found []map[string]interface{}
	for _, log := range logs {
		decoded, err := d.Decode(event, log)
		if errors.Is(err, ErrEventMismatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, decoded)
	}
	return found, nil
}

// First returns the first log matching event.
func (d *LogDecoder) First(event string, logs []*types.Log) (map[string]interface{}, error) {
	found, err := d.FindAll(event, logs)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, event)
	}
	return found[0], nil
}
