package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event is a decoded log with normalized fields.
type Event struct {
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	LogIndex uint           `json:"logIndex"`
	Fields   map[string]any `json:"fields"`
}

// DecodeEvents decodes the logs emitted by addr that match an event of contractABI, in log
// order. Logs from other contracts and unknown topics are skipped.
func DecodeEvents(contractABI abi.ABI, addr common.Address, logs []*types.Log) ([]Event, error) {
	var out []Event
	for _, lg := range logs {
		if lg == nil || lg.Address != addr || len(lg.Topics) == 0 {
			continue
		}
		ev, err := contractABI.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}

		raw := make(map[string]any)
		if err := ev.Inputs.UnpackIntoMap(raw, lg.Data); err != nil {
			return nil, fmt.Errorf("contracts: decode %s data: %w", ev.Name, err)
		}
		var indexed abi.Arguments
		for _, in := range ev.Inputs {
			if in.Indexed {
				indexed = append(indexed, in)
			}
		}
		if err := abi.ParseTopicsIntoMap(raw, indexed, lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("contracts: decode %s topics: %w", ev.Name, err)
		}

		fields := make(map[string]any, len(raw))
		for k, v := range raw {
			fields[k] = Normalize(v)
		}
		out = append(out, Event{
			Name:     ev.Name,
			Address:  lg.Address,
			LogIndex: lg.Index,
			Fields:   fields,
		})
	}
	return out, nil
}

// FindEvents returns the events named name, in order.
func FindEvents(events []Event, name string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// EncodeEvent builds the log ev would emit from addr with the given argument values, in ABI
// input order.
func EncodeEvent(ev abi.Event, addr common.Address, values ...any) (*types.Log, error) {
	if len(values) != len(ev.Inputs) {
		return nil, fmt.Errorf("contracts: %s: want %d values, got %d", ev.Name, len(ev.Inputs), len(values))
	}
	topics := []common.Hash{ev.ID}
	var data []any
	for i, in := range ev.Inputs {
		if !in.Indexed {
			data = append(data, values[i])
			continue
		}
		t, err := abi.MakeTopics([]any{values[i]})
		if err != nil {
			return nil, fmt.Errorf("contracts: %s: topic %s: %w", ev.Name, in.Name, err)
		}
		topics = append(topics, t[0][0])
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("contracts: %s: pack data: %w", ev.Name, err)
	}
	return &types.Log{Address: addr, Topics: topics, Data: packed}, nil
}
