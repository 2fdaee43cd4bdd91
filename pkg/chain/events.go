package chain

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultLockEventABI describes the source bridge contract's deposit event.
// Overridable per deployment via the endpoint's ABI descriptor.
const DefaultLockEventABI = `[{"anonymous":false,"type":"event","name":"TokensLocked","inputs":[{"name":"user","type":"address","indexed":true},{"name":"token","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"destinationChainId","type":"uint256","indexed":false},{"name":"transactionNonce","type":"bytes32","indexed":true}]}]`

// DefaultLockEventName is the event filtered for on the source contract.
const DefaultLockEventName = "TokensLocked"

// LockEvent is a deposit observed on the source chain. Immutable once
// decoded; the transaction nonce emitted by the contract is the dedup key.
type LockEvent struct {
	Nonce              common.Hash
	User               common.Address
	Token              common.Address
	Amount             *big.Int
	DestinationChainID *big.Int
	BlockNumber        uint64
	TxHash             common.Hash
	LogIndex           uint
}

// Key returns the event's dedup identifier.
func (e LockEvent) Key() string { return e.Nonce.Hex() }

// decodeLockEvents maps raw filtered logs onto LockEvents and orders them by
// ascending block number, then ascending in-block log index.
func decodeLockEvents(contractABI abi.ABI, eventName string, logs []types.Log) ([]LockEvent, error) {
	events := make([]LockEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		event, err := decodeLockEvent(contractABI, eventName, lg)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func decodeLockEvent(contractABI abi.ABI, eventName string, lg types.Log) (LockEvent, error) {
	if len(lg.Topics) != 4 {
		return LockEvent{}, fmt.Errorf("log in tx %s has %d topics, want 4", lg.TxHash.Hex(), len(lg.Topics))
	}

	unpacked, err := contractABI.Unpack(eventName, lg.Data)
	if err != nil {
		return LockEvent{}, fmt.Errorf("failed to unpack %s log data: %w", eventName, err)
	}
	if len(unpacked) != 2 {
		return LockEvent{}, fmt.Errorf("unpacked %d values from %s log data, want 2", len(unpacked), eventName)
	}
	amount, ok := unpacked[0].(*big.Int)
	if !ok {
		return LockEvent{}, fmt.Errorf("%s amount is not uint256", eventName)
	}
	destChainID, ok := unpacked[1].(*big.Int)
	if !ok {
		return LockEvent{}, fmt.Errorf("%s destinationChainId is not uint256", eventName)
	}

	return LockEvent{
		User:               common.BytesToAddress(lg.Topics[1].Bytes()),
		Token:              common.BytesToAddress(lg.Topics[2].Bytes()),
		Nonce:              lg.Topics[3],
		Amount:             amount,
		DestinationChainID: destChainID,
		BlockNumber:        lg.BlockNumber,
		TxHash:             lg.TxHash,
		LogIndex:           lg.Index,
	}, nil
}
