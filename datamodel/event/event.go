// Package event defines the on-chain value-transfer events ingested by the node.
package event

import (
	"fmt"
	"math/big"
)

type Kind uint8

const (
	KindSpend Kind = iota + 1
	KindSent
)

func (k Kind) String() string {
	switch k {
	case KindSpend:
		return "spend"
	case KindSent:
		return "sent"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Position locates a log entry on chain. It is the identity of an event.
type Position struct {
	BlockNumber uint64 `json:"block_number" cbor:"1,keyasint,omitempty"`
	TxHash      string `json:"tx_hash" cbor:"2,keyasint,omitempty"`
	LogIndex    uint   `json:"log_index" cbor:"3,keyasint,omitempty"`
}

func (p Position) Key() string {
	return fmt.Sprintf("%d/%s/%d", p.BlockNumber, p.TxHash, p.LogIndex)
}

// SpendEvent is emitted when a commitment is spent.
type SpendEvent struct {
	Position  `cbor:"1,keyasint"`
	Nullifier *big.Int `json:"nullifier" cbor:"2,keyasint,omitempty"`
}

// SentEvent is emitted when a new commitment is created for a receiver.
type SentEvent struct {
	Position         `cbor:"1,keyasint"`
	Index            *big.Int `json:"index" cbor:"2,keyasint,omitempty"`
	Commitment       *big.Int `json:"commitment" cbor:"3,keyasint,omitempty"`
	Timestamp        *big.Int `json:"timestamp" cbor:"4,keyasint,omitempty"`
	HintAmount       *big.Int `json:"hint_amount" cbor:"5,keyasint,omitempty"`
	HintTokenAddress *big.Int `json:"hint_token_address" cbor:"6,keyasint,omitempty"`
}

// Block returns the block the event was emitted in.
func (e SpendEvent) Block() uint64 { return e.BlockNumber }

// Block returns the block the event was emitted in.
func (e SentEvent) Block() uint64 { return e.BlockNumber }

// EventIndex stores ingested events by local, gap-free sequence number per kind.
type EventIndex interface {
	// AppendSpend stores events after the last known spend event. Events already present are skipped.
	AppendSpend([]SpendEvent) error

	// AppendSent stores events after the last known sent event. Events already present are skipped.
	AppendSent([]SentEvent) error

	// SpendRange returns at most length spend events starting at sequence start (0-based).
	SpendRange(start, length uint64) ([]SpendEvent, error)

	// SentRange returns at most length sent events starting at sequence start (0-based).
	SentRange(start, length uint64) ([]SentEvent, error)

	// Count returns the number of stored events of the given kind.
	Count(Kind) uint64

	// SyncedBlock returns the block up to which (exclusive) events have been ingested.
	SyncedBlock() uint64

	// SetSyncedBlock records the block up to which (exclusive) events have been ingested.
	SetSyncedBlock(uint64) error
}
