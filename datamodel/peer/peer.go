package peer

import "fmt"

// Peer is a remote node identified by its network address, tracked with the
// last chain height it reported.
type Peer struct {
	Address      string `json:"address" cbor:"1,keyasint,omitempty"`       // host:port of the peer HTTP API
	CurrentBlock uint64 `json:"current_block" cbor:"2,keyasint,omitempty"` // Last reported block height
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%d", p.Address, p.CurrentBlock)
}

// PeerIndex defines the interface for persisting the peer registry between runs.
type PeerIndex interface {
	// Save replaces the stored peer list and elected peer with the given snapshot.
	// A nil elected peer clears the stored election.
	Save(peers []Peer, elected *Peer) error

	// Load returns the stored peer list in insertion order and the stored elected peer, if any.
	Load() ([]Peer, *Peer, error)
}
