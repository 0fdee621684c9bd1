// Package protocol defines the peer-to-peer HTTP API shared by client and server.
package protocol

import (
	"eventnode/datamodel/event"
	"eventnode/datamodel/peer"
)

const (
	PathHandshake = "/handshake"
	PathGetPeers  = "/get-peers"
	PathEvents    = "/events"

	ParamIsClient  = "is_client"
	ParamAddr      = "addr"
	ParamFromSpend = "from_spend"
	ParamFromSent  = "from_sent"
	ParamLength    = "length"

	// MaxEventsLength caps the page a server hands out for one /events request
	MaxEventsLength = 1024
)

// GET /handshake?is_client=<bool>[&addr=<address>]
type HandshakeResponse struct {
	CurrentBlockNumber uint64 `json:"current_block_number"`
}

// GET /get-peers
type GetPeersResponse struct {
	Peers []peer.Peer `json:"peers"`
}

// GET /events?from_spend=<u64>&from_sent=<u64>&length=<u64>
//
// Paging is positional: the page starting at from_spend holds the events with
// sequence numbers [from_spend, from_spend+length). Only the final page may be
// short. Two empty lists signal the end of data.
type GetEventsResponse struct {
	SpendEvents []event.SpendEvent `json:"spend_events"`
	SentEvents  []event.SentEvent  `json:"sent_events"`
}

// Announcement is multicast on the LAN by server-role nodes.
type Announcement struct {
	Address      string `cbor:"1,keyasint,omitempty"` // External address of the announcing node
	CurrentBlock uint64 `cbor:"2,keyasint,omitempty"` // Height the node reports in handshakes
}
