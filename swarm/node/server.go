package node

import (
	"context"

	"eventnode/datamodel/event"
	"eventnode/datamodel/peer"
)

// The methods below back the peer-facing HTTP endpoints.

// Greet handles an incoming handshake. A server-role caller that sent its
// address is added to the registry. It returns the height this node reports.
func (n *Node) Greet(ctx context.Context, isClient bool, addr string) uint64 {
	if !isClient && addr != "" {
		n.Registry.Add(peer.Peer{Address: addr})
	}
	return n.CurrentBlock(ctx)
}

// Peers lists the peers served on /get-peers.
func (n *Node) Peers() []peer.Peer {
	return n.Registry.List()
}

// EventPage returns the events at sequence positions [fromSpend, fromSpend+length)
// and [fromSent, fromSent+length) of the local index.
func (n *Node) EventPage(fromSpend, fromSent, length uint64) ([]event.SpendEvent, []event.SentEvent, error) {
	if n.EventIndex == nil {
		return nil, nil, ErrNotConfigured
	}

	spend, err := n.EventIndex.SpendRange(fromSpend, length)
	if err != nil {
		return nil, nil, err
	}
	sent, err := n.EventIndex.SentRange(fromSent, length)
	if err != nil {
		return nil, nil, err
	}
	return spend, sent, nil
}
