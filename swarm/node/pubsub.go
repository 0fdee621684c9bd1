package node

import (
	"context"
	"net"

	"eventnode/datamodel/peer"
	"eventnode/net/mpubsub"
	"eventnode/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

const TopicAnnouncement = "peer.announce"

func (n *Node) subscribe() {
	mpubsub.SubscribeTo(n.PubSub, TopicAnnouncement, n.handleAnnouncement)
}

func (n *Node) handleAnnouncement(msg *protocol.Announcement, from *net.UDPAddr) {
	if msg.Address == "" || msg.Address == n.Registry.ExternalAddr() {
		return
	}
	if n.Registry.Has(msg.Address) {
		return
	}

	log.Infof("Announcement: %s at block %d (from %s)", msg.Address, msg.CurrentBlock, from)
	n.Registry.Add(peer.Peer{Address: msg.Address, CurrentBlock: msg.CurrentBlock})
}

// This is run via the RunWithTicker() helper
func (n *Node) publishAnnouncement(ctx context.Context) error {
	msg := &protocol.Announcement{
		Address:      n.Registry.ExternalAddr(),
		CurrentBlock: n.CurrentBlock(ctx),
	}

	if err := n.PubSub.Publish(TopicAnnouncement, msg); err != nil {
		log.Errorf("Failed to publish announcement: %v", err)
	}

	return nil
}
