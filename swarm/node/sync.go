package node

import (
	"context"
	"fmt"
	"time"

	"eventnode/datamodel/peer"
	"eventnode/metrics"
	"eventnode/swarm/client"
	"eventnode/swarm/protocol"
	"eventnode/swarm/registry"

	log "github.com/sirupsen/logrus"
)

// ContactResult records one call made to a peer during a round.
type ContactResult struct {
	Peer     peer.Peer
	Endpoint string
	Failure  client.FailureKind // client.None on success
	Err      error
}

func (c ContactResult) OK() bool {
	return c.Failure == client.None
}

type RoundReport struct {
	Started  time.Time
	Duration time.Duration
	Contacts []ContactResult
	Elected  *peer.Peer // Winner of this round, nil when no handshake succeeded
}

// Failures counts the failed contacts per failure kind.
func (r *RoundReport) Failures() map[client.FailureKind]int {
	out := make(map[client.FailureKind]int)
	for _, c := range r.Contacts {
		if !c.OK() {
			out[c.Failure]++
		}
	}
	return out
}

// Handshakes returns the number of successful handshakes.
func (r *RoundReport) Handshakes() int {
	n := 0
	for _, c := range r.Contacts {
		if c.Endpoint == protocol.PathHandshake && c.OK() {
			n++
		}
	}
	return n
}

// SyncWithPeers runs one handshake round over a snapshot of the registry.
// Peers that fail a handshake or a peer-list request are removed; peers that
// answer get their height updated and their peer lists merged. The most
// advanced responder becomes the elected peer. A round in which no peer
// answers leaves the previous election in place.
//
// Only misconfiguration is reported as an error. If ctx is cancelled the round
// stops, no peer is removed for a call the cancellation cut short, the
// registry is not persisted, and the partial report is returned with ctx's error.
//
// A caller arriving while a round runs joins it and receives its report. The
// joined round runs under the ctx of the caller that started it, so a joining
// caller sees that ctx's cancellation error even when its own ctx is live.
func (n *Node) SyncWithPeers(ctx context.Context) (*RoundReport, error) {
	v, err, shared := n.sg.Do("SyncWithPeers", func() (interface{}, error) {
		n.roundMu.Lock()
		defer n.roundMu.Unlock()
		return n.syncRound(ctx)
	})
	if shared {
		log.Debugf("SyncWithPeers: joined a running round")
	}

	report, _ := v.(*RoundReport)
	return report, err
}

func (n *Node) syncRound(ctx context.Context) (*RoundReport, error) {
	isClient := n.Registry.IsClient()
	self := n.Registry.ExternalAddr()
	if !isClient && self == "" {
		return nil, fmt.Errorf("server role needs an external address: %w", ErrNotConfigured)
	}

	report := &RoundReport{Started: time.Now()}
	defer func() {
		report.Duration = time.Since(report.Started)
		metrics.ObserveRound(report.Duration)
		metrics.KnownPeers.WithLabelValues().Set(float64(n.Registry.Len()))
	}()

	var election registry.Election
	var err error

	for _, p := range n.Registry.List() {
		if err = ctx.Err(); err != nil {
			log.Warnf("SyncWithPeers: round interrupted: %v", err)
			break
		}

		res, herr := n.Client.Handshake(ctx, p.Address, isClient, self)
		contact := n.record(p, protocol.PathHandshake, herr)
		report.Contacts = append(report.Contacts, contact)
		if herr != nil {
			if err = ctx.Err(); err != nil {
				log.Warnf("SyncWithPeers: round interrupted during handshake with %s: %v", p.Address, err)
				break
			}
			log.WithFields(log.Fields{"peer": p.Address, "failure": contact.Failure}).Errorf("Handshake failed, removing peer: %v", herr)
			n.Registry.Remove(p.Address)
			continue
		}

		updated := peer.Peer{Address: p.Address, CurrentBlock: res.CurrentBlockNumber}
		log.WithField("peer", p.Address).Infof("Handshake ok, peer at block %d", updated.CurrentBlock)
		n.Registry.Update(updated)
		election.Consider(updated)

		report.Contacts = append(report.Contacts, n.mergePeersOf(ctx, updated))
	}
	if err == nil {
		err = ctx.Err()
	}

	if winner, ok := election.Winner(); ok {
		n.Registry.SetElected(winner)
		report.Elected = &winner
		metrics.ElectedPeer.WithLabelValues().Set(float64(winner.CurrentBlock))
		log.Infof("Elected %s", winner)
	} else if len(report.Contacts) > 0 {
		log.Warnf("SyncWithPeers: no peer answered, keeping the previous election")
	}

	if err != nil {
		return report, err
	}
	n.savePeers()

	return report, nil
}

// mergePeersOf adds the peers known to source. Known addresses are left
// untouched. If the list cannot be fetched, source is removed, unless ctx was
// cancelled during the call.
func (n *Node) mergePeersOf(ctx context.Context, source peer.Peer) ContactResult {
	res, err := n.Client.GetPeers(ctx, source.Address)
	contact := n.record(source, protocol.PathGetPeers, err)
	if err != nil {
		if ctx.Err() != nil {
			return contact
		}
		log.WithFields(log.Fields{"peer": source.Address, "failure": contact.Failure}).Errorf("Peer list request failed, removing peer: %v", err)
		n.Registry.Remove(source.Address)
		return contact
	}

	before := n.Registry.Len()
	for _, p := range res.Peers {
		n.Registry.Add(p)
	}
	if added := n.Registry.Len() - before; added > 0 {
		log.WithField("peer", source.Address).Infof("Learned %d new peers", added)
	}
	return contact
}

func (n *Node) record(p peer.Peer, endpoint string, err error) ContactResult {
	c := ContactResult{
		Peer:     p,
		Endpoint: endpoint,
		Failure:  client.KindOf(err),
		Err:      err,
	}
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = c.Failure.String()
	}
	metrics.PeerContacts.WithLabelValues(endpoint, outcome).Inc()
	return c
}

func (n *Node) savePeers() {
	if n.PeerIndex == nil {
		return
	}
	var elected *peer.Peer
	if e, ok := n.Registry.Elected(); ok {
		elected = &e
	}
	if err := n.PeerIndex.Save(n.Registry.List(), elected); err != nil {
		log.Errorf("Failed to save peer index: %v", err)
	}
}
