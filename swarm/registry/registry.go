// Package registry keeps the set of known peers and the elected synchronization source.
package registry

import (
	"sync"

	"eventnode/datamodel/peer"
)

// Registry is the canonical, ordered list of known peers. It never holds two
// peers with the same address and never holds the node's own external address.
type Registry struct {
	mu           sync.RWMutex
	peers        []peer.Peer
	elected      *peer.Peer
	externalAddr string
	isClient     bool
}

// New creates an empty registry. externalAddr may be empty for client-role nodes.
func New(externalAddr string, isClient bool) *Registry {
	return &Registry{
		externalAddr: externalAddr,
		isClient:     isClient,
	}
}

func (r *Registry) ExternalAddr() string {
	return r.externalAddr
}

func (r *Registry) IsClient() bool {
	return r.isClient
}

// Add appends p unless it is this node or its address is already known.
// An existing record is never overwritten, use Update for that.
func (r *Registry) Add(p peer.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(p)
}

func (r *Registry) addLocked(p peer.Peer) bool {
	if r.externalAddr != "" && p.Address == r.externalAddr {
		return false
	}
	for _, known := range r.peers {
		if known.Address == p.Address {
			return false
		}
	}
	r.peers = append(r.peers, p)
	return true
}

// Remove drops every peer with the given address. The elected peer is not affected.
func (r *Registry) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(address)
}

func (r *Registry) removeLocked(address string) {
	kept := r.peers[:0]
	for _, p := range r.peers {
		if p.Address != address {
			kept = append(kept, p)
		}
	}
	// Clear the tail so dropped records are not retained by the backing array
	for i := len(kept); i < len(r.peers); i++ {
		r.peers[i] = peer.Peer{}
	}
	r.peers = kept
}

// Update replaces the stored record for p.Address with p. The replaced peer
// moves to the end of the list.
func (r *Registry) Update(p peer.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(p.Address)
	r.addLocked(p)
}

// List returns a snapshot of the known peers.
func (r *Registry) List() []peer.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]peer.Peer(nil), r.peers...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Has reports whether a peer with the given address is known.
func (r *Registry) Has(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.Address == address {
			return true
		}
	}
	return false
}

// Elected returns the peer elected by the latest successful round.
func (r *Registry) Elected() (peer.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.elected == nil {
		return peer.Peer{}, false
	}
	return *r.elected, true
}

func (r *Registry) SetElected(p peer.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elected = &p
}

// Restore loads persisted state through the usual insertion rules.
func (r *Registry) Restore(peers []peer.Peer, elected *peer.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range peers {
		r.addLocked(p)
	}
	if elected != nil {
		e := *elected
		r.elected = &e
	}
}
