package registry

import "eventnode/datamodel/peer"

// Election picks the most advanced peer among those observed during one
// synchronization round. A candidate replaces the current leader when its
// height is greater than or equal to the leader's, so on a tie the peer
// observed last wins.
type Election struct {
	leader *peer.Peer
}

// Better reports whether candidate should replace current.
func Better(candidate, current peer.Peer) bool {
	return candidate.CurrentBlock >= current.CurrentBlock
}

func (e *Election) Consider(candidate peer.Peer) {
	if e.leader == nil || Better(candidate, *e.leader) {
		c := candidate
		e.leader = &c
	}
}

// Winner returns the leader, if any peer was considered.
func (e *Election) Winner() (peer.Peer, bool) {
	if e.leader == nil {
		return peer.Peer{}, false
	}
	return *e.leader, true
}
