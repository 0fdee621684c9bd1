package node

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"

	"eventnode/datamodel/event"
	"eventnode/datamodel/peer"
	"eventnode/datastore/leveldb"
	"eventnode/swarm/client"
	"eventnode/swarm/fetch"
	"eventnode/swarm/protocol"
	"eventnode/swarm/registry"
	"eventnode/swarm/server"

	"github.com/stretchr/testify/require"
)

func spendKeys(events []event.SpendEvent) map[string]string {
	out := make(map[string]string, len(events))
	for _, e := range events {
		out[e.Key()] = e.Nullifier.String()
	}
	return out
}

func sentKeys(events []event.SentEvent) map[string]string {
	out := make(map[string]string, len(events))
	for _, e := range events {
		out[e.Key()] = e.Commitment.String()
	}
	return out
}

func electedNode(t *testing.T, p *mockPeer, height uint64) (*Node, *registry.Registry) {
	reg := registry.New("", true)
	reg.Add(peer.Peer{Address: p.Addr(), CurrentBlock: height})
	reg.SetElected(peer.Peer{Address: p.Addr(), CurrentBlock: height})
	return newTestNode(t, reg), reg
}

func newEventIndex(t *testing.T) *leveldb.EventIndex {
	idx, err := leveldb.NewEventIndex(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// serveNode exposes n on the peer API and returns its address.
func serveNode(t *testing.T, n *Node) string {
	srv, err := server.New("127.0.0.1:0", n, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv.Addr().String()
}

func TestPeerThenProviderFallbackKeepsEvents(t *testing.T) {
	ctx := context.Background()
	onChain := append(makeSpend(30), event.SpendEvent{
		Position:  event.Position{BlockNumber: 500, TxHash: "0xlate"},
		Nullifier: big.NewInt(500),
	})
	provider := &fakeProvider{head: 1000, spend: onChain}

	// The remote's index is behind the chain head
	remoteIdx := newEventIndex(t)
	require.NoError(t, remoteIdx.AppendSpend(onChain[:30]))
	require.NoError(t, remoteIdx.SetSyncedBlock(10))
	remote := New(testConfig(), registry.New("", true), client.New(), remoteIdx, nil)
	remote.SetProviderNetwork(provider)
	require.Equal(t, uint64(10), remote.Greet(ctx, true, ""))
	addr := serveNode(t, remote)

	localIdx := newEventIndex(t)
	reg := registry.New("", true)
	reg.Add(peer.Peer{Address: addr})
	local := New(testConfig(), reg, client.New(), localIdx, nil)
	local.SetProviderNetwork(provider)

	_, err := local.SyncWithPeers(ctx)
	require.NoError(t, err)
	elected, ok := reg.Elected()
	require.True(t, ok)
	require.Equal(t, uint64(10), elected.CurrentBlock)

	report, err := local.SyncEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, addr, report.Source)
	require.Equal(t, uint64(30), localIdx.Count(event.KindSpend))
	require.Equal(t, uint64(10), localIdx.SyncedBlock())

	// Without peers the provider picks up where the peer's index ended
	fallback := New(testConfig(), registry.New("", true), client.New(), localIdx, nil)
	fallback.SetProviderNetwork(provider)

	report, err = fallback.SyncEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, sourceProvider, report.Source)
	require.Equal(t, uint64(31), localIdx.Count(event.KindSpend))
	require.Equal(t, uint64(1001), localIdx.SyncedBlock())
}

func TestOversizedPageSizeFetchesEverything(t *testing.T) {
	remoteIdx := newEventIndex(t)
	require.NoError(t, remoteIdx.AppendSpend(makeSpend(3000)))
	remote := New(testConfig(), registry.New("", true), client.New(), remoteIdx, nil)
	addr := serveNode(t, remote)

	cfg := testConfig()
	cfg.Sync.PageSize = 2000
	reg := registry.New("", true)
	reg.SetElected(peer.Peer{Address: addr})
	local := New(cfg, reg, client.New(), nil, nil)

	res, err := local.GetEventsFromElectedPeer(context.Background(), 0, 0)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, res.Spend, 3000)
}

func TestPeerAndProviderFetchAgree(t *testing.T) {
	spend := makeSpend(600)
	sent := makeSent(300)

	p := newMockPeer(t, 299)
	p.spend = spend
	p.sent = sent
	n, _ := electedNode(t, p, 299)
	n.SetProviderNetwork(&fakeProvider{head: 299, spend: spend, sent: sent})

	fromPeer, err := n.GetEventsFromElectedPeer(context.Background(), 0, 0)
	require.NoError(t, err)
	require.NoError(t, fromPeer.Err)
	require.Equal(t, uint64(299), fromPeer.CurrentBlock)
	require.Equal(t, p.Addr(), fromPeer.Source)

	// 256 + 256 + 88 spend, then one empty page
	require.Equal(t, int32(4), p.eventRequests.Load())

	direct, err := n.GetSpendEvents(context.Background(), 0, 300)
	require.NoError(t, err)
	directSent, err := n.GetSentEvents(context.Background(), 0, 300)
	require.NoError(t, err)

	require.Len(t, fromPeer.Spend, 600)
	require.Len(t, direct, 600)
	require.Equal(t, spendKeys(direct), spendKeys(fromPeer.Spend))
	require.Len(t, fromPeer.Sent, 300)
	require.Equal(t, sentKeys(directSent), sentKeys(fromPeer.Sent))
}

func TestElectedPeerFetchWithoutElection(t *testing.T) {
	n := newTestNode(t, registry.New("", true))

	res, err := n.GetEventsFromElectedPeer(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Empty(t, res.Spend)
	require.Empty(t, res.Sent)
	require.Empty(t, res.Source)
}

func TestElectedPeerFetchKeepsPartialResult(t *testing.T) {
	p := newMockPeer(t, 50)
	p.spend = makeSpend(600)
	p.sent = makeSent(10)
	p.failEventsFrom = 2
	n, _ := electedNode(t, p, 50)

	res, err := n.GetEventsFromElectedPeer(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Error(t, res.Err)
	require.Equal(t, client.Status, client.KindOf(res.Err))
	require.Len(t, res.Spend, fetch.DefaultPageSize)
	require.Len(t, res.Sent, 10)
	require.Equal(t, uint64(50), res.CurrentBlock)
}

func TestElectedPeerFetchUsesCursors(t *testing.T) {
	p := newMockPeer(t, 9)
	p.spend = makeSpend(20)
	p.sent = makeSent(20)
	n, _ := electedNode(t, p, 9)

	res, err := n.GetEventsFromElectedPeer(context.Background(), 15, 5)
	require.NoError(t, err)
	require.Len(t, res.Spend, 5)
	require.Len(t, res.Sent, 15)
	require.Equal(t, p.spend[15].Key(), res.Spend[0].Key())
	require.Equal(t, p.sent[5].Key(), res.Sent[0].Key())
}

func TestProviderFetchNotConfigured(t *testing.T) {
	n := newTestNode(t, registry.New("", true))

	_, err := n.GetSpendEvents(context.Background(), 0, 10)
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = n.GetSentEvents(context.Background(), 0, 10)
	require.ErrorIs(t, err, ErrNotConfigured)
	require.Nil(t, n.ProviderNetwork())
}

func TestSyncEventsFromProvider(t *testing.T) {
	idx := newEventIndex(t)
	provider := &fakeProvider{head: 99, spend: makeSpend(30), sent: makeSent(100)}

	reg := registry.New("", true)
	n := New(testConfig(), reg, client.New(), idx, nil)
	n.SetProviderNetwork(provider)

	report, err := n.SyncEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, sourceProvider, report.Source)
	require.Equal(t, 30, report.Spend)
	require.Equal(t, 100, report.Sent)
	require.Equal(t, uint64(100), report.Synced)
	require.Equal(t, uint64(30), idx.Count(event.KindSpend))
	require.Equal(t, uint64(100), idx.Count(event.KindSent))

	// Nothing new on chain
	report, err = n.SyncEvents(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Spend)
	require.Equal(t, uint64(30), idx.Count(event.KindSpend))

	// Chain grows
	provider.head = 120
	provider.sent = makeSent(121)
	report, err = n.SyncEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, 21, report.Sent)
	require.Equal(t, uint64(121), idx.Count(event.KindSent))
	require.Equal(t, uint64(121), idx.SyncedBlock())
}

func TestSyncEventsFromElectedPeer(t *testing.T) {
	idx := newEventIndex(t)
	p := newMockPeer(t, 40)
	p.spend = makeSpend(300)
	p.sent = makeSent(41)

	reg := registry.New("", true)
	reg.SetElected(peer.Peer{Address: p.Addr(), CurrentBlock: 40})
	n := New(testConfig(), reg, client.New(), idx, nil)

	report, err := n.SyncEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, p.Addr(), report.Source)
	require.Equal(t, uint64(300), idx.Count(event.KindSpend))
	require.Equal(t, uint64(41), idx.Count(event.KindSent))
	require.Equal(t, uint64(40), idx.SyncedBlock())

	// The next sync resumes at the stored counts and finds nothing new
	before := p.eventRequests.Load()
	report, err = n.SyncEvents(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Spend)
	require.Equal(t, before+1, p.eventRequests.Load())

	// The index serves the same pages back
	spend, sent, err := n.EventPage(256, 0, 256)
	require.NoError(t, err)
	require.Len(t, spend, 44)
	require.Len(t, sent, 41)
	require.Equal(t, p.spend[256].Key(), spend[0].Key())
}

func TestSyncEventsNotConfigured(t *testing.T) {
	n := newTestNode(t, registry.New("", true))
	_, err := n.SyncEvents(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	n = New(testConfig(), registry.New("", true), client.New(), newEventIndex(t), nil)
	_, err = n.SyncEvents(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = newTestNode(t, registry.New("", true)).EventPage(0, 0, 10)
	require.True(t, errors.Is(err, ErrNotConfigured))
}

func TestGreetAddsServerCallers(t *testing.T) {
	reg := registry.New("me:1", false)
	n := newTestNode(t, reg)
	n.SetProviderNetwork(&fakeProvider{head: 321})

	require.Equal(t, uint64(321), n.Greet(context.Background(), false, "other:2"))
	require.Equal(t, uint64(321), n.Greet(context.Background(), true, "ignored:3"))
	require.Equal(t, uint64(321), n.Greet(context.Background(), false, "me:1"))
	require.Equal(t, []string{"other:2"}, addrs(n.Peers()))
}

func TestHandleAnnouncement(t *testing.T) {
	reg := registry.New("me:1", false)
	n := newTestNode(t, reg)
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 9645}

	n.handleAnnouncement(&protocol.Announcement{Address: "me:1", CurrentBlock: 5}, from)
	n.handleAnnouncement(&protocol.Announcement{Address: "other:2", CurrentBlock: 5}, from)
	n.handleAnnouncement(&protocol.Announcement{Address: "other:2", CurrentBlock: 9}, from)
	n.handleAnnouncement(&protocol.Announcement{}, from)

	require.Equal(t, []peer.Peer{{Address: "other:2", CurrentBlock: 5}}, reg.List())
}
