package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"eventnode/chain"
	"eventnode/config"
	"eventnode/datamodel/event"
	"eventnode/datamodel/peer"
	"eventnode/helper/timer"
	"eventnode/net/mpubsub"
	"eventnode/swarm/client"
	"eventnode/swarm/fetch"
	"eventnode/swarm/protocol"
	"eventnode/swarm/registry"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when an operation needs a capability the node was not given.
var ErrNotConfigured = errors.New("not configured")

// Service is a long-running component started by Run, such as the HTTP server.
type Service interface {
	Serve(ctx context.Context) error
}

type Node struct {
	Registry *registry.Registry
	Client   *client.Client

	// Storage, both optional
	EventIndex event.EventIndex
	PeerIndex  peer.PeerIndex

	// Networking, both optional
	Server Service
	PubSub *mpubsub.PubSub

	interval    timer.Interval
	pageSize    uint64
	adaptive    fetch.AdaptiveConfig
	deployBlock uint64

	providerMu sync.RWMutex
	provider   chain.EventQuerier

	// One round at a time, concurrent callers share the running round
	roundMu sync.Mutex
	sg      singleflight.Group
}

func New(cfg *config.Config, reg *registry.Registry, c *client.Client, eventIndex event.EventIndex, peerIndex peer.PeerIndex) *Node {
	n := &Node{
		Registry:   reg,
		Client:     c,
		EventIndex: eventIndex,
		PeerIndex:  peerIndex,
		interval: timer.Interval{
			Duration:  cfg.Sync.Interval.Std(),
			Jitter:    cfg.Sync.Jitter.Std(),
			Immediate: true,
		},
		pageSize: cfg.Sync.PageSize,
		adaptive: fetch.AdaptiveConfig{
			MaxStep:     cfg.Sync.MaxStep,
			MinStep:     cfg.Sync.MinStep,
			Timeout:     cfg.Sync.ProviderTimeout.Std(),
			MaxAttempts: cfg.Sync.MaxAttempts,
		},
		deployBlock: cfg.Network.DeployBlock,
	}
	if n.pageSize == 0 {
		n.pageSize = fetch.DefaultPageSize
	}
	// Paging is positional, a page larger than what peers hand out would skip events
	if n.pageSize > protocol.MaxEventsLength {
		log.Warnf("Page size %d exceeds the peer limit, using %d", n.pageSize, protocol.MaxEventsLength)
		n.pageSize = protocol.MaxEventsLength
	}
	if n.adaptive.Timeout <= 0 {
		n.adaptive.Timeout = fetch.DefaultTimeout
	}

	if peerIndex != nil {
		peers, elected, err := peerIndex.Load()
		if err != nil {
			log.Errorf("Failed to load peer index: %v", err)
		} else {
			reg.Restore(peers, elected)
			log.Infof("Restored %d peers from the peer index", len(peers))
		}
	}

	for _, addr := range cfg.Node.BootstrapPeers {
		reg.Add(peer.Peer{Address: addr})
	}

	if reg.IsClient() {
		log.Infof("Running as client, %d peers known", reg.Len())
	} else {
		log.Infof("Running as server at %s, %d peers known", reg.ExternalAddr(), reg.Len())
	}

	return n
}

// SetProviderNetwork installs the blockchain provider used by the direct fetch.
func (n *Node) SetProviderNetwork(q chain.EventQuerier) {
	n.providerMu.Lock()
	defer n.providerMu.Unlock()
	n.provider = q
}

// ProviderNetwork returns the configured provider, or nil.
func (n *Node) ProviderNetwork() chain.EventQuerier {
	n.providerMu.RLock()
	defer n.providerMu.RUnlock()
	return n.provider
}

// CurrentBlock is the height this node reports in handshakes. A node with an
// event index reports the block its index covers, which is what it can serve
// on /events. Without an index it reports the provider's head.
func (n *Node) CurrentBlock(ctx context.Context) uint64 {
	if n.EventIndex != nil {
		return n.EventIndex.SyncedBlock()
	}
	if q := n.ProviderNetwork(); q != nil {
		ctx, cancel := context.WithTimeout(ctx, n.adaptive.Timeout)
		defer cancel()
		head, err := q.BlockNumber(ctx)
		if err == nil {
			return head
		}
		log.Warnf("CurrentBlock: provider unavailable: %v", err)
	}
	return 0
}

// This is run via the RunWithTicker() helper
func (n *Node) syncLoop(ctx context.Context) error {
	started := time.Now()

	if _, err := n.SyncWithPeers(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Misconfiguration does not heal between rounds
		return err
	}

	if n.EventIndex != nil {
		if _, err := n.SyncEvents(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("Event sync failed: %v", err)
		}
	}

	log.Debugf("Sync loop iteration took %v", time.Since(started))
	return nil
}

func (n *Node) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	if n.Server != nil {
		wg.Go(func() error {
			return n.Server.Serve(cctx)
		})
	}

	if n.PubSub != nil {
		n.subscribe()

		wg.Go(func() error {
			return n.PubSub.Listen(cctx)
		})

		if !n.Registry.IsClient() {
			wg.Go(func() error {
				interval := &timer.Interval{
					Duration: n.interval.Duration,
					Jitter:   n.interval.Jitter,
				}
				return timer.RunWithTicker(cctx, interval, n.publishAnnouncement)
			})
		}
	}

	wg.Go(func() error {
		return timer.RunWithTicker(cctx, &n.interval, n.syncLoop)
	})

	err := wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
