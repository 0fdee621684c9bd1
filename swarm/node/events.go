package node

import (
	"context"
	"errors"
	"fmt"

	"eventnode/datamodel/event"
	"eventnode/metrics"
	"eventnode/swarm/fetch"
	"eventnode/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// PeerEvents is the outcome of a paginated fetch from the elected peer.
type PeerEvents struct {
	Spend        []event.SpendEvent
	Sent         []event.SentEvent
	CurrentBlock uint64 // Height the elected peer reported in the latest round
	Source       string // Address of the elected peer, empty when there was none
	Err          error  // Why the fetch stopped before the end of data, nil if it did not
}

// GetEventsFromElectedPeer pages through the elected peer's events starting at
// the given sequence cursors. A failing page ends the fetch and the events
// received so far are returned; the error is kept in PeerEvents.Err. With no
// elected peer the result is empty.
func (n *Node) GetEventsFromElectedPeer(ctx context.Context, fromSpend, fromSent uint64) (*PeerEvents, error) {
	elected, ok := n.Registry.Elected()
	if !ok {
		log.Warnf("GetEventsFromElectedPeer: no elected peer")
		return &PeerEvents{}, nil
	}

	res := fetch.Paginate(ctx, fromSpend, fromSent, n.pageSize, func(ctx context.Context, fromSpend, fromSent, length uint64) (*protocol.GetEventsResponse, error) {
		page, err := n.Client.GetEvents(ctx, elected.Address, fromSpend, fromSent, length)
		n.record(elected, protocol.PathEvents, err)
		return page, err
	})

	log.WithField("peer", elected.Address).Infof("Fetched %d spend and %d sent events in %d pages", len(res.Spend), len(res.Sent), res.Pages)

	return &PeerEvents{
		Spend:        res.Spend,
		Sent:         res.Sent,
		CurrentBlock: elected.CurrentBlock,
		Source:       elected.Address,
		Err:          res.Err,
	}, nil
}

// GetSpendEvents queries the provider for spend events in blocks [from, to).
func (n *Node) GetSpendEvents(ctx context.Context, from, to uint64) ([]event.SpendEvent, error) {
	q := n.ProviderNetwork()
	if q == nil {
		return nil, fmt.Errorf("provider: %w", ErrNotConfigured)
	}
	return fetch.Adaptive(ctx, from, to, n.adaptive, instrument[event.SpendEvent](event.KindSpend, q.QuerySpend))
}

// GetSentEvents queries the provider for sent events in blocks [from, to).
func (n *Node) GetSentEvents(ctx context.Context, from, to uint64) ([]event.SentEvent, error) {
	q := n.ProviderNetwork()
	if q == nil {
		return nil, fmt.Errorf("provider: %w", ErrNotConfigured)
	}
	return fetch.Adaptive(ctx, from, to, n.adaptive, instrument[event.SentEvent](event.KindSent, q.QuerySent))
}

func instrument[T fetch.Blocker](kind event.Kind, query fetch.QueryFunc[T]) fetch.QueryFunc[T] {
	return func(ctx context.Context, from, to uint64) ([]T, error) {
		metrics.ProviderStep.WithLabelValues(kind.String()).Set(float64(to - from))
		res, err := query(ctx, from, to)
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.ProviderChunks.WithLabelValues(kind.String(), outcome).Inc()
		return res, err
	}
}

type SyncReport struct {
	Source string // Elected peer address, or "provider"
	Spend  int    // Events handed to the index
	Sent   int
	Synced uint64 // Index synced block after the sync
}

const sourceProvider = "provider"

// SyncEvents brings the local event index forward, from the elected peer when
// one exists and from the provider otherwise.
func (n *Node) SyncEvents(ctx context.Context) (*SyncReport, error) {
	if n.EventIndex == nil {
		return nil, fmt.Errorf("event index: %w", ErrNotConfigured)
	}

	var (
		report *SyncReport
		err    error
	)
	if _, ok := n.Registry.Elected(); ok {
		report, err = n.syncFromPeer(ctx)
	} else {
		report, err = n.syncFromProvider(ctx)
	}
	if report != nil {
		report.Synced = n.EventIndex.SyncedBlock()
		metrics.IndexedEvents.WithLabelValues(event.KindSpend.String()).Set(float64(n.EventIndex.Count(event.KindSpend)))
		metrics.IndexedEvents.WithLabelValues(event.KindSent.String()).Set(float64(n.EventIndex.Count(event.KindSent)))
		metrics.SyncedBlock.WithLabelValues().Set(float64(report.Synced))
	}
	return report, err
}

func (n *Node) syncFromPeer(ctx context.Context) (*SyncReport, error) {
	idx := n.EventIndex

	res, err := n.GetEventsFromElectedPeer(ctx, idx.Count(event.KindSpend), idx.Count(event.KindSent))
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Source: res.Source, Spend: len(res.Spend), Sent: len(res.Sent)}
	if err := idx.AppendSpend(res.Spend); err != nil {
		return report, fmt.Errorf("append spend events: %w", err)
	}
	if err := idx.AppendSent(res.Sent); err != nil {
		return report, fmt.Errorf("append sent events: %w", err)
	}

	// A cut-short fetch resumes from the index counts next time
	if res.Err == nil && res.CurrentBlock > idx.SyncedBlock() {
		if err := idx.SetSyncedBlock(res.CurrentBlock); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (n *Node) syncFromProvider(ctx context.Context) (*SyncReport, error) {
	q := n.ProviderNetwork()
	if q == nil {
		return nil, fmt.Errorf("no elected peer and no provider: %w", ErrNotConfigured)
	}
	idx := n.EventIndex

	from := max(idx.SyncedBlock(), n.deployBlock)
	head, err := q.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider head: %w", err)
	}
	to := head + 1

	report := &SyncReport{Source: sourceProvider}
	if from >= to {
		return report, nil
	}

	log.Infof("Syncing events from the provider, blocks [%d, %d)", from, to)

	// Partial results are kept, the index skips what it already holds when the range is retried
	spend, spendErr := n.GetSpendEvents(ctx, from, to)
	report.Spend = len(spend)
	if err := idx.AppendSpend(spend); err != nil {
		return report, fmt.Errorf("append spend events: %w", err)
	}

	sent, sentErr := n.GetSentEvents(ctx, from, to)
	report.Sent = len(sent)
	if err := idx.AppendSent(sent); err != nil {
		return report, fmt.Errorf("append sent events: %w", err)
	}

	if err := errors.Join(spendErr, sentErr); err != nil {
		return report, err
	}
	return report, idx.SetSyncedBlock(to)
}
