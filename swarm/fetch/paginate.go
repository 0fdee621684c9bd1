// Package fetch implements the two event retrieval strategies: positional
// paging against a peer and adaptive block-range queries against a provider.
package fetch

import (
	"context"

	"eventnode/datamodel/event"
	"eventnode/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

const DefaultPageSize = 256

// PageFunc fetches the page of events starting at the given cursors.
type PageFunc func(ctx context.Context, fromSpend, fromSent, length uint64) (*protocol.GetEventsResponse, error)

type PageResult struct {
	Spend []event.SpendEvent
	Sent  []event.SentEvent
	Pages int   // Non-empty pages received
	Err   error // Failure that cut the fetch short, nil when the end of data was reached
}

// Paginate requests pages of pageSize events until a page with no spend and
// no sent events arrives or a request fails. Both cursors advance by the full
// page size after every non-empty page, which relies on the upstream paging
// being positional (only the last page may be short).
func Paginate(ctx context.Context, fromSpend, fromSent, pageSize uint64, fetch PageFunc) PageResult {
	var res PageResult

	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		page, err := fetch(ctx, fromSpend, fromSent, pageSize)
		if err != nil {
			log.Errorf("Paginate: page at spend %d, sent %d failed: %v", fromSpend, fromSent, err)
			res.Err = err
			return res
		}

		if len(page.SpendEvents) == 0 && len(page.SentEvents) == 0 {
			log.Debugf("Paginate: end of data at spend %d, sent %d", fromSpend, fromSent)
			return res
		}

		res.Spend = append(res.Spend, page.SpendEvents...)
		res.Sent = append(res.Sent, page.SentEvents...)
		res.Pages++

		fromSpend += pageSize
		fromSent += pageSize
	}
}
