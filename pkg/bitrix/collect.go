package bitrix

import (
	"context"

	"github.com/bruin-data/dealsync/pkg/deal"
	"github.com/pkg/errors"
)

type CollectStats struct {
	Pages int
	// Total is the record count the CRM reported on its last page.
	Total int
	// StoppedEarly is set when a page request failed with a non-success
	// status and the records gathered so far were returned.
	StoppedEarly bool
	StopReason   error
}

// CollectDeals pages through the deal listing from offset zero until the CRM
// stops returning a next offset. A non-success status ends the walk early
// without an error; transport and decoding failures are returned.
func (c *Client) CollectDeals(ctx context.Context) ([]*deal.Record, CollectStats, error) {
	var (
		records []*deal.Record
		stats   CollectStats
		start   int
	)

	for {
		page, err := c.ListDeals(ctx, start)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				c.logger.Warnw("stopping deal collection early", "start", start, "error", statusErr)
				stats.StoppedEarly = true
				stats.StopReason = statusErr
				break
			}
			return nil, stats, errors.Wrapf(err, "failed to list deals at offset %d", start)
		}

		stats.Pages++
		stats.Total = page.Total
		records = append(records, page.Deals...)
		c.logger.Debugw("fetched deal page", "start", start, "count", len(page.Deals), "next", page.Next)

		if page.Next == nil {
			break
		}
		if *page.Next <= start {
			return nil, stats, errors.Errorf("crm returned non-increasing offset %d after %d", *page.Next, start)
		}
		start = *page.Next
	}

	c.logger.Infof("collected %d deals in %d pages", len(records), stats.Pages)
	return records, stats, nil
}
