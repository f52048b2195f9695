// Package pricesource provides injectable price-fetch capabilities for
// the monitor. A deployment wires exactly one Source; the monitor never
// hard-codes where prices come from.
package pricesource

import (
	"context"
	"math"

	"pricewatch/internal/catalog"
)

// Source yields a freshly observed price for an item. The bool reports
// whether an observation was available at all; an error means the lookup
// itself failed for this item.
type Source interface {
	Fetch(ctx context.Context, item catalog.Item) (float64, bool, error)
}

// Simulated derives a candidate by applying a fixed percentage drop to the
// stored current price. It stands in for a live marketplace lookup in
// deployments that have none.
type Simulated struct {
	DropPercent float64
}

func (s Simulated) Fetch(_ context.Context, item catalog.Item) (float64, bool, error) {
	if !item.CurrentPrice.Known {
		return 0, false, nil
	}
	drop := s.DropPercent
	if drop <= 0 {
		drop = 5
	}
	candidate := item.CurrentPrice.Value * (1 - drop/100)
	return math.Round(candidate*100) / 100, true, nil
}

// Static serves prices from a fixed map keyed by item ID. Deterministic,
// mainly for tests and dry runs.
type Static struct {
	Prices map[string]float64
}

func (s Static) Fetch(_ context.Context, item catalog.Item) (float64, bool, error) {
	p, ok := s.Prices[item.ID]
	return p, ok, nil
}
