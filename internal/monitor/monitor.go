// Package monitor implements the recurring price sweep: observe a fresh
// price per item and persist it when it undercuts both the stored current
// price and the buy-box price.
package monitor

import (
	"context"
	"fmt"
	"time"

	"pricewatch/internal/catalog"
	"pricewatch/internal/pricesource"
	"pricewatch/pkg/logx"
)

type Monitor struct {
	items  catalog.ItemStore
	source pricesource.Source
	log    logx.Logger
	now    func() time.Time
}

func New(items catalog.ItemStore, source pricesource.Source, log logx.Logger) *Monitor {
	return &Monitor{items: items, source: source, log: log, now: time.Now}
}

// SetClock overrides the wall clock. Tests use this to pin timestamps.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Sweep fetches a candidate price for every tracked item and applies the
// update rule. Per-item failures (source error, missing data, store write
// error) are logged and skipped; only a failure to list the catalog at all
// aborts the sweep.
func (m *Monitor) Sweep(ctx context.Context) error {
	items, err := m.items.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("price sweep: list items: %w", err)
	}

	updated := 0
	for _, it := range items {
		candidate, ok, err := m.source.Fetch(ctx, it)
		if err != nil {
			m.log.Warn("price fetch failed", logx.String("item", it.ID), logx.Err(err))
			continue
		}
		if !ok {
			m.log.Debug("no price observation", logx.String("item", it.ID))
			continue
		}
		if !shouldUpdate(it, candidate) {
			m.log.Debug("no price update required", logx.String("item", it.ID), logx.Float64("candidate", candidate))
			continue
		}
		if err := m.items.UpdatePrice(ctx, it.ID, candidate, m.now()); err != nil {
			m.log.Warn("price update failed", logx.String("item", it.ID), logx.Err(err))
			continue
		}
		updated++
		m.log.Info("price updated",
			logx.String("item", it.ID),
			logx.Float64("old", it.CurrentPrice.Value),
			logx.Float64("new", candidate),
		)
	}
	m.log.Info("price sweep done", logx.Int("items", len(items)), logx.Int("updated", updated))
	return nil
}

// shouldUpdate is the monitor's update rule: take the candidate only when
// it is strictly below both the stored current price and the buy-box
// price. Items with unknown prices are left alone.
func shouldUpdate(it catalog.Item, candidate float64) bool {
	if candidate < 0 {
		return false
	}
	if !it.CurrentPrice.Known || !it.BuyBoxPrice.Known {
		return false
	}
	return candidate < it.CurrentPrice.Value && candidate < it.BuyBoxPrice.Value
}
