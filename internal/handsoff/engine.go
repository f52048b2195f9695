// Package handsoff is the publish-decision engine: on every sweep it
// walks the catalog, consults the publication ledger and decides per item
// whether to announce it again.
package handsoff

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"pricewatch/internal/catalog"
	"pricewatch/pkg/logx"
)

// Dispatcher is the outbound notification capability. A nil error means
// the announcement went out (per the configured channel policy).
type Dispatcher interface {
	Publish(ctx context.Context, item catalog.Item) error
}

const DefaultCooldown = 4 * 24 * time.Hour

type Engine struct {
	items      catalog.ItemStore
	ledger     catalog.Ledger
	dispatcher Dispatcher
	cooldown   time.Duration
	log        logx.Logger
	now        func() time.Time
}

func New(items catalog.ItemStore, ledger catalog.Ledger, dispatcher Dispatcher, cooldown time.Duration, log logx.Logger) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{
		items:      items,
		ledger:     ledger,
		dispatcher: dispatcher,
		cooldown:   cooldown,
		log:        log,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock. Tests use this to advance virtual
// time instead of sleeping.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Decide computes the per-item decision. Step order is significant: a
// price below buy-box but not below the last published price always skips
// within the cooldown window, even though it never matched step 4. The
// cooldown boundary is inclusive: exactly cooldown elapsed re-enables
// publishing.
func (e *Engine) Decide(item catalog.Item, last *catalog.PublicationRecord, now time.Time) catalog.Decision {
	if !item.CurrentPrice.Known || !item.BuyBoxPrice.Known {
		return catalog.Decision{Reason: catalog.ReasonMissingData}
	}
	if item.CurrentPrice.Value >= item.BuyBoxPrice.Value {
		return catalog.Decision{Reason: catalog.ReasonAboveBuyBox}
	}
	if last == nil {
		return catalog.Decision{Publish: true, Reason: catalog.ReasonNeverPublished}
	}
	if item.CurrentPrice.Value < last.Price {
		return catalog.Decision{Publish: true, Reason: catalog.ReasonPriceDroppedFurther}
	}
	if now.Sub(last.PublishedAt) >= e.cooldown {
		return catalog.Decision{Publish: true, Reason: catalog.ReasonCooldownExpired}
	}
	return catalog.Decision{Reason: catalog.ReasonRecentAndNotLower}
}

// Sweep runs the decision machine over every publish-enabled item. One
// item failing (ledger read, dispatch, even a panic) never stops the rest
// of the sweep; the item is left untouched and retried next time.
func (e *Engine) Sweep(ctx context.Context) error {
	items, err := e.items.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("hands-off sweep: list items: %w", err)
	}

	published := 0
	for _, it := range items {
		if !it.PublishEnabled {
			continue
		}
		ok, err := e.processItem(ctx, it)
		if err != nil {
			e.log.Warn("hands-off item failed", logx.String("item", it.ID), logx.Err(err))
			continue
		}
		if ok {
			published++
		}
	}
	e.log.Info("hands-off sweep done", logx.Int("items", len(items)), logx.Int("published", published))
	return nil
}

func (e *Engine) processItem(ctx context.Context, it catalog.Item) (published bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("panic in hands-off item",
				logx.String("item", it.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	var last *catalog.PublicationRecord
	rec, found, err := e.ledger.Latest(ctx, it.ID)
	if err != nil {
		return false, fmt.Errorf("ledger latest: %w", err)
	}
	if found {
		last = &rec
	}

	now := e.now()
	d := e.Decide(it, last, now)
	if !d.Publish {
		e.log.Debug("skip", logx.String("item", it.ID), logx.String("reason", string(d.Reason)))
		return false, nil
	}

	if err := e.dispatcher.Publish(ctx, it); err != nil {
		// No record is appended, so the next sweep retries the same
		// decision. That is the only retry mechanism here.
		return false, fmt.Errorf("dispatch: %w", err)
	}

	newRec := catalog.PublicationRecord{
		ID:          uuid.NewString(),
		ItemID:      it.ID,
		Title:       it.Title,
		Price:       it.CurrentPrice.Value,
		PublishedAt: now,
	}
	if err := e.ledger.Append(ctx, newRec); err != nil {
		return false, fmt.Errorf("ledger append: %w", err)
	}
	if err := e.items.MarkPublished(ctx, it.ID, now); err != nil {
		// Ledger already has the record; the item flag is cosmetic.
		e.log.Warn("mark published failed", logx.String("item", it.ID), logx.Err(err))
	}

	e.log.Info("published",
		logx.String("item", it.ID),
		logx.String("reason", string(d.Reason)),
		logx.Float64("price", it.CurrentPrice.Value),
	)
	return true, nil
}
