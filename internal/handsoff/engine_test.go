package handsoff

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"pricewatch/internal/catalog"
	"pricewatch/pkg/logx"
)

type memItems struct {
	items     []catalog.Item
	listErr   error
	published map[string]time.Time
}

func (m *memItems) ListAll(context.Context) ([]catalog.Item, error) {
	return m.items, m.listErr
}

func (m *memItems) Get(_ context.Context, id string) (catalog.Item, bool, error) {
	for _, it := range m.items {
		if it.ID == id {
			return it, true, nil
		}
	}
	return catalog.Item{}, false, nil
}

func (m *memItems) UpdatePrice(context.Context, string, float64, time.Time) error {
	return errors.New("engine must not write prices")
}

func (m *memItems) MarkPublished(_ context.Context, id string, at time.Time) error {
	if m.published == nil {
		m.published = map[string]time.Time{}
	}
	m.published[id] = at
	return nil
}

type memLedger struct {
	recs      []catalog.PublicationRecord
	latestErr map[string]error
}

func (m *memLedger) Latest(_ context.Context, itemID string) (catalog.PublicationRecord, bool, error) {
	if err := m.latestErr[itemID]; err != nil {
		return catalog.PublicationRecord{}, false, err
	}
	var best *catalog.PublicationRecord
	for i := range m.recs {
		rec := &m.recs[i]
		if rec.ItemID != itemID {
			continue
		}
		if best == nil || rec.PublishedAt.After(best.PublishedAt) {
			best = rec
		}
	}
	if best == nil {
		return catalog.PublicationRecord{}, false, nil
	}
	return *best, true, nil
}

func (m *memLedger) Append(_ context.Context, rec catalog.PublicationRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLedger) ListRange(_ context.Context, from, to time.Time) ([]catalog.PublicationRecord, error) {
	var out []catalog.PublicationRecord
	for _, rec := range m.recs {
		if !rec.PublishedAt.Before(from) && !rec.PublishedAt.After(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

type stubDispatcher struct {
	err     error
	errFor  map[string]error
	panicOn string
	calls   []string
}

func (d *stubDispatcher) Publish(_ context.Context, item catalog.Item) error {
	d.calls = append(d.calls, item.ID)
	if d.panicOn == item.ID {
		panic("dispatcher exploded")
	}
	if err, ok := d.errFor[item.ID]; ok {
		return err
	}
	return d.err
}

func item(id string, current, buyBox float64) catalog.Item {
	return catalog.Item{
		ID:             id,
		Title:          "Item " + id,
		CurrentPrice:   catalog.NewPrice(current),
		BuyBoxPrice:    catalog.NewPrice(buyBox),
		PublishEnabled: true,
	}
}

func newEngine(items *memItems, ledger *memLedger, d Dispatcher, now time.Time) *Engine {
	e := New(items, ledger, d, DefaultCooldown, logx.Nop())
	e.SetClock(func() time.Time { return now })
	return e
}

func TestDecideStateMachine(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := New(nil, nil, nil, DefaultCooldown, logx.Nop())

	rec := func(price float64, at time.Time) *catalog.PublicationRecord {
		return &catalog.PublicationRecord{ItemID: "a", Price: price, PublishedAt: at}
	}

	tests := []struct {
		name    string
		item    catalog.Item
		last    *catalog.PublicationRecord
		publish bool
		reason  catalog.Reason
	}{
		{
			name:    "missing current price",
			item:    catalog.Item{BuyBoxPrice: catalog.NewPrice(100)},
			publish: false,
			reason:  catalog.ReasonMissingData,
		},
		{
			name:    "missing buy box price",
			item:    catalog.Item{CurrentPrice: catalog.NewPrice(90)},
			publish: false,
			reason:  catalog.ReasonMissingData,
		},
		{
			name:    "above buy box regardless of history",
			item:    item("a", 105, 100),
			last:    rec(90, now.Add(-30*24*time.Hour)),
			publish: false,
			reason:  catalog.ReasonAboveBuyBox,
		},
		{
			name:    "equal to buy box is not below",
			item:    item("a", 100, 100),
			publish: false,
			reason:  catalog.ReasonAboveBuyBox,
		},
		{
			name:    "never published",
			item:    item("a", 90, 100),
			publish: true,
			reason:  catalog.ReasonNeverPublished,
		},
		{
			name:    "deeper discount beats cooldown",
			item:    item("a", 80, 100),
			last:    rec(90, now.Add(-time.Hour)),
			publish: true,
			reason:  catalog.ReasonPriceDroppedFurther,
		},
		{
			name:    "cooldown expired at exact boundary",
			item:    item("a", 90, 100),
			last:    rec(90, now.Add(-DefaultCooldown)),
			publish: true,
			reason:  catalog.ReasonCooldownExpired,
		},
		{
			name:    "cooldown well expired",
			item:    item("a", 90, 100),
			last:    rec(90, now.Add(-5*24*time.Hour)),
			publish: true,
			reason:  catalog.ReasonCooldownExpired,
		},
		{
			name:    "recent and same price",
			item:    item("a", 90, 100),
			last:    rec(90, now.Add(-time.Hour)),
			publish: false,
			reason:  catalog.ReasonRecentAndNotLower,
		},
		{
			name:    "recent and higher than last published",
			item:    item("a", 95, 100),
			last:    rec(90, now.Add(-DefaultCooldown+time.Second)),
			publish: false,
			reason:  catalog.ReasonRecentAndNotLower,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := e.Decide(tt.item, tt.last, now)
			if d.Publish != tt.publish || d.Reason != tt.reason {
				t.Fatalf("Decide = {%v %s}, want {%v %s}", d.Publish, d.Reason, tt.publish, tt.reason)
			}
		})
	}
}

// The five reference scenarios, run as consecutive sweeps against the
// same ledger.
func TestSweepScenarioSequence(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	items := &memItems{items: []catalog.Item{item("a", 90, 100)}}
	ledger := &memLedger{}
	disp := &stubDispatcher{}

	now := t0
	e := New(items, ledger, disp, DefaultCooldown, logx.Nop())
	e.SetClock(func() time.Time { return now })

	// 1: no history -> publish at 90.
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}
	if len(ledger.recs) != 1 || ledger.recs[0].Price != 90 {
		t.Fatalf("after sweep 1: %+v", ledger.recs)
	}

	// 2: unchanged price one hour later -> skip.
	now = t0.Add(time.Hour)
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	if len(ledger.recs) != 1 {
		t.Fatalf("after sweep 2: expected no new record, got %d", len(ledger.recs))
	}

	// 3: drops to 80 -> publish again.
	items.items[0].CurrentPrice = catalog.NewPrice(80)
	now = t0.Add(2 * time.Hour)
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep 3: %v", err)
	}
	if len(ledger.recs) != 2 || ledger.recs[1].Price != 80 {
		t.Fatalf("after sweep 3: %+v", ledger.recs)
	}

	// 4: same price, five days after the last record -> cooldown expired.
	now = now.Add(5 * 24 * time.Hour)
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep 4: %v", err)
	}
	if len(ledger.recs) != 3 {
		t.Fatalf("after sweep 4: expected 3 records, got %d", len(ledger.recs))
	}

	// 5: rises above buy box -> skip regardless of history.
	items.items[0].CurrentPrice = catalog.NewPrice(105)
	now = now.Add(time.Hour)
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep 5: %v", err)
	}
	if len(ledger.recs) != 3 {
		t.Fatalf("after sweep 5: expected 3 records, got %d", len(ledger.recs))
	}
}

func TestSweepFirstPublishIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	items := &memItems{items: []catalog.Item{item("a", 90, 100)}}
	ledger := &memLedger{}
	disp := &stubDispatcher{}
	e := newEngine(items, ledger, disp, now)

	// Two immediate sweeps without a price change: exactly one record.
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(ledger.recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(ledger.recs))
	}
	if len(disp.calls) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(disp.calls))
	}
}

func TestSweepDispatchFailureAppendsNothing(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	items := &memItems{items: []catalog.Item{item("a", 90, 100)}}
	ledger := &memLedger{}
	disp := &stubDispatcher{err: errors.New("channel down")}
	e := newEngine(items, ledger, disp, now)

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ledger.recs) != 0 {
		t.Fatalf("expected no record after failed dispatch, got %d", len(ledger.recs))
	}

	// The next sweep retries the same decision.
	disp.err = nil
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("retry sweep: %v", err)
	}
	if len(ledger.recs) != 1 {
		t.Fatalf("expected record after successful retry, got %d", len(ledger.recs))
	}
}

func TestSweepIsolatesPerItemFailures(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	items := &memItems{items: []catalog.Item{
		item("a", 90, 100),
		item("b", 50, 60),
		item("c", 10, 20),
	}}
	ledger := &memLedger{latestErr: map[string]error{"a": errors.New("ledger read failed")}}
	disp := &stubDispatcher{panicOn: "b"}
	e := newEngine(items, ledger, disp, now)

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// a failed on ledger read, b panicked mid-dispatch; c still published.
	if len(ledger.recs) != 1 || ledger.recs[0].ItemID != "c" {
		t.Fatalf("records = %+v, want only item c", ledger.recs)
	}
}

func TestSweepSkipsDisabledItems(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	disabled := item("a", 90, 100)
	disabled.PublishEnabled = false
	items := &memItems{items: []catalog.Item{disabled}}
	ledger := &memLedger{}
	disp := &stubDispatcher{}
	e := newEngine(items, ledger, disp, now)

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(disp.calls) != 0 {
		t.Fatalf("disabled item was dispatched: %v", disp.calls)
	}
}

func TestSweepListFailureEscalates(t *testing.T) {
	t.Parallel()
	items := &memItems{listErr: errors.New("store down")}
	e := newEngine(items, &memLedger{}, &stubDispatcher{}, time.Now())
	if err := e.Sweep(context.Background()); err == nil {
		t.Fatal("expected error when the whole store is unreachable")
	}
}
