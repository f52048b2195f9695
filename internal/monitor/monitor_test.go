package monitor

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"pricewatch/internal/catalog"
	"pricewatch/internal/pricesource"
	"pricewatch/pkg/logx"
)

type memItems struct {
	items   []catalog.Item
	listErr error
	updates map[string]float64
	failUpd map[string]error
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

func (m *memItems) UpdatePrice(_ context.Context, id string, price float64, _ time.Time) error {
	if err := m.failUpd[id]; err != nil {
		return err
	}
	if m.updates == nil {
		m.updates = map[string]float64{}
	}
	m.updates[id] = price
	return nil
}

func (m *memItems) MarkPublished(context.Context, string, time.Time) error {
	return errors.New("monitor must not mark publications")
}

type fakeSource struct {
	prices map[string]float64
	errFor map[string]error
	noObs  map[string]bool
}

func (s fakeSource) Fetch(_ context.Context, it catalog.Item) (float64, bool, error) {
	if err := s.errFor[it.ID]; err != nil {
		return 0, false, err
	}
	if s.noObs[it.ID] {
		return 0, false, nil
	}
	return s.prices[it.ID], true, nil
}

func tracked(id string, current, buyBox float64) catalog.Item {
	return catalog.Item{
		ID:           id,
		Title:        "Item " + id,
		CurrentPrice: catalog.NewPrice(current),
		BuyBoxPrice:  catalog.NewPrice(buyBox),
	}
}

func TestSweepAppliesUpdateRule(t *testing.T) {
	t.Parallel()
	items := &memItems{items: []catalog.Item{
		tracked("below-both", 100, 95),     // candidate 90 < both
		tracked("below-current", 100, 85),  // candidate 90 under current, not buy box
		tracked("equal-current", 90, 95),   // candidate 90 not strictly below
		tracked("above-current", 80, 95),   // candidate 90 above current
	}}
	src := fakeSource{prices: map[string]float64{
		"below-both":    90,
		"below-current": 90,
		"equal-current": 90,
		"above-current": 90,
	}}
	m := New(items, src, logx.Nop())
	m.SetClock(func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) })

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(items.updates) != 1 {
		t.Fatalf("updates = %v, want only below-both", items.updates)
	}
	if got := items.updates["below-both"]; got != 90 {
		t.Fatalf("below-both updated to %v, want 90", got)
	}
}

func TestSweepSkipsUnknownPrices(t *testing.T) {
	t.Parallel()
	noCur := catalog.Item{ID: "no-current", BuyBoxPrice: catalog.NewPrice(100)}
	noBox := catalog.Item{ID: "no-buybox", CurrentPrice: catalog.NewPrice(100)}
	items := &memItems{items: []catalog.Item{noCur, noBox}}
	src := fakeSource{prices: map[string]float64{"no-current": 10, "no-buybox": 10}}
	m := New(items, src, logx.Nop())

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(items.updates) != 0 {
		t.Fatalf("items with unknown prices were updated: %v", items.updates)
	}
}

func TestSweepRejectsNegativeCandidate(t *testing.T) {
	t.Parallel()
	items := &memItems{items: []catalog.Item{tracked("a", 100, 100)}}
	src := fakeSource{prices: map[string]float64{"a": -1}}
	m := New(items, src, logx.Nop())

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(items.updates) != 0 {
		t.Fatalf("negative candidate accepted: %v", items.updates)
	}
}

func TestSweepIsolatesPerItemFailures(t *testing.T) {
	t.Parallel()
	items := &memItems{
		items: []catalog.Item{
			tracked("fetch-fails", 100, 100),
			tracked("no-observation", 100, 100),
			tracked("write-fails", 100, 100),
			tracked("ok", 100, 100),
		},
		failUpd: map[string]error{"write-fails": errors.New("disk full")},
	}
	src := fakeSource{
		prices: map[string]float64{"write-fails": 50, "ok": 50},
		errFor: map[string]error{"fetch-fails": errors.New("source down")},
		noObs:  map[string]bool{"no-observation": true},
	}
	m := New(items, src, logx.Nop())

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(items.updates) != 1 || items.updates["ok"] != 50 {
		t.Fatalf("updates = %v, want only ok=50", items.updates)
	}
}

func TestSweepListFailureEscalates(t *testing.T) {
	t.Parallel()
	items := &memItems{listErr: errors.New("store down")}
	m := New(items, fakeSource{}, logx.Nop())
	if err := m.Sweep(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
}

// Randomized check of the update rule against its definition.
func TestShouldUpdateProperty(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		current := rng.Float64() * 200
		buyBox := rng.Float64() * 200
		candidate := rng.Float64()*220 - 10

		it := tracked("x", current, buyBox)
		got := shouldUpdate(it, candidate)
		want := candidate >= 0 && candidate < current && candidate < buyBox
		if got != want {
			t.Fatalf("shouldUpdate(cur=%v box=%v cand=%v) = %v, want %v",
				current, buyBox, candidate, got, want)
		}
	}
}

func TestSimulatedSourceDropsPrice(t *testing.T) {
	t.Parallel()
	src := pricesource.Simulated{DropPercent: 5}
	price, ok, err := src.Fetch(context.Background(), tracked("a", 100, 120))
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if price != 95 {
		t.Fatalf("price = %v, want 95", price)
	}

	// No stored price means no observation.
	_, ok, err = src.Fetch(context.Background(), catalog.Item{ID: "empty"})
	if err != nil || ok {
		t.Fatalf("empty item: ok=%v err=%v", ok, err)
	}
}
