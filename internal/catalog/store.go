package catalog

import (
	"context"
	"time"
)

// ItemStore is the shared item catalog. ListAll must return every tracked
// item; Get reports absence via the bool, not an error.
type ItemStore interface {
	ListAll(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id string) (Item, bool, error)
	UpdatePrice(ctx context.Context, id string, price float64, observedAt time.Time) error
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// Ledger is the append-only publication log. Latest returns the most
// recent record for an item by PublishedAt; ListRange returns all records
// with from <= PublishedAt <= to, oldest first.
type Ledger interface {
	Latest(ctx context.Context, itemID string) (PublicationRecord, bool, error)
	Append(ctx context.Context, rec PublicationRecord) error
	ListRange(ctx context.Context, from, to time.Time) ([]PublicationRecord, error)
}
