// Package catalog defines the tracked-item data model and the store
// contracts consumed by the monitor and the hands-off engine.
package catalog

import "time"

// Price is a decimal amount that may be absent. Raw store values are
// coerced into this type at the storage boundary so decision logic never
// has to guess about missing or malformed fields.
type Price struct {
	Value float64
	Known bool
}

func NewPrice(v float64) Price { return Price{Value: v, Known: true} }

// Item is one tracked product. Price fields are written only by the price
// monitor; publication state only by the hands-off engine.
type Item struct {
	ID             string
	Title          string
	CurrentPrice   Price
	BuyBoxPrice    Price
	LowestPrice    Price
	AffiliateURL   string
	ImageURL       string
	PublishEnabled bool
	LastUpdated    time.Time
	LastPublished  time.Time
}

// PublicationRecord is one entry in the append-only publication ledger.
// Records are immutable once written and ordered by PublishedAt per item.
type PublicationRecord struct {
	ID          string
	ItemID      string
	Title       string
	Price       float64
	PublishedAt time.Time
}

// Reason tags why an item was published or skipped in a sweep.
type Reason string

const (
	ReasonNeverPublished      Reason = "never_published"
	ReasonPriceDroppedFurther Reason = "price_dropped_further"
	ReasonCooldownExpired     Reason = "cooldown_expired"
	ReasonAboveBuyBox         Reason = "above_buy_box"
	ReasonRecentAndNotLower   Reason = "recent_and_not_lower"
	ReasonMissingData         Reason = "missing_data"
)

// Decision is the per-item outcome of one hands-off sweep. It is never
// persisted; it drives the dispatch call and is asserted on in tests.
type Decision struct {
	Publish bool
	Reason  Reason
}
