// Package storage implements the item store and publication ledger on
// SQLite. One Store owns the single write connection; the monitor writes
// price fields, the hands-off engine writes publication state.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pricewatch/internal/catalog"
	"pricewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout is a fixed-width RFC3339 variant. Timestamps are compared
// as TEXT in SQL, so every digit must always be present: RFC3339Nano
// trims trailing zeros, which would make "12:00:00Z" sort after
// "12:00:00.5Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- ItemStore ----

const itemColumns = `id, title, current_price, buy_box_price, lowest_price,
	affiliate_url, image_url, publish_enabled, last_updated, last_published`

func (s *Store) ListAll(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (catalog.Item, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Item{}, false, nil
	}
	if err != nil {
		return catalog.Item{}, false, err
	}
	return it, true, nil
}

func (s *Store) UpdatePrice(ctx context.Context, id string, price float64, observedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET current_price = ?, last_updated = ? WHERE id = ?`,
		price, observedAt.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update price: item %q not found", id)
	}
	return nil
}

func (s *Store) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_published = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// UpsertItem creates or replaces a catalog entry. The admin surface that
// feeds the catalog lives outside this process; this is its write path and
// the seed path for tests.
func (s *Store) UpsertItem(ctx context.Context, it catalog.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			current_price = excluded.current_price,
			buy_box_price = excluded.buy_box_price,
			lowest_price = excluded.lowest_price,
			affiliate_url = excluded.affiliate_url,
			image_url = excluded.image_url,
			publish_enabled = excluded.publish_enabled`,
		it.ID, it.Title,
		nullPrice(it.CurrentPrice), nullPrice(it.BuyBoxPrice), nullPrice(it.LowestPrice),
		it.AffiliateURL, it.ImageURL, it.PublishEnabled,
		nullTime(it.LastUpdated), nullTime(it.LastPublished),
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// ---- Ledger ----

func (s *Store) Latest(ctx context.Context, itemID string) (catalog.PublicationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, title, price, published_at FROM publications
		 WHERE item_id = ? ORDER BY published_at DESC LIMIT 1`, itemID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.PublicationRecord{}, false, nil
	}
	if err != nil {
		return catalog.PublicationRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Append(ctx context.Context, rec catalog.PublicationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publications (id, item_id, title, price, published_at) VALUES (?,?,?,?,?)`,
		rec.ID, rec.ItemID, rec.Title, rec.Price, rec.PublishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("append publication: %w", err)
	}
	return nil
}

func (s *Store) ListRange(ctx context.Context, from, to time.Time) ([]catalog.PublicationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, title, price, published_at FROM publications
		 WHERE published_at >= ? AND published_at <= ? ORDER BY published_at`,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var recs []catalog.PublicationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (catalog.Item, error) {
	var (
		it                         catalog.Item
		cur, buyBox, lowest        sql.NullFloat64
		lastUpdated, lastPublished sql.NullString
	)
	err := row.Scan(&it.ID, &it.Title, &cur, &buyBox, &lowest,
		&it.AffiliateURL, &it.ImageURL, &it.PublishEnabled, &lastUpdated, &lastPublished)
	if err != nil {
		return catalog.Item{}, err
	}
	it.CurrentPrice = coercePrice(cur)
	it.BuyBoxPrice = coercePrice(buyBox)
	it.LowestPrice = coercePrice(lowest)
	it.LastUpdated = parseTime(lastUpdated)
	it.LastPublished = parseTime(lastPublished)
	return it, nil
}

func scanRecord(row rowScanner) (catalog.PublicationRecord, error) {
	var (
		rec catalog.PublicationRecord
		at  string
	)
	if err := row.Scan(&rec.ID, &rec.ItemID, &rec.Title, &rec.Price, &at); err != nil {
		return catalog.PublicationRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return catalog.PublicationRecord{}, fmt.Errorf("bad published_at %q: %w", at, err)
	}
	rec.PublishedAt = t
	return rec, nil
}

// coercePrice rejects NULL and negative amounts at the boundary so the
// decision logic only ever sees a known, non-negative price.
func coercePrice(v sql.NullFloat64) catalog.Price {
	if !v.Valid || v.Float64 < 0 {
		return catalog.Price{}
	}
	return catalog.NewPrice(v.Float64)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullPrice(p catalog.Price) any {
	if !p.Known {
		return nil
	}
	return p.Value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
