// Package report builds periodic CSV summaries of what was published and
// mails them out.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"pricewatch/internal/catalog"
	"pricewatch/pkg/logx"
)

type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// Mailer delivers a finished report. Satisfied by email.Sender.
type Mailer interface {
	Send(subject, body string, attachment []byte, filename string) error
}

type Reporter struct {
	ledger catalog.Ledger
	mailer Mailer
	log    logx.Logger
	now    func() time.Time
}

func New(ledger catalog.Ledger, mailer Mailer, log logx.Logger) *Reporter {
	return &Reporter{ledger: ledger, mailer: mailer, log: log, now: time.Now}
}

func (r *Reporter) SetClock(now func() time.Time) { r.now = now }

// Send mails the publications of the given period. An empty period sends
// nothing and is not an error.
func (r *Reporter) Send(ctx context.Context, p Period) error {
	now := r.now()
	start, err := PeriodStart(p, now)
	if err != nil {
		return err
	}

	recs, err := r.ledger.ListRange(ctx, start, now)
	if err != nil {
		return fmt.Errorf("%s report: %w", p, err)
	}
	if len(recs) == 0 {
		r.log.Info("no publications in period, skipping report", logx.String("period", string(p)))
		return nil
	}

	csvData := BuildCSV(recs)
	filename := fmt.Sprintf("%s_report_%s.csv", p, now.Format("20060102_150405"))
	subject := fmt.Sprintf("%s product report", p)
	body := fmt.Sprintf("Attached: %d publication(s) since %s.", len(recs), start.Format(time.RFC1123))

	if r.mailer == nil {
		r.log.Warn("no mailer configured, dropping report", logx.String("period", string(p)))
		return nil
	}
	if err := r.mailer.Send(subject, body, csvData, filename); err != nil {
		return fmt.Errorf("%s report: %w", p, err)
	}
	r.log.Info("report sent", logx.String("period", string(p)), logx.Int("records", len(recs)))
	return nil
}

// PeriodStart returns the inclusive lower bound of the report window:
// daily since local midnight, weekly since Monday midnight, monthly since
// the first of the month.
func PeriodStart(p Period, now time.Time) (time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case Daily:
		return midnight, nil
	case Weekly:
		// Monday-based week, so a Sunday report covers the past six days.
		offset := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset), nil
	case Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("unknown report period %q", p)
	}
}

func BuildCSV(recs []catalog.PublicationRecord) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"item_id", "title", "price", "published_at"})
	for _, rec := range recs {
		_ = w.Write([]string{
			rec.ItemID,
			rec.Title,
			strconv.FormatFloat(rec.Price, 'f', 2, 64),
			rec.PublishedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	return buf.Bytes()
}
