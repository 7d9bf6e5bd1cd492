// Package history records price observations and answers trend and
// notification cooldown queries over them.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Backend is the subset of storage the history store needs.
type Backend interface {
	AppendHistory(ctx context.Context, entry *model.PriceHistoryEntry) error
	QueryHistory(ctx context.Context, filter model.HistoryFilter) ([]model.PriceHistoryEntry, error)
	LastNotifiedAt(ctx context.Context, alertID string) (time.Time, bool, error)
}

// Direction summarises how prices moved over a period.
type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
	DirectionStable  Direction = "stable"
	DirectionUnknown Direction = "unknown"
)

// Trend aggregates observations for one stay.
type Trend struct {
	Area      string          `json:"area"`
	CheckIn   time.Time       `json:"check_in"`
	CheckOut  time.Time       `json:"check_out"`
	Since     time.Time       `json:"since"`
	Count     int             `json:"count"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	Average   decimal.Decimal `json:"average"`
	First     decimal.Decimal `json:"first"`
	Latest    decimal.Decimal `json:"latest"`
	Currency  string          `json:"currency,omitempty"`
	Direction Direction       `json:"direction"`
}

// stableBand is the relative change under which a trend counts as stable (2%).
var stableBand = decimal.RequireFromString("0.02")

// Store wraps a Backend with history semantics.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore creates a history store.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Append persists an observation. Entries are never updated afterwards.
func (s *Store) Append(ctx context.Context, entry *model.PriceHistoryEntry) error {
	if entry.AlertID == "" {
		return fmt.Errorf("%w: history entry without alert", model.ErrValidation)
	}
	return s.backend.AppendHistory(ctx, entry)
}

// ForAlert returns the alert's observations from the last days days, oldest
// first. A non-positive days returns the full history.
func (s *Store) ForAlert(ctx context.Context, alertID string, days int) ([]model.PriceHistoryEntry, error) {
	f := model.HistoryFilter{AlertID: alertID}
	if days > 0 {
		f.Since = s.now().AddDate(0, 0, -days)
	}
	return s.backend.QueryHistory(ctx, f)
}

// NotifiedWithin reports whether the alert produced a notification in the
// cooldown window ending at now.
func (s *Store) NotifiedWithin(ctx context.Context, alertID string, cooldown time.Duration, now time.Time) (bool, error) {
	if cooldown <= 0 {
		return false, nil
	}
	last, ok, err := s.backend.LastNotifiedAt(ctx, alertID)
	if err != nil {
		return false, err
	}
	return ok && now.Sub(last) < cooldown, nil
}

// Trend summarises every observation for a stay over the last days days,
// across all alerts watching it.
func (s *Store) Trend(ctx context.Context, area string, checkIn, checkOut time.Time, days int) (*Trend, error) {
	f := model.HistoryFilter{Area: area, CheckIn: checkIn, CheckOut: checkOut}
	if days > 0 {
		f.Since = s.now().AddDate(0, 0, -days)
	}
	entries, err := s.backend.QueryHistory(ctx, f)
	if err != nil {
		return nil, err
	}
	t := Summarize(entries)
	t.Area, t.CheckIn, t.CheckOut, t.Since = area, checkIn, checkOut, f.Since
	return t, nil
}

// Summarize computes trend statistics over entries ordered by retrieval time.
func Summarize(entries []model.PriceHistoryEntry) *Trend {
	t := &Trend{Count: len(entries), Direction: DirectionUnknown}
	if len(entries) == 0 {
		return t
	}

	sum := decimal.Zero
	for i, e := range entries {
		p := e.Quote.NightlyPrice
		if i == 0 || p.LessThan(t.Min) {
			t.Min = p
		}
		if i == 0 || p.GreaterThan(t.Max) {
			t.Max = p
		}
		sum = sum.Add(p)
	}
	t.First = entries[0].Quote.NightlyPrice
	t.Latest = entries[len(entries)-1].Quote.NightlyPrice
	t.Currency = entries[len(entries)-1].Quote.Currency
	t.Average = sum.Div(decimal.NewFromInt(int64(len(entries)))).Round(2)

	if len(entries) < 2 || t.First.IsZero() {
		return t
	}
	change := t.Latest.Sub(t.First).Div(t.First)
	switch {
	case change.GreaterThan(stableBand):
		t.Direction = DirectionRising
	case change.LessThan(stableBand.Neg()):
		t.Direction = DirectionFalling
	default:
		t.Direction = DirectionStable
	}
	return t
}
