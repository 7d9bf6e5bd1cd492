package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for check-in and check-out dates.
const DateLayout = "2006-01-02"

// User is a platform user together with its daily action quota state.
type User struct {
	ID           int64     `json:"id" db:"user_id"`
	ActionCount  int       `json:"action_count" db:"action_count"`
	CountResetAt time.Time `json:"count_reset_at" db:"count_reset_at"`
	LastActiveAt time.Time `json:"last_active_at" db:"last_active_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Deactivation reasons stored on an alert.
const (
	ReasonUser          = "user"
	ReasonFailureStreak = "failure_streak"
)

// Alert monitors an area and date range for a nightly price at or below MaxPrice.
type Alert struct {
	ID                 string          `json:"id" db:"id"`
	UserID             int64           `json:"user_id" db:"user_id"`
	Area               string          `json:"area" db:"area"`
	CheckIn            time.Time       `json:"check_in" db:"check_in"`
	CheckOut           time.Time       `json:"check_out" db:"check_out"`
	MaxPrice           decimal.Decimal `json:"max_price" db:"max_price"`
	Guests             int             `json:"guests" db:"guests"`
	Active             bool            `json:"active" db:"active"`
	FailStreak         int             `json:"fail_streak" db:"fail_streak"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	LastCheckedAt      time.Time       `json:"last_checked_at,omitzero" db:"last_checked_at"`
	DeactivatedAt      time.Time       `json:"deactivated_at,omitzero" db:"deactivated_at"`
	DeactivationReason string          `json:"deactivation_reason,omitempty" db:"deactivation_reason"`
}

// Nights returns the length of the stay.
func (a Alert) Nights() int {
	return Nights(a.CheckIn, a.CheckOut)
}

// QuoteSource tells whether a quote came from the live provider or the fallback generator.
type QuoteSource string

const (
	SourceLive QuoteSource = "live"
	SourceMock QuoteSource = "mock"
)

// PriceQuote is a single nightly price observation for an area and date range.
type PriceQuote struct {
	Area         string          `json:"area"`
	HotelName    string          `json:"hotel_name,omitempty"`
	CheckIn      time.Time       `json:"check_in"`
	CheckOut     time.Time       `json:"check_out"`
	NightlyPrice decimal.Decimal `json:"nightly_price"`
	Currency     string          `json:"currency"`
	RetrievedAt  time.Time       `json:"retrieved_at"`
	Source       QuoteSource     `json:"source"`
}

// PriceHistoryEntry is one append-only observation recorded for an alert.
// RecordedAt is stamped by the evaluator and anchors the notification cooldown;
// it defaults to the quote's retrieval time.
type PriceHistoryEntry struct {
	ID         string     `json:"id" db:"id"`
	AlertID    string     `json:"alert_id" db:"alert_id"`
	Quote      PriceQuote `json:"quote"`
	RecordedAt time.Time  `json:"recorded_at" db:"recorded_at"`
	Triggered  bool       `json:"triggered" db:"triggered"`
	Notified   bool       `json:"notified" db:"notified"`
}

// HistoryFilter selects history entries. Zero fields are ignored.
type HistoryFilter struct {
	AlertID  string    `json:"alert_id,omitempty"`
	Area     string    `json:"area,omitempty"`
	CheckIn  time.Time `json:"check_in,omitzero"`
	CheckOut time.Time `json:"check_out,omitzero"`
	Since    time.Time `json:"since,omitzero"`
}

// ParseDate parses a YYYY-MM-DD date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must use format YYYY-MM-DD", ErrValidation, s)
	}
	return d.UTC(), nil
}

// FormatDate renders a calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// TruncateDay returns UTC midnight of the day containing t.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Nights counts the nights between two calendar dates.
func Nights(checkIn, checkOut time.Time) int {
	return int(TruncateDay(checkOut).Sub(TruncateDay(checkIn)).Hours() / 24)
}

// Guest limits accepted by the provider for a single room.
const (
	DefaultGuests = 2
	MaxGuests     = 9
)

// ValidateGuests checks a guest count. Zero is not accepted; callers apply their default first.
func ValidateGuests(guests int) error {
	if guests < 1 || guests > MaxGuests {
		return fmt.Errorf("%w: guests must be between 1 and %d", ErrValidation, MaxGuests)
	}
	return nil
}

// ValidateStay checks a date range for a booking.
func ValidateStay(checkIn, checkOut time.Time) error {
	if checkIn.IsZero() || checkOut.IsZero() {
		return fmt.Errorf("%w: check-in and check-out dates are required", ErrValidation)
	}
	if !checkOut.After(checkIn) {
		return fmt.Errorf("%w: check-out date must be after check-in date", ErrValidation)
	}
	return nil
}
