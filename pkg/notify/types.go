// Package notify delivers alert notifications to users and operators.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindPriceDrop   Kind = "price_drop"
	KindDeactivated Kind = "alert_deactivated"
)

// Notification is a message about one alert.
type Notification struct {
	Kind      Kind              `json:"kind"`
	UserID    int64             `json:"user_id"`
	AlertID   string            `json:"alert_id"`
	Area      string            `json:"area"`
	CheckIn   time.Time         `json:"check_in"`
	CheckOut  time.Time         `json:"check_out"`
	Guests    int               `json:"guests,omitempty"`
	MaxPrice  decimal.Decimal   `json:"max_price"`
	Price     decimal.Decimal   `json:"price,omitzero"`
	Currency  string            `json:"currency,omitempty"`
	HotelName string            `json:"hotel_name,omitempty"`
	Source    model.QuoteSource `json:"source,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Text      string            `json:"text"`
}

// Notifier sends notifications to an external system.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers a notification. Implementations must be safe for concurrent use.
	Send(ctx context.Context, n Notification) error
}

// PriceDrop builds the notification for a quote at or below the alert ceiling.
func PriceDrop(alert model.Alert, q model.PriceQuote) Notification {
	n := Notification{
		Kind:      KindPriceDrop,
		UserID:    alert.UserID,
		AlertID:   alert.ID,
		Area:      alert.Area,
		CheckIn:   alert.CheckIn,
		CheckOut:  alert.CheckOut,
		Guests:    alert.Guests,
		MaxPrice:  alert.MaxPrice,
		Price:     q.NightlyPrice,
		Currency:  q.Currency,
		HotelName: q.HotelName,
		Source:    q.Source,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Price alert: %s is now %s per night\n", areaTitle(alert.Area), money(q.NightlyPrice, q.Currency))
	if q.HotelName != "" {
		fmt.Fprintf(&b, "Hotel: %s\n", q.HotelName)
	}
	fmt.Fprintf(&b, "Dates: %s to %s (%d nights)\n", model.FormatDate(alert.CheckIn), model.FormatDate(alert.CheckOut), alert.Nights())
	if alert.Guests > 0 {
		fmt.Fprintf(&b, "Guests: %d\n", alert.Guests)
	}
	fmt.Fprintf(&b, "Your maximum: %s per night\n", money(alert.MaxPrice, q.Currency))
	if q.Source == model.SourceMock {
		b.WriteString("Note: live prices were unavailable, this is an estimate.\n")
	}
	fmt.Fprintf(&b, "Alert ID: %s", alert.ID)
	n.Text = b.String()
	return n
}

// Deactivated builds the notice sent when the engine gives up on an alert.
func Deactivated(alert model.Alert, failures int) Notification {
	return Notification{
		Kind:     KindDeactivated,
		UserID:   alert.UserID,
		AlertID:  alert.ID,
		Area:     alert.Area,
		CheckIn:  alert.CheckIn,
		CheckOut: alert.CheckOut,
		MaxPrice: alert.MaxPrice,
		Reason:   model.ReasonFailureStreak,
		Text: fmt.Sprintf("Your price alert for %s (%s to %s) was paused after %d failed price checks in a row. "+
			"Create a new alert to keep watching.\nAlert ID: %s",
			areaTitle(alert.Area), model.FormatDate(alert.CheckIn), model.FormatDate(alert.CheckOut), failures, alert.ID),
	}
}

func money(d decimal.Decimal, currency string) string {
	switch currency {
	case "", "GBP":
		return "£" + d.StringFixed(2)
	case "EUR":
		return "€" + d.StringFixed(2)
	case "USD":
		return "$" + d.StringFixed(2)
	default:
		return d.StringFixed(2) + " " + currency
	}
}

func areaTitle(area string) string {
	words := strings.Fields(area)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
