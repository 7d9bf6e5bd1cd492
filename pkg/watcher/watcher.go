// Package watcher exposes the user-facing operations. Every call consumes
// one action from the caller's daily quota before doing any work.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/engine"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/history"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/recommend"
)

// DefaultHistoryDays is the history window used when none is given.
const DefaultHistoryDays = 30

// Quota consumes user actions.
type Quota interface {
	Allow(ctx context.Context, userID int64) error
	Remaining(ctx context.Context, userID int64) (int, error)
}

// Inventory searches hotel prices.
type Inventory interface {
	Search(ctx context.Context, area string, checkIn, checkOut time.Time, guests int) ([]model.PriceQuote, error)
}

// Alerts is the alert registry.
type Alerts interface {
	Create(ctx context.Context, userID int64, area string, checkIn, checkOut time.Time, ceiling decimal.Decimal, guests int) (*model.Alert, error)
	List(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error)
	Get(ctx context.Context, alertID string) (*model.Alert, error)
	Deactivate(ctx context.Context, alertID, reason string) (bool, error)
}

// History reads recorded prices.
type History interface {
	ForAlert(ctx context.Context, alertID string, days int) ([]model.PriceHistoryEntry, error)
	Trend(ctx context.Context, area string, checkIn, checkOut time.Time, days int) (*history.Trend, error)
}

// Checker evaluates a single alert on demand.
type Checker interface {
	CheckAlert(ctx context.Context, alert model.Alert) engine.Result
}

// Advisor produces hotel recommendations.
type Advisor interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Recommendation, error)
}

// Deps groups the collaborators of a Watcher.
type Deps struct {
	Quota     Quota
	Areas     *areas.Table
	Inventory Inventory
	Alerts    Alerts
	History   History
	Checker   Checker
	Advisor   Advisor
	Logger    *slog.Logger
}

// Watcher is the entry point for search, alert and recommendation requests.
type Watcher struct {
	quota     Quota
	areas     *areas.Table
	inventory Inventory
	alerts    Alerts
	history   History
	checker   Checker
	advisor   Advisor
	logger    *slog.Logger
}

// New creates a watcher.
func New(d Deps) *Watcher {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Areas == nil {
		d.Areas = areas.Default()
	}
	return &Watcher{
		quota:     d.Quota,
		areas:     d.Areas,
		inventory: d.Inventory,
		alerts:    d.Alerts,
		history:   d.History,
		checker:   d.Checker,
		advisor:   d.Advisor,
		logger:    d.Logger,
	}
}

// Areas returns the supported neighborhoods.
func (w *Watcher) Areas() []areas.Area { return w.areas.All() }

// Remaining reports the caller's unused actions. It does not consume one.
func (w *Watcher) Remaining(ctx context.Context, userID int64) (int, error) {
	return w.quota.Remaining(ctx, userID)
}

// Search returns the cheapest hotels for a stay.
func (w *Watcher) Search(ctx context.Context, userID int64, area string, checkIn, checkOut time.Time, guests int) ([]model.PriceQuote, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return nil, err
	}
	quotes, err := w.inventory.Search(ctx, area, checkIn, checkOut, guests)
	if err != nil {
		return nil, err
	}
	w.logger.Info("search served", "user_id", userID, "area", area, "results", len(quotes))
	return quotes, nil
}

// CreateAlert registers a price-drop alert for a party of guests. Zero guests
// uses the configured default.
func (w *Watcher) CreateAlert(ctx context.Context, userID int64, area string, checkIn, checkOut time.Time, ceiling decimal.Decimal, guests int) (*model.Alert, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return nil, err
	}
	return w.alerts.Create(ctx, userID, area, checkIn, checkOut, ceiling, guests)
}

// ListAlerts returns the caller's alerts, newest first.
func (w *Watcher) ListAlerts(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return nil, err
	}
	return w.alerts.List(ctx, userID, includeInactive)
}

// DeactivateAlert stops one of the caller's alerts.
func (w *Watcher) DeactivateAlert(ctx context.Context, userID int64, alertID string) error {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return err
	}
	if _, err := w.owned(ctx, userID, alertID); err != nil {
		return err
	}
	_, err := w.alerts.Deactivate(ctx, alertID, model.ReasonUser)
	return err
}

// AlertHistory returns the prices recorded for one of the caller's alerts
// over the last days days. Zero or negative days means DefaultHistoryDays.
func (w *Watcher) AlertHistory(ctx context.Context, userID int64, alertID string, days int) ([]model.PriceHistoryEntry, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := w.owned(ctx, userID, alertID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultHistoryDays
	}
	return w.history.ForAlert(ctx, alertID, days)
}

// CheckAlert prices one of the caller's active alerts immediately. The result
// is recorded and notified as in the background cycle; a failed check does not
// count towards deactivation.
func (w *Watcher) CheckAlert(ctx context.Context, userID int64, alertID string) (engine.Result, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return engine.Result{}, err
	}
	alert, err := w.owned(ctx, userID, alertID)
	if err != nil {
		return engine.Result{}, err
	}
	if !alert.Active {
		return engine.Result{}, fmt.Errorf("%w: alert %s is no longer active", model.ErrValidation, alertID)
	}
	res := w.checker.CheckAlert(ctx, *alert)
	return res, res.Err
}

// Trend summarises recorded prices for a stay.
func (w *Watcher) Trend(ctx context.Context, userID int64, area string, checkIn, checkOut time.Time, days int) (*history.Trend, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return nil, err
	}
	a, err := w.areas.Lookup(area)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateStay(checkIn, checkOut); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultHistoryDays
	}
	return w.history.Trend(ctx, a.Key, model.TruncateDay(checkIn), model.TruncateDay(checkOut), days)
}

// Recommend searches a stay and asks the advisor to pick among the results.
// It consumes a single action.
func (w *Watcher) Recommend(ctx context.Context, userID int64, area string, checkIn, checkOut time.Time, question string) (*recommend.Recommendation, error) {
	if err := w.quota.Allow(ctx, userID); err != nil {
		return nil, err
	}
	a, err := w.areas.Lookup(area)
	if err != nil {
		return nil, err
	}
	quotes, err := w.inventory.Search(ctx, a.Key, checkIn, checkOut, 0)
	if err != nil {
		return nil, err
	}
	return w.advisor.Recommend(ctx, recommend.Request{
		Area:     a.Name,
		CheckIn:  checkIn,
		CheckOut: checkOut,
		Quotes:   quotes,
		Question: question,
	})
}

// owned loads an alert and hides it from users who do not own it.
func (w *Watcher) owned(ctx context.Context, userID int64, alertID string) (*model.Alert, error) {
	alert, err := w.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.UserID != userID {
		return nil, fmt.Errorf("alert %s: %w", alertID, model.ErrNotFound)
	}
	return alert, nil
}
