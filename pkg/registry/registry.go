// Package registry manages the lifecycle of price alerts.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Backend is the subset of storage the registry needs.
type Backend interface {
	CreateAlert(ctx context.Context, alert *model.Alert, maxActive int) error
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListAlerts(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error)
	ListActiveAlerts(ctx context.Context) ([]model.Alert, error)
	DeactivateAlert(ctx context.Context, id, reason string, at time.Time) (bool, error)
	IncrementAlertFailures(ctx context.Context, id string) (int, error)
	ResetAlertFailures(ctx context.Context, id string) error
}

// Registry validates and persists alerts.
type Registry struct {
	backend       Backend
	areas         *areas.Table
	maxActive     int
	defaultGuests int
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a registry. maxActive caps active alerts per user; zero disables the cap.
func New(backend Backend, table *areas.Table, maxActive int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend:       backend,
		areas:         table,
		maxActive:     maxActive,
		defaultGuests: model.DefaultGuests,
		logger:        logger,
		now:           time.Now,
	}
}

// WithDefaultGuests sets the guest count used when an alert is created without one.
func (r *Registry) WithDefaultGuests(n int) *Registry {
	if n > 0 {
		r.defaultGuests = n
	}
	return r
}

// WithClock replaces the time source used to reject past check-in dates.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Create registers a new active alert for the user. A zero guests uses the
// registry default.
func (r *Registry) Create(ctx context.Context, userID int64, area string, checkIn, checkOut time.Time, ceiling decimal.Decimal, guests int) (*model.Alert, error) {
	a, err := r.areas.Lookup(area)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateStay(checkIn, checkOut); err != nil {
		return nil, err
	}
	if checkIn.Before(model.TruncateDay(r.now())) {
		return nil, fmt.Errorf("%w: check-in date %s is in the past", model.ErrValidation, model.FormatDate(checkIn))
	}
	if !ceiling.IsPositive() {
		return nil, fmt.Errorf("%w: maximum price must be greater than zero", model.ErrValidation)
	}
	if guests == 0 {
		guests = r.defaultGuests
	}
	if err := model.ValidateGuests(guests); err != nil {
		return nil, err
	}

	alert := &model.Alert{
		UserID:    userID,
		Area:      a.Key,
		CheckIn:   model.TruncateDay(checkIn),
		CheckOut:  model.TruncateDay(checkOut),
		MaxPrice:  ceiling.Round(2),
		Guests:    guests,
		CreatedAt: r.now().UTC(),
	}
	if err := r.backend.CreateAlert(ctx, alert, r.maxActive); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	r.logger.Info("alert created",
		"alert_id", alert.ID,
		"user_id", userID,
		"area", alert.Area,
		"check_in", model.FormatDate(alert.CheckIn),
		"check_out", model.FormatDate(alert.CheckOut),
		"max_price", alert.MaxPrice.String(),
		"guests", alert.Guests,
	)
	return alert, nil
}

// ListActive returns the user's active alerts, newest first.
func (r *Registry) ListActive(ctx context.Context, userID int64) ([]model.Alert, error) {
	return r.backend.ListAlerts(ctx, userID, false)
}

// List returns the user's alerts, optionally including deactivated ones.
func (r *Registry) List(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error) {
	return r.backend.ListAlerts(ctx, userID, includeInactive)
}

// ListAllActive returns every active alert across users, oldest first.
func (r *Registry) ListAllActive(ctx context.Context) ([]model.Alert, error) {
	return r.backend.ListActiveAlerts(ctx)
}

// Get returns an alert by id.
func (r *Registry) Get(ctx context.Context, alertID string) (*model.Alert, error) {
	return r.backend.GetAlert(ctx, alertID)
}

// Deactivate soft-deactivates an alert and reports whether this call changed
// it. Repeating it is a no-op that keeps the first reason.
func (r *Registry) Deactivate(ctx context.Context, alertID, reason string) (bool, error) {
	changed, err := r.backend.DeactivateAlert(ctx, alertID, reason, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("deactivate alert: %w", err)
	}
	if changed {
		r.logger.Info("alert deactivated", "alert_id", alertID, "reason", reason)
	}
	return changed, nil
}

// RecordFailure increments an active alert's consecutive failure count and
// returns it. Inactive alerts yield model.ErrNotFound.
func (r *Registry) RecordFailure(ctx context.Context, alertID string) (int, error) {
	return r.backend.IncrementAlertFailures(ctx, alertID)
}

// ResetFailures clears the alert's consecutive failure count.
func (r *Registry) ResetFailures(ctx context.Context, alertID string) error {
	return r.backend.ResetAlertFailures(ctx, alertID)
}
