package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Storage defines the persistence layer for users, alerts and price history.
// Every method is a single logical operation: it either completes or leaves no
// partial state behind. Failures are wrapped with model.ErrPersistence.
type Storage interface {
	// IncrementUserActions consumes one action from the user's rolling window.
	// The row is created on first use. It reports false, without incrementing,
	// once limit actions were already taken inside the current window.
	IncrementUserActions(ctx context.Context, userID int64, limit int, window time.Duration, now time.Time) (bool, error)

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID int64) (*model.User, error)

	// CreateAlert inserts an alert unless the user already owns maxActive
	// active alerts, in which case model.ErrQuotaExceeded is returned.
	// A maxActive of zero disables the check.
	CreateAlert(ctx context.Context, alert *model.Alert, maxActive int) error

	// GetAlert retrieves an alert by id.
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// ListAlerts returns a user's alerts, newest first.
	ListAlerts(ctx context.Context, userID int64, includeInactive bool) ([]model.Alert, error)

	// ListActiveAlerts returns every active alert, oldest first.
	ListActiveAlerts(ctx context.Context) ([]model.Alert, error)

	// DeactivateAlert soft-deactivates an alert and reports whether this call
	// changed it. Deactivating an inactive alert is a no-op returning false.
	DeactivateAlert(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// IncrementAlertFailures bumps the consecutive failure counter of an active
	// alert and returns the new value. Inactive or unknown alerts yield model.ErrNotFound.
	IncrementAlertFailures(ctx context.Context, id string) (int, error)

	// ResetAlertFailures clears the consecutive failure counter.
	ResetAlertFailures(ctx context.Context, id string) error

	// AppendHistory persists a history entry and stamps the alert's last check time.
	AppendHistory(ctx context.Context, entry *model.PriceHistoryEntry) error

	// QueryHistory returns entries matching filter ordered by retrieval time.
	QueryHistory(ctx context.Context, filter model.HistoryFilter) ([]model.PriceHistoryEntry, error)

	// LastNotifiedAt returns the recording time of the alert's latest entry that
	// produced a notification.
	LastNotifiedAt(ctx context.Context, alertID string) (time.Time, bool, error)

	// Close releases resources.
	Close() error
}

// Open selects a backend by driver name.
func Open(ctx context.Context, driver, sqlitePath, postgresURL string) (Storage, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(sqlitePath)
	case "postgres":
		return NewPostgres(ctx, postgresURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}
