// Package quota enforces the per-user rolling action limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/metrics"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Backend is the subset of storage the tracker needs.
type Backend interface {
	IncrementUserActions(ctx context.Context, userID int64, limit int, window time.Duration, now time.Time) (bool, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
}

// Tracker counts user actions against a daily ceiling.
type Tracker struct {
	backend Backend
	limit   int
	window  time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a quota tracker allowing limit actions per window.
func NewTracker(backend Backend, limit int, window time.Duration, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		backend: backend,
		limit:   limit,
		window:  window,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Limit is the number of actions allowed per window.
func (t *Tracker) Limit() int { return t.limit }

// CheckAndIncrement consumes one action. It returns false, leaving the count
// unchanged, when the user already used the whole allowance.
func (t *Tracker) CheckAndIncrement(ctx context.Context, userID int64) (bool, error) {
	ok, err := t.backend.IncrementUserActions(ctx, userID, t.limit, t.window, t.now().UTC())
	if err != nil {
		return false, fmt.Errorf("check quota: %w", err)
	}
	if !ok {
		t.metrics.QuotaRejection("actions")
		t.logger.Warn("daily action limit reached", "user_id", userID, "limit", t.limit)
	}
	return ok, nil
}

// Allow is CheckAndIncrement returning model.ErrQuotaExceeded on rejection.
func (t *Tracker) Allow(ctx context.Context, userID int64) error {
	ok, err := t.CheckAndIncrement(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: daily limit of %d actions reached, please try again tomorrow", model.ErrQuotaExceeded, t.limit)
	}
	return nil
}

// Remaining returns how many actions the user has left in the current window.
func (t *Tracker) Remaining(ctx context.Context, userID int64) (int, error) {
	u, err := t.backend.GetUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return t.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	if !t.now().Before(u.CountResetAt.Add(t.window)) {
		return t.limit, nil
	}
	return max(t.limit-u.ActionCount, 0), nil
}
