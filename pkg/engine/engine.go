// Package engine periodically re-prices every active alert, records the
// observation and notifies users about qualifying price drops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/metrics"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/notify"
)

// Quoter returns the current nightly price for a stay and party size.
type Quoter interface {
	Quote(ctx context.Context, area string, checkIn, checkOut time.Time, guests int) (*model.PriceQuote, error)
}

// Alerts is the alert registry as seen by the engine.
type Alerts interface {
	ListAllActive(ctx context.Context) ([]model.Alert, error)
	RecordFailure(ctx context.Context, alertID string) (int, error)
	ResetFailures(ctx context.Context, alertID string) error
	Deactivate(ctx context.Context, alertID, reason string) (bool, error)
}

// History is the price history store as seen by the engine.
type History interface {
	Append(ctx context.Context, entry *model.PriceHistoryEntry) error
	NotifiedWithin(ctx context.Context, alertID string, cooldown time.Duration, now time.Time) (bool, error)
}

// Config tunes the evaluation loop.
type Config struct {
	Interval             time.Duration
	EvaluationTimeout    time.Duration
	Cooldown             time.Duration
	FailureThreshold     int
	Concurrency          int
	NotifyOnDeactivation bool
	RunOnStart           bool
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		Interval:             30 * time.Minute,
		EvaluationTimeout:    30 * time.Second,
		Cooldown:             12 * time.Hour,
		FailureThreshold:     5,
		Concurrency:          4,
		NotifyOnDeactivation: true,
		RunOnStart:           true,
	}
}

// Result describes the evaluation of one alert.
type Result struct {
	AlertID     string
	Quote       *model.PriceQuote
	Written     bool
	Triggered   bool
	Notified    bool
	Deactivated bool
	FailStreak  int
	Err         error
}

// CycleReport summarises one pass over the active alerts.
// Written == Active - Failed - Skipped always holds.
type CycleReport struct {
	Active      int           `json:"active"`
	Written     int           `json:"written"`
	Failed      int           `json:"failed"`
	Triggered   int           `json:"triggered"`
	Notified    int           `json:"notified"`
	Deactivated int           `json:"deactivated"`
	Skipped     int           `json:"skipped"`
	Duration    time.Duration `json:"duration"`
}

// lockStripes is the number of mutexes alert ids are hashed onto.
const lockStripes = 64

// Engine evaluates alerts. RunCycle calls must not overlap; CheckAlert may run
// alongside them.
type Engine struct {
	cfg       Config
	alerts    Alerts
	quoter    Quoter
	history   History
	notifiers []notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// locks serialise the cooldown read and history write of one alert.
	locks [lockStripes]sync.Mutex
}

// New creates an engine.
func New(cfg Config, alerts Alerts, quoter Quoter, history History, notifiers []notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = def.EvaluationTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		alerts:    alerts,
		quoter:    quoter,
		history:   history,
		notifiers: notifiers,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source that stamps recorded entries and
// anchors cooldown checks.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run evaluates all alerts every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("alert engine started",
		"interval", e.cfg.Interval.String(),
		"cooldown", e.cfg.Cooldown.String(),
		"failure_threshold", e.cfg.FailureThreshold,
		"concurrency", e.cfg.Concurrency,
	)

	if e.cfg.RunOnStart {
		e.runLogged(ctx)
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert engine stopped")
			return nil
		case <-ticker.C:
			e.runLogged(ctx)
		}
	}
}

func (e *Engine) runLogged(ctx context.Context) {
	report, err := e.RunCycle(ctx)
	if err != nil {
		e.logger.Error("evaluation cycle failed", "error", err)
		return
	}
	e.logger.Info("evaluation cycle finished",
		"active", report.Active,
		"written", report.Written,
		"failed", report.Failed,
		"triggered", report.Triggered,
		"notified", report.Notified,
		"deactivated", report.Deactivated,
		"skipped", report.Skipped,
		"duration", report.Duration.String(),
	)
}

// RunCycle evaluates every active alert once. Cancelling ctx stops new
// evaluations from starting; running ones finish and keep their results.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()

	alerts, err := e.alerts.ListAllActive(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("list active alerts: %w", err)
	}

	var (
		report = CycleReport{Active: len(alerts)}
		mu     sync.Mutex
		g      errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)

	for i, alert := range alerts {
		if ctx.Err() != nil {
			report.Skipped += len(alerts) - i
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				e.metrics.Evaluation(metrics.OutcomeSkipped)
				return nil
			}

			res := e.EvaluateAlert(context.WithoutCancel(ctx), alert)

			mu.Lock()
			defer mu.Unlock()
			if res.Written {
				report.Written++
			} else {
				report.Failed++
			}
			if res.Triggered {
				report.Triggered++
			}
			if res.Notified {
				report.Notified++
			}
			if res.Deactivated {
				report.Deactivated++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	e.metrics.Cycle(report.Duration.Seconds())
	return report, nil
}

// EvaluateAlert runs one scheduled evaluation: it prices the alert, records
// the observation and notifies the user when the price qualifies. Provider
// failures extend the alert's failure streak and may deactivate it.
func (e *Engine) EvaluateAlert(ctx context.Context, alert model.Alert) Result {
	return e.evaluate(ctx, alert, true)
}

// CheckAlert prices an alert on behalf of its owner. Recording and the
// notification cooldown work as in a cycle, but the failure streak is left
// alone and cancelling ctx does not abort the evaluation.
func (e *Engine) CheckAlert(ctx context.Context, alert model.Alert) Result {
	return e.evaluate(context.WithoutCancel(ctx), alert, false)
}

func (e *Engine) evaluate(ctx context.Context, alert model.Alert, scheduled bool) Result {
	res := Result{AlertID: alert.ID}
	log := e.logger.With("alert_id", alert.ID, "user_id", alert.UserID, "area", alert.Area, "scheduled", scheduled)

	qctx, cancel := context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
	quote, err := e.quoter.Quote(qctx, alert.Area, alert.CheckIn, alert.CheckOut, alert.Guests)
	cancel()
	if err != nil {
		res.Err = err
		if scheduled {
			e.handleFailure(ctx, alert, &res, log)
		} else {
			log.Warn("manual price check failed", "error", err)
		}
		e.metrics.Evaluation(metrics.OutcomeFailed)
		return res
	}
	res.Quote = quote

	if scheduled {
		if err := e.alerts.ResetFailures(ctx, alert.ID); err != nil {
			log.Error("reset failure streak", "error", err)
		}
	}

	res.Triggered = quote.NightlyPrice.LessThanOrEqual(alert.MaxPrice)
	notifyUser, err := e.record(ctx, alert, quote, res.Triggered, log)
	if err != nil {
		res.Err = err
		log.Error("append price history", "error", err)
		e.metrics.Evaluation(metrics.OutcomeFailed)
		return res
	}
	res.Written = true

	log.Debug("alert evaluated",
		"price", quote.NightlyPrice.String(),
		"max_price", alert.MaxPrice.String(),
		"source", quote.Source,
		"triggered", res.Triggered,
		"notify", notifyUser,
	)

	if !res.Triggered {
		e.metrics.Evaluation(metrics.OutcomeAbove)
		return res
	}
	e.metrics.Evaluation(metrics.OutcomeTriggered)

	if notifyUser {
		res.Notified = e.dispatch(ctx, notify.PriceDrop(alert, *quote), log)
		log.Info("price drop detected",
			"price", quote.NightlyPrice.String(),
			"max_price", alert.MaxPrice.String(),
			"delivered", res.Notified,
		)
	}
	return res
}

// record decides whether a triggered observation notifies and appends it to
// history. The decision and the write happen under the alert's lock so that
// concurrent evaluations of one alert cannot both pass the cooldown.
func (e *Engine) record(ctx context.Context, alert model.Alert, quote *model.PriceQuote, triggered bool, log *slog.Logger) (bool, error) {
	mu := e.lockFor(alert.ID)
	mu.Lock()
	defer mu.Unlock()

	now := e.now().UTC()
	notifyUser := false
	if triggered {
		within, err := e.history.NotifiedWithin(ctx, alert.ID, e.cfg.Cooldown, now)
		if err != nil {
			// Without the last notification time a duplicate cannot be ruled out.
			log.Error("read notification cooldown", "error", err)
		} else {
			notifyUser = !within
		}
	}

	entry := &model.PriceHistoryEntry{
		AlertID:    alert.ID,
		Quote:      *quote,
		RecordedAt: now,
		Triggered:  triggered,
		Notified:   notifyUser,
	}
	if err := e.history.Append(ctx, entry); err != nil {
		return false, err
	}
	return notifyUser, nil
}

func (e *Engine) lockFor(alertID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(alertID))
	return &e.locks[h.Sum32()%lockStripes]
}

func (e *Engine) handleFailure(ctx context.Context, alert model.Alert, res *Result, log *slog.Logger) {
	streak, err := e.alerts.RecordFailure(ctx, alert.ID)
	if errors.Is(err, model.ErrNotFound) {
		// Deactivated after the cycle listed it.
		log.Info("price check failed for an alert that is no longer active", "cause", res.Err)
		return
	}
	if err != nil {
		log.Error("record failure streak", "error", err, "cause", res.Err)
		return
	}
	res.FailStreak = streak
	log.Warn("price check failed", "error", res.Err, "fail_streak", streak)

	if streak < e.cfg.FailureThreshold {
		return
	}

	changed, err := e.alerts.Deactivate(ctx, alert.ID, model.ReasonFailureStreak)
	if err != nil {
		log.Error("deactivate failing alert", "error", err)
		return
	}
	if !changed {
		return
	}
	res.Deactivated = true
	e.metrics.Deactivation(model.ReasonFailureStreak)
	log.Warn("alert deactivated after repeated failures", "fail_streak", streak)

	if e.cfg.NotifyOnDeactivation {
		e.dispatch(ctx, notify.Deactivated(alert, streak), log)
	}
}

// dispatch sends n through every notifier and reports whether any delivery succeeded.
func (e *Engine) dispatch(ctx context.Context, n notify.Notification, log *slog.Logger) bool {
	delivered := false
	for _, notifier := range e.notifiers {
		err := notifier.Send(ctx, n)
		e.metrics.Notification(notifier.Name(), err)
		if err != nil {
			log.Error("send notification failed",
				"notifier", notifier.Name(),
				"kind", n.Kind,
				"error", err,
			)
			continue
		}
		delivered = true
	}
	return delivered
}
