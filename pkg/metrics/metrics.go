// Package metrics exposes Prometheus collectors for the evaluation cycle and
// provider traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hpg"

// Evaluation outcomes.
const (
	OutcomeTriggered = "triggered"
	OutcomeAbove     = "above_threshold"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics groups every collector the service records.
type Metrics struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	evaluations     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	quotes          *prometheus.CounterVec
	tokenRefreshes  prometheus.Counter
	quotaRejections *prometheus.CounterVec
	deactivations   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of evaluation cycles run",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of evaluation cycles",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluations_total",
			Help:      "Alert evaluations by outcome",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications sent by channel and result",
		}, []string{"channel", "result"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Price quotes served by source",
		}, []string{"source"}),
		tokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_token_refreshes_total",
			Help:      "Provider access tokens acquired",
		}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "User actions rejected by quota kind",
		}, []string{"kind"}),
		deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_deactivations_total",
			Help:      "Alert deactivations by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.cycles, m.cycleDuration, m.evaluations, m.notifications,
			m.quotes, m.tokenRefreshes, m.quotaRejections, m.deactivations,
		)
	}
	return m
}

// Cycle records a finished evaluation cycle.
func (m *Metrics) Cycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(seconds)
}

// Evaluation records one alert evaluation outcome.
func (m *Metrics) Evaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// Notification records a delivery attempt on a channel.
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// Quote records a quote served from source (live, mock or cache).
func (m *Metrics) Quote(source string) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(source).Inc()
}

// TokenRefresh records a provider token acquisition.
func (m *Metrics) TokenRefresh() {
	if m == nil {
		return
	}
	m.tokenRefreshes.Inc()
}

// QuotaRejection records a rejected action. kind is "actions" or "alerts".
func (m *Metrics) QuotaRejection(kind string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(kind).Inc()
}

// Deactivation records an alert deactivation.
func (m *Metrics) Deactivation(reason string) {
	if m == nil {
		return
	}
	m.deactivations.WithLabelValues(reason).Inc()
}
