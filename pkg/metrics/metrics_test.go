package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Cycle(0.2)
	m.Cycle(0.4)
	m.Evaluation(metrics.OutcomeTriggered)
	m.Evaluation(metrics.OutcomeFailed)
	m.Evaluation(metrics.OutcomeFailed)
	m.Notification("telegram", nil)
	m.Notification("telegram", errors.New("boom"))
	m.Quote("mock")
	m.TokenRefresh()
	m.QuotaRejection("actions")
	m.Deactivation("failure_streak")

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, count)

	families, err := reg.Gather()
	assert.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] += c.GetValue()
			}
		}
	}

	assert.Equal(t, 2.0, values["hpg_cycles_total"])
	assert.Equal(t, 3.0, values["hpg_alert_evaluations_total"])
	assert.Equal(t, 2.0, values["hpg_notifications_total"])
	assert.Equal(t, 1.0, values["hpg_quotes_total"])
	assert.Equal(t, 1.0, values["hpg_provider_token_refreshes_total"])
	assert.Equal(t, 1.0, values["hpg_quota_rejections_total"])
	assert.Equal(t, 1.0, values["hpg_alert_deactivations_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.Cycle(1)
		m.Evaluation(metrics.OutcomeSkipped)
		m.Notification("slack", nil)
		m.Quote("live")
		m.TokenRefresh()
		m.QuotaRejection("alerts")
		m.Deactivation("user")
	})
}

func TestMetrics_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.New(nil).Evaluation(metrics.OutcomeAbove)
	})
}
