package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialogueMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDialogueMetrics(reg)
	m.ObserveTurn("capture_intent")
	m.ObserveTurn("capture_intent")
	m.ObserveOutcome("abandoned", "max_retries")
	m.ObserveRetry("email")
	m.ObserveFailure("extraction_failure")
	m.ObserveDependency("calendar.create", 0.2, nil)
	m.ObserveDependency("calendar.create", 0.4, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("capture_intent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("abandoned", "max_retries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failuresTotal.WithLabelValues("extraction_failure")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var latency *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "clinicvoice_dialogue_dependency_latency_seconds" {
			latency = f
		}
	}
	require.NotNil(t, latency)
	assert.Len(t, latency.GetMetric(), 2)
}

func TestDialogueMetricsNilSafe(t *testing.T) {
	var m *DialogueMetrics
	m.ObserveTurn("state")
	m.ObserveOutcome("booked", "")
	m.ObserveRetry("intent")
	m.ObserveFailure("kind")
	m.ObserveDependency("op", 0.1, nil)
}
