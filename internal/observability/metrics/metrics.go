package metrics

import "github.com/prometheus/client_golang/prometheus"

// DialogueMetrics exposes counters/histograms for voice booking calls.
type DialogueMetrics struct {
	turnsTotal        *prometheus.CounterVec
	outcomesTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	failuresTotal     *prometheus.CounterVec
	dependencyLatency *prometheus.HistogramVec
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Caller turns handled, labelled by the state that consumed them",
		}, []string{"state"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "dialogue",
			Name:      "outcomes_total",
			Help:      "Terminal call outcomes",
		}, []string{"kind", "reason"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "dialogue",
			Name:      "retries_total",
			Help:      "Retry counter increments per dialogue step",
		}, []string{"step"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "dialogue",
			Name:      "failures_total",
			Help:      "Dialogue failures by taxonomy kind",
		}, []string{"kind"}),
		dependencyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicvoice",
			Subsystem: "dialogue",
			Name:      "dependency_latency_seconds",
			Help:      "Latency of calls to external collaborators",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.outcomesTotal, m.retriesTotal, m.failuresTotal, m.dependencyLatency)
	return m
}

func (m *DialogueMetrics) ObserveTurn(state string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state).Inc()
}

func (m *DialogueMetrics) ObserveOutcome(kind, reason string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(kind, reason).Inc()
}

func (m *DialogueMetrics) ObserveRetry(step string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(step).Inc()
}

func (m *DialogueMetrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveDependency records one collaborator call.
func (m *DialogueMetrics) ObserveDependency(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.dependencyLatency.WithLabelValues(operation, status).Observe(seconds)
}
