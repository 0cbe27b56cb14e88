package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments executions and pool occupancy. A nil *Metrics is
// valid everywhere and records nothing.
type Metrics struct {
	executions   *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	poolOccupied *prometheus.GaugeVec
	evictions    *prometheus.CounterVec
	provisionErr *prometheus.CounterVec
}

// NewMetrics creates and registers the executor metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxd",
			Name:      "executions_total",
			Help:      "Executions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxd",
			Name:      "fallback_advances_total",
			Help:      "Times an execution advanced past a failed provider.",
		}, []string{"from"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sandboxd",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of execution attempts.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		poolOccupied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxd",
			Name:      "pool_environments",
			Help:      "Pool occupancy by language and state.",
		}, []string{"language", "state"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxd",
			Name:      "pool_evictions_total",
			Help:      "Environments evicted from warm pools.",
		}, []string{"language", "reason"}),
		provisionErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxd",
			Name:      "pool_provisioning_failures_total",
			Help:      "Failed environment provisioning attempts.",
		}, []string{"language"}),
	}
	reg.MustRegister(m.executions, m.fallbacks, m.duration, m.poolOccupied, m.evictions, m.provisionErr)
	return m
}

// ExecutionObserved records one attempt outcome: "success", "error",
// "timeout" or "provider_failure".
func (m *Metrics) ExecutionObserved(provider Provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(provider), outcome).Inc()
	m.duration.WithLabelValues(string(provider)).Observe(d.Seconds())
}

// FallbackAdvanced records that the chain moved past a failed provider.
func (m *Metrics) FallbackAdvanced(from Provider) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(string(from)).Inc()
}

// SetPoolOccupancy publishes pool gauges for one language.
func (m *Metrics) SetPoolOccupancy(language string, warm, busy, resetting int) {
	if m == nil {
		return
	}
	m.poolOccupied.WithLabelValues(language, string(StateWarm)).Set(float64(warm))
	m.poolOccupied.WithLabelValues(language, string(StateBusy)).Set(float64(busy))
	m.poolOccupied.WithLabelValues(language, string(StateResetting)).Set(float64(resetting))
}

// EnvironmentEvicted counts one eviction. Reasons are normalized to a
// small label set to keep cardinality bounded.
func (m *Metrics) EnvironmentEvicted(language, reason string) {
	if m == nil {
		return
	}
	label := "unhealthy"
	switch reason {
	case "ttl expired":
		label = "ttl"
	case "idle too long":
		label = "idle"
	}
	m.evictions.WithLabelValues(language, label).Inc()
}

// ProvisioningFailed counts one failed creation attempt.
func (m *Metrics) ProvisioningFailed(language string) {
	if m == nil {
		return
	}
	m.provisionErr.WithLabelValues(language).Inc()
}
