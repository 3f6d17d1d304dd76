package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics aggregates the hook pipeline's operational signals. The
// pipeline stages themselves stay pure; the gateway records outcomes here
// after each evaluation.
type PipelineMetrics struct {
	registry *prometheus.Registry

	evaluations  *prometheus.CounterVec
	blocked      *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	effectiveFee prometheus.Histogram
	rewards      *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline collectors on a fresh registry.
func NewPipelineMetrics(namespace string) *PipelineMetrics {
	if namespace == "" {
		namespace = "tabpay"
	}
	registry := prometheus.NewRegistry()
	m := &PipelineMetrics{
		registry: registry,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_evaluations_total",
			Help:      "Pipeline evaluations by outcome.",
		}, []string{"outcome"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_blocked_total",
			Help:      "Blocked transactions by stage.",
		}, []string{"stage"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"stage"}),
		effectiveFee: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "effective_fee_bps",
			Help:      "Distribution of effective fees in basis points.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_minted_total",
			Help:      "Reward line items emitted by type.",
		}, []string{"type"}),
	}
	registry.MustRegister(m.evaluations, m.blocked, m.stageLatency, m.effectiveFee, m.rewards)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOutcome records one completed or blocked evaluation.
func (m *PipelineMetrics) ObserveOutcome(success bool, blockedBy string) {
	if m == nil {
		return
	}
	if success {
		m.evaluations.WithLabelValues("completed").Inc()
		return
	}
	m.evaluations.WithLabelValues("blocked").Inc()
	if blockedBy != "" {
		m.blocked.WithLabelValues(blockedBy).Inc()
	}
}

// ObserveStage records one stage's latency.
func (m *PipelineMetrics) ObserveStage(stage string, latency time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(latency.Seconds())
}

// ObserveFee records the effective fee of a completed evaluation.
func (m *PipelineMetrics) ObserveFee(bps uint32) {
	if m == nil {
		return
	}
	m.effectiveFee.Observe(float64(bps))
}

// ObserveReward counts one emitted reward line item.
func (m *PipelineMetrics) ObserveReward(rewardType string) {
	if m == nil {
		return
	}
	m.rewards.WithLabelValues(rewardType).Inc()
}
