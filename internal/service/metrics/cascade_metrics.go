package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache outcomes recorded per stage.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeShared   = "shared"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

// CascadeMetrics groups the collectors of the orchestration core.
type CascadeMetrics struct {
	StageLatency  *prometheus.HistogramVec
	StageOutcomes *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	Confidence    prometheus.Histogram
	Transitions   *prometheus.CounterVec
	Executions    *prometheus.CounterVec
	AuditFailures *prometheus.CounterVec
}

// NewCascadeMetrics registers on reg; nil means the default registerer.
func NewCascadeMetrics(reg prometheus.Registerer) *CascadeMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &CascadeMetrics{
		StageLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cascade",
				Subsystem: "stage",
				Name:      "latency_seconds",
				Help:      "Latency of layer adapter calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		StageOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Subsystem: "stage",
				Name:      "outcomes_total",
				Help:      "Stage results by source",
			},
			[]string{"stage", "outcome"},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Name:      "runs_total",
				Help:      "Cascade runs by result",
			},
			[]string{"result"},
		),
		Confidence: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "cascade",
				Name:      "confidence",
				Help:      "Aggregate confidence of completed runs",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Lifecycle transitions by entity and target status",
			},
			[]string{"entity", "to"},
		),
		Executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Subsystem: "signal",
				Name:      "executions_total",
				Help:      "Signal execution attempts by outcome",
			},
			[]string{"outcome"},
		),
		AuditFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cascade",
				Subsystem: "audit",
				Name:      "append_failures_total",
				Help:      "Audit entries that could not be appended, by entity",
			},
			[]string{"entity"},
		),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *CascadeMetrics {
	return NewCascadeMetrics(prometheus.NewRegistry())
}

func (m *CascadeMetrics) ObserveStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// ObserveCall records the latency of one adapter call.
func (m *CascadeMetrics) ObserveCall(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *CascadeMetrics) ObserveRun(result string, confidence float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
	if result != "failed" {
		m.Confidence.Observe(confidence)
	}
}

func (m *CascadeMetrics) Transition(entity, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(entity, to).Inc()
}

func (m *CascadeMetrics) Execution(outcome string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(outcome).Inc()
}

// AuditFailure counts an audit entry lost for a committed change.
func (m *CascadeMetrics) AuditFailure(entity string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(entity).Inc()
}
