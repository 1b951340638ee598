package dialogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus instruments. Pass nil wherever a
// *Metrics is accepted to disable instrumentation.
type Metrics struct {
	TurnsTotal         prometheus.Counter
	TurnLatency        prometheus.Histogram
	NLULatency         prometheus.Histogram
	ActionLatency      *prometheus.HistogramVec
	ActiveFlows        prometheus.Gauge
	FlowErrorsTotal    *prometheus.CounterVec
	CheckpointFailures prometheus.Counter
}

// NewMetrics registers the runtime's instruments with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dialogue",
			Name:      "turns_total",
			Help:      "Number of processed conversation turns.",
		}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dialogue",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn processing latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		NLULatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dialogue",
			Name:      "nlu_latency_seconds",
			Help:      "Command interpretation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ActionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dialogue",
			Name:      "action_latency_seconds",
			Help:      "Action handler latency by action name.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"action"}),
		ActiveFlows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialogue",
			Name:      "active_flows",
			Help:      "Flows currently on user stacks.",
		}),
		FlowErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogue",
			Name:      "flow_errors_total",
			Help:      "Flows terminated by errors, by flow name.",
		}, []string{"flow"}),
		CheckpointFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dialogue",
			Name:      "checkpoint_failures_total",
			Help:      "Failed checkpoint saves.",
		}),
	}
}
