package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heat_explainer"

// Metrics holds the Prometheus collectors for the explanation pipeline.
type Metrics struct {
	Requests          *prometheus.CounterVec // labels: state={completed,short_circuited,failed}
	StageErrors       *prometheus.CounterVec // labels: state, kind
	RequestDuration   prometheus.Histogram
	AttributionTime   prometheus.Histogram
	AttributionActive prometheus.Gauge

	// Narrative completion service.
	NarrativeRequests *prometheus.CounterVec   // labels: provider, outcome={success,<error kind>}
	NarrativeDuration *prometheus.HistogramVec // labels: provider
	NarrativeCache    *prometheus.CounterVec   // labels: result={hit,miss}

	// Stream mode.
	StreamRunning    prometheus.Gauge
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	BatchSize        prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// NewUnregisteredMetrics creates Metrics for embedded use where nothing
// scrapes the default registry.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Explanation requests by terminal state.",
		}, []string{"state"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Failed explanation requests by the last state reached and error kind.",
		}, []string{"state", "kind"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end duration of one explanation request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AttributionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attribution_duration_seconds",
			Help:      "Time spent computing feature attributions.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		AttributionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attribution_workers_in_use",
			Help:      "Attribution computations currently holding a worker slot.",
		}),
		NarrativeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrative_requests_total",
			Help:      "Narrative completion calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		NarrativeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "narrative_api_duration_seconds",
			Help:      "Narrative completion API call duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		NarrativeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrative_cache_total",
			Help:      "Narrative cache lookups by result.",
		}, []string{"result"}),
		StreamRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_running",
			Help:      "1 when the Kafka stream loop is active, 0 otherwise.",
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total requests read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total results written to the sink topic.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Requests,
		m.StageErrors,
		m.RequestDuration,
		m.AttributionTime,
		m.AttributionActive,
		m.NarrativeRequests,
		m.NarrativeDuration,
		m.NarrativeCache,
		m.StreamRunning,
		m.MessagesConsumed,
		m.MessagesProduced,
		m.BatchSize,
	}
}
