package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "firerisk"

// Metrics holds the Prometheus counters, histograms, and gauges for the engine.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Zone index metrics.
	ZoneUpserts  *prometheus.CounterVec // labels: result={created,merged}
	ZonesTracked prometheus.Gauge
	ZoneSaveErrors prometheus.Counter
	ZonesUnsaved   prometheus.Gauge

	// Alert metrics.
	AlertsCreated      prometheus.Counter
	AlertsDeduplicated prometheus.Counter
	Deliveries         *prometheus.CounterVec // labels: channel, outcome={sent,failed}
	DeliveryQueueDrops prometheus.Counter

	// Notifier circuit breaker metrics.
	NotifierBreakerState *prometheus.GaugeVec   // labels: name; 0 closed, 1 half-open, 2 open
	NotifierRequests     *prometheus.CounterVec // labels: name, result={success,failure,rejected,throttled}

	// HTTP API metrics.
	HTTPRequests        *prometheus.CounterVec // labels: route, method, status
	HTTPRequestDuration *prometheus.HistogramVec

	// Simulation metrics.
	SimulationDuration prometheus.Histogram
	SimulationRejected prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total observation messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total zone updates written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total observations that could not be parsed or ingested.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the ingestion pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-ingest-publish cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when region naming via geocoding is enabled, 0 otherwise.",
		}),
		ZoneUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_upserts_total",
			Help:      "Observations absorbed into zones, by whether a zone was created or merged.",
		}, []string{"result"}),
		ZonesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zones_tracked",
			Help:      "Number of zones held by the index.",
		}),
		ZoneSaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_save_errors_total",
			Help:      "Failed attempts to persist a zone snapshot.",
		}),
		ZonesUnsaved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zones_unsaved",
			Help:      "Zones whose latest snapshot has not been persisted yet.",
		}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created by the dispatcher.",
		}),
		AlertsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_deduplicated_total",
			Help:      "Alert candidates skipped because the cooldown key already existed.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_deliveries_total",
			Help:      "Alert delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		DeliveryQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_delivery_queue_drops_total",
			Help:      "Deliveries marked failed because the delivery queue was full.",
		}),
		NotifierBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifier_breaker_state",
			Help:      "Notifier circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		NotifierRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_requests_total",
			Help:      "Notifier sends through the circuit breaker by result.",
		}, []string{"name", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		SimulationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spread_simulation_duration_seconds",
			Help:      "Duration of spread simulations.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		SimulationRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spread_simulation_rejected_total",
			Help:      "Spread simulation requests rejected for an invalid horizon.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.ZoneUpserts,
		m.ZonesTracked,
		m.ZoneSaveErrors,
		m.ZonesUnsaved,
		m.AlertsCreated,
		m.AlertsDeduplicated,
		m.Deliveries,
		m.DeliveryQueueDrops,
		m.NotifierBreakerState,
		m.NotifierRequests,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.SimulationDuration,
		m.SimulationRejected,
	}
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
