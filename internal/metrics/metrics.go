package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

// Metrics holds all engine metrics.
type Metrics struct {
	// Metric engine
	Updates        *Counter
	Samples        *Counter
	Computes       *CounterVec // labels: status
	ComputeLatency *Histogram
	QueriesScored  *Histogram

	// State synchronization
	Syncs       *CounterVec // labels: status
	SyncLatency *Histogram
	WorldSize   *Gauge

	// Gather events seen on the bus
	GatherContributions *CounterVec // labels: rank

	// Bus metrics
	BusEventsPublished *CounterVec   // labels: topic
	BusEventLatency    *HistogramVec // labels: topic
	BusErrors          *CounterVec   // labels: topic

	// HTTP metrics
	HTTPRequests         *CounterVec   // labels: method, path, status
	HTTPDuration         *HistogramVec // labels: method, path
	HTTPRequestsInFlight *Gauge

	// System metrics
	GoroutineCount *Gauge
	MemoryUsage    *Gauge // in bytes
	Uptime         *Gauge // in seconds

	startTime time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// New creates a metrics instance and starts the system metrics collector.
// Close stops the collector.
func New() *Metrics {
	m := &Metrics{
		Updates: NewCounter(
			"rankeval_metric_updates_total",
			"Total number of accepted metric updates",
			nil,
		),
		Samples: NewCounter(
			"rankeval_samples_total",
			"Total number of samples accumulated after index exclusion",
			nil,
		),
		Computes: NewCounterVec(
			"rankeval_computes_total",
			"Total number of metric computations",
			[]string{"status"},
		),
		ComputeLatency: NewHistogram(
			"rankeval_compute_duration_seconds",
			"Grouping and scoring duration in seconds",
			DefaultBuckets,
			nil,
		),
		QueriesScored: NewHistogram(
			"rankeval_queries_per_compute",
			"Number of scored queries per computation",
			[]float64{1, 10, 100, 1000, 10000, 100000, 1000000},
			nil,
		),

		Syncs: NewCounterVec(
			"rankeval_state_syncs_total",
			"Total number of state synchronizations",
			[]string{"status"},
		),
		SyncLatency: NewHistogram(
			"rankeval_state_sync_duration_seconds",
			"State synchronization barrier duration in seconds",
			DefaultBuckets,
			nil,
		),
		WorldSize: NewGauge(
			"rankeval_world_size",
			"Number of ranks in the last synchronization",
			nil,
		),

		GatherContributions: NewCounterVec(
			"rankeval_gather_contributions_total",
			"Gather contributions observed on the bus",
			[]string{"rank"},
		),

		BusEventsPublished: NewCounterVec(
			"rankeval_bus_events_published_total",
			"Total number of events published to the bus",
			[]string{"topic"},
		),
		BusEventLatency: NewHistogramVec(
			"rankeval_bus_event_latency_seconds",
			"Event bus publish latency in seconds",
			[]string{"topic"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		),
		BusErrors: NewCounterVec(
			"rankeval_bus_errors_total",
			"Total number of event bus errors",
			[]string{"topic"},
		),

		HTTPRequests: NewCounterVec(
			"rankeval_http_requests_total",
			"Total number of HTTP requests",
			[]string{"method", "path", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"rankeval_http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]string{"method", "path"},
			DefaultBuckets,
		),
		HTTPRequestsInFlight: NewGauge(
			"rankeval_http_requests_in_flight",
			"Number of HTTP requests currently being processed",
			nil,
		),

		GoroutineCount: NewGauge(
			"rankeval_goroutines",
			"Number of goroutines",
			nil,
		),
		MemoryUsage: NewGauge(
			"rankeval_memory_bytes",
			"Memory usage in bytes",
			nil,
		),
		Uptime: NewGauge(
			"rankeval_uptime_seconds",
			"Process uptime in seconds",
			nil,
		),

		startTime: time.Now(),
		stop:      make(chan struct{}),
	}

	m.collectSystemMetrics()
	go m.runCollector(15 * time.Second)

	return m
}

func (m *Metrics) runCollector(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collectSystemMetrics()
		}
	}
}

func (m *Metrics) collectSystemMetrics() {
	m.GoroutineCount.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsage.Set(float64(memStats.Alloc))

	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordUpdate records an accepted metric update.
func (m *Metrics) RecordUpdate(samples int) {
	m.Updates.Inc()
	m.Samples.Add(int64(samples))
}

// RecordCompute records one grouping and scoring pass.
func (m *Metrics) RecordCompute(queries int, latency time.Duration, err error) {
	m.Computes.WithLabels(status(err)).Inc()
	m.ComputeLatency.Observe(latency.Seconds())
	if err == nil {
		m.QueriesScored.Observe(float64(queries))
	}
}

// RecordSync records one state synchronization.
func (m *Metrics) RecordSync(ranks int, latency time.Duration, err error) {
	m.Syncs.WithLabels(status(err)).Inc()
	m.SyncLatency.Observe(latency.Seconds())
	m.WorldSize.Set(float64(ranks))
}

// RecordGatherContribution records a gather contribution seen on the bus.
func (m *Metrics) RecordGatherContribution(rank int) {
	m.GatherContributions.WithLabels(strconv.Itoa(rank)).Inc()
}

// RecordBusPublish records event bus publish metrics.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabels(topic).Inc()
	m.BusEventLatency.WithLabels(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

// RecordHTTP records HTTP request metrics. Called by HTTPMiddleware.
func (m *Metrics) RecordHTTP(method, path string, code int, duration time.Duration) {
	normalized := normalizePath(path)
	m.HTTPRequests.WithLabels(method, normalized, statusCode(code)).Inc()
	m.HTTPDuration.WithLabels(method, normalized).Observe(duration.Seconds())
}

// status labels an outcome by error code.
func status(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.Code(err)
}

// Close stops the system metrics collector.
func (m *Metrics) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}
