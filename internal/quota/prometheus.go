package quota

import "github.com/prometheus/client_golang/prometheus"

// MetricsSource is anything that can produce a metrics snapshot.
type MetricsSource interface {
	Metrics() MetricsSnapshot
}

// statsSource is implemented by checkers that expose an in-memory footprint.
type statsSource interface {
	Stats() TrackerStats
}

// PrometheusCollector exports a checker's counters as Prometheus metrics.
type PrometheusCollector struct {
	source       MetricsSource
	checks       *prometheus.Desc
	cacheHits    *prometheus.Desc
	writes       *prometheus.Desc
	failedWrites *prometheus.Desc
	retries      *prometheus.Desc
	deadLettered *prometheus.Desc
	avgLatency   *prometheus.Desc
	keys         *prometheus.Desc
	windows      *prometheus.Desc
	pending      *prometheus.Desc
	retryQueue   *prometheus.Desc
}

// NewPrometheusCollector creates a collector reading from source on every scrape.
func NewPrometheusCollector(namespace string, source MetricsSource) *PrometheusCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "quota", name), help, labels, nil)
	}
	return &PrometheusCollector{
		source:       source,
		checks:       desc("checks_total", "Quota checks by decision.", "decision"),
		cacheHits:    desc("cache_hits_total", "Quota checks answered without hydration."),
		writes:       desc("storage_writes_total", "Persistence callback invocations."),
		failedWrites: desc("storage_write_failures_total", "Failed persistence callback invocations."),
		retries:      desc("write_retries_total", "Persistence attempts made from the retry queue."),
		deadLettered: desc("dead_lettered_total", "Updates dropped after exhausting retries."),
		avgLatency:   desc("check_latency_avg_seconds", "Mean latency of the most recent checks."),
		keys:         desc("tracked_keys", "Keys held in memory."),
		windows:      desc("tracked_windows", "Windows held in memory."),
		pending:      desc("pending_keys", "Keys with unflushed usage."),
		retryQueue:   desc("retry_queue_length", "Updates waiting for another persistence attempt."),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.checks, c.cacheHits, c.writes, c.failedWrites, c.retries,
		c.deadLettered, c.avgLatency, c.keys, c.windows, c.pending, c.retryQueue,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Metrics()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.checks, snap.AllowedChecks, "allowed")
	counter(c.checks, snap.DeniedChecks, "denied")
	counter(c.cacheHits, snap.CacheHits)
	counter(c.writes, snap.StorageWrites)
	counter(c.failedWrites, snap.FailedWrites)
	counter(c.retries, snap.RetriedWrites)
	counter(c.deadLettered, snap.DeadLettered)
	gauge(c.avgLatency, snap.AverageCheckTime.Seconds())

	if s, ok := c.source.(statsSource); ok {
		stats := s.Stats()
		gauge(c.keys, float64(stats.Keys))
		gauge(c.windows, float64(stats.Windows))
		gauge(c.pending, float64(stats.PendingKeys))
		gauge(c.retryQueue, float64(stats.RetryQueue))
	}
}
