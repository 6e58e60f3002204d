package cache

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a StatsProvider's counters under <namespace>_cache_*.
type Collector struct {
	source    StatsProvider
	lookups   *prometheus.Desc
	evictions *prometheus.Desc
	keys      *prometheus.Desc
	bytes     *prometheus.Desc
}

// NewCollector creates a collector that reads source on every scrape.
func NewCollector(namespace string, source StatsProvider) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "cache", n) }
	return &Collector{
		source:    source,
		lookups:   prometheus.NewDesc(name("lookups_total"), "Cache lookups by result.", []string{"result"}, nil),
		evictions: prometheus.NewDesc(name("evictions_total"), "Entries evicted to stay within max_cost.", nil, nil),
		keys:      prometheus.NewDesc(name("keys"), "Entries currently held.", nil, nil),
		bytes:     prometheus.NewDesc(name("cost_bytes"), "Cost currently held.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lookups
	ch <- c.evictions
	ch <- c.keys
	ch <- c.bytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(s.KeyCount))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.BytesUsed))
}
