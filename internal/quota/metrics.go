package quota

import (
	"sync"
	"time"
)

// latencySamples is the size of the rolling check-latency buffer.
const latencySamples = 1000

// MetricsSnapshot is a point-in-time copy of the quota counters.
type MetricsSnapshot struct {
	TotalChecks      int64         `json:"total_checks"`
	AllowedChecks    int64         `json:"allowed_checks"`
	DeniedChecks     int64         `json:"denied_checks"`
	CacheHits        int64         `json:"cache_hits"`
	StorageWrites    int64         `json:"storage_writes"`
	FailedWrites     int64         `json:"failed_writes"`
	RetriedWrites    int64         `json:"retried_writes"`
	DeadLettered     int64         `json:"dead_lettered"`
	AverageCheckTime time.Duration `json:"average_check_time_ns"`
	LatencySamples   int           `json:"latency_samples"`
}

// CacheHitRate returns cache hits over total checks, or 0 without checks.
func (s MetricsSnapshot) CacheHitRate() float64 {
	if s.TotalChecks == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalChecks)
}

// Metrics collects quota counters and a rolling latency buffer.
// It is safe for concurrent use.
type Metrics struct {
	samples       []time.Duration
	next          int
	totalChecks   int64
	allowed       int64
	denied        int64
	cacheHits     int64
	storageWrites int64
	failedWrites  int64
	retried       int64
	deadLettered  int64
	mu            sync.Mutex
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{samples: make([]time.Duration, 0, latencySamples)}
}

// RecordCheck counts one check and stores its latency.
func (m *Metrics) RecordCheck(allowed, cacheHit bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalChecks++
	if allowed {
		m.allowed++
	} else {
		m.denied++
	}
	if cacheHit {
		m.cacheHits++
	}

	if len(m.samples) < latencySamples {
		m.samples = append(m.samples, elapsed)
		return
	}
	m.samples[m.next] = elapsed
	m.next = (m.next + 1) % latencySamples
}

// recordFlush counts attempted and failed persistence writes.
func (m *Metrics) recordFlush(attempted, failed int) {
	m.mu.Lock()
	m.storageWrites += int64(attempted)
	m.failedWrites += int64(failed)
	m.mu.Unlock()
}

func (m *Metrics) recordRetry() {
	m.mu.Lock()
	m.retried++
	m.mu.Unlock()
}

func (m *Metrics) recordDeadLetter() {
	m.mu.Lock()
	m.deadLettered++
	m.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalChecks:    m.totalChecks,
		AllowedChecks:  m.allowed,
		DeniedChecks:   m.denied,
		CacheHits:      m.cacheHits,
		StorageWrites:  m.storageWrites,
		FailedWrites:   m.failedWrites,
		RetriedWrites:  m.retried,
		DeadLettered:   m.deadLettered,
		LatencySamples: len(m.samples),
	}
	if len(m.samples) > 0 {
		var sum time.Duration
		for _, d := range m.samples {
			sum += d
		}
		snap.AverageCheckTime = sum / time.Duration(len(m.samples))
	}
	return snap
}

// Reset zeroes all counters and empties the latency buffer.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = m.samples[:0]
	m.next = 0
	m.totalChecks, m.allowed, m.denied, m.cacheHits = 0, 0, 0, 0
	m.storageWrites, m.failedWrites, m.retried, m.deadLettered = 0, 0, 0, 0
}
