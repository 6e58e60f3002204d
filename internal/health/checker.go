package health

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Status values reported by the Checker.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Component is the health of one dependency.
type Component struct {
	Status  string        `json:"status"`
	Circuit string        `json:"circuit"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report aggregates the health of every registered dependency.
type Report struct {
	CheckedAt  time.Time            `json:"checked_at"`
	Components map[string]Component `json:"components"`
	Status     string               `json:"status"`
}

// Healthy reports whether every component is ok.
func (r Report) Healthy() bool { return r.Status == StatusOK }

// HTTPProbe returns a Probe that expects any non-5xx answer from url.
// Upstream APIs reject unauthenticated calls with 4xx, which still proves
// the host is reachable.
func HTTPProbe(url string, client *http.Client) Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe request: %w", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
		}
		return nil
	}
}

// Checker probes registered dependencies and keeps the latest Report.
type Checker struct {
	tracker *Tracker
	probes  map[string]Probe
	logger  *zerolog.Logger
	cancel  context.CancelFunc
	last    atomic.Pointer[Report]
	config  CheckConfig
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// NewChecker creates a Checker. tracker may be nil.
func NewChecker(tracker *Tracker, cfg CheckConfig, logger *zerolog.Logger) *Checker {
	return &Checker{
		tracker: tracker,
		config:  cfg,
		probes:  make(map[string]Probe),
		logger:  logger,
	}
}

// Register adds or replaces the probe for name.
func (h *Checker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Check runs every probe concurrently, each under the probe timeout, and
// stores the result as the latest report.
func (h *Checker) Check(ctx context.Context) Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	probes := make([]Probe, len(names))
	sort.Strings(names)
	for i, name := range names {
		probes[i] = h.probes[name]
	}
	h.mu.RUnlock()

	components := make([]Component, len(names))
	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			components[i] = h.runProbe(ctx, names[i], probe)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]Component, len(names)),
		Status:     StatusOK,
	}
	for i, name := range names {
		report.Components[name] = components[i]
		if components[i].Status != StatusOK {
			report.Status = StatusDegraded
		}
	}
	h.last.Store(&report)
	return report
}

func (h *Checker) runProbe(ctx context.Context, name string, probe Probe) Component {
	ctx, cancel := context.WithTimeout(ctx, h.config.GetProbeTimeout())
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	c := Component{
		Status:  StatusOK,
		Circuit: StateClosed.String(),
		Latency: time.Since(start),
	}
	if h.tracker != nil {
		if err == nil && h.tracker.GetState(name) == StateHalfOpen && h.tracker.Circuit(name).Report(nil) {
			if h.logger != nil {
				h.logger.Info().Str("dependency", name).Msg("health probe succeeded, counted toward recovery")
			}
		}
		c.Circuit = h.tracker.GetState(name).String()
		if !h.tracker.IsHealthy(name) {
			c.Status = StatusDegraded
		}
	}
	if err != nil {
		c.Status = StatusDegraded
		c.Error = fmt.Errorf("%w: %w", ErrProbeFailed, err).Error()
		if h.logger != nil {
			h.logger.Warn().Err(err).Str("dependency", name).Msg("health probe failed")
		}
	}
	return c
}

// Last returns the most recent report, if any check has run.
func (h *Checker) Last() (Report, bool) {
	r := h.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Start runs an initial check and then probes on the configured interval
// until Stop is called or ctx ends.
func (h *Checker) Start(ctx context.Context) {
	if !h.config.IsEnabled() {
		if h.logger != nil {
			h.logger.Info().Msg("health checker disabled")
		}
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	interval := h.config.GetInterval()
	jitter := cryptoRandDuration(2 * time.Second)
	ticker := time.NewTicker(interval + jitter)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()

		h.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()

	if h.logger != nil {
		h.logger.Info().Dur("interval", interval).Dur("jitter", jitter).Msg("health checker started")
	}
}

// Stop ends periodic probing and waits for the loop to exit.
func (h *Checker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// cryptoRandDuration returns a random duration in [0, maxDur).
func cryptoRandDuration(maxDur time.Duration) time.Duration {
	if maxDur <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.LittleEndian.Uint64(b[:]) % uint64(maxDur))
}
