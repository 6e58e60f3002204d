package quota

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type keyState struct {
	windows  []Window
	duration time.Duration
}

// Tracker is the in-memory quota engine. Once a key is hydrated its checks
// and usage records never touch storage; accumulated usage is persisted by a
// batched write-back.
//
// Check, RecordUsage and the flush snapshot serialize on a single mutex, so a
// check never observes a half-applied usage record. Hydration I/O runs outside
// the lock.
type Tracker struct {
	keys       map[string]*keyState
	pending    map[string]*PendingUpdate
	source     WindowSource
	metrics    *Metrics
	clock      func() time.Time
	writeBack  *WriteBack
	logger     zerolog.Logger
	window     time.Duration
	maxWindows int
	maxBatch   int
	mu         sync.Mutex
}

// NewTracker creates a tracker and starts its write-back timer.
// Callers must call Shutdown to stop it.
func NewTracker(opts ...Option) *Tracker {
	s := newSettings(opts)
	t := &Tracker{
		keys:       make(map[string]*keyState),
		pending:    make(map[string]*PendingUpdate),
		source:     s.source,
		metrics:    s.metrics,
		clock:      s.clock,
		logger:     s.logger,
		window:     s.windowDuration,
		maxWindows: s.maxWindowsPerKey,
		maxBatch:   s.maxBatchSize,
	}
	t.writeBack = newWriteBack(t.takePending, s)
	return t
}

// SetPersistenceCallback installs the function used to persist pending usage.
func (t *Tracker) SetPersistenceCallback(fn PersistFunc) {
	t.writeBack.SetPersistenceCallback(fn)
}

// Check evaluates the key's quota from memory, hydrating it first if unseen.
func (t *Tracker) Check(ctx context.Context, key string, cfg Config, tokensRequested int64) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	if tokensRequested < 0 {
		return Result{}, ErrNegativeTokens
	}
	started := time.Now()

	hit, err := t.ensureLoaded(ctx, key)
	if err != nil {
		return Result{}, err
	}

	now := t.clock()
	t.mu.Lock()
	st := t.keys[key]
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = t.window
	}
	t.setDuration(st, cfg.WindowDuration)
	st.windows = EvictExpired(st.windows, now, st.duration)
	t.currentWindow(st, now)
	res := evaluate(st.windows, cfg, now, tokensRequested)
	t.mu.Unlock()

	t.metrics.RecordCheck(res.Allowed, hit, time.Since(started))
	return res, nil
}

// RecordUsage adds tokens to the key's current window and queues the delta
// for persistence. Reaching the batch size requests an immediate flush.
func (t *Tracker) RecordUsage(ctx context.Context, key string, tokens int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if tokens < 0 {
		return ErrNegativeTokens
	}
	if tokens == 0 {
		return nil
	}

	if _, err := t.ensureLoaded(ctx, key); err != nil {
		return err
	}

	now := t.clock()
	t.mu.Lock()
	st := t.keys[key]
	st.windows = EvictExpired(st.windows, now, st.duration)
	i := t.currentWindow(st, now)
	st.windows[i].TokensUsed += tokens

	p, ok := t.pending[key]
	if !ok {
		p = &PendingUpdate{Key: key}
		t.pending[key] = p
	}
	p.TokenDelta += tokens
	p.LastTouched = now
	p.addWindowDelta(st.windows[i].StartTime, tokens)
	full := len(t.pending) >= t.maxBatch
	t.mu.Unlock()

	if full {
		t.writeBack.RequestFlush()
	}
	return nil
}

// ensureLoaded hydrates key from the window source when it is not yet in
// memory. It reports whether the key was already present.
func (t *Tracker) ensureLoaded(ctx context.Context, key string) (bool, error) {
	t.mu.Lock()
	_, ok := t.keys[key]
	t.mu.Unlock()
	if ok {
		return true, nil
	}

	var persisted []PersistedWindow
	if t.source != nil {
		var err error
		persisted, err = t.source.LoadWindows(ctx, key)
		if err != nil {
			return false, fmt.Errorf("quota: load windows for %q: %w", key, err)
		}
	}
	windows, err := Hydrate(key, persisted, t.window)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	if _, ok := t.keys[key]; !ok {
		t.keys[key] = &keyState{
			windows:  TrimToCapacity(windows, t.maxWindows),
			duration: t.window,
		}
	}
	t.mu.Unlock()

	t.logger.Debug().Str("key", key).Int("windows", len(windows)).Msg("quota key hydrated")
	return false, nil
}

// setDuration switches a key to a new window span, recomputing window ends.
// Must be called with t.mu held.
func (t *Tracker) setDuration(st *keyState, d time.Duration) {
	if st.duration == d {
		return
	}
	st.duration = d
	for i := range st.windows {
		st.windows[i].EndTime = st.windows[i].StartTime.Add(d)
	}
}

// currentWindow returns the index of the window covering now, creating it
// when absent. Must be called with t.mu held.
func (t *Tracker) currentWindow(st *keyState, now time.Time) int {
	if i := FindCurrent(st.windows, now); i >= 0 {
		return i
	}

	w := CreateWindow(now, st.duration)
	st.windows, _ = insertSorted(st.windows, w)
	st.windows = TrimToCapacity(st.windows, t.maxWindows)
	if i := FindCurrent(st.windows, now); i >= 0 {
		return i
	}

	// only reachable when more than maxWindows windows start in the future
	var i int
	st.windows, i = insertSorted(st.windows, w)
	return i
}

// takePending snapshots and clears the pending map, ordered by key.
func (t *Tracker) takePending() []PendingUpdate {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	batch := make([]PendingUpdate, 0, len(t.pending))
	for _, p := range t.pending {
		batch = append(batch, *p)
	}
	t.pending = make(map[string]*PendingUpdate, len(batch))
	t.mu.Unlock()

	slices.SortFunc(batch, func(a, b PendingUpdate) int { return strings.Compare(a.Key, b.Key) })
	return batch
}

// Flush persists pending usage immediately.
func (t *Tracker) Flush(ctx context.Context) FlushReport {
	return t.writeBack.FlushBatch(ctx)
}

// DeadLetters returns updates that exhausted their retries.
func (t *Tracker) DeadLetters() []DeadLetter { return t.writeBack.DeadLetters() }

// Metrics returns a snapshot of the tracker's counters.
func (t *Tracker) Metrics() MetricsSnapshot { return t.metrics.Snapshot() }

// ResetMetrics zeroes the tracker's counters.
func (t *Tracker) ResetMetrics() { t.metrics.Reset() }

// Stats reports the current in-memory footprint.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	stats := TrackerStats{Keys: len(t.keys), PendingKeys: len(t.pending)}
	for _, st := range t.keys {
		stats.Windows += len(st.windows)
	}
	t.mu.Unlock()
	stats.RetryQueue = t.writeBack.RetryQueueLen()
	return stats
}

// TrackerStats is the in-memory footprint of a Tracker.
type TrackerStats struct {
	Keys        int `json:"keys"`
	Windows     int `json:"windows"`
	PendingKeys int `json:"pending_keys"`
	RetryQueue  int `json:"retry_queue"`
}

// Shutdown stops the write-back timer and flushes outstanding usage.
func (t *Tracker) Shutdown(ctx context.Context) error {
	return t.writeBack.Shutdown(ctx)
}
