package quota

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PendingUpdate is the unflushed usage of one key.
// TokenDelta equals the sum of Windows deltas.
type PendingUpdate struct {
	LastTouched time.Time     `json:"last_touched"`
	Key         string        `json:"key"`
	Windows     []WindowDelta `json:"windows"`
	TokenDelta  int64         `json:"token_delta"`
}

// WindowDelta is the usage added to a single window since the last flush.
type WindowDelta struct {
	Start  time.Time `json:"window_start"`
	Tokens int64     `json:"tokens"`
}

func (u *PendingUpdate) addWindowDelta(start time.Time, tokens int64) {
	for i := range u.Windows {
		if u.Windows[i].Start.Equal(start) {
			u.Windows[i].Tokens += tokens
			return
		}
	}
	u.Windows = append(u.Windows, WindowDelta{Start: start, Tokens: tokens})
}

func (u PendingUpdate) clone() PendingUpdate {
	u.Windows = slices.Clone(u.Windows)
	return u
}

// PersistFunc durably applies one pending update.
type PersistFunc func(ctx context.Context, update PendingUpdate) error

// RetryPolicy controls how failed updates are re-attempted.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns five attempts backing off from 1s up to 1m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: time.Second, MaxInterval: time.Minute}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(def.MaxInterval, p.InitialInterval)
	}
	return p
}

// DeadLetter is an update that could not be persisted within the retry policy.
type DeadLetter struct {
	FailedAt  time.Time     `json:"failed_at"`
	LastError string        `json:"last_error"`
	Update    PendingUpdate `json:"update"`
	Attempts  int           `json:"attempts"`
}

// FlushReport summarizes one flush.
type FlushReport struct {
	Flushed      int `json:"flushed"`
	Failed       int `json:"failed"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
	Dropped      int `json:"dropped"`
}

type retryEntry struct {
	nextAttempt time.Time
	lastErr     error
	backoff     *backoff.ExponentialBackOff
	update      PendingUpdate
	attempts    int
}

type flushJob struct {
	retry  *retryEntry
	update PendingUpdate
}

// WriteBack periodically drains pending updates and hands them to the
// persistence callback. Failed updates are retried with exponential backoff
// and dead-lettered once the retry policy is exhausted.
//
// At most one flush runs at a time, whichever of the timer, the size trigger,
// an explicit Flush or Shutdown started it.
type WriteBack struct {
	drain    func() []PendingUpdate
	metrics  *Metrics
	clock    func() time.Time
	persist  PersistFunc
	timer    *time.Timer
	flushing chan struct{} // holds a token while a flush runs
	kick     chan struct{}
	done     chan struct{}
	loopDone chan struct{}
	logger   zerolog.Logger
	retries  []*retryEntry
	dead     []DeadLetter
	retry    RetryPolicy
	interval time.Duration
	limit    int
	deadCap  int
	mu       sync.Mutex
	stopOnce sync.Once
	closed   bool
	warned   bool
}

func newWriteBack(drain func() []PendingUpdate, s *settings) *WriteBack {
	wb := &WriteBack{
		drain:    drain,
		metrics:  s.metrics,
		clock:    s.clock,
		logger:   s.logger,
		retry:    s.retry.withDefaults(),
		interval: s.flushInterval,
		limit:    s.maxConcurrent,
		deadCap:  s.deadLetterCap,
		flushing: make(chan struct{}, 1),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	wb.arm()
	go wb.loop()
	return wb
}

// SetPersistenceCallback installs the function used to persist updates.
// Until one is set, flushed updates are dropped with a warning.
func (w *WriteBack) SetPersistenceCallback(fn PersistFunc) {
	w.mu.Lock()
	w.persist = fn
	w.warned = false
	w.mu.Unlock()
}

// RequestFlush asks the background loop for an immediate flush without blocking.
func (w *WriteBack) RequestFlush() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *WriteBack) loop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			w.FlushBatch(context.Background())
		}
	}
}

// arm schedules the next timer-driven flush.
func (w *WriteBack) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.interval, func() { w.FlushBatch(context.Background()) })
		return
	}
	w.timer.Reset(w.interval)
}

// FlushBatch persists every pending update plus any retries that are due.
// It waits for a flush already in progress, returning an empty report if ctx
// ends first. The pending timer is cancelled for the duration of the flush
// and re-armed once all callbacks have settled.
func (w *WriteBack) FlushBatch(ctx context.Context) FlushReport {
	if !w.acquire(ctx) {
		return FlushReport{}
	}
	defer w.release()
	return w.flush(ctx)
}

func (w *WriteBack) acquire(ctx context.Context) bool {
	select {
	case w.flushing <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *WriteBack) release() { <-w.flushing }

// flush runs one batch. The caller holds the flushing token.
func (w *WriteBack) flush(ctx context.Context) FlushReport {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	persist := w.persist
	w.mu.Unlock()
	defer w.arm()

	batch := w.drain()
	var report FlushReport

	if persist == nil {
		report.Dropped = len(batch)
		if report.Dropped > 0 {
			w.warnNoCallback(report.Dropped)
		}
		return report
	}

	jobs := make([]flushJob, 0, len(batch))
	for _, u := range batch {
		jobs = append(jobs, flushJob{update: u})
	}
	for _, e := range w.dueRetries(w.clock()) {
		jobs = append(jobs, flushJob{update: e.update, retry: e})
	}
	if len(jobs) == 0 {
		return report
	}

	errs := make([]error, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)
	for i, job := range jobs {
		g.Go(func() error {
			errs[i] = persist(gctx, job.update.clone())
			return nil
		})
	}
	_ = g.Wait()

	for i, job := range jobs {
		err := errs[i]
		if job.retry != nil {
			report.Retried++
			w.metrics.recordRetry()
		}
		if err == nil {
			report.Flushed++
			continue
		}
		report.Failed++
		if w.handleFailure(job, err) {
			report.DeadLettered++
		}
	}

	w.metrics.recordFlush(len(jobs), report.Failed)
	w.logger.Debug().
		Int("flushed", report.Flushed).
		Int("failed", report.Failed).
		Int("retried", report.Retried).
		Msg("quota flush completed")
	return report
}

func (w *WriteBack) warnNoCallback(dropped int) {
	w.mu.Lock()
	first := !w.warned
	w.warned = true
	w.mu.Unlock()

	ev := w.logger.Debug()
	if first {
		ev = w.logger.Warn()
	}
	ev.Int("dropped", dropped).Msg("no persistence callback set, dropping pending usage")
}

// dueRetries removes and returns retry entries whose backoff has elapsed.
func (w *WriteBack) dueRetries(now time.Time) []*retryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	var due []*retryEntry
	kept := w.retries[:0]
	for _, e := range w.retries {
		if e.nextAttempt.After(now) {
			kept = append(kept, e)
			continue
		}
		due = append(due, e)
	}
	clear(w.retries[len(kept):])
	w.retries = kept
	return due
}

// handleFailure requeues the job or dead-letters it. It reports whether the
// update was dead-lettered.
func (w *WriteBack) handleFailure(job flushJob, err error) bool {
	entry := job.retry
	if entry == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = w.retry.InitialInterval
		b.MaxInterval = w.retry.MaxInterval
		entry = &retryEntry{update: job.update, backoff: b}
	}
	entry.attempts++
	entry.lastErr = err
	now := w.clock()

	if entry.attempts >= w.retry.MaxAttempts {
		w.deadLetter(entry, now)
		return true
	}

	entry.nextAttempt = now.Add(entry.backoff.NextBackOff())
	w.mu.Lock()
	w.retries = append(w.retries, entry)
	w.mu.Unlock()

	w.logger.Warn().Err(err).
		Str("key", entry.update.Key).
		Int64("tokens", entry.update.TokenDelta).
		Int("attempt", entry.attempts).
		Time("next_attempt", entry.nextAttempt).
		Msg("quota update persist failed, will retry")
	return false
}

func (w *WriteBack) deadLetter(entry *retryEntry, now time.Time) {
	dl := DeadLetter{
		Update:    entry.update,
		Attempts:  entry.attempts,
		LastError: entry.lastErr.Error(),
		FailedAt:  now,
	}

	w.mu.Lock()
	if len(w.dead) >= w.deadCap {
		w.dead = slices.Delete(w.dead, 0, len(w.dead)-w.deadCap+1)
	}
	w.dead = append(w.dead, dl)
	w.mu.Unlock()

	w.metrics.recordDeadLetter()
	w.logger.Error().Err(entry.lastErr).
		Str("key", entry.update.Key).
		Int64("tokens", entry.update.TokenDelta).
		Int("attempts", entry.attempts).
		Msg("quota update dead-lettered")
}

// DeadLetters returns a copy of the dead-letter list, oldest first.
func (w *WriteBack) DeadLetters() []DeadLetter {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]DeadLetter, len(w.dead))
	for i, dl := range w.dead {
		dl.Update = dl.Update.clone()
		out[i] = dl
	}
	return out
}

// RetryQueueLen returns the number of updates waiting for another attempt.
func (w *WriteBack) RetryQueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.retries)
}

// Shutdown stops the timer and the background loop, waits for a flush in
// progress, then performs a final flush in which every queued retry is
// attempted regardless of its backoff.
func (w *WriteBack) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		close(w.done)
	})

	select {
	case <-w.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !w.acquire(ctx) {
		return ctx.Err()
	}
	defer w.release()

	w.mu.Lock()
	for _, e := range w.retries {
		e.nextAttempt = time.Time{}
	}
	w.mu.Unlock()

	report := w.flush(ctx)
	if report.Failed > 0 || report.Dropped > 0 {
		w.logger.Error().
			Int("failed", report.Failed).
			Int("dropped", report.Dropped).
			Msg("quota usage not fully persisted at shutdown")
	}
	return nil
}
