package quota

import "time"

// InsertSorted exports insertSorted for testing.
var InsertSorted = insertSorted

// RetryAfterSeconds exports retryAfterSeconds for testing.
var RetryAfterSeconds = retryAfterSeconds

// Evaluate exports evaluate for testing.
var Evaluate = evaluate

// Verify exported helpers keep their expected types.
var (
	_ func([]Window, Window) ([]Window, int)          = InsertSorted
	_ func(time.Time, time.Time, time.Duration) int64 = RetryAfterSeconds
	_ func([]Window, Config, time.Time, int64) Result = Evaluate
)

// WindowsFor returns a copy of the in-memory windows of key.
func (t *Tracker) WindowsFor(key string) []Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.keys[key]
	if !ok {
		return nil
	}
	out := make([]Window, len(st.windows))
	copy(out, st.windows)
	return out
}

// PendingFor returns a copy of the pending update of key.
func (t *Tracker) PendingFor(key string) (PendingUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[key]
	if !ok {
		return PendingUpdate{}, false
	}
	return p.clone(), true
}
