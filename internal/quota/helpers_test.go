package quota_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/quota"
)

// epoch is a fixed, hour-aligned instant used as the virtual clock origin.
var epoch = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store down")

type virtualClock struct {
	now time.Time
	mu  sync.Mutex
}

func newVirtualClock(t time.Time) *virtualClock { return &virtualClock{now: t} }

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory WindowSource and persistence sink.
type fakeStore struct {
	windows map[string][]quota.PersistedWindow
	calls   map[string][]quota.PendingUpdate
	failFor map[string]int
	mu      sync.Mutex
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		windows: make(map[string][]quota.PersistedWindow),
		calls:   make(map[string][]quota.PendingUpdate),
		failFor: make(map[string]int),
	}
}

func (s *fakeStore) LoadWindows(_ context.Context, key string) ([]quota.PersistedWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]quota.PersistedWindow(nil), s.windows[key]...), nil
}

func (s *fakeStore) ApplyUpdate(_ context.Context, u quota.PendingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[u.Key] = append(s.calls[u.Key], u)
	if s.failFor[u.Key] > 0 {
		s.failFor[u.Key]--
		return errStoreDown
	}
	for _, wd := range u.Windows {
		start := quota.FormatTime(wd.Start)
		found := false
		for i := range s.windows[u.Key] {
			if s.windows[u.Key][i].WindowStart == start {
				s.windows[u.Key][i].TokensUsed += wd.Tokens
				found = true
			}
		}
		if !found {
			s.windows[u.Key] = append(s.windows[u.Key], quota.PersistedWindow{
				WindowStart: start,
				TokensUsed:  wd.Tokens,
			})
		}
	}
	return nil
}

func (s *fakeStore) callsFor(key string) []quota.PendingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]quota.PendingUpdate(nil), s.calls[key]...)
}

func (s *fakeStore) put(key string, windows ...quota.PersistedWindow) {
	s.mu.Lock()
	s.windows[key] = append(s.windows[key], windows...)
	s.mu.Unlock()
}

// newTestTracker builds a tracker with a long flush interval so tests drive flushes.
func newTestTracker(t *testing.T, clock *virtualClock, opts ...quota.Option) *quota.Tracker {
	t.Helper()

	base := []quota.Option{
		quota.WithClock(clock.Now),
		quota.WithFlushInterval(time.Hour),
	}
	tracker := quota.NewTracker(append(base, opts...)...)
	t.Cleanup(func() {
		require.NoError(t, tracker.Shutdown(context.Background()))
	})
	return tracker
}

func persisted(start time.Time, tokens int64) quota.PersistedWindow {
	return quota.PersistedWindow{WindowStart: quota.FormatTime(start), TokensUsed: tokens}
}
