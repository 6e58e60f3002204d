package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/quota"
)

func TestTrackerScenarioA(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch.Add(5 * time.Minute))
	tracker := newTestTracker(t, clock)
	ctx := context.Background()
	cfg := quota.Config{Limit: 100_000, WindowDuration: 5 * time.Hour}

	require.NoError(t, tracker.RecordUsage(ctx, "k", 50_000))
	res, err := tracker.Check(ctx, "k", cfg, 0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(50_000), res.TokensUsed)

	require.NoError(t, tracker.RecordUsage(ctx, "k", 60_000))
	res, err = tracker.Check(ctx, "k", cfg, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(110_000), res.TokensUsed)
	assert.Equal(t, int64(100_000), res.TokensLimit)
	assert.Equal(t, quota.ReasonTokenLimitExceeded, res.Reason)
	assert.Positive(t, res.RetryAfterSeconds)
}

func TestTrackerScenarioB(t *testing.T) {
	t.Parallel()

	now := epoch.Add(33 * time.Minute)
	tracker := newTestTracker(t, newVirtualClock(now))

	res, err := tracker.Check(context.Background(), "fresh", quota.Config{Limit: 10}, 0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.TokensUsed)
	assert.Equal(t, now, res.WindowStart)
	assert.Equal(t, now.Add(5*time.Hour), res.WindowEnd)

	// the current window is created even though it is empty
	windows := tracker.WindowsFor("fresh")
	require.Len(t, windows, 1)
	assert.Equal(t, epoch, windows[0].StartTime)
}

func TestTrackerAgreesWithColdCheck(t *testing.T) {
	t.Parallel()

	now := epoch.Add(7*time.Hour + 12*time.Minute)
	store := newFakeStore()
	store.put("k",
		persisted(epoch, 400),
		persisted(epoch.Add(3*time.Hour), 250),
		persisted(epoch.Add(6*time.Hour), 100),
	)

	tracker := newTestTracker(t, newVirtualClock(now), quota.WithWindowSource(store))
	cold := quota.NewDirectChecker(store, store, quota.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for _, requested := range []int64{0, 1, 649, 650, 651} {
		cfg := quota.Config{Limit: 1000}
		hot, err := tracker.Check(ctx, "k", cfg, requested)
		require.NoError(t, err)
		coldRes, err := cold.Check(ctx, "k", cfg, requested)
		require.NoError(t, err)

		assert.Equal(t, coldRes, hot, "requested=%d", requested)
	}

	res, err := tracker.Check(ctx, "k", quota.Config{Limit: 1000}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(350), res.TokensUsed)
	assert.Equal(t, epoch.Add(3*time.Hour), res.WindowStart)
}

func TestTrackerEvictsAcrossVirtualTime(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch.Add(10 * time.Minute))
	tracker := newTestTracker(t, clock)
	ctx := context.Background()
	cfg := quota.Config{Limit: 1000}

	require.NoError(t, tracker.RecordUsage(ctx, "k", 900))

	clock.Advance(4 * time.Hour)
	res, err := tracker.Check(ctx, "k", cfg, 200)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(6 * time.Hour)
	res, err = tracker.Check(ctx, "k", cfg, 200)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.TokensUsed)

	for _, w := range tracker.WindowsFor("k") {
		assert.False(t, w.EndTime.Before(clock.Now().Add(-5*time.Hour)), "expired window retained")
	}
}

func TestTrackerCapsWindowsPerKey(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch)
	tracker := newTestTracker(t, clock,
		quota.WithMaxWindowsPerKey(3),
		quota.WithWindowDuration(time.Hour),
	)
	ctx := context.Background()

	for range 6 {
		require.NoError(t, tracker.RecordUsage(ctx, "k", 1))
		clock.Advance(time.Hour)
	}
	assert.LessOrEqual(t, len(tracker.WindowsFor("k")), 3)
}

func TestTrackerPendingAccumulatesPerKey(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch.Add(59 * time.Minute))
	tracker := newTestTracker(t, clock)
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "k", 10))
	clock.Advance(2 * time.Minute)
	require.NoError(t, tracker.RecordUsage(ctx, "k", 5))

	p, ok := tracker.PendingFor("k")
	require.True(t, ok)
	assert.Equal(t, int64(15), p.TokenDelta)
	assert.Equal(t, clock.Now(), p.LastTouched)
	require.Len(t, p.Windows, 1, "both records land in the window opened at 10:00")
	assert.Equal(t, epoch, p.Windows[0].Start)
}

func TestTrackerCacheHits(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t, newVirtualClock(epoch))
	ctx := context.Background()

	for range 3 {
		_, err := tracker.Check(ctx, "k", quota.Config{Limit: 1}, 0)
		require.NoError(t, err)
	}

	snap := tracker.Metrics()
	assert.Equal(t, int64(3), snap.TotalChecks)
	assert.Equal(t, int64(2), snap.CacheHits)
	assert.Equal(t, 3, snap.LatencySamples)
}

func TestTrackerRejectsMalformedHydration(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.put("k", quota.PersistedWindow{WindowStart: "garbage", TokensUsed: 1})
	tracker := newTestTracker(t, newVirtualClock(epoch), quota.WithWindowSource(store))

	_, err := tracker.Check(context.Background(), "k", quota.Config{Limit: 1}, 0)
	require.ErrorIs(t, err, quota.ErrMalformedWindow)
	assert.Nil(t, tracker.WindowsFor("k"))
}

func TestTrackerConcurrentRecords(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t, newVirtualClock(epoch))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				assert.NoError(t, tracker.RecordUsage(ctx, "shared", 1))
			}
		}()
	}
	wg.Wait()

	res, err := tracker.Check(ctx, "shared", quota.Config{Limit: 10_000}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.TokensUsed)
}

func TestTrackerInputValidation(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t, newVirtualClock(epoch))
	ctx := context.Background()

	_, err := tracker.Check(ctx, "", quota.Config{}, 0)
	require.ErrorIs(t, err, quota.ErrEmptyKey)
	require.ErrorIs(t, tracker.RecordUsage(ctx, "", 1), quota.ErrEmptyKey)
	require.ErrorIs(t, tracker.RecordUsage(ctx, "k", -5), quota.ErrNegativeTokens)

	require.NoError(t, tracker.RecordUsage(ctx, "k", 0))
	_, ok := tracker.PendingFor("k")
	assert.False(t, ok)
}
