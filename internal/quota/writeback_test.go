package quota_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/quota"
)

func TestFlushInvokesCallbackOncePerKey(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	tracker := newTestTracker(t, newVirtualClock(epoch))
	tracker.SetPersistenceCallback(store.ApplyUpdate)
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "a", 3))
	require.NoError(t, tracker.RecordUsage(ctx, "b", 4))
	require.NoError(t, tracker.RecordUsage(ctx, "a", 5))

	report := tracker.Flush(ctx)
	assert.Equal(t, 2, report.Flushed)
	assert.Zero(t, report.Failed)

	callsA := store.callsFor("a")
	require.Len(t, callsA, 1)
	assert.Equal(t, int64(8), callsA[0].TokenDelta)
	callsB := store.callsFor("b")
	require.Len(t, callsB, 1)
	assert.Equal(t, int64(4), callsB[0].TokenDelta)

	assert.Zero(t, tracker.Stats().PendingKeys)
	assert.Equal(t, int64(2), tracker.Metrics().StorageWrites)

	// nothing pending: no further calls
	tracker.Flush(ctx)
	assert.Len(t, store.callsFor("a"), 1)
}

func TestFlushWithoutCallbackDropsPending(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t, newVirtualClock(epoch))
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "a", 3))
	report := tracker.Flush(ctx)
	assert.Equal(t, 1, report.Dropped)
	assert.Zero(t, tracker.Stats().PendingKeys)

	// in-memory usage is unaffected
	res, err := tracker.Check(ctx, "a", quota.Config{Limit: 10}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TokensUsed)
}

func TestFlushFailureRetriesWithoutReAddingPending(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch)
	store := newFakeStore()
	store.failFor["a"] = 1
	tracker := newTestTracker(t, clock, quota.WithRetryPolicy(quota.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     time.Second,
	}))
	tracker.SetPersistenceCallback(store.ApplyUpdate)
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "a", 7))
	report := tracker.Flush(ctx)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, tracker.Stats().PendingKeys, "failed delta is not put back into pending")
	assert.Equal(t, 1, tracker.Stats().RetryQueue)

	// the retry is not due yet
	report = tracker.Flush(ctx)
	assert.Zero(t, report.Retried)

	clock.Advance(time.Minute)
	report = tracker.Flush(ctx)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Flushed)
	assert.Zero(t, tracker.Stats().RetryQueue)

	calls := store.callsFor("a")
	require.Len(t, calls, 2)
	assert.Equal(t, int64(7), calls[1].TokenDelta)

	res, err := tracker.Check(ctx, "a", quota.Config{Limit: 100}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.TokensUsed, "in-memory usage is never double counted")
}

func TestFlushDeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch)
	store := newFakeStore()
	store.failFor["a"] = 100
	tracker := newTestTracker(t, clock, quota.WithRetryPolicy(quota.RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Second,
		MaxInterval:     time.Second,
	}))
	tracker.SetPersistenceCallback(store.ApplyUpdate)
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "a", 9))
	tracker.Flush(ctx)
	clock.Advance(time.Minute)
	report := tracker.Flush(ctx)
	assert.Equal(t, 1, report.DeadLettered)

	dead := tracker.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "a", dead[0].Update.Key)
	assert.Equal(t, int64(9), dead[0].Update.TokenDelta)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "store down")

	snap := tracker.Metrics()
	assert.Equal(t, int64(1), snap.DeadLettered)
	assert.Equal(t, int64(2), snap.FailedWrites)
}

func TestDeadLetterCapacityDropsOldest(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t, newVirtualClock(epoch),
		quota.WithDeadLetterCapacity(2),
		quota.WithRetryPolicy(quota.RetryPolicy{MaxAttempts: 1}),
	)
	tracker.SetPersistenceCallback(func(context.Context, quota.PendingUpdate) error { return errStoreDown })
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, tracker.RecordUsage(ctx, key, 1))
		tracker.Flush(ctx)
	}

	dead := tracker.DeadLetters()
	require.Len(t, dead, 2)
	assert.Equal(t, "b", dead[0].Update.Key)
	assert.Equal(t, "c", dead[1].Update.Key)
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	tracker := newTestTracker(t, newVirtualClock(epoch), quota.WithMaxBatchSize(3))
	tracker.SetPersistenceCallback(func(context.Context, quota.PendingUpdate) error {
		calls.Add(1)
		return nil
	})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, tracker.RecordUsage(ctx, key, 1))
	}

	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestTimerTriggersFlush(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	tracker := quota.NewTracker(quota.WithFlushInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = tracker.Shutdown(context.Background()) })
	tracker.SetPersistenceCallback(func(context.Context, quota.PendingUpdate) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, tracker.RecordUsage(context.Background(), "a", 1))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// the timer re-arms after each flush
	require.NoError(t, tracker.RecordUsage(context.Background(), "a", 1))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownFlushesAndRetriesImmediately(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failFor["a"] = 1
	tracker := quota.NewTracker(
		quota.WithClock(newVirtualClock(epoch).Now),
		quota.WithFlushInterval(time.Hour),
	)
	tracker.SetPersistenceCallback(store.ApplyUpdate)
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "a", 2))
	require.NoError(t, tracker.RecordUsage(ctx, "b", 3))
	tracker.Flush(ctx)
	require.NoError(t, tracker.RecordUsage(ctx, "b", 4))

	require.NoError(t, tracker.Shutdown(ctx))

	assert.Len(t, store.callsFor("a"), 2, "queued retry attempted on shutdown")
	callsB := store.callsFor("b")
	require.Len(t, callsB, 2)
	assert.Equal(t, int64(4), callsB[1].TokenDelta)
	assert.Zero(t, tracker.Stats().RetryQueue)

	// shutdown is idempotent
	require.NoError(t, tracker.Shutdown(ctx))
}

func TestPersistedCallbackReceivesWindowSplit(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(epoch.Add(4*time.Hour + 59*time.Minute))
	store := newFakeStore()
	tracker := newTestTracker(t, clock, quota.WithWindowDuration(time.Hour))
	tracker.SetPersistenceCallback(store.ApplyUpdate)
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "k", 10))
	clock.Advance(2 * time.Minute)
	require.NoError(t, tracker.RecordUsage(ctx, "k", 20))
	tracker.Flush(ctx)

	calls := store.callsFor("k")
	require.Len(t, calls, 1)
	assert.Equal(t, int64(30), calls[0].TokenDelta)
	require.Len(t, calls[0].Windows, 2)
	assert.Equal(t, epoch.Add(4*time.Hour), calls[0].Windows[0].Start)
	assert.Equal(t, epoch.Add(5*time.Hour), calls[0].Windows[1].Start)
}

func TestShutdownWaitsForTimerFlush(t *testing.T) {
	t.Parallel()

	var started, finished atomic.Int64
	tracker := quota.NewTracker(quota.WithFlushInterval(20 * time.Millisecond))
	tracker.SetPersistenceCallback(func(context.Context, quota.PendingUpdate) error {
		started.Add(1)
		time.Sleep(300 * time.Millisecond)
		finished.Add(1)
		return nil
	})

	require.NoError(t, tracker.RecordUsage(context.Background(), "a", 1))
	require.Eventually(t, func() bool { return started.Load() == 1 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.Shutdown(ctx))
	assert.Equal(t, int64(1), finished.Load(), "timer flush settled before shutdown returned")
}

func TestShutdownGivesUpWhenContextEnds(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started atomic.Bool
	tracker := quota.NewTracker(quota.WithFlushInterval(time.Hour))
	tracker.SetPersistenceCallback(func(context.Context, quota.PendingUpdate) error {
		started.Store(true)
		<-release
		return nil
	})

	require.NoError(t, tracker.RecordUsage(context.Background(), "a", 1))
	go tracker.Flush(context.Background())
	require.Eventually(t, started.Load, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tracker.Shutdown(ctx), context.DeadlineExceeded)
	close(release)
}

func TestFlushesDoNotOverlap(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var inFlight, peak atomic.Int64
	var bStarted atomic.Bool
	tracker := newTestTracker(t, newVirtualClock(epoch))
	tracker.SetPersistenceCallback(func(_ context.Context, u quota.PendingUpdate) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if u.Key == "a" {
			<-release
		} else {
			bStarted.Store(true)
		}
		return nil
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "a", 1))
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		tracker.Flush(ctx)
	}()
	require.Eventually(t, func() bool { return inFlight.Load() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, tracker.RecordUsage(ctx, "b", 1))
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		tracker.Flush(ctx)
	}()

	assert.Never(t, bStarted.Load, 50*time.Millisecond, 5*time.Millisecond, "second flush waits for the first")
	close(release)
	<-firstDone
	<-secondDone

	assert.True(t, bStarted.Load())
	assert.Equal(t, int64(1), peak.Load())
}
