package quota

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Hydrate converts persisted windows for key into a sorted in-memory list.
// Window ends are recomputed as start + windowDuration. It fails fast on the
// first malformed entry.
func Hydrate(key string, persisted []PersistedWindow, windowDuration time.Duration) ([]Window, error) {
	if windowDuration <= 0 {
		windowDuration = DefaultWindowDuration
	}

	windows := make([]Window, 0, len(persisted))
	for i, p := range persisted {
		start, err := ParseTime(p.WindowStart)
		if err != nil {
			return nil, fmt.Errorf("key %q window %d: %w", key, i, err)
		}
		if p.TokensUsed < 0 {
			return nil, fmt.Errorf("%w: key %q window %d: negative tokens_used %d",
				ErrMalformedWindow, key, i, p.TokensUsed)
		}
		windows = append(windows, Window{
			StartTime:  start,
			EndTime:    start.Add(windowDuration),
			TokensUsed: p.TokensUsed,
		})
	}

	slices.SortStableFunc(windows, compareStart)
	return mergeDuplicates(windows), nil
}

// mergeDuplicates folds windows that share a start time into one.
// The input must be sorted.
func mergeDuplicates(windows []Window) []Window {
	if len(windows) < 2 {
		return windows
	}
	out := windows[:1]
	for _, w := range windows[1:] {
		last := &out[len(out)-1]
		if w.StartTime.Equal(last.StartTime) {
			last.TokensUsed += w.TokensUsed
			continue
		}
		out = append(out, w)
	}
	return out
}

// FindCurrent returns the index of the window containing now, or -1.
// windows must be sorted by StartTime.
func FindCurrent(windows []Window, now time.Time) int {
	// first window starting strictly after now; the candidate is the one before it
	i := sort.Search(len(windows), func(i int) bool {
		return windows[i].StartTime.After(now)
	})
	if i == 0 {
		return -1
	}
	if windows[i-1].Contains(now) {
		return i - 1
	}
	return -1
}

// CreateWindow returns an empty window starting at the hour boundary at or before now.
func CreateWindow(now time.Time, windowDuration time.Duration) Window {
	if windowDuration <= 0 {
		windowDuration = DefaultWindowDuration
	}
	start := now.UTC().Truncate(windowAlignment)
	return Window{
		StartTime: start,
		EndTime:   start.Add(windowDuration),
	}
}

// insertSorted inserts w keeping windows ordered by StartTime and returns the
// updated slice with the index w landed at.
func insertSorted(windows []Window, w Window) ([]Window, int) {
	i := sort.Search(len(windows), func(i int) bool {
		return !windows[i].StartTime.Before(w.StartTime)
	})
	return slices.Insert(windows, i, w), i
}

// EvictExpired drops windows whose end is earlier than now - windowDuration.
func EvictExpired(windows []Window, now time.Time, windowDuration time.Duration) []Window {
	cutoff := now.Add(-windowDuration)
	if !lo.SomeBy(windows, func(w Window) bool { return w.EndTime.Before(cutoff) }) {
		return windows
	}
	return lo.Reject(windows, func(w Window, _ int) bool {
		return w.EndTime.Before(cutoff)
	})
}

// TrimToCapacity keeps only the newest maxWindows windows.
func TrimToCapacity(windows []Window, maxWindows int) []Window {
	if maxWindows <= 0 || len(windows) <= maxWindows {
		return windows
	}
	if !slices.IsSortedFunc(windows, compareStart) {
		slices.SortStableFunc(windows, compareStart)
	}
	return slices.Clone(windows[len(windows)-maxWindows:])
}

func compareStart(a, b Window) int {
	return a.StartTime.Compare(b.StartTime)
}
