package cache_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/cache"
)

type fixedStats cache.Stats

func (f fixedStats) Stats() cache.Stats { return cache.Stats(f) }

func TestCollector(t *testing.T) {
	t.Parallel()

	c := cache.NewCollector("test", fixedStats{Hits: 3, Misses: 1, KeyCount: 2, BytesUsed: 64, Evictions: 5})
	assert.Equal(t, 5, testutil.CollectAndCount(c))

	expected := `
# HELP test_cache_lookups_total Cache lookups by result.
# TYPE test_cache_lookups_total counter
test_cache_lookups_total{result="hit"} 3
test_cache_lookups_total{result="miss"} 1
# HELP test_cache_keys Entries currently held.
# TYPE test_cache_keys gauge
test_cache_keys 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"test_cache_lookups_total", "test_cache_keys"))
}
