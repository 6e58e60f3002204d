package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/config"
)

func writeConfig(t *testing.T, path string, limit int) {
	t.Helper()
	body := "upstream:\n  api_key: sk-test\nstorage:\n  driver: memory\nquota:\n  default_limit: " +
		itoa(limit) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for ; n > 0; n /= 10 {
		b = append([]byte{byte('0' + n%10)}, b...)
	}
	return string(b)
}

func TestWatcherPathIsAbsolute(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, 1)

	w, err := config.NewWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	assert.True(t, filepath.IsAbs(w.Path()))
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Close(), config.ErrWatcherClosed)
}

func TestWatcherInvalidDirectory(t *testing.T) {
	t.Parallel()

	_, err := config.NewWatcher("/nonexistent/dir/gateway.yaml")
	require.Error(t, err)
}

func TestWatcherReloadsValidChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, 1)

	w, err := config.NewWatcher(path, config.WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	rt := config.NewRuntime(config.MakeTestConfig())
	var reloads atomic.Int32
	w.OnReload(func(cfg *config.Config) error {
		rt.Store(cfg)
		reloads.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Watch(ctx) }()
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, path, 4242)
	require.Eventually(t, func() bool {
		return rt.Get().Quota.DefaultLimit == 4242
	}, 2*time.Second, 10*time.Millisecond)

	// an invalid file is rejected and the previous config stays live
	before := reloads.Load()
	require.NoError(t, os.WriteFile(path, []byte("quota:\n  strategy: psychic\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, reloads.Load())
	assert.Equal(t, int64(4242), rt.Get().Quota.DefaultLimit)
}
