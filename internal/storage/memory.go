package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/omarluq/cc-gateway/internal/quota"
)

// MemoryStore implements Store with in-process maps. All data is lost when
// the process exits.
type MemoryStore struct {
	keys   map[string]KeyRecord
	byHash map[string]string
	usage  map[string]map[int64]int64 // key id -> window start (unix) -> tokens
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:   make(map[string]KeyRecord),
		byHash: make(map[string]string),
		usage:  make(map[string]map[int64]int64),
	}
}

// CreateKey stores a new key.
func (m *MemoryStore) CreateKey(_ context.Context, rec KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.keys[rec.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := m.byHash[rec.KeyHash]; ok {
		return ErrDuplicateKey
	}
	m.keys[rec.ID] = rec
	m.byHash[rec.KeyHash] = rec.ID
	return nil
}

// LookupKey finds a key by the hash of its secret.
func (m *MemoryStore) LookupKey(_ context.Context, keyHash string) (KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return KeyRecord{}, ErrClosed
	}
	id, ok := m.byHash[keyHash]
	if !ok {
		return KeyRecord{}, ErrKeyNotFound
	}
	return m.keys[id], nil
}

// GetKey finds a key by id.
func (m *MemoryStore) GetKey(_ context.Context, id string) (KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return KeyRecord{}, ErrClosed
	}
	rec, ok := m.keys[id]
	if !ok {
		return KeyRecord{}, ErrKeyNotFound
	}
	return rec, nil
}

// ListKeys returns all keys ordered by creation time.
func (m *MemoryStore) ListKeys(_ context.Context) ([]KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := lo.Values(m.keys)
	slices.SortFunc(out, func(a, b KeyRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SetKeyEnabled enables or disables a key.
func (m *MemoryStore) SetKeyEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	rec, ok := m.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	rec.Enabled = enabled
	m.keys[id] = rec
	return nil
}

// LoadWindows returns the persisted windows of key ordered by start.
func (m *MemoryStore) LoadWindows(_ context.Context, key string) ([]quota.PersistedWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	starts := lo.Keys(m.usage[key])
	slices.Sort(starts)
	return lo.Map(starts, func(start int64, _ int) quota.PersistedWindow {
		return quota.PersistedWindow{
			WindowStart: quota.FormatTime(time.Unix(start, 0)),
			TokensUsed:  m.usage[key][start],
		}
	}), nil
}

// ApplyUpdate adds every window delta of update.
func (m *MemoryStore) ApplyUpdate(_ context.Context, update quota.PendingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	windows, ok := m.usage[update.Key]
	if !ok {
		windows = make(map[int64]int64)
		m.usage[update.Key] = windows
	}
	for _, wd := range update.Windows {
		windows[wd.Start.Unix()] += wd.Tokens
	}
	return nil
}

// PruneWindows deletes windows starting before olderThan.
func (m *MemoryStore) PruneWindows(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	cutoff := olderThan.Unix()
	var deleted int64
	for key, windows := range m.usage {
		for start := range windows {
			if start < cutoff {
				delete(windows, start)
				deleted++
			}
		}
		if len(windows) == 0 {
			delete(m.usage, key)
		}
	}
	return deleted, nil
}

// Ping reports whether the store is open.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. It is idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
