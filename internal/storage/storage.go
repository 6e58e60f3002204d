// Package storage persists API keys and per-key usage windows for cc-gateway.
//
// Two backends are provided:
//   - SQLiteStore: durable, single-file storage backed by modernc.org/sqlite
//   - MemoryStore: process-local maps, for development and tests
//
// Usage rows are keyed by (key id, window start) and only ever grow through
// additive upserts, so applying the same flushed delta set twice is the only
// way to over-count.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omarluq/cc-gateway/internal/quota"
)

// Sentinel errors for storage operations.
var (
	// ErrKeyNotFound is returned when no API key matches the lookup.
	ErrKeyNotFound = errors.New("storage: key not found")

	// ErrDuplicateKey is returned when creating a key whose id or hash already exists.
	ErrDuplicateKey = errors.New("storage: key already exists")

	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)

// Driver names accepted by New.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// secretPrefix marks gateway-issued API keys.
const secretPrefix = "sk-gw-"

// KeyRecord is an issued API key. The secret itself is never stored.
type KeyRecord struct {
	CreatedAt      time.Time     `json:"created_at"`
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	KeyHash        string        `json:"-"`
	Prefix         string        `json:"prefix"`
	TokenLimit     int64         `json:"token_limit"`
	WindowDuration time.Duration `json:"window_duration"`
	Enabled        bool          `json:"enabled"`
}

// QuotaConfig returns the quota assigned to the key.
func (k KeyRecord) QuotaConfig() quota.Config {
	return quota.Config{Limit: k.TokenLimit, WindowDuration: k.WindowDuration}
}

// NewKey generates a fresh key record and returns it with its plaintext secret.
func NewKey(name string, tokenLimit int64, window time.Duration, now time.Time) (KeyRecord, string) {
	secret := secretPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return KeyRecord{
		ID:             uuid.NewString(),
		Name:           name,
		KeyHash:        HashKey(secret),
		Prefix:         secret[:len(secretPrefix)+6],
		TokenLimit:     tokenLimit,
		WindowDuration: window,
		Enabled:        true,
		CreatedAt:      now.UTC(),
	}, secret
}

// HashKey returns the hex-encoded SHA-256 of an API key secret.
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeyStore manages issued API keys.
type KeyStore interface {
	CreateKey(ctx context.Context, rec KeyRecord) error
	LookupKey(ctx context.Context, keyHash string) (KeyRecord, error)
	GetKey(ctx context.Context, id string) (KeyRecord, error)
	ListKeys(ctx context.Context) ([]KeyRecord, error)
	SetKeyEnabled(ctx context.Context, id string, enabled bool) error
}

// UsageStore persists usage windows.
type UsageStore interface {
	quota.WindowSource
	quota.UsageWriter

	// PruneWindows deletes windows starting before olderThan and reports how many went.
	PruneWindows(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the full persistence surface of the gateway.
type Store interface {
	KeyStore
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// New opens the backend named by cfg.Driver.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, "":
		return NewSQLiteStore(cfg.Path, cfg.BusyTimeout)
	default:
		return nil, errors.New("storage: unknown driver " + cfg.Driver)
	}
}
