package cache

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex

	// Logger is the package-level logger, silent until SetLogger is called.
	Logger = zerolog.Nop()
)

// SetLogger sets the package-level logger, tagged with component=cache.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "cache").Logger()
}

func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return Logger
}
