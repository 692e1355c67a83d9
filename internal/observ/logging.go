package observ

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init configures the process logger. level is a zerolog level name
// ("debug", "info", ...); console switches to human-readable output.
func Init(level string, console bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(os.Stderr)
	if console {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	mu.Lock()
	logger = l.Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// SetLogger replaces the process logger; tests use it to capture output.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Log emits one structured event.
func Log(event string, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Info().Fields(kv).Str("event", event).Send()
}

// Warn emits one structured warning event.
func Warn(event string, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Warn().Fields(kv).Str("event", event).Send()
}
