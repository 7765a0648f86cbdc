package obs

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = NewLogger(os.Getenv("IDENTRA_LOG_LEVEL"))
	})
	return logger
}

// NewLogger builds a JSON slog logger at the given level ("info" when empty
// or unrecognized).
func NewLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
