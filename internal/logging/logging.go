// Package logging owns the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init configures Log from MEMSYNC_LOG_LEVEL and MEMSYNC_LOG_SINK
// ("file:/path/to/log"). Unknown levels fall back to info.
func Init() {
	var out io.Writer = os.Stderr
	sink := os.Getenv("MEMSYNC_LOG_SINK")
	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			out = f
		}
	}
	Log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(os.Getenv("MEMSYNC_LOG_LEVEL"))}))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logf adapts Log to the printf-style hooks used by adapters and watchers.
func Logf(format string, args ...any) {
	Log.Info(fmt.Sprintf(format, args...))
}

// Warnf is Logf at warn level.
func Warnf(format string, args ...any) {
	Log.Warn(fmt.Sprintf(format, args...))
}
