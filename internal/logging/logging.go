// Package logging holds the process-wide structured logger shared by the
// commands and the bridge internals.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(New("text", slog.LevelInfo, nil))
}

// L returns the process logger. Packages call it at log time rather than
// caching the result so Set takes effect everywhere.
func L() *slog.Logger { return logger.Load() }

// Set installs l as the process logger. nil is ignored.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New returns a logger writing to w (stderr when nil) in "json" or, for
// any other format, logfmt-style text.
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
// The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	case "debug", "info", "warn", "error":
		var lvl slog.Level
		err := lvl.UnmarshalText([]byte(s))
		return lvl, err
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Setup installs a logger tagged with app and returns it. An unknown level
// is reported on the new logger and replaced by info.
func Setup(app, format, level string) *slog.Logger {
	lvl, err := ParseLevel(level)
	l := New(format, lvl, nil).With("app", app)
	Set(l)
	if err != nil {
		l.Warn("log_level_fallback", "error", err, "used", "info")
	}
	return l
}
