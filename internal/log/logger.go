// Package log holds the process-wide structured logger. Output is one JSON
// object per line on stdout.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level slog.LevelVar
	root  atomic.Pointer[slog.Logger]
)

// Setup sets the minimum level by name and installs the JSON logger as the
// slog default on first use. Later calls only change the level.
func Setup(name string) {
	level.Set(ParseLevel(name))
	if root.Load() == nil {
		install(os.Stdout)
	}
}

// Redirect sends output to w and returns a func restoring the previous
// logger.
func Redirect(w io.Writer) (restore func()) {
	prev := root.Load()
	install(w)
	return func() {
		if prev != nil {
			root.Store(prev)
			slog.SetDefault(prev)
		}
	}
}

func install(w io.Writer) {
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &level}))
	root.Store(l)
	slog.SetDefault(l)
}

// ParseLevel maps DEBUG, INFO, WARN(ING) and ERROR to slog levels, case
// insensitively. Anything else is INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Get returns the process logger, installing an INFO one if Setup was never
// called.
func Get() *slog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Setup("INFO")
	return root.Load()
}

func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

func WithPlugin(name string) *slog.Logger {
	return Get().With(slog.String("plugin", name))
}

func WithConn(id string) *slog.Logger {
	return Get().With(slog.String("conn_id", id))
}
