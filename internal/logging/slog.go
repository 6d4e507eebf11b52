// Package logging provides the operational logger shared by endpoints,
// transports and the CLI, and the call log executors write per task.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// Op returns the operational logger: connection state, drops, publish
// failures and lifecycle events. Completed executions go to the call log.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the operational log level. Message drops are logged at
// debug, so they only show up below info.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString applies a level name from config or a flag
// (debug, info, warn or warning, error; case-insensitive). Unknown names
// leave the level unchanged.
func SetLevelFromString(level string) {
	if l, ok := parseLevel(level); ok {
		logLevel.Set(l)
	}
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
