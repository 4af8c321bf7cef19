// Package logger provides structured logging for all ferrite components.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root = hclog.New(&hclog.LoggerOptions{
		Name:   "ferrite",
		Level:  hclog.Info,
		Output: os.Stderr,
	})
)

// Configure replaces the root logger. Level is one of trace, debug, info,
// warn, error. Format "json" enables JSON output.
func Configure(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	root = hclog.New(&hclog.LoggerOptions{
		Name:       "ferrite",
		Level:      hclog.LevelFromString(strings.ToLower(level)),
		Output:     os.Stderr,
		JSONFormat: strings.EqualFold(format, "json"),
	})
}

// Named returns a sub-logger for a component, e.g. "scanner" or "hls".
func Named(name string) hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// Debug logs a debug message with optional key/value pairs.
func Debug(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Debug(msg, args...)
}

// Info logs an informational message with optional key/value pairs.
func Info(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Info(msg, args...)
}

// Warn logs a warning message with optional key/value pairs.
func Warn(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Warn(msg, args...)
}

// Error logs an error message with optional key/value pairs.
func Error(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Error(msg, args...)
}
