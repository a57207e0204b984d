// Package util holds the logging and traffic statistics shared by every
// layer.
package util

import (
	"fmt"
	"sync/atomic"

	"github.com/pterm/pterm"
)

// debug mirrors the logger level so hot paths can skip formatting.
var debug atomic.Bool

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging backed by pterm's default logger (stderr).

// LogDebug is a no-op unless EnableDebug was called. The adapter logs every
// frame at this level, so arguments are not formatted otherwise.
func LogDebug(format string, args ...any) {
	if !debug.Load() {
		return
	}
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess logs at info level with a success marker.
func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args("status", "ok"))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug switches the logger to debug level.
func EnableDebug() {
	debug.Store(true)
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are being written.
func DebugEnabled() bool {
	return debug.Load()
}
