// Package monitoring holds the process-wide diagnostic logger used by the
// driver packages. Parse-layer faults (checksum rejects, resyncs) are logged
// at debug level only so a noisy serial line cannot flood operator logs.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or embedding applications can redirect
// or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// debugEnabled gates Debugf output. Off by default.
var debugEnabled bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables debug-level logging.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

// Debugf logs through Logf when debug logging is enabled. Used by the
// protocol layer for per-packet diagnostics that are too chatty for normal
// operation.
func Debugf(format string, v ...interface{}) {
	if debugEnabled {
		Logf(format, v...)
	}
}
