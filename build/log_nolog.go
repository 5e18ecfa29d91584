//go:build nolog
// +build nolog

package build

// LogLevel turns every subsystem off.
var LogLevel = "off"

// LoggingType discards all log output, including the log file.
const LoggingType = LogTypeNone
