// Package log is the logging facade used by the validation engine.
//
// Logging is disabled until a logger is registered with SetLogger. NewLogrus
// returns the default implementation.
package log

// Logger is the interface a registered logger must implement.
type Logger interface {
	Debug(v ...interface{})
	Info(v ...interface{})
	Notice(v ...interface{})
	Warning(v ...interface{})
	Error(v ...interface{})
}

var logger Logger

// SetLogger registers the global logger. Passing nil disables logging.
func SetLogger(l Logger) {
	logger = l
}

// Debug logs events that aid in following the resolution of a single signature.
func Debug(v ...interface{}) {
	if logger == nil {
		return
	}
	logger.Debug(v...)
}

// Info logs resolution misses and other outcomes that do not abort validation.
func Info(v ...interface{}) {
	if logger == nil {
		return
	}
	logger.Info(v...)
}

// Notice logs changes of state worth seeing in normal operation.
func Notice(v ...interface{}) {
	if logger == nil {
		return
	}
	logger.Notice(v...)
}

// Warning logs conditions that degrade a validation result.
func Warning(v ...interface{}) {
	if logger == nil {
		return
	}
	logger.Warning(v...)
}

// Error logs failures that abort the validation of a signature.
func Error(v ...interface{}) {
	if logger == nil {
		return
	}
	logger.Error(v...)
}
