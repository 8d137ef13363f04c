package logging

import "sync"

var (
	globalMu     sync.RWMutex
	globalLogger = New(nil, FormatJSON)
)

// SetGlobalLogger replaces the package-level logger
func SetGlobalLogger(logger Logger) {
	if logger == nil {
		logger = NewNop()
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the package-level logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug logs a debug message using the global logger
func Debug(msg string, fields ...Field) {
	GetGlobalLogger().Debug(msg, fields...)
}

// Info logs an info message using the global logger
func Info(msg string, fields ...Field) {
	GetGlobalLogger().Info(msg, fields...)
}

// Warn logs a warning message using the global logger
func Warn(msg string, fields ...Field) {
	GetGlobalLogger().Warn(msg, fields...)
}

// LogError logs an error message using the global logger
func LogError(msg string, fields ...Field) {
	GetGlobalLogger().Error(msg, fields...)
}
