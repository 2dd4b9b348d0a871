package worker

import "time"

// Config defines worker runtime limits.
type Config struct {
	Timeout          time.Duration // Per-entry JS execution limit, zero disables
	CallTimeout      time.Duration // callFunction result limit, zero waits forever
	MaxCallStackSize int           // goja call stack limit, zero keeps the default
	EnableConsole    bool          // Expose console.log/info/warn/error
	EnableTimers     bool          // Expose setTimeout/clearTimeout
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		CallTimeout:      30 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		EnableTimers:     true,
	}
}

// LogEntry is one console call made by the worker script.
type LogEntry struct {
	Level   string    // log, info, warn, error
	Message string    // Space-joined arguments
	Time    time.Time // When the call was made
}
