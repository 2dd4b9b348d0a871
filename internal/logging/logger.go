package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the host's root logger. Its level can be changed while running.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config selects the level and output of a Logger.
type Config struct {
	Level       string // "debug", "info", "warn", "error"; empty means info
	Development bool
	OutputPaths []string // default stdout
}

// DefaultConfig logs JSON at info level.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// DevelopmentConfig logs colored console lines at debug level.
func DevelopmentConfig() Config {
	return Config{Level: "debug", Development: true}
}

// New builds a logger. Development loggers write console lines with stack
// traces from warn up; production loggers write JSON and sample repeated
// entries.
func New(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level
	zc.OutputPaths = []string{"stdout"}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	z, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{Logger: z, level: level}, nil
}

// NewDefault builds a DefaultConfig logger, or a no-op one if that fails.
func NewDefault() *Logger {
	if l, err := New(DefaultConfig()); err == nil {
		return l
	}
	return Nop()
}

// NewDevelopment builds a DevelopmentConfig logger, or a no-op one if that
// fails.
func NewDevelopment() *Logger {
	if l, err := New(DevelopmentConfig()); err == nil {
		return l
	}
	return Nop()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// SetLevel changes the level of l and every logger derived from it.
func (l *Logger) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(level))
}

// Level reports the current level.
func (l *Logger) Level() zapcore.Level { return l.level.Level() }

// Component returns a child logger for one part of the host, such as
// "server" or "breaker".
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}

// Connection returns the logger of one websocket connection.
func (l *Logger) Connection(connID, remote string) *zap.Logger {
	return l.Named("ws").With(zap.String("conn", connID), zap.String("remote", remote))
}
