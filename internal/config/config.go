package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Worker    WorkerConfig    `yaml:"worker" toml:"worker"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rateLimit" toml:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host            string   `envconfig:"HOST" yaml:"host" toml:"host"`
	ScriptPath      string   `envconfig:"WORKER_SCRIPT" yaml:"script" toml:"script"`
	HTMLPath        string   `envconfig:"WORKER_HTML" yaml:"html" toml:"html"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS" yaml:"allowedOrigins" toml:"allowedOrigins"`
}

// TransportConfig holds websocket transport configuration.
type TransportConfig struct {
	Compression  bool     `envconfig:"WS_COMPRESSION" yaml:"compression" toml:"compression"`
	MessageRate  float64  `envconfig:"WS_MESSAGE_RATE" yaml:"messageRate" toml:"messageRate"`
	MessageBurst int      `envconfig:"WS_MESSAGE_BURST" yaml:"messageBurst" toml:"messageBurst"`
	ReadLimit    int64    `envconfig:"WS_READ_LIMIT" yaml:"readLimit" toml:"readLimit"`
	WriteTimeout Duration `envconfig:"WS_WRITE_TIMEOUT" yaml:"writeTimeout" toml:"writeTimeout"`
}

// WorkerConfig holds the limits of each worker VM.
type WorkerConfig struct {
	Timeout          Duration `envconfig:"WORKER_TIMEOUT" yaml:"timeout" toml:"timeout"`
	CallTimeout      Duration `envconfig:"WORKER_CALL_TIMEOUT" yaml:"callTimeout" toml:"callTimeout"`
	MaxCallStackSize int      `envconfig:"WORKER_MAX_STACK" yaml:"maxCallStackSize" toml:"maxCallStackSize"`
	EnableConsole    bool     `envconfig:"WORKER_CONSOLE" yaml:"console" toml:"console"`
	EnableTimers     bool     `envconfig:"WORKER_TIMERS" yaml:"timers" toml:"timers"`
	MaxSessions      int      `envconfig:"WORKER_MAX_SESSIONS" yaml:"maxSessions" toml:"maxSessions"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-IP HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requestsPerSecond" toml:"requestsPerSecond"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" yaml:"enabled" toml:"enabled"`
	Path    string `envconfig:"METRICS_PATH" yaml:"path" toml:"path"`
}

// Duration is a time.Duration read from text such as "5s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML or TOML file over the defaults, chosen by
// extension, then applies environment variables on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: Duration(10 * time.Second),
			AllowedOrigins:  []string{"*"},
		},
		Transport: TransportConfig{
			MessageRate:  200,
			MessageBurst: 400,
			ReadLimit:    1 << 20,
			WriteTimeout: Duration(10 * time.Second),
		},
		Worker: WorkerConfig{
			Timeout:          Duration(5 * time.Second),
			CallTimeout:      Duration(30 * time.Second),
			MaxCallStackSize: 1024,
			EnableConsole:    true,
			EnableTimers:     true,
			MaxSessions:      1000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
