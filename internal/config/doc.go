// Package config provides 12-factor configuration for the worker DOM host.
//
// Configuration starts from Default, is optionally read from a YAML or TOML
// file with LoadFile, and is finally overridden by environment variables.
//
// Configuration Sections:
//   - Server: HTTP listen address, worker script and page, shutdown, CORS
//   - Transport: websocket compression, inbound message rate and frame limits
//   - Worker: per-VM execution limits and optional globals
//   - Logging: Log level and output format
//   - RateLimit: Per-IP HTTP rate limiting
//   - Metrics: Prometheus endpoint
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, WORKER_SCRIPT, WORKER_HTML, SHUTDOWN_TIMEOUT, ALLOWED_ORIGINS
//   - WS_COMPRESSION, WS_MESSAGE_RATE, WS_MESSAGE_BURST, WS_READ_LIMIT, WS_WRITE_TIMEOUT
//   - WORKER_TIMEOUT, WORKER_CALL_TIMEOUT, WORKER_MAX_STACK, WORKER_CONSOLE,
//     WORKER_TIMERS, WORKER_MAX_SESSIONS
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - METRICS_ENABLED, METRICS_PATH
package config
