// Package main is the entry point for the worker DOM host.
//
// The host serves one page. Every websocket connection to /session gets its
// own worker: a JavaScript runtime holding a private DOM built from the page
// markup, running the page script. Mutations the script makes are batched
// and sent to the client as transfer messages; events the client dispatches
// are applied to the worker's DOM.
//
// The server provides:
//   - WebSocket sessions, one worker each
//   - Session listing and termination over REST
//   - Prometheus metrics and request tracing
//   - Rate limiting and origin checks
//
// Configuration:
//   - Config file (-config, yaml or toml)
//   - Environment variables (override the file)
//   - CLI flags (override both)
//
// Usage:
//
//	./server -script app.js -html index.html
//
//	# Development mode (colored logs, debug level)
//	./server -dev -script app.js
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
