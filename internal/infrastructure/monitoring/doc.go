/*
Package monitoring provides Prometheus metrics for transfer sessions.

# Overview

Metrics are registered against a caller-supplied prometheus.Registerer so
tests can use a private registry. A nil *Metrics records nothing.

# Tracked

- Batches flushed per message type, words per batch
- Node creation records and interned strings sent
- Transport refusals
- Calls into the main context by outcome, with round trip time
- Exported function invocations by result
- WebSocket connections, messages and rate-limited drops
- HTTP requests (latency, status)

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics)
	// ... wait for the call result ...
	timer.Stop("resolved")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
