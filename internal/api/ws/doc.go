// Package ws serves worker DOM sessions over websockets.
//
// Each connection to /session gets its own worker: a goja VM on its own
// loop, hydrated from the host page and running the host script. The
// browser end is the main context; it applies HYDRATE and MUTATE messages
// to the real DOM and answers with EVENT, FUNCTION and call results.
//
// Connection lifecycle:
//   - refuse with 503 when the session limit is reached or worker startup
//     keeps failing
//   - upgrade, wrap the connection in a transport.WebSocket
//   - start the worker through the circuit breaker
//   - register the session, serve until either side closes, unregister
//
// Example Usage:
//
//	handler := ws.NewHandler(ws.Page{HTML: html, Script: script}, cfg, sessions,
//		ws.WithLogger(log), ws.WithMetrics(metrics))
//	router.GET("/session", handler.HandleConnection)
package ws
