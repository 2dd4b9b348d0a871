// Package middleware provides the gin middleware of the worker DOM host.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, websocket schemes allowed
//   - RateLimit: Per-IP token bucket rate limiting with idle eviction
//   - GlobalRateLimit: One bucket for the whole process
//   - Recovery: Panic recovery logged through zap
//   - RequestLogger: One zap line per finished request
//
// Example Usage:
//
//	router.Use(middleware.Recovery(log))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(origins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
