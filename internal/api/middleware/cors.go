package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig selects which browser origins may read the host's endpoints.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// traceHeaders travel in both directions so a browser client can join a
// session's trace.
var traceHeaders = []string{"X-Trace-ID", "X-Span-ID"}

// DefaultCORSConfig lets any origin read the JSON endpoints and trace ids.
// Only GET and DELETE are used by the REST surface.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  append([]string{"Content-Type", "Accept", "Origin", "Cache-Control", "X-Requested-With"}, traceHeaders...),
		ExposeHeaders: traceHeaders,
		MaxAge:        12 * time.Hour,
	}
}

// WithOrigins returns a copy of cfg restricted to origins. An empty list
// keeps cfg unchanged.
func (cfg CORSConfig) WithOrigins(origins []string) CORSConfig {
	if len(origins) > 0 {
		cfg.AllowOrigins = append([]string(nil), origins...)
	}
	return cfg
}

// CORS answers preflights and rejects requests from other origins with 403.
// Websocket origins go through the same list.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	c := cors.DefaultConfig()
	c.AllowOrigins = cfg.AllowOrigins
	c.AllowMethods = cfg.AllowMethods
	c.AllowHeaders = cfg.AllowHeaders
	c.ExposeHeaders = cfg.ExposeHeaders
	c.AllowCredentials = cfg.AllowCredentials
	c.MaxAge = cfg.MaxAge
	c.AllowWebSockets = true
	return cors.New(c)
}
