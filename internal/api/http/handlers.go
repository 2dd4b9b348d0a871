package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/workerdom/internal/session"
	"github.com/GriffinCanCode/workerdom/internal/shared/id"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Handlers serves the host's JSON endpoints.
type Handlers struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	breaker  *resilience.Breaker
	started  time.Time
}

// NewHandlers creates a handler set. metrics and breaker may be nil.
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics, breaker *resilience.Breaker) *Handlers {
	return &Handlers{
		sessions: sessions,
		metrics:  metrics,
		breaker:  breaker,
		started:  time.Now(),
	}
}

// Register mounts the handlers on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.CloseSession)
	r.GET("/metrics/json", h.Snapshot)
}

// Root reports the service and version
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "workerdom",
		"version": Version,
	})
}

// Health reports whether new sessions are being accepted. While worker
// startup is tripped the host is degraded and answers 503.
func (h *Handlers) Health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	breaker := "closed"
	if h.breaker != nil {
		state := h.breaker.State()
		breaker = state.String()
		if state == resilience.StateOpen {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":   status,
		"sessions": h.sessions.Count(),
		"workers":  breaker,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

// ListSessions lists live sessions, oldest first
func (h *Handlers) ListSessions(c *gin.Context) {
	list := h.sessions.List()
	if list == nil {
		list = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}

// GetSession describes one live session
func (h *Handlers) GetSession(c *gin.Context) {
	info, ok := h.sessions.Get(id.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// CloseSession closes one live session and its worker
func (h *Handlers) CloseSession(c *gin.Context) {
	if !h.sessions.Remove(id.SessionID(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Snapshot returns running totals as JSON
func (h *Handlers) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}
