package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/workerdom/internal/logging"
	"github.com/GriffinCanCode/workerdom/internal/session"
	"github.com/GriffinCanCode/workerdom/internal/shared/id"
	"github.com/GriffinCanCode/workerdom/internal/transport"
	"github.com/GriffinCanCode/workerdom/internal/worker"
)

// Page is what every new session's worker starts from.
type Page struct {
	HTML   string
	Script string
}

// Config controls each connection's transport and worker.
type Config struct {
	Worker         worker.Config
	Compression    bool
	MessageRate    float64
	MessageBurst   int
	ReadLimit      int64
	WriteTimeout   time.Duration
	MaxSessions    int
	AllowedOrigins []string
}

// Handler upgrades /session requests and runs one worker per connection.
type Handler struct {
	page     Page
	cfg      Config
	sessions *session.Manager
	metrics  *monitoring.Metrics
	breaker  *resilience.Breaker
	tracer   *tracing.Tracer
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the root logger connection loggers derive from.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics counts connections, frames and sessions in m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithBreaker guards worker startup with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(h *Handler) { h.breaker = b }
}

// WithTracer opens a span for each session.
func WithTracer(t *tracing.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// NewHandler creates a handler registering its sessions in sessions.
func NewHandler(page Page, cfg Config, sessions *session.Manager, opts ...Option) *Handler {
	h := &Handler{
		page:     page,
		cfg:      cfg,
		sessions: sessions,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.breaker == nil {
		h.breaker = resilience.New("worker", resilience.Settings{
			IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, context.Canceled) },
		})
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:       originChecker(cfg.AllowedOrigins),
		EnableCompression: false,
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set["*"] || set[origin]
	}
}

// closer ends a registered session from outside its connection.
type closer struct {
	w  *worker.Worker
	ws *transport.WebSocket
}

func (c closer) Close() error {
	err := c.w.Close()
	_ = c.ws.Close()
	return err
}

// HandleConnection upgrades the request, hydrates a new worker from the
// page and serves the connection until either side closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	if h.cfg.MaxSessions > 0 && h.sessions.Count() >= h.cfg.MaxSessions {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session limit reached"})
		return
	}
	if h.breaker.State() == resilience.StateOpen {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "workers are failing to start"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Component("ws").Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	connID := id.NewConnID()
	sid := id.NewSessionID()
	connLog := h.logger.Connection(connID.String(), c.ClientIP())
	log := connLog.With(zap.Stringer("session", sid))

	ws, err := transport.NewWebSocket(conn,
		transport.WithWSLogger(log),
		transport.WithWSMetrics(h.metrics),
		transport.WithRateLimit(h.cfg.MessageRate, h.cfg.MessageBurst),
		transport.WithReadLimit(h.cfg.ReadLimit),
		transport.WithWriteTimeout(h.cfg.WriteTimeout),
		compression(h.cfg.Compression),
	)
	if err != nil {
		log.Error("Transport setup failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	var span *tracing.Span
	if h.tracer != nil {
		span, ctx = h.tracer.StartSpan(ctx, "session")
		span.SetTag("session", sid.String())
		span.SetTag("conn", connID.String())
		defer h.tracer.Finish(span)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := resilience.Call(h.breaker, func() (*worker.Worker, error) {
		return h.start(ctx, ws, sid, connLog)
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) && !errors.Is(err, resilience.ErrTooManyRequests) {
			log.Warn("Worker failed to start", zap.Error(err))
		}
		if span != nil {
			span.SetError(err)
		}
		return
	}

	h.sessions.Register(sid, c.ClientIP(), closer{w: w, ws: ws})
	defer h.sessions.Remove(sid)
	if span != nil {
		span.AddEvent("hydrated")
	}
	log.Info("Session started", zap.Int("sessions", h.sessions.Count()))

	if err := ws.Serve(ctx); err != nil {
		log.Warn("Session ended with error", zap.Error(err))
		if span != nil {
			span.SetError(err)
		}
		return
	}
	log.Info("Session ended")
}

func (h *Handler) start(ctx context.Context, ws *transport.WebSocket, sid id.SessionID, log *zap.Logger) (*worker.Worker, error) {
	w, err := worker.New(ws, h.cfg.Worker,
		worker.WithLogger(log),
		worker.WithMetrics(h.metrics),
		worker.WithSessionID(sid),
	)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx, h.page.HTML, h.page.Script); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func compression(on bool) transport.WSOption {
	if on {
		return transport.WithCompression()
	}
	return func(*transport.WebSocket) {}
}
