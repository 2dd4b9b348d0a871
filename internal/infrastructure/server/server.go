package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/workerdom/internal/api/http"
	"github.com/GriffinCanCode/workerdom/internal/api/middleware"
	"github.com/GriffinCanCode/workerdom/internal/api/ws"
	"github.com/GriffinCanCode/workerdom/internal/config"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/workerdom/internal/logging"
	"github.com/GriffinCanCode/workerdom/internal/session"
	"github.com/GriffinCanCode/workerdom/internal/worker"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	breaker  *resilience.Breaker
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// Option configures a Server.
type Option func(*options)

type options struct {
	logger   *logging.Logger
	registry *prometheus.Registry
}

// WithLogger sets the root logger. Without it the server builds one from
// the logging section of the config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers metrics in reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// NewServer creates a server that starts every session from page.
func NewServer(cfg *config.Config, page ws.Page, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}
	log := logger.Component("server")
	log.Info("Initializing worker DOM host",
		zap.String("port", cfg.Server.Port),
		zap.Int("script_bytes", len(page.Script)),
		zap.Int("html_bytes", len(page.HTML)),
	)

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("workerdom", logger.Logger)

	breakerLog := logger.Component("breaker")
	breaker := resilience.New("worker", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			breakerLog.Warn("Worker startup breaker changed state",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	sessions := session.NewManager()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.RequestLogger(logger.Component("http"), "/health", cfg.Metrics.Path))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		log.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	apihttp.NewHandlers(sessions, metrics, breaker).Register(router)

	wsHandler := ws.NewHandler(page, ws.Config{
		Worker:         workerConfig(cfg.Worker),
		Compression:    cfg.Transport.Compression,
		MessageRate:    cfg.Transport.MessageRate,
		MessageBurst:   cfg.Transport.MessageBurst,
		ReadLimit:      cfg.Transport.ReadLimit,
		WriteTimeout:   cfg.Transport.WriteTimeout.Std(),
		MaxSessions:    cfg.Worker.MaxSessions,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, sessions,
		ws.WithLogger(logger),
		ws.WithMetrics(metrics),
		ws.WithBreaker(breaker),
		ws.WithTracer(tracer),
	)
	router.GET("/session", wsHandler.HandleConnection)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	log.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		breaker:  breaker,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

func workerConfig(c config.WorkerConfig) worker.Config {
	return worker.Config{
		Timeout:          c.Timeout.Std(),
		CallTimeout:      c.CallTimeout.Std(),
		MaxCallStackSize: c.MaxCallStackSize,
		EnableConsole:    c.EnableConsole,
		EnableTimers:     c.EnableTimers,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the live session registry.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Run serves on the configured address until ctx ends, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends. Live sessions are closed before the
// listener drains, so hijacked websocket connections do not hold shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.logger.Component("server")
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...", zap.Int("sessions", s.sessions.Count()))
	s.sessions.CloseAll()

	timeout := s.config.Server.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases what the server holds besides the listener.
func (s *Server) Close() error {
	s.sessions.CloseAll()
	s.tracer.Close()
	_ = s.logger.Sync()
	return nil
}
