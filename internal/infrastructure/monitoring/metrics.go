package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so library packages can take one optionally.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	Flushes        *prometheus.CounterVec
	FlushWords     prometheus.Histogram
	NodesCreated   prometheus.Counter
	StringsCreated prometheus.Counter
	TransferErrors prometheus.Counter

	// Remote call metrics
	RemoteCalls    *prometheus.CounterVec
	RemoteDuration prometheus.Histogram
	ExportedCalls  *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSDropped     prometheus.Counter

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON health endpoint.
type Snapshot struct {
	Sessions      int64 `json:"sessions"`
	Messages      int64 `json:"messages"`
	RemoteCalls   int64 `json:"remoteCalls"`
	RemoteErrors  int64 `json:"remoteErrors"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// NewMetrics creates a collector registered with reg. Pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry()
// in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerdom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workerdom_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	m.SessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "workerdom_sessions_active",
		Help: "Number of active transfer sessions",
	})
	m.Flushes = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerdom_flushes_total",
			Help: "Total number of batches sent, by message type",
		},
		[]string{"type"},
	)
	m.FlushWords = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "workerdom_flush_words",
		Help:    "Mutation words per flushed batch",
		Buckets: prometheus.ExponentialBuckets(4, 4, 8),
	})
	m.NodesCreated = f.NewCounter(prometheus.CounterOpts{
		Name: "workerdom_nodes_created_total",
		Help: "Total number of node creation records sent",
	})
	m.StringsCreated = f.NewCounter(prometheus.CounterOpts{
		Name: "workerdom_strings_created_total",
		Help: "Total number of interned strings sent",
	})
	m.TransferErrors = f.NewCounter(prometheus.CounterOpts{
		Name: "workerdom_transfer_errors_total",
		Help: "Total number of batches the transport refused",
	})

	m.RemoteCalls = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerdom_remote_calls_total",
			Help: "Total number of calls into the main context, by outcome",
		},
		[]string{"outcome"},
	)
	m.RemoteDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "workerdom_remote_call_duration_seconds",
		Help:    "Round trip time of calls into the main context",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
	})
	m.ExportedCalls = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerdom_exported_calls_total",
			Help: "Total number of exported function invocations, by result",
		},
		[]string{"result"},
	)

	m.WSConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "workerdom_ws_connections",
		Help: "Number of active WebSocket connections",
	})
	m.WSMessages = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerdom_ws_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "type"},
	)
	m.WSDropped = f.NewCounter(prometheus.CounterOpts{
		Name: "workerdom_ws_dropped_total",
		Help: "Inbound messages dropped by the rate limiter",
	})

	m.Uptime = f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "workerdom_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFlush records one batch handed to the transport.
func (m *Metrics) RecordFlush(msgType string, nodes, strings, words int) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(msgType).Inc()
	m.FlushWords.Observe(float64(words))
	m.NodesCreated.Add(float64(nodes))
	m.StringsCreated.Add(float64(strings))

	m.mu.Lock()
	m.snapshot.Messages++
	m.mu.Unlock()
}

// RecordTransferError records a batch the transport refused.
func (m *Metrics) RecordTransferError() {
	if m == nil {
		return
	}
	m.TransferErrors.Inc()
}

// RecordRemoteCall records the outcome of a call into the main context:
// "resolved", "rejected", "timeout" or "unavailable".
func (m *Metrics) RecordRemoteCall(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(outcome).Inc()
	if outcome == "resolved" || outcome == "rejected" {
		m.RemoteDuration.Observe(duration.Seconds())
	}

	m.mu.Lock()
	m.snapshot.RemoteCalls++
	if outcome != "resolved" {
		m.snapshot.RemoteErrors++
	}
	m.mu.Unlock()
}

// RecordExportedCall records an invocation of an exported function.
func (m *Metrics) RecordExportedCall(result string) {
	if m == nil {
		return
	}
	m.ExportedCalls.WithLabelValues(result).Inc()
}

// IncSessions increments the active session gauge
func (m *Metrics) IncSessions() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.mu.Lock()
	m.snapshot.Sessions++
	m.mu.Unlock()
}

// DecSessions decrements the active session gauge
func (m *Metrics) DecSessions() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.Sessions--
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordWSDropped records an inbound message dropped by the rate limiter
func (m *Metrics) RecordWSDropped() {
	if m == nil {
		return
	}
	m.WSDropped.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// GetSnapshot returns the running totals
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	return s
}
