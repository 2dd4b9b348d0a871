package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// WebSocket carries messages over a websocket connection. Text frames hold
// JSON; binary frames hold zstd-compressed JSON. Either side may compress
// and both read both.
type WebSocket struct {
	conn    *websocket.Conn
	log     *zap.Logger
	metrics *monitoring.Metrics

	writeMu      sync.Mutex
	writeTimeout time.Duration
	compress     bool
	enc          *zstd.Encoder
	dec          *zstd.Decoder

	limiter *rate.Limiter

	// deliverMu orders held messages before live ones.
	deliverMu sync.Mutex
	handler   func(*protocol.Message)
	held      []*protocol.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// WSOption configures a WebSocket.
type WSOption func(*WebSocket)

// WithCompression sends frames zstd compressed.
func WithCompression() WSOption {
	return func(w *WebSocket) { w.compress = true }
}

// WithRateLimit drops inbound messages above r per second with bursts of
// burst. A zero r disables the limit.
func WithRateLimit(r float64, burst int) WSOption {
	return func(w *WebSocket) {
		if r > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// WithReadLimit caps the size of one inbound frame.
func WithReadLimit(bytes int64) WSOption {
	return func(w *WebSocket) {
		if bytes > 0 {
			w.conn.SetReadLimit(bytes)
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) WSOption {
	return func(w *WebSocket) { w.writeTimeout = d }
}

// WithWSLogger sets the connection logger.
func WithWSLogger(l *zap.Logger) WSOption {
	return func(w *WebSocket) {
		if l != nil {
			w.log = l
		}
	}
}

// WithWSMetrics counts frames and drops in m.
func WithWSMetrics(m *monitoring.Metrics) WSOption {
	return func(w *WebSocket) { w.metrics = m }
}

// NewWebSocket adapts an open connection. Call Serve to start reading.
func NewWebSocket(conn *websocket.Conn, opts ...WSOption) (*WebSocket, error) {
	w := &WebSocket{
		conn:         conn,
		log:          zap.NewNop(),
		writeTimeout: 10 * time.Second,
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	w.dec = dec
	if w.compress {
		if w.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
			dec.Close()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
	}
	w.metrics.IncWSConnections()
	return w, nil
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, header http.Header, opts ...WSOption) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	w, err := NewWebSocket(conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return w, nil
}

// PostMessage implements Poster. Writes are serialized.
func (w *WebSocket) PostMessage(msg *protocol.Message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	frame := websocket.TextMessage
	if w.enc != nil {
		data = w.enc.EncodeAll(data, nil)
		frame = websocket.BinaryMessage
	}
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	if err := w.conn.WriteMessage(frame, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	w.metrics.RecordWSMessage("out", msg.Type.String())
	return nil
}

// OnMessage implements Receiver. Messages read before a handler is set are
// held until one is.
func (w *WebSocket) OnMessage(fn func(*protocol.Message)) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	w.handler = fn
	for _, msg := range w.held {
		fn(msg)
	}
	w.held = nil
}

// Serve reads frames until the peer closes, ctx ends or Close is called.
// A clean close returns nil.
func (w *WebSocket) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()
	defer w.dec.Close()

	for {
		frame, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		msg, err := w.decode(frame, data)
		if err != nil {
			w.log.Warn("Dropping malformed frame", zap.Error(err))
			w.metrics.RecordWSDropped()
			continue
		}
		if w.limiter != nil && !w.limiter.Allow() {
			w.log.Warn("Dropping message over rate limit", zap.Stringer("type", msg.Type))
			w.metrics.RecordWSDropped()
			continue
		}
		w.metrics.RecordWSMessage("in", msg.Type.String())
		w.deliver(msg)
	}
}

func (w *WebSocket) decode(frame int, data []byte) (*protocol.Message, error) {
	if frame == websocket.BinaryMessage {
		var err error
		if data, err = w.dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	var msg protocol.Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &msg, nil
}

func (w *WebSocket) deliver(msg *protocol.Message) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if w.handler == nil {
		w.held = append(w.held, msg)
		return
	}
	w.handler(msg)
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if w.enc != nil {
			_ = w.enc.Close()
		}
		w.writeMu.Unlock()
		err = w.conn.Close()
		w.metrics.DecWSConnections()
	})
	return err
}

// Done is closed once Close has been called.
func (w *WebSocket) Done() <-chan struct{} { return w.closed }
