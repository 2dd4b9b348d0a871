package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/dom"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/remote"
	"github.com/GriffinCanCode/workerdom/internal/scheduler"
	"github.com/GriffinCanCode/workerdom/internal/session"
	"github.com/GriffinCanCode/workerdom/internal/shared/id"
	"github.com/GriffinCanCode/workerdom/internal/transport"
)

var (
	ErrTimeout = errors.New("worker script exceeded its time limit")
	ErrStarted = errors.New("worker already started")
	ErrStopped = errors.New("worker is not running")
)

// Worker runs a script against a document in its own goja VM. All JS runs
// on the worker's loop.
type Worker struct {
	cfg    Config
	log    *zap.Logger
	loop   *scheduler.Loop
	sess   *session.Session
	doc    *dom.Document
	bridge *remote.Bridge
	vm     *goja.Runtime
	drain  *goja.Program

	nodes map[*dom.Node]*goja.Object
	owner map[*goja.Object]*dom.Node
	refs  map[*goja.Object]remote.ObjectRef
	depth int

	timers    map[int64]*time.Timer
	nextTimer int64

	consoleMu sync.Mutex
	console   []LogEntry

	startOnce sync.Once
	started   chan struct{}
}

// Option configures a Worker.
type Option func(*options)

type options struct {
	log     *zap.Logger
	metrics *monitoring.Metrics
	sid     id.SessionID
}

// WithLogger sets the worker logger. Console output is logged through it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports the worker session's transfers to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSessionID names the worker session.
func WithSessionID(sid id.SessionID) Option {
	return func(o *options) { o.sid = sid }
}

// New creates a worker talking to the main context through t. It does
// nothing until Start.
func New(t transport.Poster, cfg Config, opts ...Option) (*Worker, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	loop := scheduler.NewLoop(scheduler.WithLogger(o.log))
	sessOpts := []session.Option{session.WithLogger(o.log), session.WithMetrics(o.metrics)}
	if o.sid != "" {
		sessOpts = append(sessOpts, session.WithID(o.sid))
	}
	sess := session.New(loop, t, sessOpts...)

	w := &Worker{
		cfg:     cfg,
		log:     sess.Logger().Named("worker"),
		loop:    loop,
		sess:    sess,
		doc:     dom.New(sess),
		bridge:  remote.New(sess),
		vm:      goja.New(),
		drain:   goja.MustCompile("drain", "", false),
		nodes:   make(map[*dom.Node]*goja.Object),
		owner:   make(map[*goja.Object]*dom.Node),
		refs:    make(map[*goja.Object]remote.ObjectRef),
		timers:  make(map[int64]*time.Timer),
		started: make(chan struct{}),
	}
	if cfg.MaxCallStackSize > 0 {
		w.vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}
	if err := w.setupGlobals(); err != nil {
		return nil, err
	}
	return w, nil
}

// Session returns the worker's session.
func (w *Worker) Session() *session.Session { return w.sess }

// Document returns the worker's document. Use it only from the loop.
func (w *Worker) Document() *dom.Document { return w.doc }

// Bridge returns the worker's remote bridge. Use it only from the loop.
func (w *Worker) Bridge() *remote.Bridge { return w.bridge }

// Start runs the loop until ctx ends or Close is called, hydrates the
// document from html, starts transfer and runs script.
func (w *Worker) Start(ctx context.Context, html, script string) error {
	first := false
	w.startOnce.Do(func() { first = true })
	if !first {
		return ErrStarted
	}
	go func() {
		if err := w.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("Worker loop stopped", zap.Error(err))
		}
	}()
	close(w.started)

	prog, err := goja.Compile("worker.js", script, false)
	if err != nil {
		return fmt.Errorf("compile worker script: %w", err)
	}
	return w.loop.Do(ctx, func() error {
		if html != "" {
			if err := w.doc.HydrateHTML(strings.NewReader(html)); err != nil {
				return err
			}
		}
		if err := w.doc.Observe(); err != nil {
			return err
		}
		if _, err := w.enter(func() (goja.Value, error) { return w.vm.RunProgram(prog) }); err != nil {
			return fmt.Errorf("worker script: %w", err)
		}
		return nil
	})
}

// Eval runs more script on a started worker and returns its exported
// completion value.
func (w *Worker) Eval(ctx context.Context, script string) (any, error) {
	select {
	case <-w.started:
	default:
		return nil, ErrStopped
	}
	var out any
	err := w.loop.Do(ctx, func() error {
		v, err := w.enter(func() (goja.Value, error) { return w.vm.RunString(script) })
		if err != nil {
			return err
		}
		out = export(v)
		return nil
	})
	return out, err
}

// Do runs fn on the worker loop.
func (w *Worker) Do(ctx context.Context, fn func() error) error {
	return w.loop.Do(ctx, fn)
}

// Console returns the console output captured so far.
func (w *Worker) Console() []LogEntry {
	w.consoleMu.Lock()
	defer w.consoleMu.Unlock()
	return append([]LogEntry(nil), w.console...)
}

// Done is closed once the worker loop has stopped.
func (w *Worker) Done() <-chan struct{} { return w.loop.Done() }

// Close stops the timers, the session and the loop.
func (w *Worker) Close() error {
	select {
	case <-w.started:
	default:
		return w.sess.Close()
	}
	errc := make(chan error, 1)
	w.loop.Post(func() {
		for _, t := range w.timers {
			t.Stop()
		}
		errc <- w.sess.Close()
		w.loop.Stop()
	})
	select {
	case err := <-errc:
		return err
	case <-w.loop.Done():
		return nil
	}
}

// enter runs JS under the execution limit. Nested entries share the
// outermost limit.
func (w *Worker) enter(fn func() (goja.Value, error)) (goja.Value, error) {
	w.depth++
	defer func() { w.depth-- }()
	if w.depth > 1 || w.cfg.Timeout <= 0 {
		return fn()
	}

	timer := time.AfterFunc(w.cfg.Timeout, func() { w.vm.Interrupt(ErrTimeout) })
	v, err := fn()
	timer.Stop()
	w.vm.ClearInterrupt()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return nil, fmt.Errorf("%w (%s)", ErrTimeout, w.cfg.Timeout)
	}
	return v, err
}

// settle runs queued promise jobs after Go resolved or rejected a promise.
func (w *Worker) settle() {
	if _, err := w.enter(func() (goja.Value, error) { return w.vm.RunProgram(w.drain) }); err != nil {
		w.log.Warn("Promise job failed", zap.Error(err))
	}
}

// invoke calls a JS function from Go under the execution limit.
func (w *Worker) invoke(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	return w.enter(func() (goja.Value, error) { return fn(goja.Undefined(), args...) })
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
