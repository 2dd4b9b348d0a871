package session

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/observer"
	"github.com/GriffinCanCode/workerdom/internal/phase"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/scheduler"
	"github.com/GriffinCanCode/workerdom/internal/shared/id"
	"github.com/GriffinCanCode/workerdom/internal/transport"
)

var (
	ErrNoListener = errors.New("transport cannot receive messages")
	ErrClosed     = errors.New("session closed")
)

// Listener handles one inbound message.
type Listener func(msg *protocol.Message)

type listener struct {
	fn Listener
}

// Session is the transfer state of one worker context: its interning
// tables, phase, pending batch and inbound listeners.
//
// A Session is not safe for concurrent use. Every method must be called
// from the goroutine running its scheduler; inbound messages are posted
// onto that scheduler before listeners see them.
type Session struct {
	id      id.SessionID
	sched   scheduler.Scheduler
	poster  transport.Poster
	canRecv bool

	nodes     *intern.NodeTable
	strings   *intern.StringTable
	phase     *phase.Machine
	observers *observer.Dispatcher

	pending   []uint16
	scheduled bool
	disabled  bool
	closed    bool

	listeners map[protocol.MessageType][]*listener
	onClose   []func()

	log     *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. The session id is added as a field.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records flushes and transport failures in m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithID overrides the generated session id.
func WithID(sid id.SessionID) Option {
	return func(s *Session) {
		s.id = sid
	}
}

// New creates a session sending batches through t and flushing on sched.
// If t also implements transport.Receiver, inbound messages are routed to
// listeners registered with AddMessageListener.
func New(sched scheduler.Scheduler, t transport.Poster, opts ...Option) *Session {
	s := &Session{
		sched:     sched,
		poster:    t,
		strings:   intern.NewStringTable(),
		listeners: make(map[protocol.MessageType][]*listener),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = id.NewSessionID()
	}
	s.log = s.log.With(zap.String("session", s.id.String()))
	s.phase = phase.New(s.log)
	s.nodes = intern.NewNodeTable(func() bool {
		return s.phase.Get() == protocol.Initializing
	})
	s.observers = observer.NewDispatcher(sched)

	if r, ok := t.(transport.Receiver); ok {
		s.canRecv = true
		r.OnMessage(func(msg *protocol.Message) {
			sched.Post(func() { s.dispatch(msg) })
		})
	}
	s.metrics.IncSessions()
	return s
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.id }

// Scheduler returns the scheduler the session flushes on.
func (s *Session) Scheduler() scheduler.Scheduler { return s.sched }

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger { return s.log }

// Metrics returns the metrics collector, which may be nil.
func (s *Session) Metrics() *monitoring.Metrics { return s.metrics }

// Strings returns the string table.
func (s *Session) Strings() *intern.StringTable { return s.strings }

// Observers returns the local observer dispatcher.
func (s *Session) Observers() *observer.Dispatcher { return s.observers }

// Phase returns the current phase.
func (s *Session) Phase() protocol.Phase { return s.phase.Get() }

// SetPhase advances the phase. Moving backwards is an error.
func (s *Session) SetPhase(p protocol.Phase) error {
	return s.phase.Set(p)
}

// StoreNode interns n and returns its id.
func (s *Session) StoreNode(n intern.Node) uint16 {
	return s.nodes.Store(n)
}

// StoreNodeOverride interns n under a fixed id. Only valid while
// initializing, when the tree is built to match server rendered markup.
func (s *Session) StoreNodeOverride(n intern.Node, nodeID uint16) (uint16, error) {
	return s.nodes.StoreOverride(n, nodeID)
}

// GetNode returns the node with the given id, or nil.
func (s *Session) GetNode(nodeID uint16) intern.Node {
	return s.nodes.Get(nodeID)
}

// NodeID returns the id of n if it has one.
func (s *Session) NodeID(n intern.Node) (uint16, bool) {
	return s.nodes.ID(n)
}

// StoreString interns str and returns its id.
func (s *Session) StoreString(str string) uint16 {
	return s.strings.Store(str)
}

// SetTransferEnabled turns wire transfer on or off. Local observers still
// see every mutation while transfer is off.
func (s *Session) SetTransferEnabled(enabled bool) {
	s.disabled = !enabled
}

// CanReceive reports whether inbound messages can reach this session.
func (s *Session) CanReceive() bool {
	return s.canRecv && !s.closed
}

// CanTransfer reports whether Transfer currently queues records.
func (s *Session) CanTransfer() bool {
	return !s.closed && !s.disabled && s.phase.Get() != protocol.Initializing
}

// Transfer queues one wire record. It is dropped while initializing or
// while transfer is disabled. All records queued in one turn leave in a
// single message, in call order.
func (s *Session) Transfer(record ...uint16) {
	if !s.CanTransfer() {
		return
	}
	s.pending = append(s.pending, record...)
	s.schedule()
}

// Mutate reports a local mutation to observers and queues its wire record.
func (s *Session) Mutate(local observer.Record, wire ...uint16) {
	s.observers.Dispatch(local)
	s.Transfer(wire...)
}

// Observe ends initialization. The snapshot records describing the
// existing tree are sent in the hydrate message, ahead of any mutation made
// after this call.
func (s *Session) Observe(snapshot []uint16) error {
	if s.closed {
		return ErrClosed
	}
	if s.phase.Get() != protocol.Initializing {
		return fmt.Errorf("observe: already %s", s.phase.Get())
	}
	if err := s.phase.Set(protocol.Hydrating); err != nil {
		return err
	}
	s.pending = append(append([]uint16(nil), snapshot...), s.pending...)
	s.schedule()
	return nil
}

func (s *Session) schedule() {
	if s.scheduled {
		return
	}
	s.scheduled = true
	s.sched.Microtask(s.flush)
}

func (s *Session) flush() {
	s.scheduled = false
	if s.closed {
		s.pending = nil
		return
	}

	current := s.phase.Get()
	created := s.nodes.ConsumeNewNodes()
	// Creation records intern names and values, so strings are drained last.
	nodes := make([]uint16, 0, len(created)*protocol.CreationWords)
	for _, n := range created {
		nodes = append(nodes, n.Creation(s.strings)...)
	}
	strs := s.strings.ConsumeNewStrings()

	msg := &protocol.Message{
		Type:      protocol.MsgMutate,
		Phase:     current,
		Nodes:     nodes,
		Strings:   strs,
		Mutations: s.pending,
	}
	if current == protocol.Hydrating {
		msg.Type = protocol.MsgHydrate
	}
	s.pending = nil

	if err := s.poster.PostMessage(msg); err != nil {
		s.log.Warn("Failed to post batch",
			zap.Stringer("type", msg.Type),
			zap.Int("words", len(msg.Mutations)),
			zap.Error(err))
		s.metrics.RecordTransferError()
	} else {
		s.metrics.RecordFlush(msg.Type.String(), len(created), len(strs), len(msg.Mutations))
	}

	if current == protocol.Hydrating {
		if err := s.phase.Set(protocol.Mutating); err != nil {
			s.log.Error("Failed to leave hydration", zap.Error(err))
		}
	}
}

// AddMessageListener registers fn for inbound messages of type t. The
// returned function removes it.
func (s *Session) AddMessageListener(t protocol.MessageType, fn Listener) (func(), error) {
	if s.closed {
		return nil, ErrClosed
	}
	if !s.canRecv {
		return nil, ErrNoListener
	}
	l := &listener{fn: fn}
	s.listeners[t] = append(s.listeners[t], l)
	return func() { s.removeListener(t, l) }, nil
}

func (s *Session) removeListener(t protocol.MessageType, l *listener) {
	list := s.listeners[t]
	for i, existing := range list {
		if existing == l {
			s.listeners[t] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Deliver hands msg to the listeners for its type. Transports call it via
// the scheduler; hosts driving a session by hand may call it directly.
func (s *Session) Deliver(msg *protocol.Message) {
	s.dispatch(msg)
}

func (s *Session) dispatch(msg *protocol.Message) {
	if s.closed || msg == nil {
		return
	}
	list := s.listeners[msg.Type]
	if len(list) == 0 {
		s.log.Debug("Dropping message with no listener", zap.Stringer("type", msg.Type))
		return
	}
	// Listeners may remove themselves while running.
	for _, l := range append([]*listener(nil), list...) {
		l.fn(msg)
	}
}

// OnClose registers fn to run when the session closes. Hooks run in
// registration order on the closing goroutine.
func (s *Session) OnClose(fn func()) {
	if s.closed {
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
}

// Close stops the session. Pending records are discarded, listeners
// removed and close hooks run. Close does not close the transport.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	s.listeners = make(map[protocol.MessageType][]*listener)
	hooks := s.onClose
	s.onClose = nil
	for _, fn := range hooks {
		fn()
	}
	s.metrics.DecSessions()
	s.log.Debug("Session closed")
	return nil
}
