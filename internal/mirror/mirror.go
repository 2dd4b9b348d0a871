package mirror

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/future"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/transport"
)

var (
	ErrUnexpectedMessage = errors.New("unexpected message type")
	ErrUnknownNode       = errors.New("unknown node")
	ErrUnknownString     = errors.New("unknown string")
	ErrNotSubscribed     = errors.New("worker is not listening for this event")
)

// WorkerError is a rejection reported by a worker-exported function.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "worker function failed: " + e.Message
}

// Node is the main-context copy of a worker node. Read it only between
// applied messages.
type Node struct {
	ID        uint16
	Type      protocol.NodeType
	Name      string
	Namespace string
	Data      string
	Parent    *Node
	Children  []*Node
	Attrs     []Attr
	Props     map[string]any
	// Listeners maps event type to listener index to preventDefault.
	Listeners map[string]map[uint16]bool
}

// Attr is one mirrored attribute.
type Attr struct {
	Namespace string
	Name      string
	Value     string
}

// Attribute returns the value of an attribute without namespace.
func (n *Node) Attribute(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Namespace == "" && a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Mirror replays the worker's batches into a node tree and serves the calls
// the worker makes into the main context. It is safe for concurrent use.
type Mirror struct {
	mu      sync.Mutex
	poster  transport.Poster
	log     *zap.Logger
	nodes   map[uint16]*Node
	strings []string

	global       Funcs
	constructors map[string]Constructor
	objects      map[uint32]any
	storage      map[protocol.StorageLocation]*storageArea

	nextCall uint32
	calls    map[uint32]*future.Future

	hydrated bool
	applied  int
	onApply  []func(*protocol.Message)
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the mirror logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a mirror answering the worker through p. If p also
// implements transport.Receiver, worker messages are applied as they
// arrive.
func New(p transport.Poster, opts ...Option) *Mirror {
	m := &Mirror{
		poster:       p,
		log:          zap.NewNop(),
		nodes:        make(map[uint16]*Node),
		global:       Funcs{},
		constructors: make(map[string]Constructor),
		objects:      make(map[uint32]any),
		storage: map[protocol.StorageLocation]*storageArea{
			protocol.LocalStorage:   newStorageArea(),
			protocol.SessionStorage: newStorageArea(),
		},
		calls: make(map[uint32]*future.Future),
	}
	for _, opt := range opts {
		opt(m)
	}
	if r, ok := p.(transport.Receiver); ok {
		r.OnMessage(m.receive)
	}
	return m
}

func (m *Mirror) receive(msg *protocol.Message) {
	if err := m.Apply(msg); err != nil {
		m.log.Warn("Failed to apply worker message",
			zap.Stringer("type", msg.Type),
			zap.Error(err))
	}
}

// OnApply registers fn to run after each applied batch, outside the lock.
func (m *Mirror) OnApply(fn func(*protocol.Message)) {
	m.mu.Lock()
	m.onApply = append(m.onApply, fn)
	m.mu.Unlock()
}

// Apply replays one HYDRATE or MUTATE message.
func (m *Mirror) Apply(msg *protocol.Message) error {
	if msg.Type != protocol.MsgHydrate && msg.Type != protocol.MsgMutate {
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type)
	}

	m.mu.Lock()
	r := &replay{m: m}
	err := r.run(msg)
	if msg.Type == protocol.MsgHydrate {
		m.hydrated = true
	}
	m.applied++
	hooks := append(([]func(*protocol.Message))(nil), m.onApply...)
	m.mu.Unlock()

	for _, fn := range r.after {
		fn()
	}
	for _, fn := range hooks {
		fn(msg)
	}
	return err
}

// Applied returns the number of messages applied so far.
func (m *Mirror) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// Hydrated reports whether the hydrate message has arrived.
func (m *Mirror) Hydrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hydrated
}

// Node returns the mirrored node with the given id, or nil.
func (m *Mirror) Node(id uint16) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[id]
}

// Strings returns a copy of the mirrored string table.
func (m *Mirror) Strings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.strings...)
}

// DispatchEvent forwards an event on target to the worker. It fails with
// ErrNotSubscribed unless the worker listens for typ on target.
func (m *Mirror) DispatchEvent(target uint16, typ string, value *string) error {
	m.mu.Lock()
	n := m.nodes[target]
	subscribed := n != nil && len(n.Listeners[typ]) > 0
	m.mu.Unlock()
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, target)
	}
	if !subscribed {
		return fmt.Errorf("%w: %s on %d", ErrNotSubscribed, typ, target)
	}
	return m.poster.PostMessage(&protocol.Message{
		Type:  protocol.MsgEvent,
		Event: &protocol.Event{Target: target, Type: typ, Value: value},
	})
}

// PreventDefault reports whether some worker listener for typ on target
// asked for the native default action to be cancelled.
func (m *Mirror) PreventDefault(target uint16, typ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[target]
	if n == nil {
		return false
	}
	for _, pd := range n.Listeners[typ] {
		if pd {
			return true
		}
	}
	return false
}

// CallWorkerFunction calls a function the worker exported. The future
// resolves with the JSON-decoded result or rejects with a *WorkerError.
// Continuations run on the goroutine that applies the reply.
func (m *Mirror) CallWorkerFunction(name string, args ...any) (*future.Future, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := sonic.MarshalString(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments for %q: %w", name, err)
	}

	m.mu.Lock()
	index := m.nextCall
	if m.nextCall == math.MaxUint32 {
		m.nextCall = 0
	} else {
		m.nextCall++
	}
	f := future.New(nil)
	m.calls[index] = f
	m.mu.Unlock()

	err = m.poster.PostMessage(&protocol.Message{
		Type:     protocol.MsgFunction,
		Function: &protocol.FunctionCall{Identifier: name, Arguments: encoded, Index: index},
	})
	if err != nil {
		m.mu.Lock()
		delete(m.calls, index)
		m.mu.Unlock()
		return nil, err
	}
	return f, nil
}

// Storage returns a copy of one storage area.
func (m *Mirror) Storage(loc protocol.StorageLocation) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	area := m.storage[loc]
	if area == nil {
		return nil
	}
	return area.snapshot()
}
