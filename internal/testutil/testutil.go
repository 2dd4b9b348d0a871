// Package testutil provides transports and nodes for package tests.
package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// MockPoster is a mock implementation of transport.Poster.
type MockPoster struct {
	mock.Mock
}

// PostMessage mocks the PostMessage method.
func (m *MockPoster) PostMessage(msg *protocol.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

// NewMockPoster creates a mock poster that accepts every message.
func NewMockPoster(t *testing.T) *MockPoster {
	t.Helper()
	m := new(MockPoster)
	m.On("PostMessage", mock.Anything).Return(nil).Maybe()
	return m
}

// Recorder is a transport that keeps every posted message and lets a test
// inject inbound ones. It implements transport.Poster and
// transport.Receiver.
type Recorder struct {
	mu       sync.Mutex
	messages []*protocol.Message
	handler  func(*protocol.Message)
	err      error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// PostMessage records a copy of msg, or fails with the configured error.
func (r *Recorder) PostMessage(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg.Clone())
	return nil
}

// OnMessage stores the inbound handler.
func (r *Recorder) OnMessage(fn func(*protocol.Message)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

// Inject delivers msg to the inbound handler, as the paired context would.
func (r *Recorder) Inject(msg *protocol.Message) {
	r.mu.Lock()
	fn := r.handler
	r.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// FailWith makes later posts fail with err. Nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Messages returns the recorded messages.
func (r *Recorder) Messages() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Message(nil), r.messages...)
}

// Last returns the most recent message, or nil.
func (r *Recorder) Last() *protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// Node is a minimal intern.Node. ID must be set after storing the node for
// its creation record to carry it.
type Node struct {
	ID     uint16
	Name   string
	Parent *Node
}

// NewNode creates a node under parent, which may be nil.
func NewNode(name string, parent *Node) *Node {
	return &Node{Name: name, Parent: parent}
}

// ParentNode implements intern.Node.
func (n *Node) ParentNode() intern.Node {
	if n.Parent == nil {
		return nil
	}
	return n.Parent
}

// Creation implements intern.Node as an element named Name.
func (n *Node) Creation(st *intern.StringTable) []uint16 {
	return []uint16{n.ID, uint16(protocol.ElementNode), st.Store(n.Name), protocol.NoString, protocol.NoString}
}
