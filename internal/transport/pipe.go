package transport

import (
	"sync"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Endpoint is one side of a Pipe.
type Endpoint struct {
	peer *Endpoint

	mu      sync.Mutex
	handler func(*protocol.Message)
	queue   []*protocol.Message
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

// NewPipe returns two connected endpoints. A message posted on one is
// delivered, in order, to the handler of the other.
func NewPipe() (*Endpoint, *Endpoint) {
	a := newEndpoint()
	b := newEndpoint()
	a.peer, b.peer = b, a
	go a.deliver()
	go b.deliver()
	return a, b
}

func newEndpoint() *Endpoint {
	return &Endpoint{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// PostMessage implements Poster.
func (e *Endpoint) PostMessage(msg *protocol.Message) error {
	return e.peer.enqueue(msg.Clone())
}

// OnMessage implements Receiver. Messages arriving before a handler is set
// are held until one is.
func (e *Endpoint) OnMessage(fn func(*protocol.Message)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
	e.signal()
}

// Close stops both endpoints. Queued messages are dropped.
func (e *Endpoint) Close() error {
	e.close()
	e.peer.close()
	return nil
}

func (e *Endpoint) enqueue(msg *protocol.Message) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.queue = append(e.queue, msg)
	e.mu.Unlock()
	e.signal()
	return nil
}

func (e *Endpoint) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.queue = nil
	close(e.done)
}

func (e *Endpoint) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) deliver() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if e.closed || e.handler == nil || len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			msg := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			handler := e.handler
			e.mu.Unlock()
			handler(msg)
		}
	}
}
