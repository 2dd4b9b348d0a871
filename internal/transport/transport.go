package transport

import (
	"errors"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

var ErrClosed = errors.New("transport closed")

// Poster sends one message to the paired context.
type Poster interface {
	PostMessage(msg *protocol.Message) error
}

// Receiver delivers inbound messages to a single handler. Handlers are
// called from the transport's own goroutine; callers hop onto their
// scheduler before touching context state.
type Receiver interface {
	OnMessage(fn func(*protocol.Message))
}

// PostFunc adapts a function to Poster. It has no receive side.
type PostFunc func(msg *protocol.Message) error

// PostMessage implements Poster.
func (f PostFunc) PostMessage(msg *protocol.Message) error {
	return f(msg)
}
