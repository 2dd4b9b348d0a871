package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

func collect(e *Endpoint) <-chan *protocol.Message {
	ch := make(chan *protocol.Message, 16)
	e.OnMessage(func(m *protocol.Message) { ch <- m })
	return ch
}

func recv(t *testing.T, ch <-chan *protocol.Message) *protocol.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	got := collect(b)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.PostMessage(&protocol.Message{
			Type:      protocol.MsgMutate,
			Mutations: []uint16{uint16(i)},
		}))
	}
	for i := 0; i < 5; i++ {
		m := recv(t, got)
		assert.Equal(t, []uint16{uint16(i)}, m.Mutations)
	}
}

func TestPipeCopiesMessages(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	got := collect(b)

	msg := &protocol.Message{
		Type:    protocol.MsgHydrate,
		Strings: []string{"div"},
		Nodes:   []uint16{2, 1, 0, protocol.NoString, protocol.NoString},
	}
	require.NoError(t, a.PostMessage(msg))
	msg.Strings[0] = "changed"
	msg.Nodes[0] = 99

	m := recv(t, got)
	assert.Equal(t, []string{"div"}, m.Strings)
	assert.Equal(t, uint16(2), m.Nodes[0])
	assert.NotSame(t, msg, m)
}

func TestPipeHoldsUntilHandlerSet(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	require.NoError(t, a.PostMessage(&protocol.Message{Type: protocol.MsgEvent}))
	got := collect(b)

	m := recv(t, got)
	assert.Equal(t, protocol.MsgEvent, m.Type)
}

func TestPipeBothDirections(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	fromA := collect(b)
	fromB := collect(a)

	require.NoError(t, a.PostMessage(&protocol.Message{Type: protocol.MsgMutate}))
	require.NoError(t, b.PostMessage(&protocol.Message{Type: protocol.MsgEvent}))

	assert.Equal(t, protocol.MsgMutate, recv(t, fromA).Type)
	assert.Equal(t, protocol.MsgEvent, recv(t, fromB).Type)
}

func TestPipeClosed(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.PostMessage(&protocol.Message{}), ErrClosed)
	assert.ErrorIs(t, b.PostMessage(&protocol.Message{}), ErrClosed)
	assert.NoError(t, b.Close())
}

func TestPostFunc(t *testing.T) {
	var got *protocol.Message
	var p Poster = PostFunc(func(m *protocol.Message) error {
		got = m
		return nil
	})
	msg := &protocol.Message{Type: protocol.MsgMutate}
	require.NoError(t, p.PostMessage(msg))
	assert.Same(t, msg, got)

	_, ok := p.(Receiver)
	assert.False(t, ok)
}
