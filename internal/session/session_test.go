package session

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/observer"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/scheduler"
	"github.com/GriffinCanCode/workerdom/internal/testutil"
	"github.com/GriffinCanCode/workerdom/internal/transport"
)

func newSession(t *testing.T, opts ...Option) (*Session, *scheduler.Manual, *testutil.Recorder) {
	t.Helper()
	sched := scheduler.NewManual()
	rec := testutil.NewRecorder()
	return New(sched, rec, opts...), sched, rec
}

func TestTransferIgnoredWhileInitializing(t *testing.T) {
	poster := testutil.NewMockPoster(t)
	sched := scheduler.NewManual()
	s := New(sched, poster)

	s.Transfer(uint16(protocol.OpAttributes), 1, 0, protocol.NoString, 0)
	s.Transfer(uint16(protocol.OpCharacterData), 1, 0)
	sched.Turn()

	poster.AssertNotCalled(t, "PostMessage", mock.Anything)
	_, micro := sched.Pending()
	assert.Zero(t, micro)
}

func TestPhaseGating(t *testing.T) {
	s, sched, rec := newSession(t)

	s.Transfer(uint16(protocol.OpCharacterData), 1, 0)
	sched.Turn()
	assert.Empty(t, rec.Messages())

	require.NoError(t, s.SetPhase(protocol.Hydrating))
	s.Transfer(uint16(protocol.OpCharacterData), 1, 0)
	sched.Turn()

	require.Len(t, rec.Messages(), 1)
	assert.Equal(t, protocol.MsgHydrate, rec.Last().Type)
	assert.Equal(t, protocol.Hydrating, rec.Last().Phase)
	assert.Equal(t, protocol.Mutating, s.Phase())

	s.Transfer(uint16(protocol.OpCharacterData), 1, 1)
	sched.Turn()

	require.Len(t, rec.Messages(), 2)
	assert.Equal(t, protocol.MsgMutate, rec.Last().Type)
	assert.Equal(t, protocol.Mutating, rec.Last().Phase)
}

func TestTransferPreservesCallOrder(t *testing.T) {
	s, sched, rec := newSession(t)
	require.NoError(t, s.SetPhase(protocol.Mutating))

	a := []uint16{uint16(protocol.OpCharacterData), 4, 7}
	b := []uint16{uint16(protocol.OpAttributes), 4, 1, protocol.NoString, 2}
	s.Transfer(a...)
	s.Transfer(b...)
	sched.RunMicrotasks()

	require.Len(t, rec.Messages(), 1)
	assert.Equal(t, append(append([]uint16(nil), a...), b...), rec.Last().Mutations)
}

func TestOneMessagePerTurn(t *testing.T) {
	s, sched, rec := newSession(t)
	require.NoError(t, s.SetPhase(protocol.Mutating))

	sched.Post(func() {
		// Queued ahead of the flush, so its record joins this batch.
		sched.Microtask(func() {
			s.Transfer(uint16(protocol.OpCharacterData), 1, 99)
		})
		for i := 0; i < 10; i++ {
			s.Transfer(uint16(protocol.OpCharacterData), 1, uint16(i))
		}
	})
	sched.Post(func() {
		s.Transfer(uint16(protocol.OpCharacterData), 2, 0)
	})
	sched.Turn()

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Mutations, 33)
	assert.Equal(t, uint16(99), msgs[0].Mutations[32])
	assert.Equal(t, []uint16{uint16(protocol.OpCharacterData), 2, 0}, msgs[1].Mutations)
}

func TestFlushCarriesNewNodesAndStrings(t *testing.T) {
	s, sched, rec := newSession(t)
	require.NoError(t, s.SetPhase(protocol.Mutating))

	parent := testutil.NewNode("div", nil)
	child := testutil.NewNode("span", parent)
	parent.ID = s.StoreNode(parent)
	child.ID = s.StoreNode(child)
	text := s.StoreString("hello")

	s.Transfer(uint16(protocol.OpChildList), parent.ID, 0, 0, 1, 0, child.ID)
	s.Transfer(uint16(protocol.OpCharacterData), child.ID, text)
	sched.RunMicrotasks()

	msg := rec.Last()
	require.NotNil(t, msg)
	div, span := uint16(1), uint16(2)
	assert.Equal(t, []uint16{
		parent.ID, uint16(protocol.ElementNode), div, protocol.NoString, protocol.NoString,
		child.ID, uint16(protocol.ElementNode), span, protocol.NoString, protocol.NoString,
	}, msg.Nodes)
	// "hello" was interned before the creation records named the nodes.
	assert.Equal(t, []string{"hello", "div", "span"}, msg.Strings)

	s.Transfer(uint16(protocol.OpCharacterData), child.ID, text)
	sched.RunMicrotasks()
	assert.Empty(t, rec.Last().Nodes)
	assert.Empty(t, rec.Last().Strings)
}

func TestObserveSendsSnapshotFirst(t *testing.T) {
	s, sched, rec := newSession(t)
	root := testutil.NewNode("html", nil)
	id, err := s.StoreNodeOverride(root, 1)
	require.NoError(t, err)
	root.ID = id

	snapshot := []uint16{uint16(protocol.OpChildList), 1, 0, 0, 0, 0}
	require.NoError(t, s.Observe(snapshot))
	s.Transfer(uint16(protocol.OpCharacterData), 1, 0)
	sched.RunMicrotasks()

	msg := rec.Last()
	require.NotNil(t, msg)
	assert.Equal(t, protocol.MsgHydrate, msg.Type)
	assert.Equal(t, append(append([]uint16(nil), snapshot...), uint16(protocol.OpCharacterData), 1, 0), msg.Mutations)
	assert.Equal(t, []uint16{1, uint16(protocol.ElementNode), 0, protocol.NoString, protocol.NoString}, msg.Nodes)

	assert.Error(t, s.Observe(nil))
	_, err = s.StoreNodeOverride(testutil.NewNode("late", nil), 5)
	assert.ErrorIs(t, err, intern.ErrOverrideClosed)
}

func TestSetPhaseBackwards(t *testing.T) {
	s, _, _ := newSession(t)
	require.NoError(t, s.SetPhase(protocol.Mutating))
	assert.Error(t, s.SetPhase(protocol.Initializing))
}

func TestTransferDisabled(t *testing.T) {
	s, sched, rec := newSession(t)
	var delivered []observer.Record
	root := testutil.NewNode("div", nil)
	o := s.Observers().NewObserver(func(records []observer.Record, _ *observer.Observer) {
		delivered = append(delivered, records...)
	})
	o.Observe(root)
	require.NoError(t, s.SetPhase(protocol.Mutating))

	s.SetTransferEnabled(false)
	s.Mutate(observer.Record{Type: observer.CharacterData, Target: root}, uint16(protocol.OpCharacterData), 1, 0)
	sched.Turn()
	assert.Empty(t, rec.Messages())
	assert.Len(t, delivered, 1)

	s.SetTransferEnabled(true)
	s.Mutate(observer.Record{Type: observer.CharacterData, Target: root}, uint16(protocol.OpCharacterData), 1, 0)
	sched.Turn()
	assert.Len(t, rec.Messages(), 1)
	assert.Len(t, delivered, 2)
}

func TestMutateDispatchesWhileInitializing(t *testing.T) {
	s, sched, rec := newSession(t)
	root := testutil.NewNode("div", nil)
	child := testutil.NewNode("p", root)
	calls := 0
	var got []observer.Record
	o := s.Observers().NewObserver(func(records []observer.Record, _ *observer.Observer) {
		calls++
		got = records
	})
	o.Observe(root)

	s.Mutate(observer.Record{Type: observer.Attributes, Target: child, AttributeName: "a"})
	s.Mutate(observer.Record{Type: observer.Attributes, Target: root, AttributeName: "b"})
	sched.Turn()

	assert.Empty(t, rec.Messages())
	assert.Equal(t, 1, calls)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].AttributeName)
	assert.Equal(t, "b", got[1].AttributeName)
}

func TestTransportErrorIsSwallowed(t *testing.T) {
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	s, sched, rec := newSession(t, WithMetrics(m))
	require.NoError(t, s.SetPhase(protocol.Hydrating))
	rec.FailWith(errors.New("gone"))

	s.Transfer(uint16(protocol.OpCharacterData), 1, 0)
	assert.NotPanics(t, func() { sched.Turn() })

	assert.Equal(t, protocol.Mutating, s.Phase())
	assert.Equal(t, 1.0, prom.ToFloat64(m.TransferErrors))
}

func TestMessageListeners(t *testing.T) {
	s, sched, rec := newSession(t)
	var got []protocol.MessageType

	remove, err := s.AddMessageListener(protocol.MsgEvent, func(msg *protocol.Message) {
		got = append(got, msg.Type)
	})
	require.NoError(t, err)
	_, err = s.AddMessageListener(protocol.MsgFunction, func(msg *protocol.Message) {
		got = append(got, msg.Type)
	})
	require.NoError(t, err)

	rec.Inject(&protocol.Message{Type: protocol.MsgEvent})
	rec.Inject(&protocol.Message{Type: protocol.MsgFunction})
	rec.Inject(&protocol.Message{Type: protocol.MsgCallFunctionResult})
	// Inbound messages wait for the scheduler.
	assert.Empty(t, got)
	sched.Turn()
	assert.Equal(t, []protocol.MessageType{protocol.MsgEvent, protocol.MsgFunction}, got)

	remove()
	rec.Inject(&protocol.Message{Type: protocol.MsgEvent})
	sched.Turn()
	assert.Len(t, got, 2)
}

func TestListenerRemovesItself(t *testing.T) {
	s, sched, rec := newSession(t)
	calls := 0
	var remove func()
	remove, err := s.AddMessageListener(protocol.MsgEvent, func(*protocol.Message) {
		calls++
		remove()
	})
	require.NoError(t, err)

	rec.Inject(&protocol.Message{Type: protocol.MsgEvent})
	rec.Inject(&protocol.Message{Type: protocol.MsgEvent})
	sched.Turn()
	assert.Equal(t, 1, calls)
}

func TestSendOnlyTransport(t *testing.T) {
	s := New(scheduler.NewManual(), transport.PostFunc(func(*protocol.Message) error { return nil }))
	assert.False(t, s.CanReceive())
	_, err := s.AddMessageListener(protocol.MsgEvent, func(*protocol.Message) {})
	assert.ErrorIs(t, err, ErrNoListener)
}

func TestClose(t *testing.T) {
	s, sched, rec := newSession(t)
	require.NoError(t, s.SetPhase(protocol.Mutating))
	calls := 0
	_, err := s.AddMessageListener(protocol.MsgEvent, func(*protocol.Message) { calls++ })
	require.NoError(t, err)

	s.Transfer(uint16(protocol.OpCharacterData), 1, 0)
	require.NoError(t, s.Close())
	sched.Turn()
	assert.Empty(t, rec.Messages())

	rec.Inject(&protocol.Message{Type: protocol.MsgEvent})
	sched.Turn()
	assert.Zero(t, calls)

	_, err = s.AddMessageListener(protocol.MsgEvent, func(*protocol.Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Observe(nil), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestCanTransfer(t *testing.T) {
	s, _, _ := newSession(t)
	assert.False(t, s.CanTransfer())
	require.NoError(t, s.SetPhase(protocol.Hydrating))
	assert.True(t, s.CanTransfer())
	s.SetTransferEnabled(false)
	assert.False(t, s.CanTransfer())
	s.SetTransferEnabled(true)
	require.NoError(t, s.Close())
	assert.False(t, s.CanTransfer())
}

func TestCloseRunsHooksOnce(t *testing.T) {
	s, _, _ := newSession(t)
	var order []int
	s.OnClose(func() { order = append(order, 1) })
	s.OnClose(func() { order = append(order, 2) })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, []int{1, 2}, order)

	s.OnClose(func() { order = append(order, 3) })
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSessionsGetDistinctIDs(t *testing.T) {
	a, _, _ := newSession(t)
	b, _, _ := newSession(t)
	assert.NotEqual(t, a.ID(), b.ID())

	c, _, _ := newSession(t, WithID("sess_fixed"))
	assert.Equal(t, "sess_fixed", c.ID().String())
}
