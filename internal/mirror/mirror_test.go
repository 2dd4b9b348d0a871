package mirror

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/testutil"
)

const ns = protocol.NoString

// batch plays the worker side: it interns strings the way a session does
// and hands them out with each message.
type batch struct {
	strings *intern.StringTable
	nodes   []uint16
	words   []uint16
}

func newBatch() *batch {
	return &batch{strings: intern.NewStringTable()}
}

func (b *batch) s(v string) uint16 { return b.strings.Store(v) }

func (b *batch) node(id uint16, t protocol.NodeType, name string, value uint16) *batch {
	b.nodes = append(b.nodes, id, uint16(t), b.s(name), value, ns)
	return b
}

func (b *batch) add(words ...uint16) *batch {
	b.words = append(b.words, words...)
	return b
}

func (b *batch) payloads(target any, args []any) *batch {
	enc := codec.NewEncoder(b.strings)
	var t []byte
	if target != nil {
		var err error
		if t, err = enc.Encode(target); err != nil {
			panic(err)
		}
	}
	a, err := enc.EncodeArgs(args)
	if err != nil {
		panic(err)
	}
	b.words = codec.Pack(b.words, t)
	b.words = codec.Pack(b.words, a)
	return b
}

func (b *batch) msg(t protocol.MessageType) *protocol.Message {
	m := &protocol.Message{
		Type:      t,
		Strings:   b.strings.ConsumeNewStrings(),
		Nodes:     b.nodes,
		Mutations: b.words,
	}
	b.nodes, b.words = nil, nil
	return m
}

func childList(target, next, prev uint16, added, removed []uint16) []uint16 {
	out := []uint16{uint16(protocol.OpChildList), target, next, prev, uint16(len(added)), uint16(len(removed))}
	out = append(out, added...)
	return append(out, removed...)
}

// hydrated returns a mirror holding <div id="app">hi</div> with the div as
// node 2 and its text as node 3.
func hydrated(t *testing.T) (*Mirror, *batch, *testutil.Recorder) {
	t.Helper()
	rec := testutil.NewRecorder()
	m := New(rec)
	b := newBatch()
	b.node(1, protocol.DocumentNode, "#document", ns).
		node(2, protocol.ElementNode, "div", ns).
		node(3, protocol.TextNode, "#text", b.s("hi"))
	b.add(childList(1, 0, 0, []uint16{2}, nil)...).
		add(childList(2, 0, 0, []uint16{3}, nil)...).
		add(uint16(protocol.OpAttributes), 2, b.s("id"), ns, b.s("app"))
	require.NoError(t, m.Apply(b.msg(protocol.MsgHydrate)))
	return m, b, rec
}

func render(t *testing.T, m *Mirror) string {
	t.Helper()
	out, err := m.HTML()
	require.NoError(t, err)
	return out
}

func TestHydrateBuildsTree(t *testing.T) {
	m, _, _ := hydrated(t)

	assert.True(t, m.Hydrated())
	assert.Equal(t, `<div id="app">hi</div>`, render(t, m))
	assert.Equal(t, "hi", m.Node(3).Data)
	assert.Same(t, m.Node(2), m.Node(3).Parent)
}

func TestChildListInsertsBeforeNext(t *testing.T) {
	m, b, _ := hydrated(t)

	b.node(4, protocol.ElementNode, "span", ns)
	b.add(childList(2, 3, 0, []uint16{4}, nil)...)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.Equal(t, `<div id="app"><span></span>hi</div>`, render(t, m))

	b.add(childList(2, 0, 4, nil, []uint16{3})...)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.Equal(t, `<div id="app"><span></span></div>`, render(t, m))
	assert.Nil(t, m.Node(3).Parent)
}

func TestChildListMovesNodes(t *testing.T) {
	m, b, _ := hydrated(t)

	b.node(4, protocol.ElementNode, "p", ns)
	b.add(childList(1, 0, 2, []uint16{4}, nil)...).
		add(childList(4, 0, 0, []uint16{3}, nil)...)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))

	assert.Equal(t, `<div id="app"></div><p>hi</p>`, render(t, m))
	assert.Empty(t, m.Node(2).Children)
}

func TestAttributesAndText(t *testing.T) {
	m, b, _ := hydrated(t)

	b.add(uint16(protocol.OpAttributes), 2, b.s("class"), ns, b.s("a b")).
		add(uint16(protocol.OpAttributes), 2, b.s("id"), ns, ns).
		add(uint16(protocol.OpCharacterData), 3, b.s("bye"))
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))

	assert.Equal(t, `<div class="a b">bye</div>`, render(t, m))
	_, ok := m.Node(2).Attribute("id")
	assert.False(t, ok)
}

func TestProperties(t *testing.T) {
	m, b, _ := hydrated(t)

	b.add(uint16(protocol.OpProperties), 2, b.s("hidden"), uint16(protocol.PropertyBool), 1).
		add(uint16(protocol.OpProperties), 2, b.s("value"), uint16(protocol.PropertyString), b.s("typed"))
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))

	assert.Equal(t, map[string]any{"hidden": true, "value": "typed"}, m.Node(2).Props)
}

func TestEventSubscriptions(t *testing.T) {
	m, b, rec := hydrated(t)

	assert.ErrorIs(t, m.DispatchEvent(2, "click", nil), ErrNotSubscribed)
	assert.ErrorIs(t, m.DispatchEvent(99, "click", nil), ErrUnknownNode)

	b.add(uint16(protocol.OpEventSubscription), 2, 0, 2, b.s("click"), 0, 1, b.s("input"), 1, 0)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.True(t, m.PreventDefault(2, "click"))
	assert.False(t, m.PreventDefault(2, "input"))

	value := "x"
	require.NoError(t, m.DispatchEvent(2, "input", &value))
	last := rec.Last()
	require.NotNil(t, last)
	assert.Equal(t, protocol.MsgEvent, last.Type)
	assert.Equal(t, &protocol.Event{Target: 2, Type: "input", Value: &value}, last.Event)

	b.add(uint16(protocol.OpEventSubscription), 2, 1, 0, b.s("click"), 0)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.False(t, m.PreventDefault(2, "click"))
	assert.ErrorIs(t, m.DispatchEvent(2, "click", nil), ErrNotSubscribed)
}

func TestStorage(t *testing.T) {
	m, b, _ := hydrated(t)
	set := func(k, v string) {
		b.add(uint16(protocol.OpStorage), uint16(protocol.LocalStorage), uint16(protocol.StorageSet), b.s(k), b.s(v))
	}

	set("a", "1")
	set("b", "2")
	b.add(uint16(protocol.OpStorage), uint16(protocol.LocalStorage), uint16(protocol.StorageRemove), b.s("a"), ns).
		add(uint16(protocol.OpStorage), uint16(protocol.SessionStorage), uint16(protocol.StorageSet), b.s("s"), b.s("x"))
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.Equal(t, map[string]string{"b": "2"}, m.Storage(protocol.LocalStorage))
	assert.Equal(t, map[string]string{"s": "x"}, m.Storage(protocol.SessionStorage))

	b.add(uint16(protocol.OpStorage), uint16(protocol.LocalStorage), uint16(protocol.StorageClear), ns, ns)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.Empty(t, m.Storage(protocol.LocalStorage))
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name  string
		words []uint16
		want  error
	}{
		{"unknown node", []uint16{uint16(protocol.OpCharacterData), 42, 0}, ErrUnknownNode},
		{"unknown string", []uint16{uint16(protocol.OpCharacterData), 2, 500}, ErrUnknownString},
		{"truncated", []uint16{uint16(protocol.OpAttributes), 2}, protocol.ErrTruncated},
		{"unknown opcode", []uint16{77}, protocol.ErrUnknownOpcode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := hydrated(t)
			err := m.Apply(&protocol.Message{Type: protocol.MsgMutate, Mutations: tt.words})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	m := New(testutil.NewRecorder())
	assert.ErrorIs(t, m.Apply(&protocol.Message{Type: protocol.MsgEvent}), ErrUnexpectedMessage)
}

func TestLoadHTMLAdoptsNodes(t *testing.T) {
	m := New(testutil.NewRecorder())
	require.NoError(t, m.LoadHTML(strings.NewReader(`<p>x</p>`)))
	p := m.Node(5)
	require.NotNil(t, p)
	assert.Equal(t, "p", p.Name)

	b := newBatch()
	b.node(5, protocol.ElementNode, "p", ns)
	b.add(childList(4, 0, 0, []uint16{5}, nil)...)
	require.NoError(t, m.Apply(b.msg(protocol.MsgHydrate)))

	assert.Same(t, p, m.Node(5))
	assert.Equal(t, `<html><head></head><body><p>x</p></body></html>`, render(t, m))
	assert.ErrorIs(t, m.LoadHTML(strings.NewReader(`<p></p>`)), ErrLoaded)
}

func TestObjectLifecycle(t *testing.T) {
	m, b, _ := hydrated(t)
	total := 0
	m.RegisterConstructor("Counter", func(args []any) (any, error) {
		return Funcs{"add": func(args []any) (any, error) {
			total += int(args[0].(float64))
			return total, nil
		}}, nil
	})

	b.add(uint16(protocol.OpObjectCreation), b.s("Counter"), 1, 7, 0).payloads(nil, nil)
	b.add(uint16(protocol.OpObjectMutation), b.s("add")).payloads(codec.Reference{Kind: protocol.KindObject, ID: 7}, []any{5})
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.Equal(t, 5, total)
	assert.Equal(t, 1, m.Objects())

	b.add(uint16(protocol.OpObjectCreation), b.s("getAttribute"), 0, 8, 0).
		payloads(codec.Reference{Kind: protocol.KindNode, ID: 2}, []any{"id"})
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	v, ok := m.Object(8)
	require.True(t, ok)
	assert.Equal(t, "app", v)

	b.add(uint16(protocol.OpObjectDeletion), 7, 0).add(uint16(protocol.OpObjectDeletion), 8, 0)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))
	assert.Zero(t, m.Objects())
}

func TestObjectFailuresDoNotStopReplay(t *testing.T) {
	m, b, _ := hydrated(t)

	b.add(uint16(protocol.OpObjectCreation), b.s("Missing"), 1, 1, 0).payloads(nil, nil).
		add(uint16(protocol.OpObjectMutation), b.s("nope")).payloads(codec.Reference{Kind: protocol.KindObject, ID: 9}, nil).
		add(uint16(protocol.OpCharacterData), 3, b.s("after"))
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))

	assert.Zero(t, m.Objects())
	assert.Equal(t, "after", m.Node(3).Data)
}

func callFunction(b *batch, name string, index uint32, global bool, target any, args []any) {
	lo, hi := protocol.SplitUint32(index)
	g := uint16(0)
	if global {
		g = 1
	}
	b.add(uint16(protocol.OpCallFunction), b.s(name), lo, hi, g).payloads(target, args)
}

func TestCallFunctionReplies(t *testing.T) {
	m, b, rec := hydrated(t)
	m.RegisterGlobal("sum", func(args []any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})
	m.RegisterGlobal("fail", func([]any) (any, error) {
		return nil, errors.New("nope")
	})

	callFunction(b, "sum", 70000, true, nil, []any{2, 3})
	callFunction(b, "fail", 1, true, nil, nil)
	callFunction(b, "getAttribute", 2, false, codec.Reference{Kind: protocol.KindNode, ID: 2}, []any{"id"})
	callFunction(b, "missing", 3, true, nil, nil)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))

	msgs := rec.Messages()
	require.Len(t, msgs, 4)
	for _, msg := range msgs {
		assert.Equal(t, protocol.MsgCallFunctionResult, msg.Type)
	}
	assert.Equal(t, &protocol.CallResult{Index: 70000, Success: true, Value: "5"}, msgs[0].Result)
	assert.Equal(t, &protocol.CallResult{Index: 1, Success: false, Value: `"nope"`}, msgs[1].Result)
	assert.Equal(t, &protocol.CallResult{Index: 2, Success: true, Value: `"app"`}, msgs[2].Result)
	assert.False(t, msgs[3].Result.Success)
	assert.Contains(t, msgs[3].Result.Value, "unknown method")
}

func TestCallWorkerFunction(t *testing.T) {
	m, b, rec := hydrated(t)

	ok, err := m.CallWorkerFunction("greet", "bob")
	require.NoError(t, err)
	bad, err := m.CallWorkerFunction("broken")
	require.NoError(t, err)

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, &protocol.FunctionCall{Identifier: "greet", Arguments: `["bob"]`, Index: 0}, msgs[0].Function)
	assert.Equal(t, &protocol.FunctionCall{Identifier: "broken", Arguments: `[]`, Index: 1}, msgs[1].Function)

	greeting, _ := sonic.MarshalString("hi bob")
	b.add(uint16(protocol.OpFunctionCall), uint16(protocol.Resolve), 0, 0, b.s(greeting)).
		add(uint16(protocol.OpFunctionCall), uint16(protocol.Reject), 1, 0, b.s(`"exploded"`)).
		add(uint16(protocol.OpFunctionCall), uint16(protocol.Resolve), 9, 0, ns)
	require.NoError(t, m.Apply(b.msg(protocol.MsgMutate)))

	v, err := ok.Result()
	require.NoError(t, err)
	assert.Equal(t, "hi bob", v)

	_, err = bad.Result()
	var we *WorkerError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "exploded", we.Message)
}

func TestCallWorkerFunctionPostFailure(t *testing.T) {
	rec := testutil.NewRecorder()
	m := New(rec)
	rec.FailWith(errors.New("down"))

	f, err := m.CallWorkerFunction("x")
	assert.Error(t, err)
	assert.Nil(t, f)
}

func TestReceiverAppliesInbound(t *testing.T) {
	rec := testutil.NewRecorder()
	m := New(rec)
	applied := 0
	m.OnApply(func(*protocol.Message) { applied++ })

	b := newBatch()
	b.node(1, protocol.DocumentNode, "#document", ns)
	rec.Inject(b.msg(protocol.MsgHydrate))

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, m.Applied())
	assert.NotNil(t, m.Node(1))
}

func TestApplyHooksRunOutsideLock(t *testing.T) {
	m := New(testutil.NewRecorder())
	var seen []protocol.MessageType
	late := 0
	m.OnApply(func(msg *protocol.Message) {
		seen = append(seen, msg.Type)
		if len(seen) == 1 {
			m.OnApply(func(*protocol.Message) { late++ })
		}
	})

	b := newBatch()
	b.node(1, protocol.DocumentNode, "#document", ns)
	require.NoError(t, m.Apply(b.msg(protocol.MsgHydrate)))
	assert.Zero(t, late)

	require.NoError(t, m.Apply(newBatch().msg(protocol.MsgMutate)))
	assert.Equal(t, []protocol.MessageType{protocol.MsgHydrate, protocol.MsgMutate}, seen)
	assert.Equal(t, 1, late)
}
