package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/observer"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/scheduler"
	"github.com/GriffinCanCode/workerdom/internal/session"
	"github.com/GriffinCanCode/workerdom/internal/testutil"
)

const page = `<!DOCTYPE html><html><head><title>t</title></head><body><div id="app" class="root main"><p>hello</p></div></body></html>`

type harness struct {
	sched *scheduler.Manual
	rec   *testutil.Recorder
	sess  *session.Session
	doc   *Document
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sched: scheduler.NewManual(), rec: testutil.NewRecorder()}
	h.sess = session.New(h.sched, h.rec)
	h.doc = New(h.sess)
	return h
}

// observed returns a harness whose document was hydrated from page and
// whose hydrate message has already been sent.
func observed(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	require.NoError(t, h.doc.HydrateHTML(strings.NewReader(page)))
	require.NoError(t, h.doc.Observe())
	h.sched.Turn()
	require.Len(t, h.rec.Messages(), 1)
	h.rec.Reset()
	return h
}

func (h *harness) strings() codec.StringLookup {
	return h.sess.Strings()
}

func (h *harness) flush(t *testing.T) *protocol.Message {
	t.Helper()
	h.sched.Turn()
	msg := h.rec.Last()
	require.NotNil(t, msg)
	return msg
}

func TestHydrateAssignsPreOrderIDs(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.doc.HydrateHTML(strings.NewReader(page)))

	assert.Equal(t, uint16(1), h.doc.ID())
	html := h.doc.DocumentElement()
	require.NotNil(t, html)
	assert.Equal(t, uint16(2), html.ID())
	assert.Equal(t, uint16(3), h.doc.Head().ID())
	assert.Equal(t, uint16(6), h.doc.Body().ID())

	app := h.doc.GetElementByID("app")
	require.NotNil(t, app)
	assert.Equal(t, uint16(7), app.ID())
	assert.Equal(t, "hello", app.TextContent())
	assert.Same(t, app, h.doc.NodeByID(7))

	assert.ErrorIs(t, h.doc.HydrateHTML(strings.NewReader(page)), ErrHydrated)
}

func TestObserveSendsHydrateMessage(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.doc.HydrateHTML(strings.NewReader(page)))
	app := h.doc.GetElementByID("app")
	app.AddEventListener("click", func(*Event) {}, true)

	// Nothing is transferred before observation.
	h.sched.Turn()
	assert.Empty(t, h.rec.Messages())

	require.NoError(t, h.doc.Observe())
	require.NoError(t, app.SetAttribute("data-x", "1"))
	msg := h.flush(t)

	assert.Equal(t, protocol.MsgHydrate, msg.Type)
	assert.Len(t, msg.Nodes, 9*protocol.CreationWords)
	assert.Equal(t, uint16(1), msg.Nodes[0])
	assert.Equal(t, uint16(protocol.DocumentNode), msg.Nodes[1])

	st := codec.Strings(msg.Strings)
	var ops []protocol.Opcode
	for i := 0; i < len(msg.Mutations); {
		ops = append(ops, protocol.Opcode(msg.Mutations[i]))
		n, err := protocol.Skip(msg.Mutations, i)
		require.NoError(t, err)
		i += n
	}
	assert.Contains(t, ops, protocol.OpEventSubscription)
	// The attribute set after Observe comes last.
	assert.Equal(t, protocol.OpAttributes, ops[len(ops)-1])
	tail := msg.Mutations[len(msg.Mutations)-protocol.AttributesWords:]
	name, _ := st.Get(tail[2])
	assert.Equal(t, "data-x", name)
	assert.Equal(t, protocol.Mutating, h.sess.Phase())
}

func TestAppendChildRecord(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	p := app.FirstChild()

	span := h.doc.CreateElement("SPAN")
	require.NoError(t, app.AppendChild(span))
	msg := h.flush(t)

	assert.Equal(t, protocol.MsgMutate, msg.Type)
	assert.Equal(t, []uint16{span.ID(), uint16(protocol.ElementNode), h.sess.StoreString("span"), protocol.NoString, protocol.NoString}, msg.Nodes)
	assert.Equal(t, []string{"span"}, msg.Strings)
	assert.Equal(t, []uint16{uint16(protocol.OpChildList), app.ID(), 0, p.ID(), 1, 0, span.ID()}, msg.Mutations)
	assert.Same(t, app, span.Parent())
}

func TestInsertBeforeMovesNode(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	body := h.doc.Body()
	p := app.FirstChild()

	require.NoError(t, body.InsertBefore(p, app))
	msg := h.flush(t)

	assert.Equal(t, []uint16{
		uint16(protocol.OpChildList), app.ID(), 0, 0, 0, 1, p.ID(),
		uint16(protocol.OpChildList), body.ID(), app.ID(), 0, 1, 0, p.ID(),
	}, msg.Mutations)
	assert.Equal(t, []*Node{p, app}, body.ChildNodes())
	assert.Empty(t, msg.Nodes)
}

func TestHierarchyErrors(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	p := app.FirstChild()
	text := p.FirstChild()

	assert.ErrorIs(t, p.AppendChild(app), ErrHierarchy)
	assert.ErrorIs(t, app.AppendChild(app), ErrHierarchy)
	assert.ErrorIs(t, text.AppendChild(h.doc.CreateElement("b")), ErrHierarchy)
	assert.ErrorIs(t, app.RemoveChild(text), ErrNotFound)
	assert.ErrorIs(t, app.InsertBefore(h.doc.CreateElement("b"), text), ErrNotFound)

	other := New(session.New(scheduler.NewManual(), testutil.NewRecorder()))
	assert.ErrorIs(t, app.AppendChild(other.CreateElement("b")), ErrWrongDocument)

	h.sched.Turn()
	for _, m := range h.rec.Messages() {
		// only the detached "b" creations may have gone out
		for i := 0; i < len(m.Mutations); {
			assert.NotEqual(t, uint16(protocol.OpChildList), m.Mutations[i])
			n, err := protocol.Skip(m.Mutations, i)
			require.NoError(t, err)
			i += n
		}
	}
}

func TestReplaceChild(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	p := app.FirstChild()
	h2 := h.doc.CreateElement("h2")

	require.NoError(t, app.ReplaceChild(h2, p))
	msg := h.flush(t)

	assert.Equal(t, []uint16{uint16(protocol.OpChildList), app.ID(), 0, 0, 1, 1, h2.ID(), p.ID()}, msg.Mutations)
	assert.Equal(t, []*Node{h2}, app.ChildNodes())
	assert.Nil(t, p.Parent())
}

func TestAttributes(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")

	require.NoError(t, app.SetAttribute("title", "x"))
	require.NoError(t, app.SetAttributeNS("http://www.w3.org/1999/xlink", "href", "#a"))
	app.RemoveAttribute("title")
	app.RemoveAttribute("missing")
	msg := h.flush(t)
	st := h.strings()

	recs := msg.Mutations
	require.Len(t, recs, 3*protocol.AttributesWords)
	name, _ := st.Get(recs[2])
	value, _ := st.Get(recs[4])
	assert.Equal(t, "title", name)
	assert.Equal(t, "x", value)
	assert.Equal(t, protocol.NoString, recs[3])

	ns, _ := st.Get(recs[8])
	assert.Equal(t, "http://www.w3.org/1999/xlink", ns)

	assert.Equal(t, protocol.NoString, recs[14])
	_, ok := app.GetAttribute("title")
	assert.False(t, ok)
	v, ok := app.GetAttributeNS("http://www.w3.org/1999/xlink", "href")
	assert.True(t, ok)
	assert.Equal(t, "#a", v)

	assert.ErrorIs(t, app.FirstChild().FirstChild().SetAttribute("a", "b"), ErrNotElement)
	assert.ErrorIs(t, app.SetAttribute("", "b"), ErrInvalidName)
}

func TestTextContent(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	p := app.FirstChild()
	text := p.FirstChild()

	require.NoError(t, text.SetData("bye"))
	msg := h.flush(t)
	assert.Equal(t, []uint16{uint16(protocol.OpCharacterData), text.ID(), h.sess.StoreString("bye")}, msg.Mutations)

	require.NoError(t, app.SetTextContent("plain"))
	msg = h.flush(t)
	assert.Equal(t, "plain", app.TextContent())
	require.Len(t, app.ChildNodes(), 1)
	assert.Equal(t, protocol.TextNode, app.FirstChild().NodeType())
	assert.Len(t, msg.Nodes, protocol.CreationWords)
}

func TestSetProperty(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")

	app.SetProperty("hidden", true)
	app.SetProperty("value", 12)
	msg := h.flush(t)

	st := h.strings()
	assert.Equal(t, []uint16{uint16(protocol.OpProperties), app.ID(), h.sess.StoreString("hidden"), uint16(protocol.PropertyBool), 1}, msg.Mutations[:5])
	rest := msg.Mutations[5:]
	assert.Equal(t, uint16(protocol.PropertyString), rest[3])
	v, _ := st.Get(rest[4])
	assert.Equal(t, "12", v)

	got, ok := app.Property("hidden")
	assert.True(t, ok)
	assert.Equal(t, true, got)
}

func TestLocalObserversSeeMutations(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	var batches [][]observer.Record
	o := h.sess.Observers().NewObserver(func(records []observer.Record, _ *observer.Observer) {
		batches = append(batches, records)
	})
	o.Observe(app)

	require.NoError(t, app.SetAttribute("a", "1"))
	require.NoError(t, app.FirstChild().FirstChild().SetData("x"))
	require.NoError(t, h.doc.Body().SetAttribute("ignored", "1"))
	h.sched.Turn()

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, observer.Attributes, batches[0][0].Type)
	assert.Equal(t, "1", batches[0][0].Value)
	assert.Equal(t, observer.CharacterData, batches[0][1].Type)
	assert.Equal(t, "hello", batches[0][1].OldValue)
}

func TestEventListeners(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	p := app.FirstChild()
	var order []string

	idx := p.AddEventListener("click", func(e *Event) {
		order = append(order, "p:"+e.Target.NodeName())
	}, false)
	app.AddEventListener("click", func(e *Event) {
		order = append(order, "app")
		e.StopPropagation()
	}, true)
	h.doc.Body().AddEventListener("click", func(*Event) {
		order = append(order, "body")
	}, false)

	msg := h.flush(t)
	st := h.strings()
	require.Len(t, msg.Mutations, 21)
	assert.Equal(t, uint16(protocol.OpEventSubscription), msg.Mutations[0])
	assert.Equal(t, p.ID(), msg.Mutations[1])
	typ, _ := st.Get(msg.Mutations[4])
	assert.Equal(t, "click", typ)
	assert.Equal(t, idx, msg.Mutations[5])
	assert.Equal(t, uint16(1), msg.Mutations[13])

	h.rec.Inject(&protocol.Message{Type: protocol.MsgEvent, Event: &protocol.Event{Target: p.ID(), Type: "click"}})
	h.sched.Turn()
	assert.Equal(t, []string{"p:p", "app"}, order)

	assert.True(t, p.RemoveEventListener("click", idx))
	assert.False(t, p.RemoveEventListener("click", idx))
	msg = h.flush(t)
	assert.Equal(t, []uint16{uint16(protocol.OpEventSubscription), p.ID(), 1, 0, h.sess.StoreString("click"), idx}, msg.Mutations)
}

func TestEventSyncsValue(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	var seen string
	app.AddEventListener("input", func(e *Event) {
		v, _ := e.Target.Property("value")
		seen = v.(string)
	}, false)
	h.sched.Turn()
	h.rec.Reset()

	value := "typed"
	h.rec.Inject(&protocol.Message{Type: protocol.MsgEvent, Event: &protocol.Event{Target: app.ID(), Type: "input", Value: &value}})
	h.sched.Turn()

	assert.Equal(t, "typed", seen)
	assert.Empty(t, h.rec.Messages())
}

func TestPanickingListenerIsContained(t *testing.T) {
	h := observed(t)
	app := h.doc.GetElementByID("app")
	ran := false
	app.AddEventListener("click", func(*Event) { panic("bad") }, false)
	app.AddEventListener("click", func(*Event) { ran = true }, false)

	assert.NotPanics(t, func() {
		h.doc.DispatchEvent(app, &Event{Type: "click"})
	})
	assert.True(t, ran)
}

func TestStorage(t *testing.T) {
	h := observed(t)
	local := h.doc.LocalStorage()

	local.SetItem("theme", "dark")
	local.SetItem("lang", "en")
	local.SetItem("theme", "light")
	local.RemoveItem("lang")
	local.RemoveItem("lang")
	h.doc.SessionStorage().Clear()
	msg := h.flush(t)

	require.Len(t, msg.Mutations, 5*protocol.StorageWords)
	assert.Equal(t, uint16(protocol.LocalStorage), msg.Mutations[1])
	assert.Equal(t, uint16(protocol.StorageSet), msg.Mutations[2])
	assert.Equal(t, uint16(protocol.StorageRemove), msg.Mutations[17])
	assert.Equal(t, uint16(protocol.SessionStorage), msg.Mutations[21])
	assert.Equal(t, uint16(protocol.StorageClear), msg.Mutations[22])

	assert.Equal(t, 1, local.Length())
	v, ok := local.GetItem("theme")
	assert.True(t, ok)
	assert.Equal(t, "light", v)
	k, ok := local.Key(0)
	assert.True(t, ok)
	assert.Equal(t, "theme", k)
}

func TestQuerySelector(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.doc.HydrateHTML(strings.NewReader(page)))

	assert.Equal(t, "div", h.doc.QuerySelector(".main").NodeName())
	assert.Len(t, h.doc.QuerySelectorAll("P"), 1)
	assert.Nil(t, h.doc.QuerySelector("#nope"))
}

func TestNodesAreSerializable(t *testing.T) {
	h := newHarness(t)
	el := h.doc.CreateElement("canvas")
	var s codec.Serializable = el
	kind, id := s.SerializeReference()
	assert.Equal(t, protocol.KindNode, kind)
	assert.Equal(t, uint32(el.ID()), id)

	assert.Nil(t, el.ParentNode())
}
