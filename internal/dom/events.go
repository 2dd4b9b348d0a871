package dom

import (
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Event is a DOM event forwarded from the main context.
type Event struct {
	Type          string
	Target        *Node
	CurrentTarget *Node
	// Value is the target's value after the event, for form controls.
	Value   *string
	stopped bool
}

// StopPropagation keeps the event from reaching further ancestors.
func (e *Event) StopPropagation() { e.stopped = true }

// Handler handles one event.
type Handler func(e *Event)

type listener struct {
	index          uint16
	handler        Handler
	preventDefault bool
}

// AddEventListener registers h for events of type typ on n and returns the
// index RemoveEventListener takes. With preventDefault the main context
// cancels the native default action before forwarding the event.
func (n *Node) AddEventListener(typ string, h Handler, preventDefault bool) uint16 {
	if n.listeners == nil {
		n.listeners = make(map[string][]*listener)
	}
	n.doc.listenerSeq++
	l := &listener{index: n.doc.listenerSeq, handler: h, preventDefault: preventDefault}
	n.listeners[typ] = append(n.listeners[typ], l)

	sess := n.doc.sess
	pd := uint16(0)
	if preventDefault {
		pd = 1
	}
	sess.Transfer(uint16(protocol.OpEventSubscription), n.id, 0, 1, sess.StoreString(typ), l.index, pd)
	return l.index
}

// RemoveEventListener removes the listener registered under index. It
// reports whether one was found.
func (n *Node) RemoveEventListener(typ string, index uint16) bool {
	list := n.listeners[typ]
	for i, l := range list {
		if l.index != index {
			continue
		}
		n.listeners[typ] = append(list[:i:i], list[i+1:]...)
		sess := n.doc.sess
		sess.Transfer(uint16(protocol.OpEventSubscription), n.id, 1, 0, sess.StoreString(typ), index)
		return true
	}
	return false
}

// subscriptions returns one record adding every listener on n, or nil.
func (n *Node) subscriptions() []uint16 {
	count := 0
	for _, list := range n.listeners {
		count += len(list)
	}
	if count == 0 {
		return nil
	}
	sess := n.doc.sess
	rec := []uint16{uint16(protocol.OpEventSubscription), n.id, 0, uint16(count)}
	// Index order keeps the record stable across runs.
	for _, l := range n.sortedListeners() {
		pd := uint16(0)
		if l.preventDefault {
			pd = 1
		}
		rec = append(rec, sess.StoreString(l.typ), l.index, pd)
	}
	return rec
}

type typedListener struct {
	*listener
	typ string
}

func (n *Node) sortedListeners() []typedListener {
	var out []typedListener
	for typ, list := range n.listeners {
		for _, l := range list {
			out = append(out, typedListener{listener: l, typ: typ})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// DispatchEvent runs the listeners for e.Type on target and then on each
// ancestor until one stops propagation.
func (d *Document) DispatchEvent(target *Node, e *Event) {
	e.Target = target
	for n := target; n != nil && !e.stopped; n = n.parent {
		e.CurrentTarget = n
		for _, l := range append([]*listener(nil), n.listeners[e.Type]...) {
			d.invoke(l, e)
		}
	}
	e.CurrentTarget = nil
}

func (d *Document) invoke(l *listener, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event listener panicked",
				zap.String("type", e.Type),
				zap.Any("panic", r))
		}
	}()
	l.handler(e)
}

func (d *Document) handleEvent(msg *protocol.Message) {
	ev := msg.Event
	if ev == nil {
		return
	}
	target := d.NodeByID(ev.Target)
	if target == nil {
		d.log.Debug("Event for unknown node", zap.Uint16("target", ev.Target), zap.String("type", ev.Type))
		return
	}
	if ev.Value != nil {
		// Sync the control's value without echoing it back.
		if target.props == nil {
			target.props = make(map[string]any)
		}
		target.props["value"] = *ev.Value
	}
	d.DispatchEvent(target, &Event{Type: ev.Type, Value: ev.Value})
}
