package mirror

import (
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// replay applies one message with the mirror lock held. Work that may call
// back into the mirror is queued on after.
type replay struct {
	m     *Mirror
	words []uint16
	after []func()
}

func (r *replay) run(msg *protocol.Message) error {
	m := r.m
	m.strings = append(m.strings, msg.Strings...)

	if len(msg.Nodes)%protocol.CreationWords != 0 {
		return fmt.Errorf("creation records: %d words is not a multiple of %d", len(msg.Nodes), protocol.CreationWords)
	}
	for i := 0; i < len(msg.Nodes); i += protocol.CreationWords {
		if err := r.create(msg.Nodes[i : i+protocol.CreationWords]); err != nil {
			return err
		}
	}

	r.words = msg.Mutations
	for i := 0; i < len(r.words); {
		n, err := protocol.Skip(r.words, i)
		if err != nil {
			return err
		}
		if err := r.record(i); err != nil {
			return fmt.Errorf("%s at word %d: %w", protocol.Opcode(r.words[i]), i, err)
		}
		i += n
	}
	return nil
}

func (r *replay) create(rec []uint16) error {
	id := rec[0]
	if id == 0 {
		return fmt.Errorf("creation record with node id 0")
	}
	name, err := r.str(rec[2])
	if err != nil {
		return err
	}
	value, err := r.optional(rec[3])
	if err != nil {
		return err
	}
	ns, err := r.optional(rec[4])
	if err != nil {
		return err
	}
	// Nodes loaded from the same markup are adopted as they are.
	if n, ok := r.m.nodes[id]; ok && n.Type == protocol.NodeType(rec[1]) {
		return nil
	}
	n := &Node{ID: id, Type: protocol.NodeType(rec[1]), Name: name, Namespace: ns}
	if n.Type == protocol.TextNode || n.Type == protocol.CommentNode {
		n.Data = value
	}
	r.m.nodes[id] = n
	return nil
}

func (r *replay) record(i int) error {
	w := r.words
	switch protocol.Opcode(w[i]) {
	case protocol.OpAttributes:
		return r.attributes(w[i+1], w[i+2], w[i+3], w[i+4])
	case protocol.OpCharacterData:
		n, err := r.node(w[i+1])
		if err != nil {
			return err
		}
		n.Data, err = r.str(w[i+2])
		return err
	case protocol.OpChildList:
		added := int(w[i+4])
		return r.childList(w[i+1], w[i+2], w[i+6:i+6+added], w[i+6+added:i+6+added+int(w[i+5])])
	case protocol.OpProperties:
		return r.property(w[i+1], w[i+2], protocol.PropertyKind(w[i+3]), w[i+4])
	case protocol.OpEventSubscription:
		return r.subscription(i)
	case protocol.OpStorage:
		return r.storage(protocol.StorageLocation(w[i+1]), protocol.StorageOperation(w[i+2]), w[i+3], w[i+4])
	case protocol.OpObjectCreation:
		return r.objectCreation(i)
	case protocol.OpObjectMutation:
		return r.objectMutation(i)
	case protocol.OpObjectDeletion:
		delete(r.m.objects, protocol.JoinUint32(w[i+1], w[i+2]))
		return nil
	case protocol.OpCallFunction:
		return r.callFunction(i)
	case protocol.OpFunctionCall:
		return r.functionResult(protocol.Result(w[i+1]), protocol.JoinUint32(w[i+2], w[i+3]), w[i+4])
	}
	return protocol.ErrUnknownOpcode
}

func (r *replay) node(id uint16) (*Node, error) {
	n := r.m.nodes[id]
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

func (r *replay) str(id uint16) (string, error) {
	if int(id) >= len(r.m.strings) {
		return "", fmt.Errorf("%w: %d", ErrUnknownString, id)
	}
	return r.m.strings[id], nil
}

func (r *replay) optional(id uint16) (string, error) {
	if id == protocol.NoString {
		return "", nil
	}
	return r.str(id)
}

func (r *replay) attributes(target, nameID, nsID, valueID uint16) error {
	n, err := r.node(target)
	if err != nil {
		return err
	}
	name, err := r.str(nameID)
	if err != nil {
		return err
	}
	ns, err := r.optional(nsID)
	if err != nil {
		return err
	}
	if valueID == protocol.NoString {
		n.removeAttr(ns, name)
		return nil
	}
	value, err := r.str(valueID)
	if err != nil {
		return err
	}
	n.setAttr(ns, name, value)
	return nil
}

func (r *replay) childList(target, nextID uint16, added, removed []uint16) error {
	parent, err := r.node(target)
	if err != nil {
		return err
	}
	for _, id := range removed {
		c, err := r.node(id)
		if err != nil {
			return err
		}
		if c.Parent == parent {
			c.detach()
		}
	}
	var next *Node
	if nextID != 0 {
		if next, err = r.node(nextID); err != nil {
			return err
		}
		if next.Parent != parent {
			next = nil
		}
	}
	for _, id := range added {
		c, err := r.node(id)
		if err != nil {
			return err
		}
		if c == next {
			continue
		}
		c.detach()
		parent.insertBefore(c, next)
	}
	return nil
}

func (r *replay) property(target, nameID uint16, kind protocol.PropertyKind, value uint16) error {
	n, err := r.node(target)
	if err != nil {
		return err
	}
	name, err := r.str(nameID)
	if err != nil {
		return err
	}
	if n.Props == nil {
		n.Props = make(map[string]any)
	}
	switch kind {
	case protocol.PropertyBool:
		n.Props[name] = value == 1
	case protocol.PropertyString:
		s, err := r.str(value)
		if err != nil {
			return err
		}
		n.Props[name] = s
	default:
		return fmt.Errorf("property %s: unknown value kind %d", name, kind)
	}
	return nil
}

func (r *replay) subscription(i int) error {
	w := r.words
	n, err := r.node(w[i+1])
	if err != nil {
		return err
	}
	removeN, addN := int(w[i+2]), int(w[i+3])
	at := i + 4
	for k := 0; k < removeN; k, at = k+1, at+2 {
		typ, err := r.str(w[at])
		if err != nil {
			return err
		}
		delete(n.Listeners[typ], w[at+1])
		if len(n.Listeners[typ]) == 0 {
			delete(n.Listeners, typ)
		}
	}
	for k := 0; k < addN; k, at = k+1, at+3 {
		typ, err := r.str(w[at])
		if err != nil {
			return err
		}
		if n.Listeners == nil {
			n.Listeners = make(map[string]map[uint16]bool)
		}
		if n.Listeners[typ] == nil {
			n.Listeners[typ] = make(map[uint16]bool)
		}
		n.Listeners[typ][w[at+1]] = w[at+2] == 1
	}
	return nil
}

func (r *replay) storage(loc protocol.StorageLocation, op protocol.StorageOperation, keyID, valueID uint16) error {
	area := r.m.storage[loc]
	if area == nil {
		return fmt.Errorf("unknown storage location %d", loc)
	}
	switch op {
	case protocol.StorageClear:
		area.clear()
		return nil
	case protocol.StorageRemove:
		key, err := r.str(keyID)
		if err != nil {
			return err
		}
		area.remove(key)
		return nil
	case protocol.StorageSet:
		key, err := r.str(keyID)
		if err != nil {
			return err
		}
		value, err := r.str(valueID)
		if err != nil {
			return err
		}
		area.set(key, value)
		return nil
	}
	return fmt.Errorf("unknown storage operation %d", op)
}

// invocation decodes the target and argument payloads starting at word at
// and resolves the references they contain.
func (r *replay) invocation(at int) (any, []any, error) {
	dec := codec.NewDecoder(codec.Strings(r.m.strings))
	raw, n, err := codec.Unpack(r.words, at)
	if err != nil {
		return nil, nil, err
	}
	var target any
	if len(raw) > 0 {
		if target, err = dec.Decode(raw); err != nil {
			return nil, nil, err
		}
		if target, err = r.m.resolve(target); err != nil {
			return nil, nil, err
		}
	}
	raw, _, err = codec.Unpack(r.words, at+n)
	if err != nil {
		return nil, nil, err
	}
	var args []any
	if len(raw) > 0 {
		if args, err = dec.DecodeArgs(raw); err != nil {
			return nil, nil, err
		}
		resolved, err := r.m.resolve(args)
		if err != nil {
			return nil, nil, err
		}
		args = resolved.([]any)
	}
	return target, args, nil
}

// Object records describe work the worker cannot observe failing, so
// failures are logged and replay continues.
func (r *replay) objectCreation(i int) error {
	w := r.words
	method, err := r.str(w[i+1])
	if err != nil {
		return err
	}
	id := protocol.JoinUint32(w[i+3], w[i+4])
	target, args, err := r.invocation(i + 5)
	if err != nil {
		r.m.log.Warn("Cannot decode object creation", zap.String("method", method), zap.Error(err))
		return nil
	}
	var v any
	if w[i+2] == 1 {
		ctor, ok := r.m.constructors[method]
		if !ok {
			r.m.log.Warn("Unknown constructor", zap.String("constructor", method))
			return nil
		}
		v, err = ctor(args)
	} else {
		v, err = call(target, method, args)
	}
	if err != nil {
		r.m.log.Warn("Object creation failed", zap.String("method", method), zap.Uint32("id", id), zap.Error(err))
		return nil
	}
	r.m.objects[id] = v
	return nil
}

func (r *replay) objectMutation(i int) error {
	method, err := r.str(r.words[i+1])
	if err != nil {
		return err
	}
	target, args, err := r.invocation(i + 2)
	if err == nil {
		_, err = call(target, method, args)
	}
	if err != nil {
		r.m.log.Warn("Object mutation failed", zap.String("method", method), zap.Error(err))
	}
	return nil
}

func (r *replay) callFunction(i int) error {
	w := r.words
	name, err := r.str(w[i+1])
	if err != nil {
		return err
	}
	index := protocol.JoinUint32(w[i+2], w[i+3])
	isGlobal := w[i+4] == 1

	target, args, err := r.invocation(i + 5)
	var v any
	if err == nil {
		if isGlobal {
			v, err = r.m.global.Call(name, args)
		} else {
			v, err = call(target, name, args)
		}
	}

	res := &protocol.CallResult{Index: index, Success: err == nil}
	if err != nil {
		res.Value, _ = sonic.MarshalString(err.Error())
	} else if v != nil {
		if res.Value, err = sonic.MarshalString(exportable(v)); err != nil {
			res.Success = false
			res.Value, _ = sonic.MarshalString(err.Error())
		}
	}
	poster := r.m.poster
	r.after = append(r.after, func() {
		if perr := poster.PostMessage(&protocol.Message{Type: protocol.MsgCallFunctionResult, Result: res}); perr != nil {
			r.m.log.Warn("Cannot reply to worker call", zap.String("function", name), zap.Error(perr))
		}
	})
	return nil
}

func (r *replay) functionResult(result protocol.Result, index uint32, valueID uint16) error {
	f, ok := r.m.calls[index]
	if !ok {
		r.m.log.Debug("Ignoring result for unknown worker call", zap.Uint32("index", index))
		return nil
	}
	delete(r.m.calls, index)
	raw, err := r.optional(valueID)
	if err != nil {
		return err
	}
	var v any
	if raw != "" {
		if err := sonic.UnmarshalString(raw, &v); err != nil {
			v = raw
		}
	}
	r.after = append(r.after, func() {
		if result == protocol.Reject {
			msg, ok := v.(string)
			if !ok {
				msg = fmt.Sprint(v)
			}
			f.Reject(&WorkerError{Message: msg})
			return
		}
		f.Resolve(v)
	})
	return nil
}

// exportable replaces mirrored nodes with their ids so results can be
// written as JSON.
func exportable(v any) any {
	switch x := v.(type) {
	case *Node:
		return map[string]any{"id": x.ID, "name": x.Name}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = exportable(e)
		}
		return out
	}
	return v
}
