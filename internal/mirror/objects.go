package mirror

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrUnknownObject = errors.New("unknown object")
	ErrNotCallable   = errors.New("object has no methods")
)

// Object is a main-context value whose methods the worker may call.
type Object interface {
	Call(method string, args []any) (any, error)
}

// Func is one callable method.
type Func func(args []any) (any, error)

// Funcs is an Object made of named functions.
type Funcs map[string]Func

// Call implements Object.
func (f Funcs) Call(method string, args []any) (any, error) {
	fn, ok := f[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return fn(args)
}

// Constructor builds an object for NewObjectReference.
type Constructor func(args []any) (any, error)

// RegisterGlobal makes fn callable as a global function.
func (m *Mirror) RegisterGlobal(name string, fn Func) {
	m.mu.Lock()
	m.global[name] = fn
	m.mu.Unlock()
}

// RegisterConstructor makes ctor available to NewObjectReference.
func (m *Mirror) RegisterConstructor(name string, ctor Constructor) {
	m.mu.Lock()
	m.constructors[name] = ctor
	m.mu.Unlock()
}

// Object returns the object stored under a worker reference id.
func (m *Mirror) Object(id uint32) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[id]
	return v, ok
}

// Objects returns the number of live object references.
func (m *Mirror) Objects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Call implements Object for mirrored nodes with the attribute methods.
func (n *Node) Call(method string, args []any) (any, error) {
	str := func(i int) string {
		if i < len(args) {
			if s, ok := args[i].(string); ok {
				return s
			}
			return fmt.Sprint(args[i])
		}
		return ""
	}
	switch method {
	case "getAttribute":
		if v, ok := n.Attribute(str(0)); ok {
			return v, nil
		}
		return nil, nil
	case "hasAttribute":
		_, ok := n.Attribute(str(0))
		return ok, nil
	case "setAttribute":
		n.setAttr("", str(0), str(1))
		return nil, nil
	case "removeAttribute":
		n.removeAttr("", str(0))
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrUnknownMethod, method, n.Name)
}

// resolve turns decoded references into the objects they name.
func (m *Mirror) resolve(v any) (any, error) {
	switch x := v.(type) {
	case codec.Reference:
		switch x.Kind {
		case protocol.KindGlobal:
			return m.global, nil
		case protocol.KindNode:
			n := m.nodes[uint16(x.ID)]
			if n == nil {
				return nil, fmt.Errorf("%w: %d", ErrUnknownNode, x.ID)
			}
			return n, nil
		case protocol.KindObject:
			o, ok := m.objects[x.ID]
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownObject, x.ID)
			}
			return o, nil
		}
		return nil, fmt.Errorf("%w: kind %s", ErrUnknownObject, x.Kind)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := m.resolve(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := m.resolve(e)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	return v, nil
}

func call(target any, method string, args []any) (any, error) {
	o, ok := target.(Object)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, target)
	}
	return o.Call(method, args)
}

type storageArea struct {
	keys  []string
	items map[string]string
}

func newStorageArea() *storageArea {
	return &storageArea{items: make(map[string]string)}
}

func (s *storageArea) set(k, v string) {
	if _, ok := s.items[k]; !ok {
		s.keys = append(s.keys, k)
	}
	s.items[k] = v
}

func (s *storageArea) remove(k string) {
	if _, ok := s.items[k]; !ok {
		return
	}
	delete(s.items, k)
	for i, key := range s.keys {
		if key == k {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return
		}
	}
}

func (s *storageArea) clear() {
	s.keys = nil
	s.items = make(map[string]string)
}

func (s *storageArea) snapshot() map[string]string {
	out := make(map[string]string, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}
