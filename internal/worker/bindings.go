package worker

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/dom"
)

// setupGlobals configures global objects and security
func (w *Worker) setupGlobals() error {
	vm := w.vm
	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	document := w.object(w.doc.Node)
	w.define(document, map[string]func(goja.FunctionCall) goja.Value{
		"createElement": func(c goja.FunctionCall) goja.Value {
			return w.wrap(w.doc.CreateElement(c.Argument(0).String()))
		},
		"createElementNS": func(c goja.FunctionCall) goja.Value {
			return w.wrap(w.doc.CreateElementNS(optString(c.Argument(0)), c.Argument(1).String()))
		},
		"createTextNode": func(c goja.FunctionCall) goja.Value {
			return w.wrap(w.doc.CreateTextNode(c.Argument(0).String()))
		},
		"createComment": func(c goja.FunctionCall) goja.Value {
			return w.wrap(w.doc.CreateComment(c.Argument(0).String()))
		},
		"getElementById": func(c goja.FunctionCall) goja.Value {
			return w.wrap(w.doc.GetElementByID(c.Argument(0).String()))
		},
		"querySelector": func(c goja.FunctionCall) goja.Value {
			return w.wrap(w.doc.QuerySelector(c.Argument(0).String()))
		},
		"querySelectorAll": func(c goja.FunctionCall) goja.Value {
			return w.list(w.doc.QuerySelectorAll(c.Argument(0).String()))
		},
	})
	w.getters(document, map[string]func() goja.Value{
		"documentElement": func() goja.Value { return w.wrap(w.doc.DocumentElement()) },
		"head":            func() goja.Value { return w.wrap(w.doc.Head()) },
		"body":            func() goja.Value { return w.wrap(w.doc.Body()) },
	})

	globals := map[string]any{
		"document":       document,
		"localStorage":   w.storage(w.doc.LocalStorage()),
		"sessionStorage": w.storage(w.doc.SessionStorage()),
		"exportFunction": w.exportFunction,
		"callFunction":   w.callFunction,
		"createObject":   w.createObject,
		"newObject":      w.newObject,
		"global":         w.reference(globalRef),
	}
	if w.cfg.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, w.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		globals["console"] = console
	}
	if w.cfg.EnableTimers {
		globals["setTimeout"] = w.setTimeout
		globals["clearTimeout"] = w.clearTimeout
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set global %s: %w", name, err)
		}
	}
	return nil
}

func (w *Worker) define(obj *goja.Object, methods map[string]func(goja.FunctionCall) goja.Value) {
	for name, fn := range methods {
		if err := obj.Set(name, fn); err != nil {
			w.log.Error("Cannot define method", zap.String("method", name), zap.Error(err))
		}
	}
}

func (w *Worker) getters(obj *goja.Object, props map[string]func() goja.Value) {
	for name, get := range props {
		get := get
		getter := w.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
		if err := obj.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			w.log.Error("Cannot define property", zap.String("property", name), zap.Error(err))
		}
	}
}

type accessor struct {
	get func() goja.Value
	set func(goja.Value)
}

func (w *Worker) accessors(obj *goja.Object, props map[string]accessor) {
	for name, a := range props {
		a := a
		getter := w.vm.ToValue(func(goja.FunctionCall) goja.Value { return a.get() })
		setter := w.vm.ToValue(func(c goja.FunctionCall) goja.Value {
			a.set(c.Argument(0))
			return goja.Undefined()
		})
		if err := obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			w.log.Error("Cannot define property", zap.String("property", name), zap.Error(err))
		}
	}
}

// throw raises err as a JS exception.
func (w *Worker) throw(err error) {
	if err != nil {
		panic(w.vm.NewGoError(err))
	}
}

// wrap returns the JS object for n. A nil node is null.
func (w *Worker) wrap(n *dom.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return w.object(n)
}

// object returns the JS object for n, creating it on first use.
func (w *Worker) object(n *dom.Node) *goja.Object {
	if obj, ok := w.nodes[n]; ok {
		return obj
	}
	obj := w.vm.NewObject()
	w.nodes[n] = obj
	w.owner[obj] = n

	w.define(obj, map[string]func(goja.FunctionCall) goja.Value{
		"appendChild": func(c goja.FunctionCall) goja.Value {
			child := w.node(c.Argument(0))
			w.throw(n.AppendChild(child))
			return c.Argument(0)
		},
		"insertBefore": func(c goja.FunctionCall) goja.Value {
			w.throw(n.InsertBefore(w.node(c.Argument(0)), w.optNode(c.Argument(1))))
			return c.Argument(0)
		},
		"removeChild": func(c goja.FunctionCall) goja.Value {
			w.throw(n.RemoveChild(w.node(c.Argument(0))))
			return c.Argument(0)
		},
		"replaceChild": func(c goja.FunctionCall) goja.Value {
			w.throw(n.ReplaceChild(w.node(c.Argument(0)), w.node(c.Argument(1))))
			return c.Argument(1)
		},
		"remove": func(goja.FunctionCall) goja.Value {
			n.Remove()
			return goja.Undefined()
		},
		"contains": func(c goja.FunctionCall) goja.Value {
			return w.vm.ToValue(n.Contains(w.optNode(c.Argument(0))))
		},
		"getAttribute": func(c goja.FunctionCall) goja.Value {
			if v, ok := n.GetAttribute(c.Argument(0).String()); ok {
				return w.vm.ToValue(v)
			}
			return goja.Null()
		},
		"getAttributeNS": func(c goja.FunctionCall) goja.Value {
			if v, ok := n.GetAttributeNS(optString(c.Argument(0)), c.Argument(1).String()); ok {
				return w.vm.ToValue(v)
			}
			return goja.Null()
		},
		"setAttribute": func(c goja.FunctionCall) goja.Value {
			w.throw(n.SetAttribute(c.Argument(0).String(), c.Argument(1).String()))
			return goja.Undefined()
		},
		"setAttributeNS": func(c goja.FunctionCall) goja.Value {
			w.throw(n.SetAttributeNS(optString(c.Argument(0)), c.Argument(1).String(), c.Argument(2).String()))
			return goja.Undefined()
		},
		"hasAttribute": func(c goja.FunctionCall) goja.Value {
			return w.vm.ToValue(n.HasAttribute(c.Argument(0).String()))
		},
		"removeAttribute": func(c goja.FunctionCall) goja.Value {
			n.RemoveAttribute(c.Argument(0).String())
			return goja.Undefined()
		},
		"removeAttributeNS": func(c goja.FunctionCall) goja.Value {
			n.RemoveAttributeNS(optString(c.Argument(0)), c.Argument(1).String())
			return goja.Undefined()
		},
		"addEventListener": func(c goja.FunctionCall) goja.Value {
			return w.vm.ToValue(w.addEventListener(n, c))
		},
		"removeEventListener": func(c goja.FunctionCall) goja.Value {
			return w.vm.ToValue(n.RemoveEventListener(c.Argument(0).String(), uint16(c.Argument(1).ToInteger())))
		},
	})

	w.getters(obj, map[string]func() goja.Value{
		"nodeId":          func() goja.Value { return w.vm.ToValue(n.ID()) },
		"nodeType":        func() goja.Value { return w.vm.ToValue(uint16(n.NodeType())) },
		"nodeName":        func() goja.Value { return w.vm.ToValue(n.NodeName()) },
		"tagName":         func() goja.Value { return w.vm.ToValue(n.NodeName()) },
		"namespaceURI":    func() goja.Value { return w.vm.ToValue(n.NamespaceURI()) },
		"parentNode":      func() goja.Value { return w.wrap(n.Parent()) },
		"firstChild":      func() goja.Value { return w.wrap(n.FirstChild()) },
		"lastChild":       func() goja.Value { return w.wrap(n.LastChild()) },
		"nextSibling":     func() goja.Value { return w.wrap(n.NextSibling()) },
		"previousSibling": func() goja.Value { return w.wrap(n.PreviousSibling()) },
		"childNodes":      func() goja.Value { return w.list(n.ChildNodes()) },
	})

	attr := func(name string) accessor {
		return accessor{
			get: func() goja.Value {
				v, _ := n.GetAttribute(name)
				return w.vm.ToValue(v)
			},
			set: func(v goja.Value) { w.throw(n.SetAttribute(name, v.String())) },
		}
	}
	w.accessors(obj, map[string]accessor{
		"id":        attr("id"),
		"className": attr("class"),
		"textContent": {
			get: func() goja.Value { return w.vm.ToValue(n.TextContent()) },
			set: func(v goja.Value) { w.throw(n.SetTextContent(optString(v))) },
		},
		"data": {
			get: func() goja.Value { return w.vm.ToValue(n.Data()) },
			set: func(v goja.Value) { w.throw(n.SetData(v.String())) },
		},
		"value":    w.property(n, "value"),
		"checked":  w.property(n, "checked"),
		"disabled": w.property(n, "disabled"),
	})
	return obj
}

func (w *Worker) property(n *dom.Node, name string) accessor {
	return accessor{
		get: func() goja.Value {
			v, ok := n.Property(name)
			if !ok {
				return goja.Undefined()
			}
			return w.vm.ToValue(v)
		},
		set: func(v goja.Value) { n.SetProperty(name, export(v)) },
	}
}

func (w *Worker) list(nodes []*dom.Node) goja.Value {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = w.wrap(n)
	}
	return w.vm.NewArray(items...)
}

// node unwraps a JS node argument, throwing a TypeError for anything else.
func (w *Worker) node(v goja.Value) *dom.Node {
	if obj, ok := v.(*goja.Object); ok {
		if n, ok := w.owner[obj]; ok {
			return n
		}
	}
	panic(w.vm.NewTypeError("argument is not a node: %s", v.String()))
}

func (w *Worker) optNode(v goja.Value) *dom.Node {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return w.node(v)
}

func optString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// addEventListener accepts (type, fn, preventDefault) where the third
// argument is a boolean or {preventDefault: bool}.
func (w *Worker) addEventListener(n *dom.Node, c goja.FunctionCall) uint16 {
	typ := c.Argument(0).String()
	fn, ok := goja.AssertFunction(c.Argument(1))
	if !ok {
		panic(w.vm.NewTypeError("listener for %s is not a function", typ))
	}
	preventDefault := false
	switch opt := c.Argument(2).(type) {
	case *goja.Object:
		preventDefault = opt.Get("preventDefault") != nil && opt.Get("preventDefault").ToBoolean()
	default:
		preventDefault = opt != nil && opt.ToBoolean()
	}

	return n.AddEventListener(typ, func(e *dom.Event) {
		if _, err := w.invoke(fn, w.event(e)); err != nil {
			w.log.Warn("Event listener failed", zap.String("type", e.Type), zap.Error(err))
		}
	}, preventDefault)
}

func (w *Worker) event(e *dom.Event) goja.Value {
	obj := w.vm.NewObject()
	_ = obj.Set("type", e.Type)
	_ = obj.Set("target", w.wrap(e.Target))
	_ = obj.Set("currentTarget", w.wrap(e.CurrentTarget))
	if e.Value != nil {
		_ = obj.Set("value", *e.Value)
	}
	_ = obj.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		e.StopPropagation()
		return goja.Undefined()
	})
	// The main context already cancelled the default when asked to.
	_ = obj.Set("preventDefault", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return obj
}

func (w *Worker) storage(s *dom.Storage) *goja.Object {
	obj := w.vm.NewObject()
	w.define(obj, map[string]func(goja.FunctionCall) goja.Value{
		"getItem": func(c goja.FunctionCall) goja.Value {
			if v, ok := s.GetItem(c.Argument(0).String()); ok {
				return w.vm.ToValue(v)
			}
			return goja.Null()
		},
		"setItem": func(c goja.FunctionCall) goja.Value {
			s.SetItem(c.Argument(0).String(), c.Argument(1).String())
			return goja.Undefined()
		},
		"removeItem": func(c goja.FunctionCall) goja.Value {
			s.RemoveItem(c.Argument(0).String())
			return goja.Undefined()
		},
		"clear": func(goja.FunctionCall) goja.Value {
			s.Clear()
			return goja.Undefined()
		},
		"key": func(c goja.FunctionCall) goja.Value {
			if k, ok := s.Key(int(c.Argument(0).ToInteger())); ok {
				return w.vm.ToValue(k)
			}
			return goja.Null()
		},
	})
	w.getters(obj, map[string]func() goja.Value{
		"length": func() goja.Value { return w.vm.ToValue(s.Length()) },
	})
	return obj
}
