package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/future"
	"github.com/GriffinCanCode/workerdom/internal/remote"
)

var globalRef = remote.Global

// maxDepth bounds conversion of nested JS values.
const maxDepth = 32

// exportFunction(name, fn) makes fn callable from the main context. A
// returned promise settles the call when it settles.
func (w *Worker) exportFunction(c goja.FunctionCall) goja.Value {
	name := c.Argument(0).String()
	fn, ok := goja.AssertFunction(c.Argument(1))
	if !ok {
		panic(w.vm.NewTypeError("exportFunction: %s is not a function", name))
	}
	w.throw(w.bridge.ExportFunction(name, func(args []any) (any, error) {
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = w.vm.ToValue(a)
		}
		v, err := w.invoke(fn, vals...)
		if err != nil {
			return nil, jsError(err)
		}
		if f := w.thenable(v); f != nil {
			return f, nil
		}
		return w.goValue(v, true, 0), nil
	}))
	return goja.Undefined()
}

// thenable adapts a JS promise to a future, or returns nil for other values.
func (w *Worker) thenable(v goja.Value) *future.Future {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return nil
	}
	f := future.New(w.sess.Scheduler())
	onResolve := w.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		f.Resolve(w.goValue(c.Argument(0), true, 0))
		return goja.Undefined()
	})
	onReject := w.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		f.Reject(rejection(c.Argument(0)))
		return goja.Undefined()
	})
	if _, err := then(obj, onResolve, onReject); err != nil {
		f.Reject(jsError(err))
	}
	return f
}

// callFunction(name, ...args) calls a global function in the main context
// and returns a promise for its result.
func (w *Worker) callFunction(c goja.FunctionCall) goja.Value {
	return w.call(globalRef, c.Argument(0).String(), rest(c, 1), true)
}

func (w *Worker) call(target any, name string, args []goja.Value, isGlobal bool) goja.Value {
	f, err := w.bridge.CallFunction(target, name, w.goArgs(args), isGlobal, w.cfg.CallTimeout)
	w.throw(err)

	p, resolve, reject := w.vm.NewPromise()
	f.Then(func(v any, err error) {
		if err != nil {
			reject(w.vm.NewGoError(err))
		} else {
			resolve(w.vm.ToValue(v))
		}
		w.settle()
	})
	return w.vm.ToValue(p)
}

// createObject(target, method, ...args) stores target.method(...args) in
// the main context and returns a reference to it.
func (w *Worker) createObject(c goja.FunctionCall) goja.Value {
	var target any = globalRef
	if a := c.Argument(0); !goja.IsUndefined(a) && !goja.IsNull(a) {
		target = w.goValue(a, false, 0)
	}
	ref, err := w.bridge.CreateObjectReference(target, c.Argument(1).String(), w.goArgs(rest(c, 2))...)
	w.throw(err)
	return w.reference(ref)
}

// newObject(constructor, ...args) constructs a main-context object.
func (w *Worker) newObject(c goja.FunctionCall) goja.Value {
	ref, err := w.bridge.NewObjectReference(globalRef, c.Argument(0).String(), w.goArgs(rest(c, 1))...)
	w.throw(err)
	return w.reference(ref)
}

// reference wraps ref with call, mutate, get and release methods.
func (w *Worker) reference(ref remote.ObjectRef) *goja.Object {
	obj := w.vm.NewObject()
	w.refs[obj] = ref
	isGlobal := ref == globalRef
	w.define(obj, map[string]func(goja.FunctionCall) goja.Value{
		"call": func(c goja.FunctionCall) goja.Value {
			return w.call(ref, c.Argument(0).String(), rest(c, 1), isGlobal)
		},
		"mutate": func(c goja.FunctionCall) goja.Value {
			w.throw(w.bridge.MutateObject(ref, c.Argument(0).String(), w.goArgs(rest(c, 1))...))
			return goja.Undefined()
		},
		"get": func(c goja.FunctionCall) goja.Value {
			r, err := w.bridge.CreateObjectReference(ref, c.Argument(0).String(), w.goArgs(rest(c, 1))...)
			w.throw(err)
			return w.reference(r)
		},
		"release": func(goja.FunctionCall) goja.Value {
			if !isGlobal {
				w.bridge.DeleteObjectReference(ref)
				delete(w.refs, obj)
			}
			return goja.Undefined()
		},
	})
	return obj
}

func rest(c goja.FunctionCall, from int) []goja.Value {
	if from >= len(c.Arguments) {
		return nil
	}
	return c.Arguments[from:]
}

func (w *Worker) goArgs(vals []goja.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = w.goValue(v, false, 0)
	}
	return out
}

// jsError unwraps a thrown JS value into a Go error.
func jsError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return rejection(ex.Value())
	}
	return err
}

func rejection(v goja.Value) error {
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return errors.New(msg.String())
		}
	}
	if v == nil || goja.IsUndefined(v) {
		return errors.New("undefined")
	}
	return errors.New(v.String())
}

// makeConsoleFunc creates a console function
func (w *Worker) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		w.consoleMu.Lock()
		w.console = append(w.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		w.consoleMu.Unlock()

		fields := []zap.Field{zap.String("level", level), zap.String("message", msg)}
		switch level {
		case "error":
			w.log.Error("Console", fields...)
		case "warn":
			w.log.Warn("Console", fields...)
		case "debug":
			w.log.Debug("Console", fields...)
		default:
			w.log.Info("Console", fields...)
		}
		return goja.Undefined()
	}
}

// setTimeout(fn, ms, ...args) runs fn on the loop after ms milliseconds.
func (w *Worker) setTimeout(c goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(c.Argument(0))
	if !ok {
		panic(w.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(c.Argument(1).ToInteger()) * time.Millisecond
	args := append([]goja.Value(nil), rest(c, 2)...)

	w.nextTimer++
	tid := w.nextTimer
	w.timers[tid] = time.AfterFunc(delay, func() {
		w.loop.Post(func() {
			if _, ok := w.timers[tid]; !ok {
				return
			}
			delete(w.timers, tid)
			if _, err := w.invoke(fn, args...); err != nil {
				w.log.Warn("Timer callback failed", zap.Int64("timer", tid), zap.Error(err))
			}
		})
	})
	return w.vm.ToValue(tid)
}

func (w *Worker) clearTimeout(c goja.FunctionCall) goja.Value {
	tid := c.Argument(0).ToInteger()
	if t, ok := w.timers[tid]; ok {
		t.Stop()
		delete(w.timers, tid)
	}
	return goja.Undefined()
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Level, e.Message)
}
