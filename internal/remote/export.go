package remote

import (
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/future"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Func is a function the main context may call. Arguments arrive
// JSON-decoded. Returning a *future.Future defers the result until it
// settles.
type Func func(args []any) (any, error)

// ExportFunction makes fn callable from the main context under name.
// Names are exported at most once.
func (b *Bridge) ExportFunction(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidExport)
	}
	if fn == nil {
		return fmt.Errorf("%w: %q is not a function", ErrInvalidExport, name)
	}
	if _, ok := b.exports[name]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExported, name)
	}
	b.exports[name] = fn
	return nil
}

// Exported reports whether name has been exported.
func (b *Bridge) Exported(name string) bool {
	_, ok := b.exports[name]
	return ok
}

// HandleFunctionCall runs the exported function named in msg and queues
// exactly one FUNCTION_CALL record with its outcome. Failures never escape.
func (b *Bridge) HandleFunctionCall(msg *protocol.Message) {
	fc := msg.Function
	if fc == nil {
		return
	}
	fn, ok := b.exports[fc.Identifier]
	if !ok {
		b.reply(fc, nil, fmt.Errorf("exported function %q could not be found", fc.Identifier))
		return
	}

	var args []any
	if fc.Arguments != "" {
		if err := sonic.UnmarshalString(fc.Arguments, &args); err != nil {
			b.reply(fc, nil, fmt.Errorf("arguments for %q: %w", fc.Identifier, err))
			return
		}
	}

	v, err := invoke(fn, args)
	if f, ok := v.(*future.Future); ok && err == nil {
		f.Then(func(v any, err error) { b.reply(fc, v, err) })
		return
	}
	b.reply(fc, v, err)
}

func invoke(fn Func, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(args)
}

func (b *Bridge) reply(fc *protocol.FunctionCall, v any, err error) {
	result, value := protocol.Resolve, ""
	if err == nil {
		s, merr := sonic.MarshalString(v)
		if merr != nil {
			err = fmt.Errorf("result of %q: %w", fc.Identifier, merr)
		} else {
			value = s
		}
	}
	if err != nil {
		result, value = protocol.Reject, err.Error()
		b.log.Debug("Exported function failed", zap.String("function", fc.Identifier), zap.Error(err))
		b.sess.Metrics().RecordExportedCall("reject")
	} else {
		b.sess.Metrics().RecordExportedCall("resolve")
	}

	lo, hi := protocol.SplitUint32(fc.Index)
	b.sess.Transfer(uint16(protocol.OpFunctionCall), uint16(result), lo, hi, b.sess.StoreString(value))
}
