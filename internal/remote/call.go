package remote

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/future"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/session"
)

type call struct {
	name   string
	result *future.Future
	timer  *time.Timer
	clock  *monitoring.Timer
}

// CallFunction calls name on target in the main context. The future
// resolves with the JSON-decoded return value, or rejects with a
// *RemoteError, ErrTimeout once timeout elapses (zero waits forever),
// ErrNoListener when the session cannot receive results, ErrNotTransferring
// when the call cannot be sent yet, or session.ErrClosed if the session
// closes first. Encoding failures are returned directly and nothing is sent.
func (b *Bridge) CallFunction(target any, name string, args []any, isGlobal bool, timeout time.Duration) (*future.Future, error) {
	sched := b.sess.Scheduler()
	if !b.sess.CanReceive() {
		b.sess.Metrics().RecordRemoteCall("unavailable", 0)
		return future.Rejected(sched, ErrNoListener), nil
	}
	if !b.sess.CanTransfer() {
		b.sess.Metrics().RecordRemoteCall("unavailable", 0)
		return future.Rejected(sched, ErrNotTransferring), nil
	}
	t, a, err := b.payloads(target, args)
	if err != nil {
		return nil, err
	}

	index := next(&b.nextCall)
	c := &call{
		name:   name,
		result: future.New(sched),
		clock:  monitoring.NewTimer(b.sess.Metrics()),
	}
	b.calls[index] = c
	if timeout > 0 {
		c.timer = time.AfterFunc(timeout, func() {
			sched.Post(func() { b.expire(index, c) })
		})
	}

	lo, hi := protocol.SplitUint32(index)
	global := uint16(0)
	if isGlobal {
		global = 1
	}
	record := []uint16{uint16(protocol.OpCallFunction), b.sess.StoreString(name), lo, hi, global}
	record = codec.Pack(record, t)
	record = codec.Pack(record, a)
	b.sess.Transfer(record...)
	return c.result, nil
}

func (b *Bridge) expire(index uint32, c *call) {
	if b.calls[index] != c {
		return
	}
	delete(b.calls, index)
	c.clock.Stop("timeout")
	b.log.Debug("Remote call timed out", zap.String("function", c.name), zap.Uint32("index", index))
	c.result.Reject(ErrTimeout)
}

// rejectPending settles every outstanding call with session.ErrClosed.
func (b *Bridge) rejectPending() {
	calls := b.calls
	b.calls = make(map[uint32]*call)
	for index, c := range calls {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.clock.Stop("closed")
		b.log.Debug("Remote call abandoned", zap.String("function", c.name), zap.Uint32("index", index))
		c.result.Reject(session.ErrClosed)
	}
}

func (b *Bridge) handleResult(msg *protocol.Message) {
	res := msg.Result
	if res == nil {
		return
	}
	c, ok := b.calls[res.Index]
	if !ok {
		b.log.Debug("Ignoring result for unknown or expired call", zap.Uint32("index", res.Index))
		return
	}
	delete(b.calls, res.Index)
	if c.timer != nil {
		c.timer.Stop()
	}

	value, err := decodeJSON(res.Value)
	switch {
	case !res.Success:
		if err != nil {
			value = res.Value
		}
		c.clock.Stop("rejected")
		c.result.Reject(&RemoteError{Value: value})
	case err != nil:
		c.clock.Stop("rejected")
		c.result.Reject(fmt.Errorf("decode result of %q: %w", c.name, err))
	default:
		c.clock.Stop("resolved")
		c.result.Resolve(value)
	}
}

// decodeJSON decodes a JSON result; an empty string is undefined.
func decodeJSON(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	if err := sonic.UnmarshalString(s, &v); err != nil {
		return nil, err
	}
	return v, nil
}
