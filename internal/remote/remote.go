package remote

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/session"
)

var (
	ErrTimeout         = errors.New("remote call timed out")
	ErrNoListener      = errors.New("remote calls need a transport that can receive")
	ErrNotTransferring = errors.New("session is not transferring")
	ErrInvalidExport   = errors.New("invalid export")
	ErrAlreadyExported = errors.New("function already exported")
)

// RemoteError is a failure reported by the main context. Value is the
// decoded error value it sent.
type RemoteError struct {
	Value any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call failed: %v", e.Value)
}

// ObjectRef names an object in the main context.
type ObjectRef struct {
	Kind protocol.ObjectKind
	ID   uint32
}

// Global is the main context's global scope.
var Global = ObjectRef{Kind: protocol.KindGlobal}

// SerializeReference implements codec.Serializable.
func (r ObjectRef) SerializeReference() (protocol.ObjectKind, uint32) {
	return r.Kind, r.ID
}

// Bridge is the remote-object layer of one session. Like the session it is
// confined to the session's scheduler.
type Bridge struct {
	sess *session.Session
	enc  *codec.Encoder
	log  *zap.Logger

	nextObject uint32
	nextCall   uint32
	calls      map[uint32]*call
	exports    map[string]Func
}

// New binds a bridge to sess. When sess can receive, the bridge listens
// for call results and for calls into exported functions.
func New(sess *session.Session) *Bridge {
	b := &Bridge{
		sess:    sess,
		enc:     codec.NewEncoder(sess.Strings()),
		log:     sess.Logger().Named("remote"),
		calls:   make(map[uint32]*call),
		exports: make(map[string]Func),
	}
	sess.OnClose(b.rejectPending)
	if sess.CanReceive() {
		if _, err := sess.AddMessageListener(protocol.MsgCallFunctionResult, b.handleResult); err != nil {
			b.log.Warn("Result listener unavailable", zap.Error(err))
		}
		if _, err := sess.AddMessageListener(protocol.MsgFunction, b.HandleFunctionCall); err != nil {
			b.log.Warn("Function listener unavailable", zap.Error(err))
		}
	}
	return b
}

// Pending returns the number of calls awaiting a result.
func (b *Bridge) Pending() int {
	return len(b.calls)
}

func next(counter *uint32) uint32 {
	id := *counter
	if id == math.MaxUint32 {
		*counter = 0
	} else {
		*counter = id + 1
	}
	return id
}

// payloads encodes a target and an argument list, both or neither.
func (b *Bridge) payloads(target any, args []any) ([]byte, []byte, error) {
	t, err := b.enc.Encode(target)
	if err != nil {
		return nil, nil, fmt.Errorf("encode target: %w", err)
	}
	a, err := b.enc.EncodeArgs(args)
	if err != nil {
		return nil, nil, fmt.Errorf("encode arguments: %w", err)
	}
	return t, a, nil
}
