package remote

import (
	"github.com/GriffinCanCode/workerdom/internal/codec"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// CreateObjectReference asks the main context to store the result of
// target.method(args...) and returns a reference to it.
func (b *Bridge) CreateObjectReference(target any, method string, args ...any) (ObjectRef, error) {
	return b.create(target, method, false, args)
}

// NewObjectReference asks the main context to construct target(args...)
// and returns a reference to the new object.
func (b *Bridge) NewObjectReference(target any, constructor string, args ...any) (ObjectRef, error) {
	return b.create(target, constructor, true, args)
}

func (b *Bridge) create(target any, method string, isConstructor bool, args []any) (ObjectRef, error) {
	t, a, err := b.payloads(target, args)
	if err != nil {
		return ObjectRef{}, err
	}
	ref := ObjectRef{Kind: protocol.KindObject, ID: next(&b.nextObject)}
	lo, hi := protocol.SplitUint32(ref.ID)
	ctor := uint16(0)
	if isConstructor {
		ctor = 1
	}
	record := []uint16{uint16(protocol.OpObjectCreation), b.sess.StoreString(method), ctor, lo, hi}
	record = codec.Pack(record, t)
	record = codec.Pack(record, a)
	b.sess.Transfer(record...)
	return ref, nil
}

// MutateObject runs target.method(args...) in the main context, ignoring
// the result.
func (b *Bridge) MutateObject(target any, method string, args ...any) error {
	t, a, err := b.payloads(target, args)
	if err != nil {
		return err
	}
	record := []uint16{uint16(protocol.OpObjectMutation), b.sess.StoreString(method)}
	record = codec.Pack(record, t)
	record = codec.Pack(record, a)
	b.sess.Transfer(record...)
	return nil
}

// DeleteObjectReference releases ref in the main context. Nothing is
// acknowledged.
func (b *Bridge) DeleteObjectReference(ref ObjectRef) {
	lo, hi := protocol.SplitUint32(ref.ID)
	b.sess.Transfer(uint16(protocol.OpObjectDeletion), lo, hi)
}
