package codec

import "github.com/GriffinCanCode/workerdom/internal/protocol"

// Tag is the leading byte of an encoded value.
type Tag byte

const (
	TagUndefined   Tag = 0
	TagNull        Tag = 1
	TagTrue        Tag = 2
	TagFalse       Tag = 3
	TagInt8        Tag = 4
	TagInt16       Tag = 5
	TagInt32       Tag = 6
	TagUint8       Tag = 7
	TagUint16      Tag = 8
	TagUint32      Tag = 9
	TagFloat32     Tag = 10
	TagFloat64     Tag = 11
	TagString      Tag = 12
	TagArray       Tag = 13
	TagEmptyArray  Tag = 14
	TagObject      Tag = 15
	TagTypedArray  Tag = 16
	TagArrayBuffer Tag = 17
	TagReference   Tag = 18
)

// ElementKind is the element type of a typed array.
type ElementKind byte

const (
	ElemInt8         ElementKind = 0
	ElemUint8        ElementKind = 1
	ElemUint8Clamped ElementKind = 2
	ElemInt16        ElementKind = 3
	ElemUint16       ElementKind = 4
	ElemInt32        ElementKind = 5
	ElemUint32       ElementKind = 6
	ElemFloat32      ElementKind = 7
	ElemFloat64      ElementKind = 8
)

// Size returns the width of one element in bytes.
func (k ElementKind) Size() int {
	switch k {
	case ElemInt8, ElemUint8, ElemUint8Clamped:
		return 1
	case ElemInt16, ElemUint16:
		return 2
	case ElemInt32, ElemUint32, ElemFloat32:
		return 4
	case ElemFloat64:
		return 8
	default:
		return 0
	}
}

// Safety limits applied while decoding untrusted input and while walking
// values that might be cyclic.
const (
	MaxDepth  = 64
	MaxLength = 1 << 20
)

type undefined struct{}

// Undefined is the JavaScript undefined value. Object entries holding it are
// skipped on encode.
var Undefined = undefined{}

// ArrayBuffer is a raw byte buffer, as opposed to []byte which encodes as a
// Uint8Array.
type ArrayBuffer []byte

// Uint8Clamped is a Uint8ClampedArray.
type Uint8Clamped []uint8

// Serializable is implemented by handles to objects living in the other
// context. The encoder writes only the kind and id.
type Serializable interface {
	SerializeReference() (protocol.ObjectKind, uint32)
}

// Reference is the decoded form of a Serializable.
type Reference struct {
	Kind protocol.ObjectKind
	ID   uint32
}

// SerializeReference implements Serializable so references can be sent back.
func (r Reference) SerializeReference() (protocol.ObjectKind, uint32) {
	return r.Kind, r.ID
}

// StringStore interns strings for the encoder.
type StringStore interface {
	Store(s string) uint16
}

// StringLookup resolves string ids for the decoder.
type StringLookup interface {
	Get(id uint16) (string, bool)
}

// Strings adapts a plain slice to StringLookup.
type Strings []string

// Get implements StringLookup.
func (s Strings) Get(id uint16) (string, bool) {
	if int(id) >= len(s) {
		return "", false
	}
	return s[id], true
}
