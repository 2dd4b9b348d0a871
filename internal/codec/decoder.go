package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Decoder reads values written by Encoder.
type Decoder struct {
	strings StringLookup
	data    []byte
	pos     int
	path    []string
	depth   int
}

// NewDecoder creates a decoder resolving string ids through st.
func NewDecoder(st StringLookup) *Decoder {
	return &Decoder{strings: st}
}

// Decode returns the single value in data. Trailing bytes are an error.
func (d *Decoder) Decode(data []byte) (any, error) {
	d.data = data
	d.pos = 0
	d.path = d.path[:0]
	d.depth = 0
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, pathError("decode", nil, ErrTrailing, fmt.Sprintf("%d bytes", len(d.data)-d.pos))
	}
	return v, nil
}

// DecodeArgs decodes an argument list written by EncodeArgs.
func (d *Decoder) DecodeArgs(data []byte) ([]any, error) {
	v, err := d.Decode(data)
	if err != nil {
		return nil, err
	}
	args, ok := v.([]any)
	if !ok {
		return nil, pathError("decode", nil, ErrUnsupported, fmt.Sprintf("argument list is %T", v))
	}
	return args, nil
}

// Decode is a convenience wrapper around a one-shot Decoder.
func Decode(st StringLookup, data []byte) (any, error) {
	return NewDecoder(st).Decode(data)
}

func (d *Decoder) value() (any, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > MaxDepth {
		return nil, d.fail(ErrTooDeep, fmt.Sprintf("limit %d", MaxDepth))
	}

	t, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch Tag(t) {
	case TagUndefined:
		return Undefined, nil
	case TagNull:
		return nil, nil
	case TagTrue:
		return true, nil
	case TagFalse:
		return false, nil
	case TagInt8:
		b, err := d.readByte()
		return float64(int8(b)), err
	case TagInt16:
		b, err := d.take(2)
		if err != nil {
			return nil, err
		}
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case TagInt32:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case TagUint8:
		b, err := d.readByte()
		return float64(b), err
	case TagUint16:
		b, err := d.take(2)
		if err != nil {
			return nil, err
		}
		return float64(binary.LittleEndian.Uint16(b)), nil
	case TagUint32:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return float64(binary.LittleEndian.Uint32(b)), nil
	case TagFloat32:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case TagFloat64:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case TagString:
		return d.readString()
	case TagEmptyArray:
		return []any{}, nil
	case TagArray:
		return d.array()
	case TagObject:
		return d.object()
	case TagTypedArray:
		return d.typed()
	case TagArrayBuffer:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return ArrayBuffer(append([]byte(nil), b...)), nil
	case TagReference:
		kind, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return Reference{Kind: protocol.ObjectKind(kind), ID: binary.LittleEndian.Uint32(b)}, nil
	default:
		return nil, d.fail(ErrUnknownTag, fmt.Sprintf("tag %d at byte %d", t, d.pos-1))
	}
}

func (d *Decoder) readString() (string, error) {
	b, err := d.take(2)
	if err != nil {
		return "", err
	}
	id := binary.LittleEndian.Uint16(b)
	s, ok := d.strings.Get(id)
	if !ok {
		return "", d.fail(ErrUnknownID, fmt.Sprintf("id %d", id))
	}
	return s, nil
}

func (d *Decoder) array() ([]any, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		d.path = append(d.path, strconv.Itoa(i))
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		d.path = d.path[:len(d.path)-1]
		out[i] = v
	}
	return out, nil
}

func (d *Decoder) object() (map[string]any, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		d.path = append(d.path, key)
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		d.path = d.path[:len(d.path)-1]
		out[key] = v
	}
	return out, nil
}

func (d *Decoder) typed() (any, error) {
	k, err := d.readByte()
	if err != nil {
		return nil, err
	}
	kind := ElementKind(k)
	size := kind.Size()
	if size == 0 {
		return nil, d.fail(ErrUnknownTag, fmt.Sprintf("element kind %d", k))
	}
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	raw, err := d.take(n * size)
	if err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	switch kind {
	case ElemUint8:
		return append([]uint8{}, raw...), nil
	case ElemUint8Clamped:
		return Uint8Clamped(append([]uint8{}, raw...)), nil
	case ElemInt8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(raw[i])
		}
		return out, nil
	case ElemInt16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(le.Uint16(raw[i*2:]))
		}
		return out, nil
	case ElemUint16:
		out := make([]uint16, n)
		for i := range out {
			out[i] = le.Uint16(raw[i*2:])
		}
		return out, nil
	case ElemInt32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(le.Uint32(raw[i*4:]))
		}
		return out, nil
	case ElemUint32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = le.Uint32(raw[i*4:])
		}
		return out, nil
	case ElemFloat32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(raw[i*4:]))
		}
		return out, nil
	default:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(raw[i*8:]))
		}
		return out, nil
	}
}

func (d *Decoder) length() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint32(b)
	if n > MaxLength {
		return 0, d.fail(ErrTooLong, fmt.Sprintf("%d > %d", n, MaxLength))
	}
	return int(n), nil
}

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.fail(ErrTruncated, fmt.Sprintf("at byte %d", d.pos))
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, d.fail(ErrTruncated, fmt.Sprintf("need %d bytes at %d, have %d", n, d.pos, len(d.data)-d.pos))
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) fail(err error, detail string) *Error {
	return pathError("decode", d.path, err, detail)
}
