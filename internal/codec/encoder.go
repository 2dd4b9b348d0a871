package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Encoder writes values in the tagged form. It is not safe for concurrent
// use; a session keeps one per scheduler.
type Encoder struct {
	strings StringStore
	buf     []byte
	path    []string
	depth   int
}

// NewEncoder creates an encoder interning strings into st.
func NewEncoder(st StringStore) *Encoder {
	return &Encoder{strings: st}
}

// Encode returns the encoding of v. On failure nothing is returned; the
// encoder never emits a partial value.
func (e *Encoder) Encode(v any) ([]byte, error) {
	e.buf = e.buf[:0]
	e.path = e.path[:0]
	e.depth = 0
	if err := e.value(v); err != nil {
		return nil, err
	}
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out, nil
}

// EncodeArgs encodes an argument list as one array value.
func (e *Encoder) EncodeArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return e.Encode(args)
}

// Encode is a convenience wrapper around a one-shot Encoder.
func Encode(st StringStore, v any) ([]byte, error) {
	return NewEncoder(st).Encode(v)
}

func (e *Encoder) value(v any) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > MaxDepth {
		return pathError("encode", e.path, ErrTooDeep, fmt.Sprintf("limit %d", MaxDepth))
	}

	switch x := v.(type) {
	case nil:
		e.tag(TagNull)
	case undefined:
		e.tag(TagUndefined)
	case bool:
		if x {
			e.tag(TagTrue)
		} else {
			e.tag(TagFalse)
		}
	case Serializable:
		kind, id := x.SerializeReference()
		e.tag(TagReference)
		e.buf = append(e.buf, byte(kind))
		e.buf = binary.LittleEndian.AppendUint32(e.buf, id)
	case string:
		e.tag(TagString)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, e.strings.Store(x))
	case int:
		e.integer(int64(x))
	case int8:
		e.integer(int64(x))
	case int16:
		e.integer(int64(x))
	case int32:
		e.integer(int64(x))
	case int64:
		e.integer(x)
	case uint:
		e.unsigned(uint64(x))
	case uint8:
		e.unsigned(uint64(x))
	case uint16:
		e.unsigned(uint64(x))
	case uint32:
		e.unsigned(uint64(x))
	case uint64:
		e.unsigned(x)
	case float32:
		e.number(float64(x))
	case float64:
		e.number(x)
	case []any:
		return e.array(len(x), func(i int) any { return x[i] })
	case map[string]any:
		return e.object(x)
	case ArrayBuffer:
		if err := e.checkLen(len(x)); err != nil {
			return err
		}
		e.tag(TagArrayBuffer)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(x)))
		e.buf = append(e.buf, x...)
	case []uint8:
		return e.typed(ElemUint8, len(x), func() { e.buf = append(e.buf, x...) })
	case Uint8Clamped:
		return e.typed(ElemUint8Clamped, len(x), func() { e.buf = append(e.buf, x...) })
	case []int8:
		return e.typed(ElemInt8, len(x), func() {
			for _, n := range x {
				e.buf = append(e.buf, byte(n))
			}
		})
	case []int16:
		return e.typed(ElemInt16, len(x), func() {
			for _, n := range x {
				e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(n))
			}
		})
	case []uint16:
		return e.typed(ElemUint16, len(x), func() {
			for _, n := range x {
				e.buf = binary.LittleEndian.AppendUint16(e.buf, n)
			}
		})
	case []int32:
		return e.typed(ElemInt32, len(x), func() {
			for _, n := range x {
				e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
			}
		})
	case []uint32:
		return e.typed(ElemUint32, len(x), func() {
			for _, n := range x {
				e.buf = binary.LittleEndian.AppendUint32(e.buf, n)
			}
		})
	case []float32:
		return e.typed(ElemFloat32, len(x), func() {
			for _, n := range x {
				e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(n))
			}
		})
	case []float64:
		return e.typed(ElemFloat64, len(x), func() {
			for _, n := range x {
				e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(n))
			}
		})
	default:
		return e.reflected(v)
	}
	return nil
}

// reflected handles generic slices and string-keyed maps, such as []string
// or the map types a JS engine exports.
func (e *Encoder) reflected(v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			e.tag(TagNull)
			return nil
		}
		return e.array(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			e.tag(TagNull)
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return e.object(m)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.tag(TagNull)
			return nil
		}
		return e.value(rv.Elem().Interface())
	}
	return pathError("encode", e.path, ErrUnsupported, fmt.Sprintf("Go type %T", v))
}

func (e *Encoder) array(n int, at func(int) any) error {
	if n == 0 {
		e.tag(TagEmptyArray)
		return nil
	}
	if err := e.checkLen(n); err != nil {
		return err
	}
	e.tag(TagArray)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
	for i := 0; i < n; i++ {
		e.path = append(e.path, strconv.Itoa(i))
		if err := e.value(at(i)); err != nil {
			return err
		}
		e.path = e.path[:len(e.path)-1]
	}
	return nil
}

func (e *Encoder) object(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if _, skip := v.(undefined); skip {
			continue
		}
		keys = append(keys, k)
	}
	if err := e.checkLen(len(keys)); err != nil {
		return err
	}
	sort.Strings(keys)

	e.tag(TagObject)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(keys)))
	for _, k := range keys {
		e.buf = binary.LittleEndian.AppendUint16(e.buf, e.strings.Store(k))
		e.path = append(e.path, k)
		if err := e.value(m[k]); err != nil {
			return err
		}
		e.path = e.path[:len(e.path)-1]
	}
	return nil
}

func (e *Encoder) typed(kind ElementKind, n int, raw func()) error {
	if err := e.checkLen(n); err != nil {
		return err
	}
	e.tag(TagTypedArray)
	e.buf = append(e.buf, byte(kind))
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
	raw()
	return nil
}

func (e *Encoder) integer(n int64) {
	switch {
	case n >= 0:
		e.unsigned(uint64(n))
	case n >= math.MinInt8:
		e.tag(TagInt8)
		e.buf = append(e.buf, byte(int8(n)))
	case n >= math.MinInt16:
		e.tag(TagInt16)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(int16(n)))
	case n >= math.MinInt32:
		e.tag(TagInt32)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(int32(n)))
	default:
		e.double(float64(n))
	}
}

func (e *Encoder) unsigned(n uint64) {
	switch {
	case n <= math.MaxUint8:
		e.tag(TagUint8)
		e.buf = append(e.buf, byte(n))
	case n <= math.MaxUint16:
		e.tag(TagUint16)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(n))
	case n <= math.MaxUint32:
		e.tag(TagUint32)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
	default:
		e.double(float64(n))
	}
}

func (e *Encoder) number(f float64) {
	if !math.IsInf(f, 0) && f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
		if f >= 0 {
			e.unsigned(uint64(f))
		} else {
			e.integer(int64(f))
		}
		return
	}
	if math.IsNaN(f) || math.Abs(f) <= math.MaxFloat32 {
		e.tag(TagFloat32)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(float32(f)))
		return
	}
	e.double(f)
}

func (e *Encoder) double(f float64) {
	e.tag(TagFloat64)
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(f))
}

func (e *Encoder) tag(t Tag) {
	e.buf = append(e.buf, byte(t))
}

func (e *Encoder) checkLen(n int) error {
	if n > MaxLength {
		return pathError("encode", e.path, ErrTooLong, fmt.Sprintf("%d > %d", n, MaxLength))
	}
	return nil
}
