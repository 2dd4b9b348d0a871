package worker

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/workerdom/internal/codec"
)

// goValue converts a JS value for the codec, keeping nodes and references
// as handles, or for JSON, replacing them with their ids. For the codec
// undefined stays codec.Undefined, so object entries holding it are
// skipped; JSON drops such entries and writes null in arrays.
func (w *Worker) goValue(v goja.Value, json bool, depth int) any {
	if v == nil || goja.IsUndefined(v) {
		if json {
			return nil
		}
		return codec.Undefined
	}
	if goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}
	if n, ok := w.owner[obj]; ok {
		if json {
			return n.ID()
		}
		return n
	}
	if r, ok := w.refs[obj]; ok {
		if json {
			return r.ID
		}
		return r
	}
	if depth >= maxDepth {
		return nil
	}
	// JSON sees binary data as plain objects, as JSON.stringify does.
	if !json {
		if bin, ok := binaryValue(obj); ok {
			return bin
		}
	}

	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = w.goValue(obj.Get(strconv.Itoa(i)), json, depth+1)
		}
		return out
	case "Object":
		out := make(map[string]any)
		for _, k := range obj.Keys() {
			e := obj.Get(k)
			if json && (e == nil || goja.IsUndefined(e)) {
				continue
			}
			out[k] = w.goValue(e, json, depth+1)
		}
		return out
	case "Function":
		if json {
			return nil
		}
		return codec.Undefined
	}
	return obj.Export()
}

// binaryValue converts ArrayBuffers and typed arrays to the Go types the
// codec tags as TypedArray and ArrayBuffer. Elements are copied.
func binaryValue(obj *goja.Object) (any, bool) {
	ctor, ok := obj.Get("constructor").(*goja.Object)
	if !ok {
		return nil, false
	}
	name := ctor.Get("name")
	if name == nil {
		return nil, false
	}

	switch name.String() {
	case "ArrayBuffer":
		ab, ok := obj.Export().(goja.ArrayBuffer)
		if !ok {
			return nil, false
		}
		return codec.ArrayBuffer(append([]byte(nil), ab.Bytes()...)), true
	case "Int8Array":
		return elements[int8](obj), true
	case "Uint8Array":
		return elements[uint8](obj), true
	case "Uint8ClampedArray":
		return codec.Uint8Clamped(elements[uint8](obj)), true
	case "Int16Array":
		return elements[int16](obj), true
	case "Uint16Array":
		return elements[uint16](obj), true
	case "Int32Array":
		return elements[int32](obj), true
	case "Uint32Array":
		return elements[uint32](obj), true
	case "Float32Array":
		return elements[float32](obj), true
	case "Float64Array":
		return elements[float64](obj), true
	}
	return nil, false
}

type element interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~float32 | ~float64
}

func elements[T element](obj *goja.Object) []T {
	n := int(obj.Get("length").ToInteger())
	out := make([]T, n)
	for i := range out {
		out[i] = T(obj.Get(strconv.Itoa(i)).ToFloat())
	}
	return out
}
