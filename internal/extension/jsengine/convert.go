package jsengine

import (
	"github.com/dop251/goja"
)

// toJS converts plain Go values into native JS values so extension code sees
// real objects and arrays rather than Go wrappers.
func toJS(vm *goja.Runtime, v any) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return t
	case map[string]any:
		obj := vm.NewObject()
		for k, val := range t {
			_ = obj.Set(k, toJS(vm, val))
		}
		return obj
	case map[string]string:
		obj := vm.NewObject()
		for k, val := range t {
			_ = obj.Set(k, val)
		}
		return obj
	case []any:
		items := make([]any, len(t))
		for i, val := range t {
			items[i] = toJS(vm, val)
		}
		return vm.NewArray(items...)
	case []string:
		items := make([]any, len(t))
		for i, val := range t {
			items[i] = val
		}
		return vm.NewArray(items...)
	case []byte:
		return vm.ToValue(vm.NewArrayBuffer(t))
	default:
		return vm.ToValue(t)
	}
}

// fromJS exports a JS value into plain Go values: maps, slices, strings,
// numbers, bools and []byte for binary buffers.
func fromJS(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return plain(v.Export())
}

func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case goja.ArrayBuffer:
		return t.Bytes()
	default:
		return t
	}
}

// bytesOf reads binary input: an ArrayBuffer, a Uint8Array, an array of
// numbers or a string.
func bytesOf(vm *goja.Runtime, v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch t := v.Export().(type) {
	case goja.ArrayBuffer:
		return t.Bytes()
	case []byte:
		return t
	case string:
		return []byte(t)
	}
	var out []byte
	if err := vm.ExportTo(v, &out); err == nil {
		return out
	}
	return nil
}

func objectArg(call goja.FunctionCall, i int) map[string]any {
	m, _ := fromJS(call.Argument(i)).(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}
