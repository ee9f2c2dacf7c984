package spanz

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/bytedance/sonic"
)

// ValueKind identifies which member of a Value is set.
type ValueKind uint8

// Value kinds.
const (
	NullKind ValueKind = iota
	BoolKind
	IntKind
	UintKind
	FloatKind
	StringKind
	ListKind
	MapKind
)

// Value is a tag value: a scalar, a list of values or a string-keyed map of
// values. The zero Value is null.
//
//nolint:govet // Field order follows the kind list.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	u    uint64
	f    float64
	f32  bool // f holds a widened float32
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: BoolKind, b: v} }

// Int returns a signed integer value.
func Int(v int64) Value { return Value{kind: IntKind, i: v} }

// Uint returns an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: UintKind, u: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: FloatKind, f: v} }

// Float32 returns a floating point value rendered at float32 precision.
func Float32(v float32) Value { return Value{kind: FloatKind, f: float64(v), f32: true} }

// String returns a string value.
func String(v string) Value { return Value{kind: StringKind, s: v} }

// List returns a list value.
func List(vs ...Value) Value { return Value{kind: ListKind, list: vs} }

// Map returns a map value.
func Map(m map[string]Value) Value { return Value{kind: MapKind, m: m} }

// Kind reports which kind of value v holds.
func (v Value) Kind() ValueKind { return v.kind }

// jsonAPI renders structured tags. Keys are sorted so equal maps always
// produce equal tag strings.
var jsonAPI = sonic.Config{SortMapKeys: true, ValidateString: true}.Froze()

// String renders v the way it is stored on a span. Scalars render as plain
// text, so a string tag is never quoted. Lists and maps render as JSON, with
// nested scalars in their JSON form.
func (v Value) String() string {
	switch v.kind {
	case NullKind:
		return "null"
	case BoolKind:
		return strconv.FormatBool(v.b)
	case IntKind:
		return strconv.FormatInt(v.i, 10)
	case UintKind:
		return strconv.FormatUint(v.u, 10)
	case FloatKind:
		return formatFloat(v.f, v.bitSize())
	case StringKind:
		return v.s
	case ListKind, MapKind:
		out, err := jsonAPI.MarshalToString(v.tree())
		if err != nil {
			return fmt.Sprintf("%v", v.tree())
		}
		return out
	}
	return ""
}

// tree converts v into plain Go values that marshal to the JSON form of v.
func (v Value) tree() any {
	switch v.kind {
	case BoolKind:
		return v.b
	case IntKind:
		return v.i
	case UintKind:
		return v.u
	case FloatKind:
		// JSON has no encoding for NaN or infinities.
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return formatFloat(v.f, 64)
		}
		if v.f32 {
			return float32(v.f)
		}
		return v.f
	case StringKind:
		return v.s
	case ListKind:
		out := make([]any, 0, len(v.list))
		for _, e := range v.list {
			out = append(out, e.tree())
		}
		return out
	case MapKind:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.tree()
		}
		return out
	}
	return nil
}

func (v Value) bitSize() int {
	if v.f32 {
		return 32
	}
	return 64
}

// formatFloat matches the number formatting of encoding/json so a float
// looks the same at the root as it does nested in a list.
func formatFloat(f float64, bitSize int) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'e', -1, bitSize)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}

// ValueOf converts an arbitrary Go value into a Value. Slices and arrays
// become lists, maps with string keys become maps, errors and Stringers
// become strings, and anything else falls back to its fmt representation.
func ValueOf(x any) Value {
	switch x := x.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Uint(uint64(x))
	case uint8:
		return Uint(uint64(x))
	case uint16:
		return Uint(uint64(x))
	case uint32:
		return Uint(uint64(x))
	case uint64:
		return Uint(x)
	case float32:
		return Float32(x)
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []byte:
		if x == nil {
			return Null()
		}
		return String(string(x))
	case []Value:
		return List(x...)
	case map[string]Value:
		return Map(x)
	case []any:
		list := make([]Value, len(x))
		for i, e := range x {
			list[i] = ValueOf(e)
		}
		return List(list...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = ValueOf(e)
		}
		return Map(m)
	case error:
		if isNilPointer(x) {
			return Null()
		}
		return String(x.Error())
	case fmt.Stringer:
		if isNilPointer(x) {
			return Null()
		}
		return String(x.String())
	}
	return reflectValue(reflect.ValueOf(x))
}

// isNilPointer reports whether x is a non-nil interface holding a nil
// pointer, on which calling a method would panic.
func isNilPointer(x any) bool {
	rv := reflect.ValueOf(x)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func reflectValue(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return ValueOf(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null()
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(string(rv.Bytes()))
		}
		list := make([]Value, rv.Len())
		for i := range list {
			list[i] = ValueOf(rv.Index(i).Interface())
		}
		return List(list...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return Null()
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = ValueOf(iter.Value().Interface())
		}
		return Map(m)
	case reflect.String:
		return String(rv.String())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Uint(rv.Uint())
	case reflect.Float32:
		return Float32(float32(rv.Float()))
	case reflect.Float64:
		return Float(rv.Float())
	}
	return String(fmt.Sprintf("%v", rv.Interface()))
}
