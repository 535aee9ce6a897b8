// Package value defines a tagged dynamic value used wherever SyncKit's
// CRDTs need to carry an opaque, schema-neutral payload (field values,
// formatting-attribute values, awareness state). LWW comparisons never
// inspect a Value's contents — only its accompanying timestamp — so the
// variant only needs to marshal, unmarshal, and compare for equality.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates a Value's payload.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindI64
	KindF64
	KindStr
	KindBytes
	KindArray
	KindObject
)

// Value is a tagged variant of {Null, Bool, I64, F64, Str, Bytes, Array,
// Object}. Zero value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	arr  []Value
	obj  map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func I64(i int64) Value            { return Value{kind: KindI64, i: i} }
func F64(f float64) Value          { return Value{kind: KindF64, f: f} }
func Str(s string) Value           { return Value{kind: KindStr, s: s} }
func Bytes(b []byte) Value         { return Value{kind: KindBytes, by: append([]byte(nil), b...)} }
func Array(vs []Value) Value       { return Value{kind: KindArray, arr: vs} }
func Object(m map[string]Value) Value {
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsI64() (int64, bool)       { return v.i, v.kind == KindI64 }
func (v Value) AsF64() (float64, bool)     { return v.f, v.kind == KindF64 }
func (v Value) AsStr() (string, bool)      { return v.s, v.kind == KindStr }
func (v Value) AsBytes() ([]byte, bool)    { return v.by, v.kind == KindBytes }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Equal reports deep equality. Only used diagnostically — LWW
// resolution itself never depends on value equality, only on ts.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindI64:
		return v.i == other.i
	case KindF64:
		return v.f == other.f
	case KindStr:
		return v.s == other.s
	case KindBytes:
		if len(v.by) != len(other.by) {
			return false
		}
		for i := range v.by {
			if v.by[i] != other.by[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, val := range v.obj {
			ov, ok := other.obj[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// wireValue is the JSON-on-the-wire shape: a tag plus one populated field.
type wireValue struct {
	Kind  string          `json:"kind"`
	Bool  *bool           `json:"bool,omitempty"`
	I64   *int64          `json:"i64,omitempty"`
	F64   *float64        `json:"f64,omitempty"`
	Str   *string         `json:"str,omitempty"`
	Bytes []byte          `json:"bytes,omitempty"`
	Array []wireValue     `json:"array,omitempty"`
	Obj   map[string]wireValue `json:"obj,omitempty"`
}

func (v Value) toWire() wireValue {
	switch v.kind {
	case KindNull:
		return wireValue{Kind: "null"}
	case KindBool:
		b := v.b
		return wireValue{Kind: "bool", Bool: &b}
	case KindI64:
		i := v.i
		return wireValue{Kind: "i64", I64: &i}
	case KindF64:
		f := v.f
		return wireValue{Kind: "f64", F64: &f}
	case KindStr:
		s := v.s
		return wireValue{Kind: "str", Str: &s}
	case KindBytes:
		return wireValue{Kind: "bytes", Bytes: v.by}
	case KindArray:
		arr := make([]wireValue, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.toWire()
		}
		return wireValue{Kind: "array", Array: arr}
	case KindObject:
		obj := make(map[string]wireValue, len(v.obj))
		for k, e := range v.obj {
			obj[k] = e.toWire()
		}
		return wireValue{Kind: "obj", Obj: obj}
	}
	return wireValue{Kind: "null"}
}

func fromWire(w wireValue) (Value, error) {
	switch w.Kind {
	case "null", "":
		return Null(), nil
	case "bool":
		if w.Bool == nil {
			return Value{}, fmt.Errorf("value: bool kind missing payload")
		}
		return Bool(*w.Bool), nil
	case "i64":
		if w.I64 == nil {
			return Value{}, fmt.Errorf("value: i64 kind missing payload")
		}
		return I64(*w.I64), nil
	case "f64":
		if w.F64 == nil {
			return Value{}, fmt.Errorf("value: f64 kind missing payload")
		}
		return F64(*w.F64), nil
	case "str":
		if w.Str == nil {
			return Value{}, fmt.Errorf("value: str kind missing payload")
		}
		return Str(*w.Str), nil
	case "bytes":
		return Bytes(w.Bytes), nil
	case "array":
		out := make([]Value, len(w.Array))
		for i, e := range w.Array {
			dv, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = dv
		}
		return Array(out), nil
	case "obj":
		out := make(map[string]Value, len(w.Obj))
		for k, e := range w.Obj {
			dv, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			out[k] = dv
		}
		return Object(out), nil
	default:
		return Value{}, fmt.Errorf("value: unknown kind %q", w.Kind)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toWire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	dv, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = dv
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindI64:
		return fmt.Sprintf("%d", v.i)
	case KindF64:
		return fmt.Sprintf("%g", v.f)
	case KindStr:
		return v.s
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.by))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.arr))
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("object(%v)", keys)
	}
	return "<invalid>"
}
