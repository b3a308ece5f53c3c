package types

import (
	"encoding/json"
	"fmt"
)

// ValueKind tags the members of the attribute value union.
type ValueKind int

const (
	KindNil ValueKind = iota
	KindNumber
	KindBool
	KindString
	KindVector3
)

func (k ValueKind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindVector3:
		return "vector3"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is the closed tagged union carried by attributes and signal
// payloads. Anything scripts hand the engine is coerced into one of
// these kinds at the binding layer; the graph never sees open types.
type Value struct {
	kind ValueKind
	num  float64
	b    bool
	s    string
	vec  Vector3
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Vector(v Vector3) Value { return Value{kind: KindVector3, vec: v} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNil() bool     { return v.kind == KindNil }

func (v Value) Num() float64  { return v.num }
func (v Value) Bool() bool    { return v.b }
func (v Value) Str() string   { return v.s }
func (v Value) Vec3() Vector3 { return v.vec }

// Equal reports deep equality of two values, including kind.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindVector3:
		return v.vec == o.vec
	default:
		return true
	}
}

// Export returns the Go-native representation used at serialization and
// script boundaries.
func (v Value) Export() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindVector3:
		return v.vec
	default:
		return nil
	}
}

// FromAny coerces a Go-native value into the union. Returns an error for
// any kind outside the closed set.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case Vector3:
		return Vector(x), nil
	case map[string]any:
		// goja exports Vector3-shaped objects as maps.
		vx, okx := toFloat(x["x"])
		vy, oky := toFloat(x["y"])
		vz, okz := toFloat(x["z"])
		if okx && oky && okz && len(x) == 3 {
			return Vector(Vector3{X: vx, Y: vy, Z: vz}), nil
		}
		return Value{}, fmt.Errorf("unsupported attribute object (want {x,y,z})")
	default:
		return Value{}, fmt.Errorf("unsupported attribute type %T", raw)
	}
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// MarshalJSON encodes the value as its native JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Export())
}
