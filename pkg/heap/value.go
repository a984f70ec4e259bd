// Package heap holds the concrete values and the object arena used by the
// interpreter. Everything here is single-threaded; one Manager belongs to
// one execution context.
package heap

import (
	"fmt"
	"math"
)

// Kind tags a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindRef
	// KindTop fills the upper local slot of a long or double.
	KindTop
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindRef:
		return "reference"
	case KindTop:
		return "top"
	default:
		return "invalid"
	}
}

// Handle identifies an object or array in a Manager. Zero is null.
type Handle uint32

// Value is a single JVM value. It is comparable, so two values are equal
// exactly when they have the same kind and bit pattern.
type Value struct {
	kind Kind
	bits uint64
}

// Null is the null reference.
var Null = Value{kind: KindRef}

// Top is the filler for the second slot of a category-2 local.
var Top = Value{kind: KindTop}

func Int(v int32) Value      { return Value{kind: KindInt, bits: uint64(uint32(v))} }
func Long(v int64) Value     { return Value{kind: KindLong, bits: uint64(v)} }
func Float(v float32) Value  { return Value{kind: KindFloat, bits: uint64(math.Float32bits(v))} }
func Double(v float64) Value { return Value{kind: KindDouble, bits: math.Float64bits(v)} }
func Ref(h Handle) Value     { return Value{kind: KindRef, bits: uint64(h)} }
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) Kind() Kind        { return v.kind }
func (v Value) AsInt() int32      { return int32(uint32(v.bits)) }
func (v Value) AsLong() int64     { return int64(v.bits) }
func (v Value) AsFloat() float32  { return math.Float32frombits(uint32(v.bits)) }
func (v Value) AsDouble() float64 { return math.Float64frombits(v.bits) }
func (v Value) AsRef() Handle     { return Handle(v.bits) }

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool { return v.kind == KindRef && v.bits == 0 }

// IsRef reports whether v is a reference, null included.
func (v Value) IsRef() bool { return v.kind == KindRef }

// Category returns 2 for long and double, 1 otherwise.
func (v Value) Category() int {
	if v.kind == KindLong || v.kind == KindDouble {
		return 2
	}
	return 1
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case KindLong:
		return fmt.Sprintf("%dL", v.AsLong())
	case KindFloat:
		return fmt.Sprintf("%gf", v.AsFloat())
	case KindDouble:
		return fmt.Sprintf("%gd", v.AsDouble())
	case KindRef:
		if v.IsNull() {
			return "null"
		}
		return fmt.Sprintf("@%d", v.AsRef())
	case KindTop:
		return "top"
	default:
		return "<invalid>"
	}
}

// Zero returns the default value for a field descriptor.
func Zero(desc string) Value {
	if desc == "" {
		return Null
	}
	switch desc[0] {
	case 'J':
		return Long(0)
	case 'F':
		return Float(0)
	case 'D':
		return Double(0)
	case 'L', '[':
		return Null
	default:
		return Int(0)
	}
}

// Narrow converts an int to the representation stored for a field or
// array element of the given descriptor (byte, char, short, boolean).
func Narrow(desc string, v Value) Value {
	if v.kind != KindInt || desc == "" {
		return v
	}
	switch desc[0] {
	case 'B':
		return Int(int32(int8(v.AsInt())))
	case 'C':
		return Int(int32(uint16(v.AsInt())))
	case 'S':
		return Int(int32(int16(v.AsInt())))
	case 'Z':
		return Int(v.AsInt() & 1)
	}
	return v
}
