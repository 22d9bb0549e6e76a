// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package decode

import (
	"fmt"
	"strings"
)

// Kind is the kind of a decoded argument value.
type Kind uint8

// Value kinds. The numeric values double as wire tags and must not change.
const (
	KindNull   Kind = 0
	KindUint   Kind = 1
	KindInt    Kind = 2
	KindHandle Kind = 3
	KindBytes  Kind = 4
	KindString Kind = 5
	KindStruct Kind = 6
	KindArray  Kind = 7
	KindFloat  Kind = 8
)

var kindNames = [...]string{
	KindNull:   "Null",
	KindUint:   "Uint",
	KindInt:    "Int",
	KindHandle: "Handle",
	KindBytes:  "Bytes",
	KindString: "String",
	KindStruct: "Struct",
	KindArray:  "Array",
	KindFloat:  "Float",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Handle is an opaque object identifier recorded at capture time. It has no
// meaning during replay until it is translated to a live object.
type Handle uint64

// NullHandle is the capture-time representation of "no object".
const NullHandle Handle = 0

// Value is a single decoded argument value.
//
// Only the field matching Kind is meaningful: Uint holds KindUint and
// KindHandle values, Int holds KindInt, Float holds KindFloat, Bytes holds
// KindBytes and KindString, Struct holds KindStruct, and Array holds KindArray.
type Value struct {
	Kind Kind

	Uint   uint64
	Int    int64
	Float  float64
	Bytes  []byte
	Struct *Struct
	Array  []Value
}

// NullValue returns a null Value.
func NullValue() Value { return Value{} }

// UintValue returns an unsigned integer Value.
func UintValue(v uint64) Value { return Value{Kind: KindUint, Uint: v} }

// IntValue returns a signed integer Value.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// FloatValue returns a floating point Value.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// HandleValue returns a captured handle Value.
func HandleValue(h Handle) Value { return Value{Kind: KindHandle, Uint: uint64(h)} }

// BytesValue returns a byte buffer Value.
func BytesValue(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Bytes: []byte(s)} }

// StructValue returns a structure Value.
func StructValue(s *Struct) Value { return Value{Kind: KindStruct, Struct: s} }

// ArrayValue returns an array Value.
func ArrayValue(vs ...Value) Value { return Value{Kind: KindArray, Array: vs} }

// IsNull returns true if v is a null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Handle returns v as a Handle. Null values are NullHandle.
func (v Value) Handle() (Handle, bool) {
	switch v.Kind {
	case KindHandle:
		return Handle(v.Uint), true
	case KindNull:
		return NullHandle, true
	default:
		return NullHandle, false
	}
}

// Str returns v as a string.
func (v Value) Str() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return string(v.Bytes), true
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindUint:
		return fmt.Sprintf("%d", v.Uint)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindHandle:
		return fmt.Sprintf("0x%x", v.Uint)
	case KindBytes:
		return fmt.Sprintf("[%d bytes]", len(v.Bytes))
	case KindString:
		return fmt.Sprintf("%q", v.Bytes)
	case KindStruct:
		return v.Struct.String()
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return v.Kind.String()
	}
}

// Struct is a decoded structure. Structures may be extended by a chain of
// further structures through Next.
type Struct struct {
	Type   StructType
	Fields []Value
	Next   *Struct
}

// Field returns the i'th field of s, or a null Value if s has no such field.
func (s *Struct) Field(i int) Value {
	if s == nil || i < 0 || i >= len(s.Fields) {
		return Value{}
	}
	return s.Fields[i]
}

// Uint returns the i'th field of s as an unsigned integer, or 0 if it is not
// one.
func (s *Struct) Uint(i int) uint64 {
	if v := s.Field(i); v.Kind == KindUint {
		return v.Uint
	}
	return 0
}

// Find returns the first structure of type t in the chain starting at s, or
// nil if there is none.
func (s *Struct) Find(t StructType) *Struct {
	for ; s != nil; s = s.Next {
		if s.Type == t {
			return s
		}
	}
	return nil
}

func (s *Struct) String() string {
	if s == nil {
		return "null"
	}

	var sb strings.Builder
	for cur := s; cur != nil; cur = cur.Next {
		if cur != s {
			sb.WriteString(" -> ")
		}
		sb.WriteString(cur.Type.String())
		sb.WriteByte('{')
		for i, f := range cur.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.String())
		}
		sb.WriteByte('}')
	}
	return sb.String()
}
