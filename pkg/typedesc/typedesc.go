// Package typedesc describes wire types at runtime. A type expression such as
// "map<string, sequence<u32>>" is parsed into a Type whose Read, Write and
// Size operate on dynamic Go values.
package typedesc

import (
	"strings"
)

// Kind identifies the shape of a Type.
type Kind int

const (
	KindU8 Kind = iota
	KindI8
	KindU16
	KindI16
	KindU32
	KindI32
	KindU64
	KindI64
	KindF32
	KindF64
	KindBool
	KindString
	KindBytes
	KindTimestamp
	KindDuration
	KindOptional
	KindSequence
	KindMap
	KindRecord
	KindEnum

	numKinds
)

var kindNames = [...]string{
	KindU8:        "u8",
	KindI8:        "i8",
	KindU16:       "u16",
	KindI16:       "i16",
	KindU32:       "u32",
	KindI32:       "i32",
	KindU64:       "u64",
	KindI64:       "i64",
	KindF32:       "f32",
	KindF64:       "f64",
	KindBool:      "bool",
	KindString:    "string",
	KindBytes:     "bytes",
	KindTimestamp: "timestamp",
	KindDuration:  "duration",
	KindOptional:  "optional",
	KindSequence:  "sequence",
	KindMap:       "map",
	KindRecord:    "record",
	KindEnum:      "enum",
}

// String returns the keyword of the kind.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Field is one named member of a record.
type Field struct {
	Name string
	Type *Type
}

// Type is a parsed wire type.
type Type struct {
	Kind     Kind
	Elem     *Type // optional, sequence, map value
	Key      *Type // map key
	Fields   []Field
	Variants []string
}

// IsPrimitive reports whether values of t cross the boundary by value rather
// than in a buffer.
func (t *Type) IsPrimitive() bool {
	return t.Kind <= KindBool
}

// String returns the canonical type expression.
func (t *Type) String() string {
	var b strings.Builder
	t.format(&b)
	return b.String()
}

func (t *Type) format(b *strings.Builder) {
	switch t.Kind {
	case KindOptional:
		b.WriteString("optional<")
		t.Elem.format(b)
		b.WriteByte('>')
	case KindSequence:
		b.WriteString("sequence<")
		t.Elem.format(b)
		b.WriteByte('>')
	case KindMap:
		b.WriteString("map<")
		t.Key.format(b)
		b.WriteString(", ")
		t.Elem.format(b)
		b.WriteByte('>')
	case KindRecord:
		b.WriteString("record{")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Type.format(b)
		}
		b.WriteByte('}')
	case KindEnum:
		b.WriteString("enum{")
		b.WriteString(strings.Join(t.Variants, ", "))
		b.WriteByte('}')
	default:
		b.WriteString(t.Kind.String())
	}
}

// isComparableKey reports whether values of t can be map keys.
func (t *Type) isComparableKey() bool {
	switch t.Kind {
	case KindOptional, KindSequence, KindMap, KindRecord, KindBytes, KindF32, KindF64:
		return false
	}
	return true
}

// Primitive returns the Type for a primitive or builtin name such as "u32".
func Primitive(name string) (*Type, bool) {
	for k := KindU8; k <= KindDuration; k++ {
		if kindNames[k] == name {
			return &Type{Kind: k}, true
		}
	}
	return nil, false
}
