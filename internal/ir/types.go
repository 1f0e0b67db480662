package ir

import (
	"fmt"
	"strings"
)

// TypeKind enumerates IR type shapes.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeInt
	TypePtr
	TypeStruct
	TypeArray
	TypeFunc
	TypeLabel
	TypeToken
)

// Type describes an IR type. Named structs are compared by name, everything
// else structurally (see Equal).
type Type struct {
	Kind TypeKind

	Bits int // TypeInt

	Name   string  // TypeStruct: "" for literal structs
	Fields []*Type // TypeStruct
	Opaque bool    // TypeStruct: body unknown

	Elem *Type // TypeArray
	Len  int64 // TypeArray

	Ret      *Type   // TypeFunc
	Params   []*Type // TypeFunc
	Variadic bool    // TypeFunc
}

var (
	Void  = &Type{Kind: TypeVoid}
	I1    = &Type{Kind: TypeInt, Bits: 1}
	I8    = &Type{Kind: TypeInt, Bits: 8}
	I16   = &Type{Kind: TypeInt, Bits: 16}
	I32   = &Type{Kind: TypeInt, Bits: 32}
	I64   = &Type{Kind: TypeInt, Bits: 64}
	Ptr   = &Type{Kind: TypePtr}
	Label = &Type{Kind: TypeLabel}
	Token = &Type{Kind: TypeToken}
)

// IntType returns the integer type of the given width.
func IntType(bits int) *Type {
	switch bits {
	case 1:
		return I1
	case 8:
		return I8
	case 16:
		return I16
	case 32:
		return I32
	case 64:
		return I64
	}
	return &Type{Kind: TypeInt, Bits: bits}
}

func ArrayOf(elem *Type, n int64) *Type {
	return &Type{Kind: TypeArray, Elem: elem, Len: n}
}

// StructOf returns a literal (unnamed) struct type.
func StructOf(fields ...*Type) *Type {
	return &Type{Kind: TypeStruct, Fields: fields}
}

func FuncOf(ret *Type, params ...*Type) *Type {
	return &Type{Kind: TypeFunc, Ret: ret, Params: params}
}

func (t *Type) IsInt() bool     { return t != nil && t.Kind == TypeInt }
func (t *Type) IsPtr() bool     { return t != nil && t.Kind == TypePtr }
func (t *Type) IsVoid() bool    { return t != nil && t.Kind == TypeVoid }
func (t *Type) IsStruct() bool  { return t != nil && t.Kind == TypeStruct }
func (t *Type) IsIntN(n int) bool { return t.IsInt() && t.Bits == n }

// SetBody fills an opaque named struct.
func (t *Type) SetBody(fields ...*Type) {
	t.Fields = fields
	t.Opaque = false
}

// Equal reports type identity.
func Equal(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TypeInt:
		return a.Bits == b.Bits
	case TypeStruct:
		if a.Name != "" || b.Name != "" {
			return a.Name == b.Name
		}
		return typesEqual(a.Fields, b.Fields)
	case TypeArray:
		return a.Len == b.Len && Equal(a.Elem, b.Elem)
	case TypeFunc:
		return a.Variadic == b.Variadic && Equal(a.Ret, b.Ret) && typesEqual(a.Params, b.Params)
	}
	return true
}

func typesEqual(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// String renders the type the way the printer does; named structs print
// as their reference.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeVoid:
		return "void"
	case TypeInt:
		return fmt.Sprintf("i%d", t.Bits)
	case TypePtr:
		return "ptr"
	case TypeLabel:
		return "label"
	case TypeToken:
		return "token"
	case TypeArray:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case TypeStruct:
		if t.Name != "" {
			return "%" + quoteName(t.Name)
		}
		return t.BodyString()
	case TypeFunc:
		var sb strings.Builder
		sb.WriteString(t.Ret.String())
		sb.WriteString(" (")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p.String())
		}
		if t.Variadic {
			if len(t.Params) > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("...")
		}
		sb.WriteString(")")
		return sb.String()
	}
	return "?"
}

// BodyString renders a struct body, "opaque" for opaque structs.
func (t *Type) BodyString() string {
	if t.Opaque {
		return "opaque"
	}
	var sb strings.Builder
	sb.WriteString("{ ")
	for i, f := range t.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
	if len(t.Fields) == 0 {
		return "{}"
	}
	sb.WriteString(" }")
	return sb.String()
}
