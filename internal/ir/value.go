package ir

import (
	"fmt"
	"strconv"
)

// Value is anything an instruction can use as an operand.
type Value interface {
	Type() *Type
	// Ident is the operand spelling without the type, e.g. "%x", "@g", "42".
	Ident() string
}

// ConstKind enumerates constant shapes.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstNull
	ConstZero // zeroinitializer
	ConstUndef
	ConstBytes
	ConstAggregate // struct or array of Elems
)

// Const is an immutable constant. Aggregates may reference globals and
// functions through Elems.
type Const struct {
	Kind  ConstKind
	Typ   *Type
	Int   int64
	Bytes []byte
	Elems []Value
}

func (c *Const) Type() *Type { return c.Typ }

func (c *Const) Ident() string {
	switch c.Kind {
	case ConstInt:
		if c.Typ.IsIntN(1) {
			if c.Int != 0 {
				return "true"
			}
			return "false"
		}
		return strconv.FormatInt(c.Int, 10)
	case ConstNull:
		return "null"
	case ConstZero:
		return "zeroinitializer"
	case ConstUndef:
		return "undef"
	case ConstBytes:
		return "c" + quoteBytes(c.Bytes)
	case ConstAggregate:
		lbr, rbr := "{ ", " }"
		if c.Typ.Kind == TypeArray {
			lbr, rbr = "[", "]"
		}
		s := lbr
		for i, e := range c.Elems {
			if i > 0 {
				s += ", "
			}
			s += e.Type().String() + " " + e.Ident()
		}
		return s + rbr
	}
	return "?"
}

// ConstIntOf returns an integer constant truncated to the type's width.
func ConstIntOf(t *Type, v int64) *Const {
	return &Const{Kind: ConstInt, Typ: t, Int: truncInt(v, t.Bits)}
}

func NullPtr() *Const { return &Const{Kind: ConstNull, Typ: Ptr} }

func ZeroOf(t *Type) *Const { return &Const{Kind: ConstZero, Typ: t} }

func UndefOf(t *Type) *Const { return &Const{Kind: ConstUndef, Typ: t} }

// BytesOf returns a [N x i8] constant holding data.
func BytesOf(data []byte) *Const {
	return &Const{Kind: ConstBytes, Typ: ArrayOf(I8, int64(len(data))), Bytes: data}
}

func AggregateOf(t *Type, elems ...Value) *Const {
	return &Const{Kind: ConstAggregate, Typ: t, Elems: elems}
}

// IsConstInt reports whether v is an integer constant and returns it.
func IsConstInt(v Value) (int64, bool) {
	c, ok := v.(*Const)
	if !ok || c.Kind != ConstInt {
		return 0, false
	}
	return c.Int, true
}

func truncInt(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	if bits == 1 {
		return v & 1
	}
	shift := 64 - bits
	return (v << shift) >> shift
}

// Param is a formal function parameter.
type Param struct {
	Name   string
	Typ    *Type
	Parent *Func
	Index  int
}

func (p *Param) Type() *Type { return p.Typ }

func (p *Param) Ident() string {
	if p.Name == "" {
		return fmt.Sprintf("%%arg%d", p.Index)
	}
	return "%" + quoteName(p.Name)
}

// Linkage of a global symbol.
type Linkage uint8

const (
	External Linkage = iota
	Internal
	Private
	ExternalWeak
	AvailableExternally
	Weak
	LinkOnceODR
	Appending
)

var linkageNames = [...]string{
	External:            "external",
	Internal:            "internal",
	Private:             "private",
	ExternalWeak:        "extern_weak",
	AvailableExternally: "available_externally",
	Weak:                "weak",
	LinkOnceODR:         "linkonce_odr",
	Appending:           "appending",
}

func (l Linkage) String() string {
	if int(l) < len(linkageNames) {
		return linkageNames[l]
	}
	return "linkage(" + strconv.Itoa(int(l)) + ")"
}

// ParseLinkage maps a keyword back to a Linkage.
func ParseLinkage(s string) (Linkage, bool) {
	for i, n := range linkageNames {
		if n == s {
			return Linkage(i), true
		}
	}
	return External, false
}

// IsLocal reports whether the symbol is invisible outside its unit.
func (l Linkage) IsLocal() bool { return l == Internal || l == Private }
