package ir

import (
	"slices"
	"strings"
)

// Attr is a function attribute bit.
type Attr uint16

const (
	AttrNoUnwind Attr = 1 << iota
	AttrStealable
	AttrNoInline
	AttrAlwaysInline
	AttrUnnamedAddr
)

var attrNames = []struct {
	attr Attr
	name string
}{
	{AttrNoUnwind, "nounwind"},
	{AttrStealable, "stealable"},
	{AttrNoInline, "noinline"},
	{AttrAlwaysInline, "alwaysinline"},
	{AttrUnnamedAddr, "unnamed_addr"},
}

func (a Attr) Has(x Attr) bool { return a&x != 0 }

func (a Attr) String() string {
	var parts []string
	for _, n := range attrNames {
		if a.Has(n.attr) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseAttr maps a keyword to its attribute bit.
func ParseAttr(s string) (Attr, bool) {
	for _, n := range attrNames {
		if n.name == s {
			return n.attr, true
		}
	}
	return 0, false
}

// Func is a function declaration or definition.
type Func struct {
	Name        string
	Sig         *Type
	Params      []*Param
	Blocks      []*Block
	Linkage     Linkage
	Attrs       Attr
	Personality Value
	Parent      *Module
}

func (f *Func) Type() *Type   { return Ptr }
func (f *Func) Ident() string { return "@" + quoteName(f.Name) }

func (f *Func) IsDeclaration() bool { return len(f.Blocks) == 0 }

func (f *Func) Intrinsic() IntrinsicID { return LookupIntrinsic(f.Name) }

// DoesNotThrow reports whether calls to f can never unwind.
func (f *Func) DoesNotThrow() bool { return f.Attrs.Has(AttrNoUnwind) }

func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock appends an empty block.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{Name: name, Parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewBlockAfter inserts an empty block right after pos.
func (f *Func) NewBlockAfter(name string, pos *Block) *Block {
	b := &Block{Name: name, Parent: f}
	idx := slices.Index(f.Blocks, pos)
	if idx < 0 {
		f.Blocks = append(f.Blocks, b)
	} else {
		f.Blocks = slices.Insert(f.Blocks, idx+1, b)
	}
	return b
}

// RemoveBlock unlinks b. Phi entries naming b in its successors are dropped.
func (f *Func) RemoveBlock(b *Block) {
	for _, s := range b.Succs() {
		for _, phi := range s.Phis() {
			phi.RemoveIncoming(b)
		}
	}
	f.Blocks = slices.DeleteFunc(f.Blocks, func(x *Block) bool { return x == b })
	b.Parent = nil
}

// Instrs iterates all instructions in block order.
func (f *Func) Instrs(yield func(*Instr) bool) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if !yield(in) {
				return
			}
		}
	}
}

// FindInstr returns the first instruction named name.
func (f *Func) FindInstr(name string) *Instr {
	for in := range f.Instrs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

func (f *Func) BlockByName(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Users lists instructions that use v as an operand, callee or successor.
func (f *Func) Users(v Value) []*Instr {
	var out []*Instr
	for in := range f.Instrs {
		if in.Uses(v) {
			out = append(out, in)
		}
	}
	return out
}

// ReplaceAllUsesWith rewrites every use of old inside f.
func (f *Func) ReplaceAllUsesWith(old, repl Value) {
	f.ReplaceUsesExcept(old, repl, nil)
}

// ReplaceUsesExcept is ReplaceAllUsesWith that leaves except untouched.
func (f *Func) ReplaceUsesExcept(old, repl Value, except *Instr) {
	if f.Personality != nil {
		f.Personality = replaceInValue(f.Personality, old, repl)
	}
	for in := range f.Instrs {
		if in != except {
			in.replaceUses(old, repl)
		}
	}
}

// replaceInValue returns v with old substituted, rebuilding aggregates.
func replaceInValue(v, old, repl Value) Value {
	if v == old {
		return repl
	}
	c, ok := v.(*Const)
	if !ok || c.Kind != ConstAggregate {
		return v
	}
	var elems []Value
	for i, e := range c.Elems {
		ne := replaceInValue(e, old, repl)
		if ne != e && elems == nil {
			elems = slices.Clone(c.Elems)
		}
		if elems != nil {
			elems[i] = ne
		}
	}
	if elems == nil {
		return c
	}
	return AggregateOf(c.Typ, elems...)
}

// Block is a basic block. The terminator is the last instruction.
type Block struct {
	Name   string
	Instrs []*Instr
	Parent *Func
}

func (b *Block) Type() *Type   { return Label }
func (b *Block) Ident() string { return "%" + quoteName(b.Name) }

// Terminator returns the last instruction when it is a terminator.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

func (b *Block) Succs() []*Block {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	return t.Succs
}

func (b *Block) Phis() []*Instr {
	var out []*Instr
	for _, in := range b.Instrs {
		if in.Op != OpPhi {
			break
		}
		out = append(out, in)
	}
	return out
}

// FirstNonPhi returns the first instruction that is not a phi.
func (b *Block) FirstNonPhi() *Instr {
	for _, in := range b.Instrs {
		if in.Op != OpPhi {
			return in
		}
	}
	return nil
}

// FirstNonPhiOrDbgOrLifetime returns the first instruction that is not a
// phi, a debug intrinsic or a lifetime marker.
func (b *Block) FirstNonPhiOrDbgOrLifetime() *Instr {
	for _, in := range b.Instrs {
		switch {
		case in.Op == OpPhi:
		case in.Op == OpCall && in.Intrinsic().isDbgOrLifetime():
		default:
			return in
		}
	}
	return nil
}

// FirstInsertionPt returns the first instruction after phis and landingpads.
func (b *Block) FirstInsertionPt() *Instr {
	for _, in := range b.Instrs {
		if in.Op != OpPhi && in.Op != OpLandingPad {
			return in
		}
	}
	return nil
}

func (b *Block) IsLandingPad() bool {
	in := b.FirstNonPhi()
	return in != nil && in.Op == OpLandingPad
}

func (b *Block) IndexOf(in *Instr) int {
	return slices.Index(b.Instrs, in)
}

// Append adds in at the end of b.
func (b *Block) Append(in *Instr) *Instr {
	in.Parent = b
	b.Instrs = append(b.Instrs, in)
	return in
}

// InsertBefore puts in right before pos; nil pos appends.
func (b *Block) InsertBefore(in, pos *Instr) *Instr {
	idx := -1
	if pos != nil {
		idx = b.IndexOf(pos)
	}
	if idx < 0 {
		return b.Append(in)
	}
	in.Parent = b
	b.Instrs = slices.Insert(b.Instrs, idx, in)
	return in
}

// Remove unlinks in from b.
func (b *Block) Remove(in *Instr) {
	b.Instrs = slices.DeleteFunc(b.Instrs, func(x *Instr) bool { return x == in })
	in.Parent = nil
}
