package ir

import (
	"fmt"
	"maps"
	"slices"
)

// ValueMap maps original values (including blocks) to their clones.
type ValueMap map[Value]Value

// Remap returns the clone of v: the mapped value, a rebuilt aggregate
// whose elements were mapped, or v itself.
func (vm ValueMap) Remap(v Value) Value {
	if v == nil {
		return nil
	}
	if nv, ok := vm[v]; ok {
		return nv
	}
	c, ok := v.(*Const)
	if !ok || c.Kind != ConstAggregate {
		return v
	}
	var elems []Value
	for i, e := range c.Elems {
		ne := vm.Remap(e)
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

func (vm ValueMap) block(b *Block) *Block {
	if nb, ok := vm[b].(*Block); ok {
		return nb
	}
	return b
}

// CloneInstr returns a detached copy of in with the same operands.
func CloneInstr(in *Instr) *Instr {
	c := *in
	c.Parent = nil
	c.Operands = slices.Clone(in.Operands)
	c.Succs = slices.Clone(in.Succs)
	c.Incoming = slices.Clone(in.Incoming)
	if in.Hints != nil {
		c.Hints = maps.Clone(in.Hints)
	}
	return &c
}

// RemapInstr rewrites operands, callee, successors and phi blocks of in
// through vm.
func RemapInstr(in *Instr, vm ValueMap) {
	in.Callee = vm.Remap(in.Callee)
	for i, op := range in.Operands {
		in.Operands[i] = vm.Remap(op)
	}
	for i, s := range in.Succs {
		in.Succs[i] = vm.block(s)
	}
	for i, s := range in.Incoming {
		in.Incoming[i] = vm.block(s)
	}
}

// CloneBlocks copies blocks into dst, appending them in order. Every block
// and instruction is recorded in vm before operands are remapped, so
// forward references resolve. Values the caller wants substituted must be
// in vm beforehand.
func CloneBlocks(dst *Func, blocks []*Block, vm ValueMap, suffix string) []*Block {
	out := make([]*Block, 0, len(blocks))
	for _, b := range blocks {
		nb := dst.NewBlock(b.Name + suffix)
		vm[b] = nb
		out = append(out, nb)
	}
	var cloned []*Instr
	for i, b := range blocks {
		for _, in := range b.Instrs {
			c := CloneInstr(in)
			if c.Name != "" {
				c.Name += suffix
			}
			out[i].Append(c)
			vm[in] = c
			cloned = append(cloned, c)
		}
	}
	for _, c := range cloned {
		RemapInstr(c, vm)
	}
	return out
}

// CloneFunctionInto gives the declaration dst a copy of src's body. Params
// of src are mapped to those of dst unless vm already maps them.
func CloneFunctionInto(dst, src *Func, vm ValueMap) error {
	if !dst.IsDeclaration() {
		return fmt.Errorf("clone @%s: destination already has a body", dst.Name)
	}
	if !Equal(dst.Sig, src.Sig) {
		return fmt.Errorf("clone @%s: signature %s does not match %s", dst.Name, dst.Sig, src.Sig)
	}
	for i, p := range src.Params {
		if _, ok := vm[p]; !ok {
			vm[p] = dst.Params[i]
		}
		dst.Params[i].Name = p.Name
	}
	dst.Attrs |= src.Attrs
	dst.Personality = vm.Remap(src.Personality)
	CloneBlocks(dst, src.Blocks, vm, "")
	return nil
}

// ImportType returns t with every named struct replaced by m's struct of
// the same name. Missing structs are created; an opaque one in m takes the
// body of t.
func (m *Module) ImportType(t *Type) *Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case TypeStruct:
		if t.Name != "" {
			dst := m.StructType(t.Name)
			if dst != t && dst.Opaque && !t.Opaque {
				fields := make([]*Type, len(t.Fields))
				dst.SetBody(fields...)
				for i, f := range t.Fields {
					fields[i] = m.ImportType(f)
				}
			}
			return dst
		}
		fields, changed := m.importTypes(t.Fields)
		if !changed {
			return t
		}
		return StructOf(fields...)
	case TypeArray:
		e := m.ImportType(t.Elem)
		if e == t.Elem {
			return t
		}
		return ArrayOf(e, t.Len)
	case TypeFunc:
		ret := m.ImportType(t.Ret)
		params, changed := m.importTypes(t.Params)
		if ret == t.Ret && !changed {
			return t
		}
		nt := FuncOf(ret, params...)
		nt.Variadic = t.Variadic
		return nt
	}
	return t
}

func (m *Module) importTypes(ts []*Type) ([]*Type, bool) {
	out := make([]*Type, len(ts))
	changed := false
	for i, t := range ts {
		out[i] = m.ImportType(t)
		changed = changed || out[i] != t
	}
	return out, changed
}

// ImportConst rebuilds constant c with types owned by m.
func (m *Module) ImportConst(v Value) Value {
	c, ok := v.(*Const)
	if !ok {
		return v
	}
	t := m.ImportType(c.Typ)
	var elems []Value
	for i, e := range c.Elems {
		ne := m.ImportConst(e)
		if ne != e && elems == nil {
			elems = slices.Clone(c.Elems)
		}
		if elems != nil {
			elems[i] = ne
		}
	}
	if t == c.Typ && elems == nil {
		return c
	}
	nc := *c
	nc.Typ = t
	if elems != nil {
		nc.Elems = elems
	}
	return &nc
}

// ImportFuncTypes rewrites the types used inside f, which must belong to
// m, after its body was cloned from another module.
func (m *Module) ImportFuncTypes(f *Func) {
	for in := range f.Instrs {
		in.Typ = m.ImportType(in.Typ)
		in.ElemType = m.ImportType(in.ElemType)
		in.FnType = m.ImportType(in.FnType)
		for i, op := range in.Operands {
			in.Operands[i] = m.ImportConst(op)
		}
	}
}
