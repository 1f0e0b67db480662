package ir

import (
	"chiabi/internal/source"
)

// Builder creates instructions at an insertion point. Consecutive inserts
// keep their relative order.
type Builder struct {
	blk    *Block
	before *Instr // nil: append at end of blk
	Loc    source.Loc
}

func NewBuilder() *Builder { return &Builder{} }

// NewBuilderBefore positions a builder right before in and copies its location.
func NewBuilderBefore(in *Instr) *Builder {
	b := &Builder{}
	b.SetInsertPoint(in)
	return b
}

// SetInsertPoint positions the builder right before in.
func (b *Builder) SetInsertPoint(in *Instr) {
	b.blk = in.Parent
	b.before = in
	b.Loc = in.Loc
}

// SetInsertPointAtEnd positions the builder at the end of blk.
func (b *Builder) SetInsertPointAtEnd(blk *Block) {
	b.blk = blk
	b.before = nil
}

func (b *Builder) Insert(in *Instr) *Instr {
	if in.Loc.IsZero() {
		in.Loc = b.Loc
	}
	return b.blk.InsertBefore(in, b.before)
}

func (b *Builder) CreateAlloca(t *Type, name string) *Instr {
	return b.Insert(&Instr{Op: OpAlloca, Name: name, Typ: Ptr, ElemType: t})
}

func (b *Builder) CreateLoad(t *Type, ptr Value, name string) *Instr {
	return b.Insert(&Instr{Op: OpLoad, Name: name, Typ: t, Operands: []Value{ptr}})
}

func (b *Builder) CreateStore(v, ptr Value) *Instr {
	return b.Insert(&Instr{Op: OpStore, Typ: Void, Operands: []Value{v, ptr}})
}

// CreateStructGEP addresses field idx of a struct of type st.
func (b *Builder) CreateStructGEP(st *Type, ptr Value, idx int, name string) *Instr {
	return b.Insert(&Instr{
		Op: OpGEP, Name: name, Typ: Ptr, ElemType: st,
		Operands: []Value{ptr, ConstIntOf(I32, 0), ConstIntOf(I32, int64(idx))},
	})
}

func (b *Builder) CreateBinary(op Opcode, x, y Value, name string) *Instr {
	return b.Insert(&Instr{Op: op, Name: name, Typ: x.Type(), Operands: []Value{x, y}})
}

func (b *Builder) CreateAdd(x, y Value, name string) *Instr {
	return b.CreateBinary(OpAdd, x, y, name)
}

func (b *Builder) CreateICmp(p Pred, x, y Value, name string) *Instr {
	return b.Insert(&Instr{Op: OpICmp, Name: name, Typ: I1, Pred: p, Operands: []Value{x, y}})
}

func (b *Builder) CreateCast(op CastOp, v Value, t *Type, name string) *Instr {
	return b.Insert(&Instr{Op: OpCast, Name: name, Typ: t, Cast: op, Operands: []Value{v}})
}

// CreateBitCast folds to v when the types already agree.
func (b *Builder) CreateBitCast(v Value, t *Type, name string) Value {
	if Equal(v.Type(), t) {
		return v
	}
	return b.CreateCast(CastBitcast, v, t, name)
}

// CreateCall calls fn. Void calls stay unnamed.
func (b *Builder) CreateCall(fn *Func, args []Value, name string) *Instr {
	return b.CreateIndirectCall(fn.Sig, fn, args, name)
}

func (b *Builder) CreateIndirectCall(sig *Type, callee Value, args []Value, name string) *Instr {
	if sig.Ret.IsVoid() {
		name = ""
	}
	return b.Insert(&Instr{
		Op: OpCall, Name: name, Typ: sig.Ret, Callee: callee, FnType: sig,
		Operands: append([]Value(nil), args...),
	})
}

func (b *Builder) CreateInvoke(fn *Func, normal, unwind *Block, args []Value, name string) *Instr {
	if fn.Sig.Ret.IsVoid() {
		name = ""
	}
	return b.Insert(&Instr{
		Op: OpInvoke, Name: name, Typ: fn.Sig.Ret, Callee: fn, FnType: fn.Sig,
		Operands: append([]Value(nil), args...), Succs: []*Block{normal, unwind},
	})
}

func (b *Builder) CreateLandingPad(t *Type, cleanup bool, name string) *Instr {
	return b.Insert(&Instr{Op: OpLandingPad, Name: name, Typ: t, Cleanup: cleanup})
}

func (b *Builder) CreateRet(v Value) *Instr {
	in := &Instr{Op: OpRet, Typ: Void}
	if v != nil {
		in.Operands = []Value{v}
	}
	return b.Insert(in)
}

func (b *Builder) CreateBr(dst *Block) *Instr {
	return b.Insert(&Instr{Op: OpBr, Typ: Void, Succs: []*Block{dst}})
}

func (b *Builder) CreateCondBr(c Value, then, els *Block) *Instr {
	return b.Insert(&Instr{Op: OpCondBr, Typ: Void, Operands: []Value{c}, Succs: []*Block{then, els}})
}

func (b *Builder) CreateResume(v Value) *Instr {
	return b.Insert(&Instr{Op: OpResume, Typ: Void, Operands: []Value{v}})
}
