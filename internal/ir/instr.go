package ir

import (
	"slices"

	"chiabi/internal/source"
)

// Opcode selects the instruction variant.
type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpICmp
	OpSelect
	OpCast
	OpCall
	OpPhi
	OpLandingPad

	// terminators
	OpRet
	OpBr
	OpCondBr
	OpInvoke
	OpResume
	OpUnreachable
	OpDetach
	OpReattach
	OpSync
)

var opNames = [...]string{
	OpInvalid:     "invalid",
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpGEP:         "getelementptr",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpUDiv:        "udiv",
	OpSDiv:        "sdiv",
	OpURem:        "urem",
	OpSRem:        "srem",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpLShr:        "lshr",
	OpAShr:        "ashr",
	OpICmp:        "icmp",
	OpSelect:      "select",
	OpCast:        "cast",
	OpCall:        "call",
	OpPhi:         "phi",
	OpLandingPad:  "landingpad",
	OpRet:         "ret",
	OpBr:          "br",
	OpCondBr:      "br",
	OpInvoke:      "invoke",
	OpResume:      "resume",
	OpUnreachable: "unreachable",
	OpDetach:      "detach",
	OpReattach:    "reattach",
	OpSync:        "sync",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "op?"
}

func (op Opcode) IsTerminator() bool { return op >= OpRet }

func (op Opcode) IsBinary() bool { return op >= OpAdd && op <= OpAShr }

// BinaryOpcode maps a mnemonic to a binary opcode.
func BinaryOpcode(s string) (Opcode, bool) {
	for op := OpAdd; op <= OpAShr; op++ {
		if opNames[op] == s {
			return op, true
		}
	}
	return OpInvalid, false
}

// Pred is an integer comparison predicate.
type Pred uint8

const (
	PredEQ Pred = iota
	PredNE
	PredUGT
	PredUGE
	PredULT
	PredULE
	PredSGT
	PredSGE
	PredSLT
	PredSLE
)

var predNames = [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}

func (p Pred) String() string { return predNames[p] }

func ParsePred(s string) (Pred, bool) {
	i := slices.Index(predNames[:], s)
	return Pred(max(i, 0)), i >= 0
}

// Inverse returns the predicate of the negated comparison.
func (p Pred) Inverse() Pred {
	switch p {
	case PredEQ:
		return PredNE
	case PredNE:
		return PredEQ
	case PredUGT:
		return PredULE
	case PredUGE:
		return PredULT
	case PredULT:
		return PredUGE
	case PredULE:
		return PredUGT
	case PredSGT:
		return PredSLE
	case PredSGE:
		return PredSLT
	case PredSLT:
		return PredSGE
	case PredSLE:
		return PredSGT
	}
	return p
}

// Swapped returns the predicate with operands exchanged.
func (p Pred) Swapped() Pred {
	switch p {
	case PredUGT:
		return PredULT
	case PredUGE:
		return PredULE
	case PredULT:
		return PredUGT
	case PredULE:
		return PredUGE
	case PredSGT:
		return PredSLT
	case PredSGE:
		return PredSLE
	case PredSLT:
		return PredSGT
	case PredSLE:
		return PredSGE
	}
	return p
}

// CastOp is the conversion performed by OpCast.
type CastOp uint8

const (
	CastBitcast CastOp = iota
	CastTrunc
	CastZExt
	CastSExt
	CastPtrToInt
	CastIntToPtr
)

var castNames = [...]string{"bitcast", "trunc", "zext", "sext", "ptrtoint", "inttoptr"}

func (c CastOp) String() string { return castNames[c] }

func ParseCast(s string) (CastOp, bool) {
	i := slices.Index(castNames[:], s)
	return CastOp(max(i, 0)), i >= 0
}

// Instr is one instruction. Operand layout per opcode:
//
//	alloca      Operands: [arraySize]?  ElemType: allocated type
//	load        Operands: [ptr]         Typ: loaded type
//	store       Operands: [value, ptr]
//	gep         Operands: [base, idx...] ElemType: source element type
//	binary/icmp Operands: [lhs, rhs]
//	select      Operands: [cond, a, b]
//	cast        Operands: [value]
//	call        Operands: args          Callee, FnType
//	phi         Operands: values        Incoming: blocks, pairwise
//	ret         Operands: [value]?
//	br          Succs: [dest]
//	condbr      Operands: [cond]        Succs: [then, else]
//	invoke      Operands: args          Succs: [normal, unwind]
//	resume      Operands: [value]
//	detach      Operands: [syncregion]  Succs: [detached, continue, unwind?]
//	reattach    Operands: [syncregion]  Succs: [continue]
//	sync        Operands: [syncregion]  Succs: [continue]
type Instr struct {
	Op       Opcode
	Name     string
	Typ      *Type
	Operands []Value
	Succs    []*Block
	Incoming []*Block
	Callee   Value
	FnType   *Type
	Pred     Pred
	Cast     CastOp
	ElemType *Type
	Align    int
	Cleanup  bool
	Hints    map[string]string
	Loc      source.Loc
	Parent   *Block
}

func (in *Instr) Type() *Type {
	if in.Typ == nil {
		return Void
	}
	return in.Typ
}

func (in *Instr) Ident() string {
	if in.Name == "" {
		return "%<tmp>"
	}
	return "%" + quoteName(in.Name)
}

func (in *Instr) IsTerminator() bool { return in.Op.IsTerminator() }

// IsCall reports call and invoke.
func (in *Instr) IsCall() bool { return in.Op == OpCall || in.Op == OpInvoke }

// CalledFunc returns the direct callee, or nil.
func (in *Instr) CalledFunc() *Func {
	if !in.IsCall() {
		return nil
	}
	f, _ := in.Callee.(*Func)
	return f
}

// Intrinsic classifies the callee of a call.
func (in *Instr) Intrinsic() IntrinsicID {
	if f := in.CalledFunc(); f != nil {
		return f.Intrinsic()
	}
	return NotIntrinsic
}

// Func returns the enclosing function, if linked.
func (in *Instr) Func() *Func {
	if in.Parent == nil {
		return nil
	}
	return in.Parent.Parent
}

// MayThrow reports calls whose callee is not known to be nounwind.
func (in *Instr) MayThrow() bool {
	if !in.IsCall() {
		return in.Op == OpResume
	}
	f := in.CalledFunc()
	return f == nil || !f.DoesNotThrow()
}

// SyncRegion returns the token operand of detach/reattach/sync.
func (in *Instr) SyncRegion() Value {
	switch in.Op {
	case OpDetach, OpReattach, OpSync:
		return in.Operands[0]
	}
	return nil
}

// Erase unlinks the instruction from its block.
func (in *Instr) Erase() {
	if in.Parent != nil {
		in.Parent.Remove(in)
	}
}

// Uses reports whether v appears among operands, callee, successors or
// phi blocks, including inside constant aggregates.
func (in *Instr) Uses(v Value) bool {
	if in.Callee != nil && valueMentions(in.Callee, v) {
		return true
	}
	for _, op := range in.Operands {
		if valueMentions(op, v) {
			return true
		}
	}
	if b, ok := v.(*Block); ok {
		return slices.Contains(in.Succs, b) || slices.Contains(in.Incoming, b)
	}
	return false
}

func valueMentions(op, v Value) bool {
	if op == v {
		return true
	}
	if c, ok := op.(*Const); ok && c.Kind == ConstAggregate {
		for _, e := range c.Elems {
			if valueMentions(e, v) {
				return true
			}
		}
	}
	return false
}

func (in *Instr) replaceUses(old, repl Value) {
	if in.Callee != nil {
		in.Callee = replaceInValue(in.Callee, old, repl)
	}
	for i, op := range in.Operands {
		in.Operands[i] = replaceInValue(op, old, repl)
	}
	ob, ok1 := old.(*Block)
	nb, ok2 := repl.(*Block)
	if ok1 && ok2 {
		for i, s := range in.Succs {
			if s == ob {
				in.Succs[i] = nb
			}
		}
		for i, s := range in.Incoming {
			if s == ob {
				in.Incoming[i] = nb
			}
		}
	}
}

// IncomingFor returns the phi value flowing in from b.
func (in *Instr) IncomingFor(b *Block) Value {
	i := slices.Index(in.Incoming, b)
	if i < 0 {
		return nil
	}
	return in.Operands[i]
}

// SetIncomingFor replaces (or adds) the value flowing in from b.
func (in *Instr) SetIncomingFor(b *Block, v Value) {
	if i := slices.Index(in.Incoming, b); i >= 0 {
		in.Operands[i] = v
		return
	}
	in.AddIncoming(v, b)
}

func (in *Instr) AddIncoming(v Value, b *Block) {
	in.Operands = append(in.Operands, v)
	in.Incoming = append(in.Incoming, b)
}

// RemoveIncoming drops every entry for b.
func (in *Instr) RemoveIncoming(b *Block) {
	for i := len(in.Incoming) - 1; i >= 0; i-- {
		if in.Incoming[i] == b {
			in.Incoming = slices.Delete(in.Incoming, i, i+1)
			in.Operands = slices.Delete(in.Operands, i, i+1)
		}
	}
}

// ReplaceSucc rewires every edge to old so it targets repl.
func (in *Instr) ReplaceSucc(old, repl *Block) {
	for i, s := range in.Succs {
		if s == old {
			in.Succs[i] = repl
		}
	}
}

// Hint returns an instruction hint value.
func (in *Instr) Hint(key string) string {
	return in.Hints[key]
}

func (in *Instr) SetHint(key, value string) {
	if in.Hints == nil {
		in.Hints = make(map[string]string)
	}
	in.Hints[key] = value
}
