package tapir

import (
	"strconv"

	"chiabi/internal/ir"
)

// ExitKind tells how control leaves a function.
type ExitKind uint8

const (
	NormalReturn ExitKind = iota
	Unwind
)

func (k ExitKind) String() string {
	if k == Unwind {
		return "unwind"
	}
	return "return"
}

// Exit is one terminator through which control leaves a function.
type Exit struct {
	Kind ExitKind
	Term *ir.Instr
}

// DefaultPersonality is installed when promotion needs a personality and
// the function has none.
const DefaultPersonality = "__gcc_personality_v0"

// EscapeExits lists every reachable ret and resume of f. With promote set,
// calls that may throw are first turned into invokes unwinding to a new
// cleanup block named cleanup, and its resume is listed last.
func EscapeExits(f *ir.Func, cleanup string, promote bool) ([]Exit, error) {
	reach := ir.Reachable(f)
	var exits []Exit
	var throwing []*ir.Instr
	for _, b := range f.Blocks {
		if !reach[b] {
			continue
		}
		for _, in := range b.Instrs {
			if in.Op == ir.OpCall && in.MayThrow() && in.Intrinsic() == ir.NotIntrinsic {
				throwing = append(throwing, in)
			}
		}
		switch t := b.Terminator(); {
		case t == nil:
		case t.Op == ir.OpRet:
			exits = append(exits, Exit{Kind: NormalReturn, Term: t})
		case t.Op == ir.OpResume:
			exits = append(exits, Exit{Kind: Unwind, Term: t})
		}
	}
	if !promote || len(throwing) == 0 {
		return exits, nil
	}

	if f.Personality == nil {
		sig := &ir.Type{Kind: ir.TypeFunc, Ret: ir.I32, Variadic: true}
		pers, err := f.Parent.GetOrInsertFunc(DefaultPersonality, sig)
		if err != nil {
			return nil, err
		}
		f.Personality = pers
	}
	pad := f.NewBlock(uniqueBlockName(f, cleanup))
	b := ir.NewBuilder()
	b.SetInsertPointAtEnd(pad)
	lp := b.CreateLandingPad(ir.StructOf(ir.Ptr, ir.I32), true, "lpad")
	resume := b.CreateResume(lp)

	for _, call := range throwing {
		promoteToInvoke(call, pad)
	}
	exits = append(exits, Exit{Kind: Unwind, Term: resume})
	return exits, nil
}

// promoteToInvoke splits the block after call and turns call into an
// invoke whose normal edge continues there.
func promoteToInvoke(call *ir.Instr, unwind *ir.Block) {
	blk := call.Parent
	next := blk.Instrs[blk.IndexOf(call)+1]
	base := call.Name
	if base == "" {
		base = blk.Name
	}
	tail := ir.SplitBlockBefore(next, uniqueBlockName(blk.Parent, base+".noexc"))
	blk.Terminator().Erase()
	call.Op = ir.OpInvoke
	call.Succs = []*ir.Block{tail, unwind}
}

func uniqueBlockName(f *ir.Func, base string) string {
	if f.BlockByName(base) == nil {
		return base
	}
	for i := 1; ; i++ {
		name := base + "." + strconv.Itoa(i)
		if f.BlockByName(name) == nil {
			return name
		}
	}
}
