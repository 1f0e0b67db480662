package tapir

import (
	"fmt"

	"chiabi/internal/ir"
)

// TapirLoop is a natural loop whose body is spawned once per iteration:
//
//	preheader: br header
//	header:    %iv = phi [start, preheader], [next, latch]
//	           detach within %sr, label body, label latch
//	body:      ... reattach within %sr, label latch
//	latch:     %next = add %iv, 1
//	           %c = icmp pred %next, limit
//	           br %c, header, exit
type TapirLoop struct {
	Loop      *ir.Loop
	Func      *ir.Func
	Preheader *ir.Block
	Header    *ir.Block
	Latch     *ir.Block
	Exit      *ir.Block
	// IV is the primary induction variable, stepping by one.
	IV        *ir.Instr
	Start     ir.Value
	Limit     ir.Value
	Condition *ir.Instr
	Detach    *ir.Instr
}

// SyncRegion returns the region the loop's iterations are spawned in.
func (tl *TapirLoop) SyncRegion() ir.Value { return tl.Detach.SyncRegion() }

// Strategy returns the spawning strategy hint on the latch branch.
func (tl *TapirLoop) Strategy() string {
	return tl.Latch.Terminator().Hint(HintStrategy)
}

// ExitSync returns the sync terminating the exit block when it waits on
// the loop's region, or nil.
func (tl *TapirLoop) ExitSync() *ir.Instr {
	t := tl.Exit.Terminator()
	if t != nil && t.Op == ir.OpSync && t.SyncRegion() == tl.SyncRegion() {
		return t
	}
	return nil
}

// RecognizeTapirLoop matches l against the canonical Tapir loop shape.
func RecognizeTapirLoop(l *ir.Loop) (*TapirLoop, bool) {
	tl := &TapirLoop{
		Loop:      l,
		Func:      l.Header.Parent,
		Header:    l.Header,
		Preheader: l.Preheader(),
		Latch:     l.Latch(),
		Exit:      l.ExitBlock(),
	}
	if tl.Preheader == nil || tl.Latch == nil || tl.Exit == nil {
		return nil, false
	}
	det := l.Header.Terminator()
	if det == nil || det.Op != ir.OpDetach || len(det.Succs) != 2 || !l.Contains(det.Succs[1]) {
		return nil, false
	}
	tl.Detach = det

	br := tl.Latch.Terminator()
	if br == nil || br.Op != ir.OpCondBr {
		return nil, false
	}
	if br.Succs[0] != tl.Header && br.Succs[1] != tl.Header {
		return nil, false
	}
	cond, ok := br.Operands[0].(*ir.Instr)
	if !ok || cond.Op != ir.OpICmp {
		return nil, false
	}
	tl.Condition = cond

	for _, phi := range l.Header.Phis() {
		next, ok := phi.IncomingFor(tl.Latch).(*ir.Instr)
		if !ok || next.Op != ir.OpAdd || len(phi.Incoming) != 2 {
			continue
		}
		var step ir.Value
		switch {
		case next.Operands[0] == phi:
			step = next.Operands[1]
		case next.Operands[1] == phi:
			step = next.Operands[0]
		default:
			continue
		}
		if s, ok := ir.IsConstInt(step); !ok || s != 1 {
			continue
		}
		var limit ir.Value
		switch {
		case cond.Operands[0] == next || cond.Operands[0] == phi:
			limit = cond.Operands[1]
		case cond.Operands[1] == next || cond.Operands[1] == phi:
			limit = cond.Operands[0]
		default:
			continue
		}
		if def, ok := limit.(*ir.Instr); ok && l.Contains(def.Parent) {
			continue
		}
		tl.IV, tl.Start, tl.Limit = phi, phi.IncomingFor(tl.Preheader), limit
		return tl, true
	}
	return nil, false
}

// FindTapirLoops lists the Tapir loops of li, outermost first.
func FindTapirLoops(li *ir.LoopInfo) []*TapirLoop {
	var out []*TapirLoop
	for _, l := range li.Preorder() {
		if tl, ok := RecognizeTapirLoop(l); ok {
			out = append(out, tl)
		}
	}
	return out
}

// OutlineLoop moves tl into a new function of dest taking (start, limit,
// args...) and replaces the loop in the host with a call to it followed by
// a branch to the exit block. The returned map takes host values and
// blocks to their copies; the preheader maps to the outlined entry and the
// host sync region to a fresh region in the outline.
func OutlineLoop(tl *TapirLoop, dest *ir.Module, vm ir.ValueMap, cb InputsCallback) (*TaskOutlineInfo, error) {
	f := tl.Func
	blocks := tl.Loop.Blocks
	skip := func(in *ir.Instr) bool {
		return in.Op == ir.OpDetach || in.Op == ir.OpReattach || in == tl.IV
	}
	raw, err := regionInputs(f, blocks, skip)
	if err != nil {
		return nil, fmt.Errorf("outline loop %s of @%s: %w", tl.Header.Ident(), f.Name, err)
	}
	var inputs []ir.Value
	for _, v := range raw {
		if v != tl.Limit && v != tl.SyncRegion() {
			inputs = append(inputs, v)
		}
	}

	host := ir.NewBuilderBefore(tl.Preheader.Terminator())
	prologue := &ir.Block{Name: tl.Preheader.Name}
	args := inputs
	if cb != nil {
		load := ir.NewBuilder()
		load.SetInsertPointAtEnd(prologue)
		allocas := ir.NewBuilderBefore(f.Entry().FirstInsertionPt())
		args = cb(f, inputs, vm, host, load, allocas)
	}

	ivTy := tl.IV.Type()
	params := []*ir.Type{ivTy, tl.Limit.Type()}
	for _, a := range args {
		params = append(params, dest.ImportType(a.Type()))
	}
	name := dest.UniqueName(fmt.Sprintf("%s.outline_%s.ls1", f.Name, tl.Header.Name))
	out, err := dest.NewFunc(name, ir.FuncOf(ir.Void, params...))
	if err != nil {
		return nil, err
	}
	out.Params[0].Name = tl.IV.Name + ".start"
	out.Params[1].Name = "end"
	for i, a := range args {
		out.Params[i+2].Name = InputName(a, i)
		vm[a] = out.Params[i+2]
	}
	vm[tl.Limit] = out.Params[LimitArgIndex]

	entry := out.NewBlock(tl.Preheader.Name)
	vm[tl.Preheader] = entry
	for _, in := range prologue.Instrs {
		entry.Append(in)
	}
	eb := ir.NewBuilder()
	eb.SetInsertPointAtEnd(entry)
	srStart, err := dest.Intrinsic(ir.SyncRegionStart, nil)
	if err != nil {
		return nil, err
	}
	vm[tl.SyncRegion()] = eb.CreateCall(srStart, nil, "syncreg")

	ir.CloneBlocks(out, blocks, vm, "")
	for _, in := range entry.Instrs {
		ir.RemapInstr(in, vm)
	}
	exit := out.NewBlock(tl.Exit.Name)
	vm[tl.Exit] = exit
	eb.CreateBr(vm[tl.Header].(*ir.Block))
	xb := ir.NewBuilder()
	xb.SetInsertPointAtEnd(exit)
	xb.CreateRet(nil)

	for _, b := range blocks {
		for _, in := range b.Instrs {
			c := vm[in].(*ir.Instr)
			switch in.Op {
			case ir.OpDetach:
				serialize(c, c.Succs[0])
			case ir.OpReattach:
				if in.SyncRegion() == tl.SyncRegion() {
					serialize(c, c.Succs[0])
				}
			case ir.OpCondBr, ir.OpBr:
				c.ReplaceSucc(tl.Exit, exit)
			}
		}
	}
	vm[tl.IV].(*ir.Instr).SetIncomingFor(entry, out.Params[0])
	dest.ImportFuncTypes(out)

	callArgs := append([]ir.Value{tl.Start, tl.Limit}, args...)
	call := host.CreateCall(out, callArgs, "")
	tl.Preheader.Terminator().ReplaceSucc(tl.Header, tl.Exit)
	for _, phi := range tl.Exit.Phis() {
		if v := phi.IncomingFor(tl.Latch); v != nil {
			phi.AddIncoming(v, tl.Preheader)
		}
	}
	for _, b := range blocks {
		f.RemoveBlock(b)
	}
	return &TaskOutlineInfo{
		Outline:   out,
		ReplCall:  call,
		InputSet:  callArgs,
		ReplStart: tl.Preheader,
	}, nil
}

// serialize replaces a detach or reattach with a branch to dst.
func serialize(t *ir.Instr, dst *ir.Block) {
	b := ir.NewBuilderBefore(t)
	b.CreateBr(dst)
	t.Erase()
}
