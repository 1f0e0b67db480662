package chiabi

import (
	"fortio.org/safecast"

	"chiabi/internal/ir"
	"chiabi/internal/tapir"
)

// LowerGrainsize replaces the uses of a llvm.tapir.loop.grainsize call
// with a call to the runtime grainsize query of the same width. The
// caller erases the intrinsic call.
func (t *Target) LowerGrainsize(call *ir.Instr) (ir.Value, error) {
	slot, ok := widthSlot(call.Type())
	if !ok {
		return nil, t.fatal(call.Func(), "no runtime grainsize function for %s", call.Type())
	}
	b := ir.NewBuilderBefore(call)
	gs := b.CreateCall(t.rt.grainsize[slot], []ir.Value{call.Operands[0]}, call.Name+".rts")
	call.Func().ReplaceAllUsesWith(call, gs)
	return gs, nil
}

// LowerSync turns a sync into a call to the runtime sync. A sync whose
// continuation starts with an llvm.sync.unwind invoke, past any phis and
// debug or lifetime markers, becomes an invoke with that invoke's
// destinations. Functions without a frame have nothing to wait for and just
// branch to the continuation.
func (t *Target) LowerSync(sync *ir.Instr) error {
	f := sync.Func()
	blk := sync.Parent
	cont := sync.Succs[0]
	b := ir.NewBuilderBefore(sync)

	sf := t.frames[f]
	if sf == nil {
		b.CreateBr(cont)
		sync.Erase()
		return nil
	}

	var unwind *ir.Instr
	if first := cont.FirstNonPhiOrDbgOrLifetime(); first != nil && first.Op == ir.OpInvoke && first.Intrinsic() == ir.SyncUnwind {
		unwind = first
	}

	var call *ir.Instr
	switch {
	case unwind != nil:
		normal, lpad := unwind.Succs[0], unwind.Succs[1]
		call = b.CreateInvoke(t.rt.sync, normal, lpad, []ir.Value{sf}, "")
		for _, dst := range []*ir.Block{normal, lpad} {
			for _, phi := range dst.Phis() {
				phi.AddIncoming(phi.IncomingFor(unwind.Parent), blk)
			}
		}
	case f.DoesNotThrow():
		call = b.CreateCall(t.rt.syncNoThrow, []ir.Value{sf}, "")
		b.CreateBr(cont)
	default:
		call = b.CreateCall(t.rt.sync, []ir.Value{sf}, "")
		b.CreateBr(cont)
	}
	call.Loc = sync.Loc
	sync.Erase()
	f.Attrs |= ir.AttrStealable
	return nil
}

// LowerSpawnSite replaces the call of an outlined task with a call to
// __rts_spawn passing the caller's frame, the task, its argument block and
// the block's size and preferred alignment. An invoke keeps its
// destinations.
func (t *Target) LowerSpawnSite(toi *tapir.TaskOutlineInfo, _ *ir.DomTree) error {
	call := toi.ReplCall
	f := call.Func()
	sf := t.frames[f]
	if sf == nil {
		return t.fatal(f, "spawn of @%s in a function without a frame", toi.Outline.Name)
	}
	if len(call.Operands) == 0 {
		return t.fatal(f, "spawn of @%s passes no argument block", toi.Outline.Name)
	}
	args, ok := call.Operands[0].(*ir.Instr)
	if !ok || args.Op != ir.OpAlloca {
		return t.fatal(f, "argument block of @%s is not an alloca", toi.Outline.Name)
	}
	size, err := t.layout.AllocationSize(args)
	if err != nil {
		return t.fatal(f, "size of argument block %s: %v", args.Ident(), err)
	}
	align, err := t.layout.PrefAlignOf(args.ElemType)
	if err != nil {
		return t.fatal(f, "alignment of argument block %s: %v", args.Ident(), err)
	}
	isize, err := safecast.Conv[int64](size)
	if err != nil {
		return t.fatal(f, "size of argument block %s: %v", args.Ident(), err)
	}

	b := ir.NewBuilderBefore(call)
	ops := []ir.Value{
		sf,
		b.CreateBitCast(call.Callee, ir.Ptr, ""),
		b.CreateBitCast(args, ir.Ptr, ""),
		ir.ConstIntOf(ir.I64, isize),
		ir.ConstIntOf(ir.I64, align),
	}
	if call.Op == ir.OpInvoke {
		b.CreateInvoke(t.rt.spawn, call.Succs[0], call.Succs[1], ops, "")
	} else {
		b.CreateCall(t.rt.spawn, ops, "")
	}
	call.Erase()
	return nil
}

// AddHelperAttributes keeps outlined tasks out of line and local to the
// unit.
func (t *Target) AddHelperAttributes(helper *ir.Func) {
	helper.Attrs &^= ir.AttrAlwaysInline
	helper.Attrs |= ir.AttrNoInline | ir.AttrUnnamedAddr
	helper.Linkage = ir.Internal
}

// PreProcessOutlinedTask enters the frame of a helper that spawns.
func (t *Target) PreProcessOutlinedTask(helper *ir.Func, _, tfc *ir.Instr, isSpawner bool) error {
	if isSpawner {
		t.PushFrame(helper, tfc)
	}
	return nil
}

// PostProcessOutlinedTask leaves the frame of a helper that spawns on
// every exit, promoting throwing calls so unwinding leaves it too.
func (t *Target) PostProcessOutlinedTask(helper *ir.Func, _, _ *ir.Instr, isSpawner bool) error {
	if !isSpawner {
		return nil
	}
	_, err := t.PopFrame(helper, true)
	return err
}

func (t *Target) PreProcessRootSpawner(f *ir.Func) error {
	t.PushFrame(f, nil)
	return nil
}

// PostProcessRootSpawner leaves the frame of a root spawner. The exception
// routing of a root function is final, so calls are not promoted.
func (t *Target) PostProcessRootSpawner(f *ir.Func) error {
	_, err := t.PopFrame(f, false)
	return err
}
