package chiabi

import (
	"fmt"
	"slices"

	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/linker"
	"chiabi/internal/tapir"
)

// Loop outlines Tapir loops into a kernel module whose code fetches each
// iteration from the runtime. A shared Loop writes into the target's
// kernel module; a private one owns a module embedded right after its
// loop is outlined.
type Loop struct {
	t       *Target
	kernel  *ir.Module
	iter    iterationFns
	private bool
}

var _ tapir.LoopOutlineProcessor = (*Loop)(nil)

func newSharedLoop(t *Target) (*Loop, error) {
	if err := t.PrepareUnit(true); err != nil {
		return nil, err
	}
	logger.Debugf("loop outliner into shared kernel module %s", t.kernel.Name)
	return &Loop{t: t, kernel: t.kernel, iter: t.kernelIter}, nil
}

func newPrivateLoop(t *Target) (*Loop, error) {
	kernel := ir.NewModule(kernelName(t.m))
	it, err := declareIterationFns(kernel)
	if err != nil {
		return nil, t.fatal(nil, "%v", err)
	}
	logger.Debugf("loop outliner with per-loop kernel module %s", kernel.Name)
	return &Loop{t: t, kernel: kernel, iter: it, private: true}, nil
}

func (l *Loop) DestModule() *ir.Module { return l.kernel }

func (l *Loop) InputsCallback() tapir.InputsCallback { return l.t.opts.Inputs }

// Private reports whether the loop owns its kernel module.
func (l *Loop) Private() bool { return l.private }

// PreProcessLoop gives the kernel module a copy of every global the loop
// uses and records the copies in vm. Constants are cloned as internal
// "<name>_devvar" globals; mutable globals get a zero-initialized
// extern_weak "<name>_devvar" the host fills before launch. Functions are
// all declared first, then every defined non-intrinsic one is cloned.
func (l *Loop) PreProcessLoop(tl *tapir.TapirLoop, vm ir.ValueMap) error {
	used, err := usedClosure(tl.Loop.Blocks)
	if err != nil {
		return l.t.fatal(tl.Func, "%v", err)
	}
	km := l.kernel
	logger.Debugf("loop %s of @%s uses %d globals", tl.Header.Ident(), tl.Func.Name, len(used))

	var consts []*ir.Global
	for _, v := range used {
		g, ok := v.(*ir.Global)
		if !ok {
			continue
		}
		name := g.Name + "_devvar"
		if dg := km.Global(name); dg != nil {
			vm[g] = dg
			continue
		}
		ty := km.ImportType(g.ValueType)
		var dg *ir.Global
		switch {
		case g.Constant && g.Init != nil:
			dg, err = km.NewGlobal(name, ty, nil, true, ir.Internal)
			consts = append(consts, g)
		case g.Constant:
			dg, err = km.NewGlobal(name, ty, nil, true, ir.External)
		default:
			dg, err = km.NewGlobal(name, ty, ir.ZeroOf(ty), false, ir.ExternalWeak)
		}
		if err != nil {
			return l.t.fatal(tl.Func, "%v", err)
		}
		dg.Align = g.Align
		vm[g] = dg
	}

	var bodies []*ir.Func
	for _, v := range used {
		f, ok := v.(*ir.Func)
		if !ok {
			continue
		}
		sig := km.ImportType(f.Sig)
		df := km.Func(f.Name)
		if df == nil {
			if df, err = km.NewFunc(f.Name, sig); err != nil {
				return l.t.fatal(tl.Func, "%v", err)
			}
			df.Linkage = f.Linkage
			df.Attrs = f.Attrs
		} else if !ir.Equal(df.Sig, sig) {
			return l.t.fatal(tl.Func, "kernel function @%s has type %s, loop uses %s", f.Name, df.Sig, f.Sig)
		}
		for i, p := range f.Params {
			df.Params[i].Name = p.Name
			vm[p] = df.Params[i]
		}
		vm[f] = df
		if !f.IsDeclaration() && f.Intrinsic() == ir.NotIntrinsic && df.IsDeclaration() {
			bodies = append(bodies, f)
		}
	}

	for _, g := range consts {
		vm[g].(*ir.Global).Init = km.ImportConst(vm.Remap(g.Init))
	}
	for _, f := range bodies {
		df := vm[f].(*ir.Func)
		logger.Debugf("cloning @%s into %s", f.Name, km.Name)
		if err := ir.CloneFunctionInto(df, f, vm); err != nil {
			return l.t.fatal(tl.Func, "%v", err)
		}
		km.ImportFuncTypes(df)
	}
	return nil
}

// usedClosure lists the globals and functions reachable from blocks,
// following function bodies and global initializers, in first-use order.
// Aliases and ifuncs are not supported.
func usedClosure(blocks []*ir.Block) ([]ir.Value, error) {
	seen := make(map[ir.Value]bool)
	var order []ir.Value
	var walk func(v ir.Value) error
	walkInstr := func(in *ir.Instr) error {
		if in.Callee != nil {
			if err := walk(in.Callee); err != nil {
				return err
			}
		}
		for _, op := range in.Operands {
			if err := walk(op); err != nil {
				return err
			}
		}
		return nil
	}
	walk = func(v ir.Value) error {
		switch x := v.(type) {
		case *ir.Const:
			for _, e := range x.Elems {
				if err := walk(e); err != nil {
					return err
				}
			}
			return nil
		case *ir.Alias:
			return fmt.Errorf("global alias @%s is not supported in outlined loops", x.Name)
		case *ir.IFunc:
			return fmt.Errorf("ifunc @%s is not supported in outlined loops", x.Name)
		case *ir.Func, *ir.Global:
		default:
			return nil
		}
		if seen[v] {
			return nil
		}
		seen[v] = true
		order = append(order, v)
		switch x := v.(type) {
		case *ir.Global:
			if x.Init != nil {
				return walk(x.Init)
			}
		case *ir.Func:
			if x.Personality != nil {
				if err := walk(x.Personality); err != nil {
					return err
				}
			}
			for in := range x.Instrs {
				if err := walkInstr(in); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, b := range blocks {
		for _, in := range b.Instrs {
			if err := walkInstr(in); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// PostProcessOutline makes the outlined loop run the iterations the
// runtime hands out: the entry asks __rts_get_iteration_N for an
// iteration, skips the body when the range is empty, and the latch
// compares against the end of that range instead of the loop limit. A
// private kernel module is then embedded into the host.
func (l *Loop) PostProcessOutline(tl *tapir.TapirLoop, out *tapir.TaskOutlineInfo, vm ir.ValueMap) error {
	kf := out.Outline
	entry, _ := vm[tl.Preheader].(*ir.Block)
	header, _ := vm[tl.Header].(*ir.Block)
	exit, _ := vm[tl.Exit].(*ir.Block)
	iv, _ := vm[tl.IV].(*ir.Instr)
	cond, _ := vm[tl.Condition].(*ir.Instr)
	if entry == nil || header == nil || exit == nil || iv == nil || cond == nil {
		return l.t.fatal(tl.Func, "outlined loop @%s lost its structure", kf.Name)
	}
	ivInput := iv.IncomingFor(entry)

	if sr, ok := vm[tl.SyncRegion()].(*ir.Instr); ok {
		sr.Erase()
	}

	slot, ok := widthSlot(iv.Type())
	if !ok {
		return l.t.fatal(tl.Func, "no runtime iteration function for %s", iv.Type())
	}
	end := kf.Params[tapir.LimitArgIndex]
	// TODO: derive the grainsize from a work-span estimate of the body.
	grainsize := ir.ConstIntOf(iv.Type(), 1)

	term := entry.Terminator()
	b := ir.NewBuilderBefore(term)
	it := b.CreateCall(l.iter[slot], []ir.Value{ivInput, grainsize}, "__rts_iteration")
	rtsEnd := b.CreateAdd(it, grainsize, "__rts_end")
	empty := b.CreateICmp(ir.PredUGE, it, rtsEnd, "__rts_end_cond")
	b.CreateCondBr(empty, exit, header)
	term.Erase()

	kf.ReplaceUsesExcept(ivInput, it, it)

	idx := slices.Index(cond.Operands, ir.Value(end))
	if idx < 0 {
		return l.t.fatal(tl.Func, "loop condition %s of @%s does not use the loop limit", cond.Ident(), kf.Name)
	}
	cond.Operands[idx] = rtsEnd

	if l.private {
		if p := l.t.opts.DeviceBCPath; p != "" {
			l.t.linkExternal(l.kernel, p, linker.Flags{OnlyNeeded: true})
		}
		if err := l.t.embedKernel(l.kernel, KernelGlobal+"."+kf.Name); err != nil {
			return err
		}
	}
	l.t.keepKernel(l.kernel, kf.Name)
	return nil
}

// ProcessOutlinedLoopCall points the host call at a host declaration of
// the outlined function and hands it to the launch callback together with
// the sync waiting for the loop, if any.
func (l *Loop) ProcessOutlinedLoopCall(tl *tapir.TapirLoop, toi *tapir.TaskOutlineInfo, _ *ir.DomTree) error {
	call := toi.ReplCall
	sync := tl.ExitSync()

	sig := l.t.m.ImportType(call.FnType)
	ph, err := l.t.m.GetOrInsertFunc(toi.Outline.Name, sig)
	if err != nil {
		return l.t.fatal(tl.Func, "placeholder for @%s: %v", toi.Outline.Name, err)
	}
	call.Callee = ph
	call.FnType = sig

	if cb := l.t.opts.LoopLaunch; cb != nil {
		return cb(call, sync)
	}
	diag.ReportInfo(l.t.r, diag.LowerNoLaunchCallback,
		diag.Where{Unit: l.t.m.Name, Func: tl.Func.Name, Loc: call.Loc},
		fmt.Sprintf("call to outlined loop @%s left without a launch", ph.Name)).Emit()
	return nil
}
