package tapir

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"

	"chiabi/internal/ir"
	"chiabi/internal/trace"
)

var logger = commonlog.GetLogger("chiabi.tapir")

// Stats counts what LowerModule rewrote.
type Stats struct {
	Loops      int
	Tasks      int
	Syncs      int
	Grainsizes int
}

// lowering is the pass-local state of one LowerModule run.
type lowering struct {
	m     *ir.Module
	t     Target
	stats Stats
}

// LowerModule lowers every Tapir construct of m through t. The target
// must be fresh for m. Cancellation of ctx is checked between functions.
func LowerModule(ctx context.Context, m *ir.Module, t Target) (Stats, error) {
	lw := &lowering{m: m, t: t}

	if err := lw.loopPhase(ctx); err != nil {
		return lw.stats, err
	}
	if err := lw.taskPhase(ctx); err != nil {
		return lw.stats, err
	}
	_, span := trace.Start(ctx, trace.ScopePass, "post_process_unit")
	err := t.PostProcessUnit()
	span.End("")
	return lw.stats, err
}

func definitions(m *ir.Module) []*ir.Func {
	var out []*ir.Func
	for _, f := range m.Funcs {
		if !f.IsDeclaration() {
			out = append(out, f)
		}
	}
	return out
}

func (lw *lowering) loopPhase(ctx context.Context) (err error) {
	ctx, span := trace.Start(ctx, trace.ScopePass, "loop_phase")
	defer func() { span.End(fmt.Sprintf("loops=%d", lw.stats.Loops)) }()

	if err := lw.t.PrepareUnit(true); err != nil {
		return err
	}
	for _, f := range definitions(lw.m) {
		if err := ctx.Err(); err != nil {
			return err
		}
		declined := map[*ir.Block]bool{}
		for {
			li := ir.NewLoopInfo(f, ir.NewDomTree(f))
			var (
				tl   *TapirLoop
				proc LoopOutlineProcessor
			)
			for _, cand := range FindTapirLoops(li) {
				if declined[cand.Header] {
					continue
				}
				if proc = lw.t.LoopOutlineProcessor(cand); proc != nil {
					tl = cand
					break
				}
				declined[cand.Header] = true
			}
			if tl == nil {
				break
			}
			if err := lw.outlineLoop(ctx, tl, proc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (lw *lowering) outlineLoop(ctx context.Context, tl *TapirLoop, proc LoopOutlineProcessor) error {
	_, span := trace.Start(ctx, trace.ScopeLoop, "loop "+tl.Func.Name+":"+tl.Header.Name)
	span.WithExtra("kernel", proc.DestModule().Name)
	defer span.End("")
	logger.Debugf("outlining Tapir loop %s in @%s into %s", tl.Header.Ident(), tl.Func.Name, proc.DestModule().Name)

	vm := ir.ValueMap{}
	if err := proc.PreProcessLoop(tl, vm); err != nil {
		return err
	}
	out, err := OutlineLoop(tl, proc.DestModule(), vm, proc.InputsCallback())
	if err != nil {
		return err
	}
	if err := proc.PostProcessOutline(tl, out, vm); err != nil {
		return err
	}
	if err := proc.ProcessOutlinedLoopCall(tl, out, ir.NewDomTree(tl.Func)); err != nil {
		return err
	}
	lw.stats.Loops++
	return nil
}

func (lw *lowering) taskPhase(ctx context.Context) (err error) {
	ctx, span := trace.Start(ctx, trace.ScopePass, "task_phase")
	defer func() { span.End(fmt.Sprintf("tasks=%d syncs=%d", lw.stats.Tasks, lw.stats.Syncs)) }()

	if err := lw.t.PrepareUnit(false); err != nil {
		return err
	}
	for _, f := range definitions(lw.m) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := lw.lowerRoot(ctx, f); err != nil {
			return fmt.Errorf("@%s: %w", f.Name, err)
		}
	}
	return nil
}

func (lw *lowering) lowerRoot(ctx context.Context, f *ir.Func) error {
	ctx, span := trace.Start(ctx, trace.ScopeFunc, f.Name)
	defer span.End("")

	spawner := HasDetach(f)
	if spawner {
		if err := lw.t.PreProcessRootSpawner(f); err != nil {
			return err
		}
	}
	if err := lw.lowerBody(ctx, f); err != nil {
		return err
	}
	if spawner {
		return lw.t.PostProcessRootSpawner(f)
	}
	return nil
}

// lowerBody outlines the top-level tasks of f, recursing into each helper,
// then lowers the syncs and grainsize queries left in f.
func (lw *lowering) lowerBody(ctx context.Context, f *ir.Func) error {
	for i, det := range TopLevelDetaches(f) {
		toi, err := OutlineTask(det, i+1)
		if err != nil {
			return err
		}
		lw.stats.Tasks++
		logger.Debugf("outlined task of @%s into @%s", f.Name, toi.Outline.Name)
		trace.Mark(ctx, trace.ScopeFunc, "spawn "+toi.Outline.Name, f.Name)
		if err := lw.t.LowerSpawnSite(toi, ir.NewDomTree(f)); err != nil {
			return err
		}
		if err := lw.lowerHelper(ctx, toi); err != nil {
			return err
		}
	}

	var syncs, grains []*ir.Instr
	for in := range f.Instrs {
		switch {
		case in.Op == ir.OpSync:
			syncs = append(syncs, in)
		case in.Intrinsic() == ir.TapirLoopGrainsize:
			grains = append(grains, in)
		}
	}
	for _, s := range syncs {
		if err := lw.t.LowerSync(s); err != nil {
			return err
		}
		lw.stats.Syncs++
	}
	for _, g := range grains {
		if _, err := lw.t.LowerGrainsize(g); err != nil {
			return err
		}
		g.Erase()
		lw.stats.Grainsizes++
	}
	return nil
}

func (lw *lowering) lowerHelper(ctx context.Context, toi *TaskOutlineInfo) error {
	helper := toi.Outline
	ctx, span := trace.Start(ctx, trace.ScopeFunc, helper.Name)
	defer span.End("")

	spawner := HasDetach(helper)
	if err := lw.t.PreProcessOutlinedTask(helper, toi.DetachPt, toi.TaskFrameCreate, spawner); err != nil {
		return err
	}
	lw.t.AddHelperAttributes(helper)
	if err := lw.lowerBody(ctx, helper); err != nil {
		return err
	}
	return lw.t.PostProcessOutlinedTask(helper, toi.DetachPt, toi.TaskFrameCreate, spawner)
}
