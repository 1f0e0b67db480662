package chiabi

import (
	"chiabi/internal/ir"
	"chiabi/internal/tapir"
)

// cleanupBlock names the landing pad made when calls are promoted.
const cleanupBlock = "rts_cleanup"

// skipInstruction reports entry-block instructions the frame may be
// allocated after.
func skipInstruction(in *ir.Instr) bool {
	if in.Op == ir.OpAlloca {
		return true
	}
	switch id := in.Intrinsic(); id {
	case ir.SyncRegionStart, ir.TaskFrameCreate:
		return true
	default:
		return id.IsDebugOrPseudo()
	}
}

// frameInsertPt is the first instruction of b that is not skipped, or its
// terminator.
func frameInsertPt(b *ir.Block) *ir.Instr {
	for i := b.IndexOf(b.FirstInsertionPt()); i >= 0 && i < len(b.Instrs); i++ {
		if !skipInstruction(b.Instrs[i]) {
			return b.Instrs[i]
		}
	}
	return b.Terminator()
}

// Frame returns the frame of f, or nil if it has none.
func (t *Target) Frame(f *ir.Func) *ir.Instr { return t.frames[f] }

// CreateOrGetFrame returns the frame alloca of f, allocating it in the
// entry block on first use.
func (t *Target) CreateOrGetFrame(f *ir.Func) *ir.Instr {
	if sf, ok := t.frames[f]; ok {
		return sf
	}
	ty := t.frameTy
	if ty == nil {
		ty = t.m.StructType(FrameTypeName)
	}
	b := ir.NewBuilderBefore(frameInsertPt(f.Entry()))
	sf := b.CreateAlloca(ty, FrameName)
	sf.Align = frameAlign
	t.frames[f] = sf
	return sf
}

// PushFrame calls __rts_enter_frame right after the frame alloca, or
// before tfc when the frame must be entered inside a task frame. Without a
// location at the insertion point, the next located instruction lends its
// own.
func (t *Target) PushFrame(f *ir.Func, tfc *ir.Instr) *ir.Instr {
	sf := t.CreateOrGetFrame(f)
	pos := tfc
	if pos == nil {
		blk := sf.Parent
		pos = blk.Instrs[blk.IndexOf(sf)+1]
	}
	b := ir.NewBuilderBefore(pos)
	if b.Loc.IsZero() {
		blk := pos.Parent
		for _, in := range blk.Instrs[blk.IndexOf(pos):] {
			if !in.Loc.IsZero() {
				b.Loc = in.Loc
				break
			}
		}
	}
	return b.CreateCall(t.rt.enterFrame, []ir.Value{sf}, "")
}

// PopFrame calls __rts_leave_frame on every exit of f: before each return
// and before each resume, including the resume of the cleanup pad made
// when promote turns throwing calls into invokes. Each path out of f thus
// leaves the frame once.
func (t *Target) PopFrame(f *ir.Func, promote bool) ([]tapir.Exit, error) {
	sf := t.CreateOrGetFrame(f)
	exits, err := tapir.EscapeExits(f, cleanupBlock, promote)
	if err != nil {
		return nil, t.fatal(f, "%v", err)
	}
	for _, x := range exits {
		term := x.Term
		if x.Kind == tapir.Unwind && term.Loc.IsZero() {
			for _, p := range ir.PredsOf(term.Parent) {
				if pt := p.Terminator(); pt != nil && !pt.Loc.IsZero() {
					term.Loc = pt.Loc
					break
				}
			}
		}
		b := ir.NewBuilderBefore(term)
		b.CreateCall(t.rt.leaveFrame, []ir.Value{sf}, "")
	}
	return exits, nil
}
