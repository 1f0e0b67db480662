package workspan

import (
	"chiabi/internal/ir"
)

// CostModel prices a single instruction. Implementations must be pure.
type CostModel interface {
	InstrCost(in *ir.Instr) uint64
}

// UnitCostModel charges one unit per executable instruction and one per
// call argument.
type UnitCostModel struct{}

func (UnitCostModel) InstrCost(in *ir.Instr) uint64 {
	switch in.Op {
	case ir.OpPhi:
		return 0
	case ir.OpCast:
		if in.Cast == ir.CastBitcast {
			return 0
		}
	case ir.OpCall, ir.OpInvoke:
		if in.Intrinsic().IsDebugOrPseudo() {
			return 0
		}
		return 1 + uint64(len(in.Operands))
	}
	return 1
}

// CodeMetrics accumulates per-block instruction costs.
type CodeMetrics struct {
	NumInsts   uint64
	NumCalls   int
	NumBlocks  int
	NumBBInsts map[*ir.Block]uint64
}

func NewCodeMetrics() *CodeMetrics {
	return &CodeMetrics{NumBBInsts: make(map[*ir.Block]uint64)}
}

// AnalyzeBlock adds the cost of b, skipping ephemeral instructions.
func (cm *CodeMetrics) AnalyzeBlock(b *ir.Block, model CostModel, eph map[*ir.Instr]bool) {
	if _, seen := cm.NumBBInsts[b]; seen {
		return
	}
	before := cm.NumInsts
	for _, in := range b.Instrs {
		if eph[in] {
			continue
		}
		if in.IsCall() && !in.Intrinsic().IsDebugOrPseudo() {
			cm.NumCalls++
		}
		cm.NumInsts += model.InstrCost(in)
	}
	cm.NumBlocks++
	cm.NumBBInsts[b] = cm.NumInsts - before
}

// EphemeralValues returns the instructions that exist only to feed
// llvm.assume, together with the assumes themselves.
func EphemeralValues(f *ir.Func) map[*ir.Instr]bool {
	eph := make(map[*ir.Instr]bool)
	var work []*ir.Instr
	for in := range f.Instrs {
		if in.Intrinsic() == ir.Assume {
			eph[in] = true
			work = append(work, in)
		}
	}
	for len(work) > 0 {
		in := work[len(work)-1]
		work = work[:len(work)-1]
		for _, op := range in.Operands {
			def, ok := op.(*ir.Instr)
			if !ok || eph[def] || hasSideEffects(def) {
				continue
			}
			onlyEph := true
			for _, u := range f.Users(def) {
				if !eph[u] {
					onlyEph = false
					break
				}
			}
			if onlyEph {
				eph[def] = true
				work = append(work, def)
			}
		}
	}
	return eph
}

func hasSideEffects(in *ir.Instr) bool {
	switch in.Op {
	case ir.OpStore, ir.OpCall, ir.OpInvoke, ir.OpAlloca, ir.OpPhi, ir.OpLandingPad:
		return true
	}
	return in.IsTerminator()
}
