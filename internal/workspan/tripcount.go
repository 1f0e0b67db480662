package workspan

import (
	"math"

	"fortio.org/safecast"

	"chiabi/internal/ir"
)

// TripCounter computes a provably constant trip count of a loop measured at
// the given exiting block. Zero means unknown.
type TripCounter interface {
	TripCount(l *ir.Loop, exiting *ir.Block) uint32
}

// ConstTripCount picks the exiting block the way the estimator expects: the
// latch when it exits, otherwise the unique exiting block.
func ConstTripCount(l *ir.Loop, tc TripCounter) uint32 {
	if tc == nil {
		return 0
	}
	exiting := l.Latch()
	if exiting == nil || !isExiting(l, exiting) {
		exiting = nil
		if ebs := l.ExitingBlocks(); len(ebs) == 1 {
			exiting = ebs[0]
		}
	}
	if exiting == nil {
		return 0
	}
	return tc.TripCount(l, exiting)
}

func isExiting(l *ir.Loop, b *ir.Block) bool {
	for _, s := range b.Succs() {
		if !l.Contains(s) {
			return true
		}
	}
	return false
}

// ScalarTripCounter recognizes a canonical induction variable
//
//	%iv = phi [ start, %preheader ], [ %next, %latch ]
//	%next = add %iv, step
//
// compared against a constant bound by the exiting branch, and solves the
// exit condition in closed form.
type ScalarTripCounter struct{}

func (ScalarTripCounter) TripCount(l *ir.Loop, exiting *ir.Block) uint32 {
	br := exiting.Terminator()
	if br == nil || br.Op != ir.OpCondBr {
		return 0
	}
	cmp, ok := br.Operands[0].(*ir.Instr)
	if !ok || cmp.Op != ir.OpICmp {
		return 0
	}
	pred := cmp.Pred
	switch in0, in1 := l.Contains(br.Succs[0]), l.Contains(br.Succs[1]); {
	case in0 && !in1:
	case !in0 && in1:
		pred = pred.Inverse()
	default:
		return 0
	}

	lhs, rhs := cmp.Operands[0], cmp.Operands[1]
	bound, ok := ir.IsConstInt(rhs)
	if !ok {
		bound, ok = ir.IsConstInt(lhs)
		if !ok {
			return 0
		}
		lhs = rhs
		pred = pred.Swapped()
	}

	iv, onNext := inductionOf(l, lhs)
	if iv == nil {
		return 0
	}
	start, step, ok := ivParams(l, iv)
	if !ok || step == 0 {
		return 0
	}
	a := start
	if !onNext {
		if a, ok = sub64(start, step); !ok {
			return 0
		}
	}
	if isUnsigned(pred) && (a < 0 || bound < 0 || start < 0) {
		return 0
	}
	n, ok := solveExit(pred, a, step, bound)
	if !ok {
		return 0
	}
	trips, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0
	}
	return trips
}

// inductionOf maps a compared value to its header phi. onNext is set when
// the comparison uses the incremented value.
func inductionOf(l *ir.Loop, v ir.Value) (iv *ir.Instr, onNext bool) {
	in, ok := v.(*ir.Instr)
	if !ok {
		return nil, false
	}
	if in.Op == ir.OpPhi && in.Parent == l.Header {
		return in, false
	}
	if in.Op != ir.OpAdd {
		return nil, false
	}
	for _, op := range in.Operands {
		if phi, ok := op.(*ir.Instr); ok && phi.Op == ir.OpPhi && phi.Parent == l.Header {
			if phi.IncomingFor(l.Latch()) == in {
				return phi, true
			}
		}
	}
	return nil, false
}

func ivParams(l *ir.Loop, iv *ir.Instr) (start, step int64, ok bool) {
	pre, latch := l.Preheader(), l.Latch()
	if pre == nil || latch == nil || len(iv.Incoming) != 2 {
		return 0, 0, false
	}
	if start, ok = ir.IsConstInt(iv.IncomingFor(pre)); !ok {
		return 0, 0, false
	}
	next, isInstr := iv.IncomingFor(latch).(*ir.Instr)
	if !isInstr || next.Op != ir.OpAdd {
		return 0, 0, false
	}
	switch {
	case next.Operands[0] == iv:
		step, ok = ir.IsConstInt(next.Operands[1])
	case next.Operands[1] == iv:
		step, ok = ir.IsConstInt(next.Operands[0])
	}
	return start, step, ok
}

// solveExit returns the first k >= 1 for which pred(a+k*step, bound) fails.
func solveExit(pred ir.Pred, a, step, bound int64) (int64, bool) {
	first, ok := add64(a, step)
	if !ok {
		return 0, false
	}
	if !holds(pred, first, bound) {
		return 1, true
	}
	d, ok := sub64(bound, a)
	if !ok {
		return 0, false
	}
	var n int64
	switch pred {
	case ir.PredSLT, ir.PredULT:
		if step < 0 {
			return 0, false
		}
		n = ceilDiv(d, step)
	case ir.PredSLE, ir.PredULE:
		if step < 0 {
			return 0, false
		}
		n = floorDiv(d, step) + 1
	case ir.PredSGT, ir.PredUGT:
		if step > 0 || step == math.MinInt64 {
			return 0, false
		}
		n = ceilDiv(-d, -step)
	case ir.PredSGE, ir.PredUGE:
		if step > 0 || step == math.MinInt64 {
			return 0, false
		}
		n = floorDiv(-d, -step) + 1
	case ir.PredNE:
		if d%step != 0 || d/step <= 0 {
			return 0, false
		}
		n = d / step
	default:
		return 0, false
	}
	return max(n, 1), true
}

func holds(pred ir.Pred, x, y int64) bool {
	switch pred {
	case ir.PredEQ:
		return x == y
	case ir.PredNE:
		return x != y
	case ir.PredSLT, ir.PredULT:
		return x < y
	case ir.PredSLE, ir.PredULE:
		return x <= y
	case ir.PredSGT, ir.PredUGT:
		return x > y
	case ir.PredSGE, ir.PredUGE:
		return x >= y
	}
	return false
}

func isUnsigned(p ir.Pred) bool {
	switch p {
	case ir.PredULT, ir.PredULE, ir.PredUGT, ir.PredUGE:
		return true
	}
	return false
}

func add64(x, y int64) (int64, bool) {
	s := x + y
	return s, (s > x) == (y > 0)
}

func sub64(x, y int64) (int64, bool) {
	s := x - y
	return s, (s < x) == (y > 0)
}

func ceilDiv(x, y int64) int64 {
	q := x / y
	if x%y != 0 && (x > 0) == (y > 0) {
		q++
	}
	return q
}

func floorDiv(x, y int64) int64 {
	q := x / y
	if x%y != 0 && (x < 0) != (y < 0) {
		q--
	}
	return q
}
