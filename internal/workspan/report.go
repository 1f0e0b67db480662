package workspan

import (
	"chiabi/internal/diag"
	"chiabi/internal/ir"
)

// LoopReport is one row of a per-function work summary.
type LoopReport struct {
	Header string
	Depth  int
	Blocks int
	Trips  uint32
	Cost   WSCost
}

// ReportFunc estimates every loop of f, outermost first.
func ReportFunc(f *ir.Func, freq BlockFrequencies, r diag.Reporter) []LoopReport {
	if f.IsDeclaration() {
		return nil
	}
	e := NewEstimator(f, freq, r)
	loops := e.LI.Preorder()
	out := make([]LoopReport, 0, len(loops))
	for _, l := range loops {
		out = append(out, LoopReport{
			Header: l.Header.Name,
			Depth:  l.Depth,
			Blocks: len(l.Blocks),
			Trips:  ConstTripCount(l, e.Trips),
			Cost:   e.EstimateLoopCost(l),
		})
	}
	return out
}
