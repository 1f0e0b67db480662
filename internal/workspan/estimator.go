package workspan

import (
	"fmt"
	"math"

	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/source"
)

// MaxCost is the saturation sentinel for WSCost.Work.
const MaxCost uint64 = math.MaxUint64

// WSCost is the estimated work of one execution of a loop body, nested
// loops included.
type WSCost struct {
	Work uint64
	// UnknownCost is set when some nested trip count had to be assumed.
	UnknownCost bool
	Metrics     *CodeMetrics
}

// Saturated reports whether Work hit MaxCost.
func (c WSCost) Saturated() bool { return c.Work == MaxCost }

func (c WSCost) String() string {
	work := fmt.Sprint(c.Work)
	if c.Saturated() {
		work = "max"
	}
	if c.UnknownCost {
		work += " (unknown)"
	}
	return work
}

// Estimator carries the analyses EstimateLoopCost consumes. Trips, Freq,
// Eph and Reporter are optional.
type Estimator struct {
	LI       *ir.LoopInfo
	Trips    TripCounter
	Freq     BlockFrequencies
	Model    CostModel
	Eph      map[*ir.Instr]bool
	Reporter diag.Reporter
	Unit     string
}

// NewEstimator builds an Estimator for f with fresh loop info, the scalar
// trip counter and the unit cost model.
func NewEstimator(f *ir.Func, freq BlockFrequencies, r diag.Reporter) *Estimator {
	unit := ""
	if f.Parent != nil {
		unit = f.Parent.Name
	}
	return &Estimator{
		LI:       ir.NewLoopInfo(f, ir.NewDomTree(f)),
		Trips:    ScalarTripCounter{},
		Freq:     freq,
		Model:    UnitCostModel{},
		Eph:      EphemeralValues(f),
		Reporter: r,
		Unit:     unit,
	}
}

// EstimateLoopCost gathers metrics for every block of l and then sums the
// nest bottom-up.
func (e *Estimator) EstimateLoopCost(l *ir.Loop) WSCost {
	cost := WSCost{Metrics: NewCodeMetrics()}
	model := e.Model
	if model == nil {
		model = UnitCostModel{}
	}
	for _, b := range l.Blocks {
		cost.Metrics.AnalyzeBlock(b, model, e.Eph)
	}
	e.estimate(l, &cost)
	return cost
}

func (e *Estimator) estimate(l *ir.Loop, cost *WSCost) {
	if cost.UnknownCost {
		return
	}
	loopFreq := freqOf(e.Freq, l.Header)

	for _, sub := range l.SubLoops {
		subCost := WSCost{Metrics: cost.Metrics}
		subFreq := freqOf(e.Freq, sub.Header)

		e.estimate(sub, &subCost)
		if subCost.UnknownCost {
			cost.UnknownCost = true
		}
		if loopFreq != 0 && subFreq != 0 && subFreq < loopFreq && !subCost.Saturated() {
			subCost.Work /= loopFreq / subFreq
		}
		if subCost.Saturated() {
			cost.Work = MaxCost
		}

		trips := uint64(ConstTripCount(sub, e.Trips))
		if trips == 0 {
			e.remark(diag.WorkSpanNoConstTripCount, sub, "could not determine constant trip count for subloop")
			if loopFreq != 0 && subFreq != 0 {
				trips = max(subFreq/loopFreq, 1)
			} else {
				cost.UnknownCost = true
				trips = 1
			}
		}

		if cost.Saturated() {
			continue
		}
		if overflows(cost.Work, subCost.Work, trips) {
			e.remark(diag.WorkSpanLargeSubloop, sub, "subloop work makes this loop huge")
			cost.Work = MaxCost
			continue
		}
		cost.Work += subCost.Work * trips
	}

	if cost.Saturated() {
		return
	}

	for _, b := range l.Blocks {
		if e.LI.LoopFor(b) != l {
			continue
		}
		bbCost := cost.Metrics.NumBBInsts[b]
		if bbFreq := freqOf(e.Freq, b); loopFreq != 0 && bbFreq != 0 && bbFreq < loopFreq {
			bbCost /= loopFreq / bbFreq
		}
		if MaxCost-cost.Work < bbCost {
			cost.Work = MaxCost
			return
		}
		cost.Work += bbCost
	}
}

// overflows reports whether acc + work*trips exceeds MaxCost.
func overflows(acc, work, trips uint64) bool {
	if work == 0 || trips == 0 {
		return false
	}
	if work > MaxCost/trips {
		return true
	}
	return MaxCost-acc < work*trips
}

func (e *Estimator) remark(code diag.Code, l *ir.Loop, msg string) {
	if e.Reporter == nil {
		return
	}
	where := diag.Where{Unit: e.Unit, Func: l.Header.Parent.Name, Loc: startLoc(l)}
	diag.ReportInfo(e.Reporter, code, where, msg).
		WithNote(diag.Where{Unit: e.Unit, Func: l.Header.Parent.Name}, "loop header "+l.Header.Ident()).
		Emit()
}

// startLoc is the first known debug location in the loop header.
func startLoc(l *ir.Loop) source.Loc {
	for _, in := range l.Header.Instrs {
		if !in.Loc.IsZero() {
			return in.Loc
		}
	}
	return source.Loc{}
}
