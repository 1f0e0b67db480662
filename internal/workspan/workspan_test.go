package workspan_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/irtext"
	"chiabi/internal/workspan"
)

const nestSrc = `
declare void @llvm.assume(i1)

define void @nest(ptr %p, i64 %n) {
entry:
  br label %outer

outer:
  %i = phi i64 [ 0, %entry ], [ %i.next, %outer.latch ]
  br label %inner

inner:
  %j = phi i64 [ 0, %outer ], [ %j.next, %inner ]
  %pos = icmp sge i64 %j, 0
  call void @llvm.assume(i1 %pos)
  store i64 %j, ptr %p, align 8
  %j.next = add i64 %j, 1
  %jc = icmp slt i64 %j.next, BOUND
  br i1 %jc, label %inner, label %outer.latch

outer.latch:
  %i.next = add i64 %i, 1
  %ic = icmp slt i64 %i.next, 4
  br i1 %ic, label %outer, label %exit

exit:
  ret void
}
`

func nestFunc(t *testing.T, bound string) *ir.Func {
	t.Helper()
	src := strings.Replace(nestSrc, "BOUND", bound, 1)
	m, err := irtext.ParseString("nest.ll", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m.Func("nest")
}

func outerLoop(t *testing.T, e *workspan.Estimator) *ir.Loop {
	t.Helper()
	if len(e.LI.TopLevel) != 1 {
		t.Fatalf("expected one outer loop, got %d", len(e.LI.TopLevel))
	}
	return e.LI.TopLevel[0]
}

func TestEstimateConstantNest(t *testing.T) {
	f := nestFunc(t, "8")
	e := workspan.NewEstimator(f, nil, nil)
	outer := outerLoop(t, e)

	cost := e.EstimateLoopCost(outer)
	// outer: br + (add, icmp, br); inner: store, add, icmp, br per trip.
	if cost.Work != 4+8*4 {
		t.Fatalf("work: got %d, want 36", cost.Work)
	}
	if cost.UnknownCost {
		t.Fatal("constant nest reported unknown cost")
	}
	if got := cost.Metrics.NumBBInsts[f.BlockByName("inner")]; got != 4 {
		t.Fatalf("inner block cost: got %d, want 4 (assume chain is ephemeral)", got)
	}
}

func TestEstimateUnknownTripCount(t *testing.T) {
	f := nestFunc(t, "%n")
	bag := diag.NewBag(16)
	e := workspan.NewEstimator(f, nil, diag.NewBagReporter(bag))

	cost := e.EstimateLoopCost(outerLoop(t, e))
	require.True(t, cost.UnknownCost)
	require.Equal(t, uint64(4+4), cost.Work, "unknown trip count is taken as 1")
	require.Len(t, bag.Filter(diag.WorkSpanNoConstTripCount), 1)
}

func TestEstimateFrequencyTripCount(t *testing.T) {
	f := nestFunc(t, "%n")
	freq := workspan.FreqByName(f, map[string]uint64{"outer": 100, "inner": 800})
	e := workspan.NewEstimator(f, freq, nil)

	cost := e.EstimateLoopCost(outerLoop(t, e))
	require.False(t, cost.UnknownCost)
	require.Equal(t, uint64(4+4*8), cost.Work)
}

func TestEstimateScalesColdSubloop(t *testing.T) {
	f := nestFunc(t, "8")
	freq := workspan.FreqByName(f, map[string]uint64{"outer": 100, "inner": 50})
	e := workspan.NewEstimator(f, freq, nil)

	cost := e.EstimateLoopCost(outerLoop(t, e))
	// inner work 4 halves to 2, then 8 trips.
	require.Equal(t, uint64(4+2*8), cost.Work)
}

type storeHeavy struct{}

func (storeHeavy) InstrCost(in *ir.Instr) uint64 {
	if in.Op == ir.OpStore {
		return 1 << 62
	}
	return workspan.UnitCostModel{}.InstrCost(in)
}

func TestEstimateSaturates(t *testing.T) {
	f := nestFunc(t, "8")
	bag := diag.NewBag(16)
	e := workspan.NewEstimator(f, nil, diag.NewBagReporter(bag))
	e.Model = storeHeavy{}

	cost := e.EstimateLoopCost(outerLoop(t, e))
	require.True(t, cost.Saturated())
	require.Equal(t, workspan.MaxCost, cost.Work)
	require.Len(t, bag.Filter(diag.WorkSpanLargeSubloop), 1)
	require.Equal(t, "max", cost.String())
}

const tripTmpl = `
define void @f(i32 %%n) {
entry:
  br label %%loop

loop:
  %%iv = phi i32 [ %d, %%entry ], [ %%next, %%loop ]
  %%next = add i32 %%iv, %d
  %%c = icmp %s i32 %s, %s
  br i1 %%c, %s

exit:
  ret void
}
`

func TestScalarTripCount(t *testing.T) {
	const stay, leave = "label %loop, label %exit", "label %exit, label %loop"
	cases := []struct {
		name        string
		start, step int
		pred        string
		lhs, rhs    string
		succs       string
		want        uint32
	}{
		{"slt next", 0, 1, "slt", "%next", "10", stay, 10},
		{"slt iv", 0, 1, "slt", "%iv", "10", stay, 11},
		{"sle next", 0, 1, "sle", "%next", "10", stay, 11},
		{"ult stride", 0, 4, "ult", "%next", "100", stay, 25},
		{"ne exact", 0, 2, "ne", "%next", "10", stay, 5},
		{"ne inexact", 0, 3, "ne", "%next", "10", stay, 0},
		{"sgt down", 10, -1, "sgt", "%next", "0", stay, 10},
		{"sge down", 10, -2, "sge", "%next", "0", stay, 6},
		{"exit on true", 0, 1, "uge", "%next", "16", leave, 16},
		{"bound on left", 0, 1, "sgt", "10", "%next", stay, 10},
		{"single trip", 5, 1, "slt", "%next", "3", stay, 1},
		{"variable bound", 0, 1, "slt", "%next", "%n", stay, 0},
		{"wrong direction", 0, -1, "slt", "%next", "10", stay, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := fmt.Sprintf(tripTmpl, tc.start, tc.step, tc.pred, tc.lhs, tc.rhs, tc.succs)
			m, err := irtext.ParseString("trip.ll", src)
			if err != nil {
				t.Fatalf("parse: %v\n%s", err, src)
			}
			f := m.Func("f")
			li := ir.NewLoopInfo(f, ir.NewDomTree(f))
			if len(li.TopLevel) != 1 {
				t.Fatalf("loops: %d", len(li.TopLevel))
			}
			got := workspan.ConstTripCount(li.TopLevel[0], workspan.ScalarTripCounter{})
			if got != tc.want {
				t.Fatalf("trip count: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestUnitCostModel(t *testing.T) {
	m := irtext.MustParse("cost.ll", `
declare void @work(i64, i64)
declare void @llvm.sideeffect()

define void @g(i64 %a, ptr %p) {
entry:
  %x = add i64 %a, 1
  call void @work(i64 %x, i64 %a)
  call void @llvm.sideeffect()
  %q = bitcast ptr %p to ptr
  ret void
}
`)
	cm := workspan.NewCodeMetrics()
	entry := m.Func("g").Entry()
	cm.AnalyzeBlock(entry, workspan.UnitCostModel{}, nil)
	if cm.NumBBInsts[entry] != 1+3+1 {
		t.Fatalf("block cost: got %d, want 5", cm.NumBBInsts[entry])
	}
	if cm.NumCalls != 1 {
		t.Fatalf("calls: got %d, want 1", cm.NumCalls)
	}
}

func TestReportFunc(t *testing.T) {
	f := nestFunc(t, "8")
	rows := workspan.ReportFunc(f, nil, nil)
	require.Len(t, rows, 2)
	require.Equal(t, "outer", rows[0].Header)
	require.Equal(t, 1, rows[0].Depth)
	require.Equal(t, uint32(4), rows[0].Trips)
	require.Equal(t, "inner", rows[1].Header)
	require.Equal(t, uint32(8), rows[1].Trips)
	require.Equal(t, uint64(4), rows[1].Cost.Work)
}
