package observ

import (
	"bytes"
	"strings"
	"testing"
)

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	a := tm.Begin("load")
	tm.End(a, "1 unit")
	b := tm.Begin("lower")
	tm.End(b, "")
	tm.End(99, "ignored")

	r := tm.Report()
	if r.Units != 1 || len(r.Phases) != 2 {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.Phases[0].Note != "1 unit" {
		t.Errorf("unexpected note %q", r.Phases[0].Note)
	}
}

func TestNilTimer(t *testing.T) {
	var tm *Timer
	tm.End(tm.Begin("x"), "")
	if r := tm.Report(); len(r.Phases) != 0 || r.Units != 0 {
		t.Errorf("nil timer must report nothing")
	}
}

func TestSum(t *testing.T) {
	a := Report{Units: 1, TotalMS: 3, Phases: []PhaseReport{{Name: "load", DurationMS: 1, Note: "x"}, {Name: "lower", DurationMS: 2}}}
	b := Report{Units: 1, TotalMS: 6, Phases: []PhaseReport{{Name: "load", DurationMS: 1}, {Name: "write", DurationMS: 5}}}

	s := Sum(a, b, Report{})
	if s.Units != 2 || s.TotalMS != 9 {
		t.Fatalf("unexpected totals %+v", s)
	}
	want := []PhaseReport{{Name: "load", DurationMS: 2}, {Name: "lower", DurationMS: 2}, {Name: "write", DurationMS: 5}}
	if len(s.Phases) != len(want) {
		t.Fatalf("unexpected phases %+v", s.Phases)
	}
	for i := range want {
		if s.Phases[i] != want[i] {
			t.Errorf("phase %d = %+v, want %+v", i, s.Phases[i], want[i])
		}
	}
}

func TestReportWrite(t *testing.T) {
	var buf bytes.Buffer
	r := Report{Units: 2, TotalMS: 4, Phases: []PhaseReport{{Name: "lower", DurationMS: 4, Note: "1 loops"}}}
	if err := r.Write(&buf, "all"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "all: 4.00 ms over 2 units\n") || !strings.Contains(out, "lower") || !strings.Contains(out, "1 loops") {
		t.Errorf("unexpected output %q", out)
	}
}
