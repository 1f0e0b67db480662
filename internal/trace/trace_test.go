package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLevelShouldEmit(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelPhase, ScopePass, true},
		{LevelPhase, ScopeFunc, false},
		{LevelDetail, ScopeFunc, true},
		{LevelDetail, ScopeLoop, false},
		{LevelDebug, ScopeLoop, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tt.level, tt.scope, got, tt.want)
		}
	}
}

func TestRingTracerSpans(t *testing.T) {
	rt := NewRingTracer(8, LevelDetail)
	outer := Begin(rt, ScopePass, "lower-tasks", 0)
	inner := Begin(rt, ScopeFunc, "func:f", outer.ID())
	Begin(rt, ScopeLoop, "loop:body", inner.ID()).End("")
	inner.WithExtra("spawns", "2").End("")
	outer.End("ok")

	events := rt.Snapshot()
	if len(events) != 4 {
		t.Fatalf("expected 4 events (loop scope filtered), got %d", len(events))
	}
	if events[1].ParentID != outer.ID() {
		t.Errorf("expected parent %d, got %d", outer.ID(), events[1].ParentID)
	}
	if events[2].Extra["spawns"] != "2" {
		t.Errorf("expected extra on end event, got %v", events[2].Extra)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Errorf("sequence not increasing at %d", i)
		}
	}
}

func TestRingTracerWraps(t *testing.T) {
	rt := NewRingTracer(2, LevelPhase)
	ctx := WithTracer(context.Background(), rt)
	for _, name := range []string{"a", "b", "c"} {
		Mark(ctx, ScopePass, name, "")
	}
	events := rt.Snapshot()
	if len(events) != 2 || events[0].Name != "b" || events[1].Name != "c" {
		t.Errorf("unexpected snapshot %+v", events)
	}
}

func TestStreamTracerText(t *testing.T) {
	var buf bytes.Buffer
	st := NewStreamTracer(&buf, LevelPhase, FormatText)
	Begin(st, ScopePass, "link-runtime", 0).End("done")
	out := buf.String()
	if !strings.Contains(out, "→ link-runtime") || !strings.Contains(out, "← link-runtime (done)") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	st := NewStreamTracer(&buf, LevelPhase, FormatNDJSON)
	ctx := WithUnit(WithTracer(context.Background(), st), "fib.ll")
	Mark(ctx, ScopeDriver, "start", "x")
	if !strings.Contains(buf.String(), `"name":"start"`) || !strings.Contains(buf.String(), `"unit":"fib.ll"`) {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != Nop {
		t.Errorf("expected Nop tracer by default")
	}
	rt := NewRingTracer(4, LevelDebug)
	ctx = WithParentSpan(WithTracer(ctx, rt), 42)
	if FromContext(ctx) != rt {
		t.Errorf("expected stored tracer")
	}
	if ParentSpan(ctx) != 42 {
		t.Errorf("expected parent span 42, got %d", ParentSpan(ctx))
	}
}

func TestNewOffIsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Enabled() {
		t.Errorf("expected disabled tracer")
	}
}

func TestStartNestsUnderContextSpan(t *testing.T) {
	rt := NewRingTracer(16, LevelDetail)
	ctx := WithUnit(WithTracer(context.Background(), rt), "a.ll")

	unitCtx, unit := Start(ctx, ScopeDriver, "lower")
	phaseCtx, phase := Start(unitCtx, ScopePass, "task_phase")
	// Loop scope is above LevelDetail: the span is disabled and ctx is kept.
	loopCtx, loop := Start(phaseCtx, ScopeLoop, "loop f:header")
	if loop.ID() != 0 || loopCtx != phaseCtx {
		t.Fatalf("expected disabled loop span")
	}
	_, fn := Start(loopCtx, ScopeFunc, "f")
	fn.End("")
	phase.End("")
	unit.End("")

	events := rt.Snapshot()
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[1].ParentID != unit.ID() || events[2].ParentID != phase.ID() {
		t.Fatalf("unexpected parents %d, %d", events[1].ParentID, events[2].ParentID)
	}
	for _, ev := range events {
		if ev.Unit != "a.ll" {
			t.Fatalf("event %q not tagged with its unit: %q", ev.Name, ev.Unit)
		}
	}
	if ParentSpan(ctx) != 0 || UnitOf(phaseCtx) != "a.ll" {
		t.Fatalf("context state leaked")
	}
}

func TestFormatTextShowsUnit(t *testing.T) {
	out := string(FormatEvent(&Event{Seq: 3, Kind: KindSpanBegin, Scope: ScopePass, Unit: "b.ll", Name: "loop_phase"}, FormatText))
	if !strings.Contains(out, "b.ll| ") || !strings.Contains(out, "→ loop_phase") {
		t.Fatalf("unexpected text %q", out)
	}
}

func TestNewDefaults(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Output: &buf, Mode: ModeRing})
	if err != nil {
		t.Fatal(err)
	}
	st, ok := tr.(*StreamTracer)
	if !ok || st.Level() != LevelPhase {
		t.Fatalf("output without level must stream phases, got %T", tr)
	}

	tr, err = New(Config{Level: LevelDebug})
	if err != nil {
		t.Fatal(err)
	}
	if RingOf(tr) == nil {
		t.Fatalf("expected ring tracer, got %T", tr)
	}

	tr, err = New(Config{Level: LevelDebug, Mode: ModeBoth, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*MultiTracer); !ok || RingOf(tr) == nil {
		t.Fatalf("expected multi tracer with a ring, got %T", tr)
	}
}

func TestRingReplaysOneUnit(t *testing.T) {
	rt := NewRingTracer(3, LevelDebug)
	base := WithTracer(context.Background(), rt)
	for _, unit := range []string{"a.ll", "b.ll", "a.ll", "a.ll"} {
		Mark(WithUnit(base, unit), ScopeDriver, "load", "")
	}
	if got := len(rt.Events("a.ll")); got != 2 {
		t.Fatalf("expected the 2 newest a.ll events, got %d", got)
	}
	var buf bytes.Buffer
	if err := rt.Dump(&buf, FormatText, "b.ll"); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "b.ll| ") != 1 {
		t.Fatalf("unexpected dump %q", buf.String())
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]StorageMode{"": ModeRing, "Stream": ModeStream, "both": ModeBoth} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("disk"); err == nil {
		t.Errorf("expected error for unknown mode")
	}
}
