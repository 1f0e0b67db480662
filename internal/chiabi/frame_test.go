package chiabi

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/irtext"
)

func newTarget(t *testing.T, src string, opts Options) (*Target, *ir.Module, *diag.Bag) {
	t.Helper()
	m := irtext.MustParse("unit.ll", src)
	bag := diag.NewBag(64)
	tg := New(m, diag.NewBagReporter(bag))
	tg.Configure(opts)
	return tg, m, bag
}

// callsOnPaths walks every acyclic path from the entry of f and returns,
// for each path ending in a ret or resume, how many calls to name it
// passes.
func callsOnPaths(f *ir.Func, name string) []int {
	var out []int
	onPath := map[*ir.Block]bool{}
	var walk func(b *ir.Block, n int)
	walk = func(b *ir.Block, n int) {
		if onPath[b] {
			return
		}
		onPath[b] = true
		defer delete(onPath, b)
		for _, in := range b.Instrs {
			if c := in.CalledFunc(); c != nil && c.Name == name {
				n++
			}
		}
		t := b.Terminator()
		if t.Op == ir.OpRet || t.Op == ir.OpResume {
			out = append(out, n)
			return
		}
		for _, s := range t.Succs {
			walk(s, n)
		}
	}
	walk(f.Entry(), 0)
	return out
}

func countCalls(f *ir.Func, name string) int {
	n := 0
	for in := range f.Instrs {
		if c := in.CalledFunc(); c != nil && c.Name == name {
			n++
		}
	}
	return n
}

func TestPrepareUnitDeclaresRuntime(t *testing.T) {
	tg, m, bag := newTarget(t, "define void @f() {\nentry:\n  ret void\n}\n", Options{})
	if err := tg.PrepareUnit(false); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	names := []string{
		EnterFrame, LeaveFrame, Spawn, Sync, SyncNoThrow, GetNumWorkers, GetWorkerID,
		"__rts_loop_grainsize_8", "__rts_loop_grainsize_16", "__rts_loop_grainsize_32", "__rts_loop_grainsize_64",
	}
	for _, n := range names {
		f := m.Func(n)
		if f == nil {
			t.Fatalf("%s not declared", n)
		}
		if !f.DoesNotThrow() {
			t.Fatalf("%s is not nounwind", n)
		}
	}
	ft := tg.FrameType()
	if ft == nil || ft.Opaque || len(ft.Fields) != 1 || !ft.Fields[0].IsIntN(64) {
		t.Fatalf("frame type fallback: %v", ft)
	}
	if got := len(bag.Filter(diag.LowerFrameTypeFallback)); got != 1 {
		t.Fatalf("fallback diagnostics: %d", got)
	}

	if err := tg.PrepareUnit(true); err != nil {
		t.Fatalf("prepare loops: %v", err)
	}
	if err := tg.PrepareUnit(true); err != nil {
		t.Fatalf("prepare loops again: %v", err)
	}
	km := tg.KernelModule()
	if len(km.Funcs) != 4 {
		t.Fatalf("kernel module declares %d functions, want 4", len(km.Funcs))
	}
	for _, w := range []string{"8", "16", "32", "64"} {
		if km.Func("__rts_get_iteration_"+w) == nil {
			t.Fatalf("__rts_get_iteration_%s missing", w)
		}
	}
}

func TestPrepareUnitRejectsRuntimeRedefinition(t *testing.T) {
	tg, _, _ := newTarget(t, "declare i64 @__rts_sync(i64)\n", Options{})
	err := tg.PrepareUnit(false)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

const runtimeSrc = `
%struct.__rts_stack_frame = type { i64, ptr }

define i32 @__rts_get_num_workers() {
entry:
  ret i32 4
}

define void @__rts_enter_frame(ptr %sf) {
entry:
  ret void
}
`

func TestPrepareUnitLinksHostRuntime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rts.ll")
	require.NoError(t, os.WriteFile(path, []byte(runtimeSrc), 0o644))

	tg, m, bag := newTarget(t, "define void @f() {\nentry:\n  ret void\n}\n", Options{HostBCPath: path})
	require.NoError(t, tg.PrepareUnit(false))
	require.Empty(t, bag.Filter(diag.LowerFrameTypeFallback))
	require.Empty(t, bag.Filter(diag.LowerLinkFailed))
	require.Len(t, tg.FrameType().Fields, 2)

	require.Equal(t, ir.Internal, m.Func(GetNumWorkers).Linkage)
	enter := m.Func(EnterFrame)
	require.False(t, enter.IsDeclaration())
	require.Equal(t, ir.AvailableExternally, enter.Linkage)
	require.True(t, m.Func(GetWorkerID).IsDeclaration())
	require.NoError(t, ir.Verify(m))
}

func TestPrepareUnitMissingRuntime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.bc")
	tg, m, bag := newTarget(t, "define void @f() {\nentry:\n  ret void\n}\n", Options{HostBCPath: path})
	require.NoError(t, tg.PrepareUnit(false))
	require.Len(t, bag.Filter(diag.LowerRuntimeMissing), 1)
	require.Len(t, bag.Filter(diag.LowerFrameTypeFallback), 1)
	require.NotNil(t, m.Func(Spawn))
}

func TestPrepareUnitReportsLinkConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rts.ll")
	require.NoError(t, os.WriteFile(path, []byte(runtimeSrc), 0o644))
	host := `
define void @__rts_enter_frame(ptr %sf) {
entry:
  ret void
}
`
	tg, _, bag := newTarget(t, host, Options{HostBCPath: path})
	require.NoError(t, tg.PrepareUnit(false))
	diags := bag.Filter(diag.LowerLinkFailed)
	require.Len(t, diags, 1)
	require.True(t, strings.HasPrefix(diags[0].Message, "linking module 'rts': "), diags[0].Message)
}

const entrySrc = `
declare token @llvm.syncregion.start()
declare void @llvm.lifetime.start(i64, ptr)
declare void @work(i64)

define void @f(i64 %n) {
entry:
  %a = alloca i64, align 8
  %sr = call token @llvm.syncregion.start()
  call void @llvm.lifetime.start(i64 8, ptr %a)
  %b = alloca i64, align 8
  %v = add i64 %n, 1
  call void @work(i64 %v) !dbg 4:3
  ret void
}
`

func TestCreateOrGetFrameIsIdempotent(t *testing.T) {
	tg, m, _ := newTarget(t, entrySrc, Options{})
	require.NoError(t, tg.PrepareUnit(false))
	f := m.Func("f")

	sf := tg.CreateOrGetFrame(f)
	again := tg.CreateOrGetFrame(f)
	if sf != again {
		t.Fatalf("second call returned another frame")
	}
	var allocas int
	for in := range f.Instrs {
		if in.Op == ir.OpAlloca && in.Name == FrameName {
			allocas++
		}
	}
	if allocas != 1 {
		t.Fatalf("%d frame allocas", allocas)
	}
	entry := f.Entry()
	if next := entry.Instrs[entry.IndexOf(sf)+1]; next.Name != "v" {
		t.Fatalf("frame allocated before %s, want before %%v", next.Ident())
	}
	if sf.Align != 8 || sf.ElemType != tg.FrameType() {
		t.Fatalf("frame alloca: align %d type %s", sf.Align, sf.ElemType)
	}
}

func TestPushFrameBorrowsLocation(t *testing.T) {
	tg, m, _ := newTarget(t, entrySrc, Options{})
	require.NoError(t, tg.PrepareUnit(false))
	f := m.Func("f")

	push := tg.PushFrame(f, nil)
	entry := f.Entry()
	require.Equal(t, tg.Frame(f), entry.Instrs[entry.IndexOf(push)-1])
	require.Equal(t, uint32(4), push.Loc.Line)
	require.Equal(t, uint32(3), push.Loc.Col)
}

func TestFrameInvariant(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		promote bool
		exits   int
	}{
		{
			name:  "one exit",
			exits: 1,
			src: `
declare nounwind void @work()
define void @f() {
entry:
  call void @work()
  ret void
}
`,
		},
		{
			name:  "two exits",
			exits: 2,
			src: `
define i64 @f(i1 %c, i64 %x) {
entry:
  br i1 %c, label %a, label %b
a:
  ret i64 %x
b:
  %y = add i64 %x, 1
  ret i64 %y
}
`,
		},
		{
			name:  "n exits",
			exits: 4,
			src: `
define void @f(i64 %x) {
entry:
  %c0 = icmp eq i64 %x, 0
  br i1 %c0, label %r0, label %t1
t1:
  %c1 = icmp eq i64 %x, 1
  br i1 %c1, label %r1, label %t2
t2:
  %c2 = icmp eq i64 %x, 2
  br i1 %c2, label %r2, label %join
r0:
  br label %join
r1:
  ret void
r2:
  ret void
join:
  %c3 = icmp ugt i64 %x, 9
  br i1 %c3, label %r3, label %r4
r3:
  ret void
r4:
  ret void
}
`,
		},
		{
			name:  "exception handling",
			exits: 2,
			src: `
declare void @may_throw()
declare i32 @__gxx_personality_v0(...)
define void @f() personality ptr @__gxx_personality_v0 {
entry:
  invoke void @may_throw() to label %ok unwind label %lpad
ok:
  ret void
lpad:
  %lp = landingpad { ptr, i32 } cleanup
  resume { ptr, i32 } %lp
}
`,
		},
		{
			name:    "promoted calls",
			promote: true,
			exits:   3,
			src: `
declare void @may_throw()
define void @f(i1 %c) {
entry:
  call void @may_throw()
  br i1 %c, label %a, label %b
a:
  call void @may_throw()
  ret void
b:
  ret void
}
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg, m, _ := newTarget(t, tt.src, Options{})
			require.NoError(t, tg.PrepareUnit(false))
			f := m.Func("f")
			tg.PushFrame(f, nil)
			exits, err := tg.PopFrame(f, tt.promote)
			require.NoError(t, err)
			require.Len(t, exits, tt.exits)
			require.NoError(t, ir.Verify(m))

			require.Equal(t, tt.exits, countCalls(f, LeaveFrame))
			for i, n := range callsOnPaths(f, LeaveFrame) {
				require.Equalf(t, 1, n, "path %d leaves the frame %d times", i, n)
			}
			for i, n := range callsOnPaths(f, EnterFrame) {
				require.Equalf(t, 1, n, "path %d enters the frame %d times", i, n)
			}
		})
	}
}

func TestLowerGrainsizeWidths(t *testing.T) {
	for _, w := range []string{"8", "16", "32", "64"} {
		t.Run("i"+w, func(t *testing.T) {
			src := strings.ReplaceAll(`
declare iW @llvm.tapir.loop.grainsize.iW(iW)
define iW @g(iW %n) {
entry:
  %gs = call iW @llvm.tapir.loop.grainsize.iW(iW %n)
  ret iW %gs
}
`, "W", w)
			tg, m, _ := newTarget(t, src, Options{})
			require.NoError(t, tg.PrepareUnit(false))
			f := m.Func("g")
			call := f.FindInstr("gs")

			v, err := tg.LowerGrainsize(call)
			require.NoError(t, err)
			gs := v.(*ir.Instr)
			require.Equal(t, "__rts_loop_grainsize_"+w, gs.CalledFunc().Name)
			require.Equal(t, f.Params[0], gs.Operands[0])
			require.Equal(t, ir.Value(gs), f.Entry().Terminator().Operands[0])
			call.Erase()
			require.NoError(t, ir.Verify(m))
		})
	}
}

func TestLowerGrainsizeRejectsWideTypes(t *testing.T) {
	tg, m, bag := newTarget(t, `
declare i128 @llvm.tapir.loop.grainsize.i128(i128)
define i128 @g(i128 %n) {
entry:
  %gs = call i128 @llvm.tapir.loop.grainsize.i128(i128 %n)
  ret i128 %gs
}
`, Options{})
	require.NoError(t, tg.PrepareUnit(false))
	_, err := tg.LowerGrainsize(m.Func("g").FindInstr("gs"))
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if len(bag.Filter(diag.LowerInternal)) != 1 {
		t.Fatalf("internal error not reported")
	}
}

const syncSrc = `
declare token @llvm.syncregion.start()
declare void @llvm.sync.unwind(token)
declare void @llvm.dbg.value(i64)
declare void @llvm.lifetime.start.p0(i64, ptr)
declare i32 @__gxx_personality_v0(...)

define void @plain() {
entry:
  %sr = call token @llvm.syncregion.start()
  sync within %sr, label %done
done:
  ret void
}

define nounwind void @quiet() {
entry:
  %sr = call token @llvm.syncregion.start()
  sync within %sr, label %done
done:
  ret void
}

define i64 @rethrow(i64 %x) personality ptr @__gxx_personality_v0 {
entry:
  %sr = call token @llvm.syncregion.start()
  sync within %sr, label %su
su:
  invoke void @llvm.sync.unwind(token %sr) to label %ok unwind label %lpad
ok:
  %r = phi i64 [ %x, %su ]
  ret i64 %r
lpad:
  %e = phi i64 [ %x, %su ]
  %lp = landingpad { ptr, i32 } cleanup
  resume { ptr, i32 } %lp
}

define i64 @rethrow_marked(i64 %x) personality ptr @__gxx_personality_v0 {
entry:
  %sr = call token @llvm.syncregion.start()
  %slot = alloca i64, align 8
  sync within %sr, label %su
su:
  call void @llvm.dbg.value(i64 %x)
  call void @llvm.lifetime.start.p0(i64 8, ptr %slot)
  invoke void @llvm.sync.unwind(token %sr) to label %ok unwind label %lpad
ok:
  ret i64 %x
lpad:
  %lp = landingpad { ptr, i32 } cleanup
  resume { ptr, i32 } %lp
}
`

func findSync(f *ir.Func) *ir.Instr {
	for in := range f.Instrs {
		if in.Op == ir.OpSync {
			return in
		}
	}
	return nil
}

func TestLowerSync(t *testing.T) {
	tg, m, _ := newTarget(t, syncSrc, Options{})
	require.NoError(t, tg.PrepareUnit(false))

	// Without a frame there is nothing to wait for.
	plain := m.Func("plain")
	require.NoError(t, tg.LowerSync(findSync(plain)))
	require.Equal(t, ir.OpBr, plain.Entry().Terminator().Op)
	require.Zero(t, countCalls(plain, Sync))
	require.False(t, plain.Attrs.Has(ir.AttrStealable))

	quiet := m.Func("quiet")
	tg.CreateOrGetFrame(quiet)
	require.NoError(t, tg.LowerSync(findSync(quiet)))
	require.Equal(t, 1, countCalls(quiet, SyncNoThrow))
	require.Zero(t, countCalls(quiet, Sync))
	require.True(t, quiet.Attrs.Has(ir.AttrStealable))

	re := m.Func("rethrow")
	tg.CreateOrGetFrame(re)
	require.NoError(t, tg.LowerSync(findSync(re)))
	term := re.Entry().Terminator()
	require.Equal(t, ir.OpInvoke, term.Op)
	require.Equal(t, Sync, term.CalledFunc().Name)
	require.Equal(t, "ok", term.Succs[0].Name)
	require.Equal(t, "lpad", term.Succs[1].Name)
	require.Equal(t, ir.Value(re.Params[0]), re.FindInstr("r").IncomingFor(re.Entry()))
	require.Equal(t, ir.Value(re.Params[0]), re.FindInstr("e").IncomingFor(re.Entry()))
	require.True(t, re.Attrs.Has(ir.AttrStealable))

	// Debug and lifetime markers ahead of llvm.sync.unwind do not hide it.
	marked := m.Func("rethrow_marked")
	tg.CreateOrGetFrame(marked)
	require.NoError(t, tg.LowerSync(findSync(marked)))
	term = marked.Entry().Terminator()
	require.Equal(t, ir.OpInvoke, term.Op)
	require.Equal(t, Sync, term.CalledFunc().Name)
	require.Equal(t, "ok", term.Succs[0].Name)
	require.Equal(t, "lpad", term.Succs[1].Name)
	require.NoError(t, ir.Verify(m))
}

func TestSkipInstruction(t *testing.T) {
	m := irtext.MustParse("skip.ll", entrySrc)
	want := map[string]bool{"a": true, "sr": true, "b": true, "v": false}
	for in := range m.Func("f").Instrs {
		if exp, ok := want[in.Name]; ok && skipInstruction(in) != exp {
			t.Fatalf("skipInstruction(%s) = %v", in.Ident(), !exp)
		}
	}
}
