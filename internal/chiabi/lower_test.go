package chiabi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chiabi/internal/ir"
)

const pairSrc = `
declare token @llvm.syncregion.start()
declare void @consume(i64, i64)
declare i32 @__gxx_personality_v0(...)

define void @pair(i64 %n) personality ptr @__gxx_personality_v0 {
entry:
  %sr = call token @llvm.syncregion.start()
  %a = alloca i64, align 8
  %b = alloca i64, align 8
  detach within %sr, label %t1, label %c1

t1:
  %x = mul i64 %n, 3
  store i64 %x, ptr %a, align 8
  reattach within %sr, label %c1

c1:
  detach within %sr, label %t2, label %c2

t2:
  %y = add i64 %n, 5
  store i64 %y, ptr %b, align 8
  reattach within %sr, label %c2

c2:
  sync within %sr, label %join

join:
  %va = load i64, ptr %a, align 8
  %vb = load i64, ptr %b, align 8
  invoke void @consume(i64 %va, i64 %vb) to label %done unwind label %lpad

done:
  ret void

lpad:
  %lp = landingpad { ptr, i32 } cleanup
  resume { ptr, i32 } %lp
}
`

func spawnsOf(f *ir.Func) []*ir.Instr {
	var out []*ir.Instr
	for in := range f.Instrs {
		if c := in.CalledFunc(); c != nil && c.Name == Spawn {
			out = append(out, in)
		}
	}
	return out
}

func TestLowerSpawningFunction(t *testing.T) {
	tg, m, _, err := lower(t, pairSrc, Options{})
	require.NoError(t, err)
	f := m.Func("pair")
	sf := tg.Frame(f)
	require.NotNil(t, sf)

	require.Equal(t, 1, countCalls(f, EnterFrame))
	require.Equal(t, 1, countCalls(f, Sync))
	require.Zero(t, countCalls(f, SyncNoThrow))
	require.Equal(t, 2, countCalls(f, LeaveFrame), "one before the ret, one before the resume")
	for i, n := range callsOnPaths(f, LeaveFrame) {
		require.Equalf(t, 1, n, "path %d", i)
	}
	for i, n := range callsOnPaths(f, EnterFrame) {
		require.Equalf(t, 1, n, "path %d", i)
	}
	require.True(t, f.Attrs.Has(ir.AttrStealable))

	spawns := spawnsOf(f)
	require.Len(t, spawns, 2)
	require.NotEqual(t, spawns[0].Operands[2], spawns[1].Operands[2], "each task gets its own argument block")
	for _, s := range spawns {
		require.Equal(t, ir.OpCall, s.Op)
		require.Equal(t, ir.Value(sf), s.Operands[0])
		helper, ok := s.Operands[1].(*ir.Func)
		require.True(t, ok)
		require.Equal(t, ir.Internal, helper.Linkage)
		require.True(t, helper.Attrs.Has(ir.AttrNoInline))
		require.False(t, helper.Attrs.Has(ir.AttrAlwaysInline))
		require.Zero(t, countCalls(helper, EnterFrame), "helpers that do not spawn get no frame")

		args := s.Operands[2].(*ir.Instr)
		require.Equal(t, ir.OpAlloca, args.Op)
		size, _ := ir.IsConstInt(s.Operands[3])
		align, _ := ir.IsConstInt(s.Operands[4])
		require.EqualValues(t, 16, size)
		require.EqualValues(t, 8, align)
	}
	for in := range f.Instrs {
		require.NotContains(t, []ir.Opcode{ir.OpDetach, ir.OpReattach, ir.OpSync}, in.Op)
	}
	require.NoError(t, ir.Verify(m))
}

func TestLowerSpawnUnderInvoke(t *testing.T) {
	_, m, _, err := lower(t, `
declare token @llvm.syncregion.start()
declare void @work(i64)
declare i32 @__gxx_personality_v0(...)

define void @guarded(i64 %n) personality ptr @__gxx_personality_v0 {
entry:
  %sr = call token @llvm.syncregion.start()
  detach within %sr, label %t, label %c unwind label %lpad

t:
  call void @work(i64 %n)
  reattach within %sr, label %c

c:
  sync within %sr, label %done

done:
  ret void

lpad:
  %lp = landingpad { ptr, i32 } cleanup
  resume { ptr, i32 } %lp
}
`, Options{})
	require.NoError(t, err)
	f := m.Func("guarded")
	spawns := spawnsOf(f)
	require.Len(t, spawns, 1)
	s := spawns[0]
	require.Equal(t, ir.OpInvoke, s.Op)
	require.Equal(t, "c", s.Succs[0].Name)
	require.Equal(t, "lpad", s.Succs[1].Name)
	size, _ := ir.IsConstInt(s.Operands[3])
	require.EqualValues(t, 8, size)
	require.Equal(t, 2, countCalls(f, LeaveFrame))
	require.NoError(t, ir.Verify(m))
}

func TestNestedSpawnerHelper(t *testing.T) {
	_, m, _, err := lower(t, `
declare token @llvm.syncregion.start()
declare void @work(i64)

define void @outer() {
entry:
  %sr = call token @llvm.syncregion.start()
  detach within %sr, label %t1, label %c1

t1:
  %sr2 = call token @llvm.syncregion.start()
  detach within %sr2, label %t2, label %c2

t2:
  call void @work(i64 2)
  reattach within %sr2, label %c2

c2:
  sync within %sr2, label %t1.end

t1.end:
  reattach within %sr, label %c1

c1:
  sync within %sr, label %done

done:
  ret void
}
`, Options{})
	require.NoError(t, err)

	var spawner *ir.Func
	for _, f := range m.Funcs {
		if f.Name != "outer" && len(spawnsOf(f)) > 0 {
			spawner = f
		}
	}
	require.NotNil(t, spawner, "the outer task spawns the inner one")
	require.Equal(t, 1, countCalls(spawner, EnterFrame))
	require.Equal(t, 1, countCalls(spawner, Sync))
	for i, n := range callsOnPaths(spawner, LeaveFrame) {
		require.Equalf(t, 1, n, "path %d", i)
	}
	require.True(t, spawner.Attrs.Has(ir.AttrStealable))
	require.NoError(t, ir.Verify(m))
}

func TestAddHelperAttributes(t *testing.T) {
	tg, m, _ := newTarget(t, "define alwaysinline void @h(ptr %args) {\nentry:\n  ret void\n}\n", Options{})
	h := m.Func("h")
	tg.AddHelperAttributes(h)
	if h.Attrs.Has(ir.AttrAlwaysInline) || !h.Attrs.Has(ir.AttrNoInline) || !h.Attrs.Has(ir.AttrUnnamedAddr) {
		t.Fatalf("helper attributes: %s", h.Attrs)
	}
	if h.Linkage != ir.Internal {
		t.Fatalf("helper linkage: %v", h.Linkage)
	}
}

func TestConfigureIgnoresForeignOptions(t *testing.T) {
	tg, _, _ := newTarget(t, "", Options{SingleKernelModule: true})
	tg.Configure(nil)
	tg.Configure((*Options)(nil))
	if !tg.opts.SingleKernelModule {
		t.Fatalf("options were reset")
	}
	tg.Configure(&Options{KeepDir: "out"})
	if tg.opts.SingleKernelModule || tg.opts.KeepDir != "out" {
		t.Fatalf("pointer options not applied: %+v", tg.opts)
	}
	if got := (Options{}).TargetName(); got != "chiabi" {
		t.Fatalf("TargetName = %q", got)
	}
}
