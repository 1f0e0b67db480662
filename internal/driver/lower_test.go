package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chiabi/internal/bitcode"
	"chiabi/internal/chiabi"
	"chiabi/internal/trace"
)

const spawnSrc = `
declare token @llvm.syncregion.start()
declare void @work(i64)

define void @twice(i64 %n) {
entry:
  %sr = call token @llvm.syncregion.start()
  detach within %sr, label %t, label %c

t:
  call void @work(i64 %n)
  reattach within %sr, label %c

c:
  call void @work(i64 %n)
  sync within %sr, label %done

done:
  ret void
}
`

const loopSrc = `
declare token @llvm.syncregion.start()
declare void @use(i64)

define void @each(i64 %n) {
entry:
  %sr = call token @llvm.syncregion.start()
  br label %ph

ph:
  br label %header

header:
  %i = phi i64 [ 0, %ph ], [ %i.next, %latch ]
  detach within %sr, label %body, label %latch

body:
  call void @use(i64 %i)
  reattach within %sr, label %latch

latch:
  %i.next = add i64 %i, 1
  %more = icmp ult i64 %i.next, %n
  br i1 %more, label %header, label %exit !hint "tapir.loop.spawn.strategy"="target"

exit:
  sync within %sr, label %done

done:
  ret void
}
`

func writeUnitFile(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestParseEmit(t *testing.T) {
	for in, want := range map[string]Emit{"": EmitBitcode, "bc": EmitBitcode, "Text": EmitText, "ll": EmitText} {
		got, err := ParseEmit(in)
		if err != nil || got != want {
			t.Fatalf("ParseEmit(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseEmit("asm"); err == nil {
		t.Fatalf("expected an error for asm")
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("src/a.ll", "", EmitText); got != filepath.Join("src", "a.chiabi.ll") {
		t.Fatalf("next to input: %s", got)
	}
	if got := OutputPath("src/a.ll", "out", EmitBitcode); got != filepath.Join("out", "a.chiabi.bc") {
		t.Fatalf("in out dir: %s", got)
	}
}

func TestLowerFileWritesOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeUnitFile(t, dir, "twice.ll", spawnSrc)
	ring := trace.NewRingTracer(64, trace.LevelDebug)
	ctx := trace.WithTracer(context.Background(), ring)

	res := LowerFile(ctx, in, Options{OutDir: filepath.Join(dir, "out"), Emit: EmitBitcode})
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Stats.Tasks)
	require.Equal(t, 1, res.Stats.Syncs)
	require.Zero(t, res.Kernels)
	require.Equal(t, 1, res.Timing.Units)
	var phases []string
	for _, p := range res.Timing.Phases {
		phases = append(phases, p.Name)
	}
	require.Equal(t, []string{"load", "lower", "verify", "write"}, phases)

	m, err := bitcode.ReadFile(res.Output)
	require.NoError(t, err)
	require.NotNil(t, m.Func(chiabi.Spawn))
	require.NotNil(t, m.Func(chiabi.EnterFrame))

	var unitSpan bool
	for _, ev := range ring.Snapshot() {
		if ev.Scope == trace.ScopeDriver && ev.Name == "lower" && ev.Unit == in {
			unitSpan = true
		}
	}
	require.True(t, unitSpan, "unit span traced")
}

func TestLowerFileEmbedsKernels(t *testing.T) {
	dir := t.TempDir()
	in := writeUnitFile(t, dir, "each.ll", loopSrc)
	res := LowerFile(context.Background(), in, Options{
		Lower: chiabi.Options{SingleKernelModule: true, LoopLaunch: chiabi.NullLoopLaunch},
		Emit:  EmitText,
	})
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Stats.Loops)
	require.Equal(t, 1, res.Kernels)
	require.Equal(t, filepath.Join(dir, "each.chiabi.ll"), res.Output)

	m, err := bitcode.ReadFile(res.Output)
	require.NoError(t, err)
	kernels, err := chiabi.EmbeddedKernels(m)
	require.NoError(t, err)
	require.Len(t, kernels, 1)
}

func TestLowerFileErrors(t *testing.T) {
	dir := t.TempDir()
	res := LowerFile(context.Background(), filepath.Join(dir, "missing.ll"), Options{})
	require.Error(t, res.Err)
	// A unit that fails early still reports the phases it ran.
	require.Len(t, res.Timing.Phases, 1)
	require.Equal(t, "load", res.Timing.Phases[0].Name)

	bad := writeUnitFile(t, dir, "wide.ll", `
declare token @llvm.syncregion.start()
declare void @use(i128)

define void @wide(i128 %n) {
entry:
  %sr = call token @llvm.syncregion.start()
  br label %ph

ph:
  br label %header

header:
  %i = phi i128 [ 0, %ph ], [ %i.next, %latch ]
  detach within %sr, label %body, label %latch

body:
  call void @use(i128 %i)
  reattach within %sr, label %latch

latch:
  %i.next = add i128 %i, 1
  %more = icmp ult i128 %i.next, %n
  br i1 %more, label %header, label %exit

exit:
  sync within %sr, label %done

done:
  ret void
}
`)
	res = LowerFile(context.Background(), bad, Options{Lower: chiabi.Options{ProcessAllLoops: true}})
	require.ErrorIs(t, res.Err, chiabi.ErrInternal)
	require.True(t, res.Bag.HasErrors())
	require.Empty(t, res.Output)
}

func TestLowerFilesKeepsGoing(t *testing.T) {
	dir := t.TempDir()
	a := writeUnitFile(t, dir, "a.ll", spawnSrc)
	b := writeUnitFile(t, dir, "b.ll", "define void @broken( {\n")
	c := writeUnitFile(t, dir, "c.ll", loopSrc)

	results, err := LowerFiles(context.Background(), []string{a, b, c}, Options{Jobs: 2, NoWrite: true})
	require.Error(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	require.Equal(t, 1, results[2].Stats.Loops)
	require.Equal(t, b, results[1].Path)

	results, err = LowerFiles(context.Background(), []string{a, c}, Options{NoWrite: true})
	require.NoError(t, err)
	for _, r := range results {
		require.Empty(t, r.Output)
	}
}

func TestLowerFilesCancelled(t *testing.T) {
	dir := t.TempDir()
	a := writeUnitFile(t, dir, "a.ll", spawnSrc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LowerFiles(ctx, []string{a}, Options{NoWrite: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LowerFiles = %v", err)
	}
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	b := writeUnitFile(t, dir, "b.ll", spawnSrc)
	a := writeUnitFile(t, sub, "a.bc", spawnSrc)
	writeUnitFile(t, dir, "b.chiabi.ll", spawnSrc)
	writeUnitFile(t, dir, "notes.txt", "")

	got, err := CollectInputs([]string{dir, b})
	require.NoError(t, err)
	require.Equal(t, []string{b, a}, got)

	_, err = CollectInputs([]string{filepath.Join(dir, "none")})
	require.Error(t, err)
}
