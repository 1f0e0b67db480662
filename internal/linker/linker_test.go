package linker_test

import (
	"errors"
	"testing"

	"chiabi/internal/ir"
	"chiabi/internal/irtext"
	"chiabi/internal/linker"
)

const runtimeSrc = `
%struct.__rts_stack_frame = type { i64, ptr }

@__rts_counter = internal global i64 0

define void @__rts_enter_frame(ptr %sf) {
entry:
  call void @bump()
  ret void
}

define internal void @bump() {
entry:
  %v = load i64, ptr @__rts_counter
  %n = add i64 %v, 1
  store i64 %n, ptr @__rts_counter
  ret void
}

define i32 @__rts_get_num_workers() {
entry:
  ret i32 4
}

define void @unused() {
entry:
  ret void
}
`

func TestLinkOnlyNeeded(t *testing.T) {
	src := irtext.MustParse("rts", runtimeSrc)
	dst := irtext.MustParse("host", `
declare void @__rts_enter_frame(ptr)

define void @main() {
entry:
  %sf = alloca %struct.__rts_stack_frame
  call void @__rts_enter_frame(ptr %sf)
  ret void
}
`)
	if err := linker.Link(dst, src, linker.Flags{OnlyNeeded: true}); err != nil {
		t.Fatalf("link: %v", err)
	}
	enter := dst.Func("__rts_enter_frame")
	if enter.IsDeclaration() {
		t.Fatal("declaration was not completed")
	}
	if dst.Func("bump") == nil || dst.Global("__rts_counter") == nil {
		t.Fatal("transitive references were not imported")
	}
	if dst.Func("unused") != nil || dst.Func("__rts_get_num_workers") != nil {
		t.Fatal("unreferenced definitions were imported")
	}
	if err := ir.Verify(dst); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if src.Func("bump").Parent != src {
		t.Fatal("source module modified")
	}
}

func TestLinkAllImportsStructBodies(t *testing.T) {
	src := irtext.MustParse("rts", runtimeSrc)
	dst := ir.NewModule("host")
	frame := dst.StructType("struct.__rts_stack_frame")
	if err := linker.Link(dst, src, linker.Flags{}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if frame.Opaque || len(frame.Fields) != 2 {
		t.Fatalf("frame body not imported: %s", frame.BodyString())
	}
	if dst.Func("unused") == nil || dst.Func("__rts_get_num_workers") == nil {
		t.Fatal("full link should import everything")
	}
}

func TestLinkRenamesLocalCollisions(t *testing.T) {
	src := irtext.MustParse("rts", runtimeSrc)
	dst := irtext.MustParse("host", `
declare void @__rts_enter_frame(ptr)

define internal void @bump() {
entry:
  ret void
}
`)
	if err := linker.Link(dst, src, linker.Flags{OnlyNeeded: true}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if len(dst.Func("bump").Blocks[0].Instrs) != 1 {
		t.Fatal("host @bump was overwritten")
	}
	callee := dst.Func("__rts_enter_frame").Blocks[0].Instrs[0].CalledFunc()
	if callee == nil || callee == dst.Func("bump") || callee.Name != "bump.1" {
		t.Fatalf("runtime @bump should be renamed, got %v", callee)
	}
}

func TestLinkConflicts(t *testing.T) {
	src := irtext.MustParse("rts", runtimeSrc)
	dst := irtext.MustParse("host", `
define void @__rts_enter_frame(ptr %sf) {
entry:
  ret void
}
`)
	err := linker.Link(dst, src, linker.Flags{})
	if !errors.Is(err, linker.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	dst = irtext.MustParse("host", "declare void @__rts_enter_frame(i64)\n")
	err = linker.Link(dst, src, linker.Flags{OnlyNeeded: true})
	if !errors.Is(err, ir.ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}
