package bitcode_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chiabi/internal/bitcode"
	"chiabi/internal/ir"
	"chiabi/internal/irtext"
)

const kernelSrc = `
%struct.pair = type { i32, ptr }
%struct.hidden = type opaque

@table = internal constant [2 x i32] [i32 1, i32 2], align 4
@state = extern_weak global i64 zeroinitializer
@pairs = global %struct.pair { i32 7, ptr @state }
@alias = alias @body

declare i32 @__gxx_personality_v0(...)
declare nounwind i64 @__rts_get_iteration_64(i64, i64)

define internal noinline void @body(i64 %start, i64 %end) personality ptr @__gxx_personality_v0 {
entry:
  %it = call i64 @__rts_get_iteration_64(i64 %start, i64 1)
  %c = icmp uge i64 %it, %end
  br i1 %c, label %exit, label %header

header:
  %iv = phi i64 [ %it, %entry ], [ %next, %header ]
  %p = getelementptr [2 x i32], ptr @table, i64 0, i64 %iv
  %v = load i32, ptr %p, align 4
  %w = sext i32 %v to i64
  store i64 %w, ptr @state
  %next = add i64 %iv, 1
  %done = icmp uge i64 %next, %end
  br i1 %done, label %exit, label %header !hint "tapir.loop.spawn.strategy"="target" !dbg 4:2

exit:
  ret void
}
`

func TestRoundTripPreservesText(t *testing.T) {
	m := irtext.MustParse("kernel", kernelSrc)
	data, err := bitcode.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bitcode.IsBitcode(data) {
		t.Fatal("missing magic")
	}
	back, err := bitcode.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, want := back.String(), m.String(); got != want {
		t.Fatalf("round trip mismatch:\n--- want\n%s\n--- got\n%s", want, got)
	}
	if err := ir.Verify(back); err != nil {
		t.Fatalf("verify: %v", err)
	}
	body := back.Func("body")
	if body.BlockByName("header").Terminator().Loc.Line != 4 {
		t.Fatal("debug location lost")
	}
	if back.LookupStruct("struct.hidden") == nil || !back.LookupStruct("struct.hidden").Opaque {
		t.Fatal("opaque struct lost")
	}
}

func TestDecodeRejectsForeignData(t *testing.T) {
	if _, err := bitcode.Unmarshal([]byte("; text module\n")); !errors.Is(err, bitcode.ErrNotBitcode) {
		t.Fatalf("expected ErrNotBitcode, got %v", err)
	}
	if _, err := bitcode.Unmarshal([]byte("CHBC\xc1")); err == nil {
		t.Fatal("expected error for corrupt payload")
	}
}

func TestReadFileDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	m := irtext.MustParse("rt", kernelSrc)

	bcPath := filepath.Join(dir, "rt.bc")
	if err := bitcode.WriteFile(bcPath, m, false); err != nil {
		t.Fatal(err)
	}
	llPath := filepath.Join(dir, "rt.ll")
	if err := bitcode.WriteFile(llPath, m, true); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{bcPath, llPath} {
		got, err := bitcode.ReadFile(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if got.Func("body") == nil {
			t.Fatalf("%s: @body missing", p)
		}
	}
	raw, _ := os.ReadFile(llPath)
	if bytes.HasPrefix(raw, []byte(bitcode.Magic)) {
		t.Fatal("text output should not carry the bitcode magic")
	}
}
