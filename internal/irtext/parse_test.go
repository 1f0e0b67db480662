package irtext_test

import (
	"errors"
	"testing"

	"chiabi/internal/ir"
	"chiabi/internal/irtext"
)

const fibSrc = `
%struct.__rts_stack_frame = type { i64 }

@counter = global i64 0, align 8
@msg = internal constant [3 x i8] c"hi\00"

declare token @llvm.syncregion.start()
declare void @work(i64)

define i64 @fib(i64 %n) {
entry:
  %sr = call token @llvm.syncregion.start()
  %x = alloca i64, align 8
  %small = icmp slt i64 %n, 2
  br i1 %small, label %base, label %rec

rec:
  detach within %sr, label %spawned, label %cont

spawned:
  %n1 = sub i64 %n, 1
  %r1 = call i64 @fib(i64 %n1)
  store i64 %r1, ptr %x, align 8
  reattach within %sr, label %cont

cont:
  %n2 = sub i64 %n, 2
  %r2 = call i64 @fib(i64 %n2) !dbg 12:7
  sync within %sr, label %join

join:
  %a = load i64, ptr %x, align 8
  %sum = add i64 %a, %r2
  ret i64 %sum

base:
  ret i64 %n
}
`

func TestParseRoundTrip(t *testing.T) {
	m, err := irtext.ParseString("fib.ll", fibSrc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	first := m.String()
	again, err := irtext.ParseString("fib.ll", first)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, first)
	}
	if second := again.String(); second != first {
		t.Fatalf("round trip changed text:\n--- first\n%s\n--- second\n%s", first, second)
	}
}

func TestParseStructure(t *testing.T) {
	m := irtext.MustParse("fib.ll", fibSrc)

	fib := m.Func("fib")
	if fib == nil || fib.IsDeclaration() {
		t.Fatal("expected @fib definition")
	}
	if got := len(fib.Blocks); got != 6 {
		t.Fatalf("blocks: got %d, want 6", got)
	}
	if fib.Params[0].Name != "n" {
		t.Fatalf("param name: %q", fib.Params[0].Name)
	}
	rec := fib.BlockByName("rec")
	det := rec.Terminator()
	if det.Op != ir.OpDetach || det.Succs[0].Name != "spawned" || det.Succs[1].Name != "cont" {
		t.Fatalf("unexpected detach %s", det)
	}
	if det.SyncRegion() != fib.FindInstr("sr") {
		t.Fatal("detach does not use the sr syncregion")
	}
	call := fib.FindInstr("r2")
	if call.CalledFunc() != fib || call.Loc.Line != 12 || call.Loc.Col != 7 {
		t.Fatalf("unexpected call %s", call)
	}
	st := m.LookupStruct("struct.__rts_stack_frame")
	if st == nil || len(st.Fields) != 1 || !st.Fields[0].IsIntN(64) {
		t.Fatalf("frame struct: %v", st)
	}
	msg := m.Global("msg")
	if msg == nil || !msg.Constant || msg.Linkage != ir.Internal {
		t.Fatalf("msg global: %+v", msg)
	}
	if c, ok := msg.Init.(*ir.Const); !ok || string(c.Bytes) != "hi\x00" {
		t.Fatalf("msg init: %v", msg.Init)
	}
}

func TestParseForwardReferences(t *testing.T) {
	src := `
define i32 @loop(i32 %n) {
entry:
  br label %header

header:
  %iv = phi i32 [ 0, %entry ], [ %next, %header ]
  %next = add i32 %iv, 1
  %done = icmp uge i32 %next, %n
  br i1 %done, label %exit, label %header !hint "tapir.loop.spawn.strategy"="target"

exit:
  ret i32 %iv
}
`
	m, err := irtext.ParseString("loop.ll", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := m.Func("loop")
	iv := f.FindInstr("iv")
	next := f.FindInstr("next")
	if iv.IncomingFor(f.BlockByName("header")) != next {
		t.Fatal("forward phi operand not resolved")
	}
	if h := f.BlockByName("header").Terminator().Hint("tapir.loop.spawn.strategy"); h != "target" {
		t.Fatalf("hint: %q", h)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestParseUnnamedValues(t *testing.T) {
	m := irtext.MustParse("u.ll", `
define i64 @f(i64 %0) {
  %2 = add i64 %0, 1
  br label %3

3:
  ret i64 %2
}
`)
	f := m.Func("f")
	if f.Params[0].Name != "" || f.Blocks[1].Name != "" {
		t.Fatal("slot numbers should not become names")
	}
	if f.Blocks[0].Instrs[0].Operands[0] != f.Params[0] {
		t.Fatal("param reference not resolved")
	}
}

func TestParseAliasAndPersonality(t *testing.T) {
	m := irtext.MustParse("a.ll", `
@a = alias @impl
@r = internal ifunc @resolve
declare i32 @__gxx_personality_v0(...)
declare ptr @resolve()
define void @impl() personality ptr @__gxx_personality_v0 {
entry:
  ret void
}
`)
	if len(m.Aliases) != 1 || m.Aliases[0].Aliasee != m.Func("impl") {
		t.Fatalf("alias: %+v", m.Aliases)
	}
	if len(m.IFuncs) != 1 || m.IFuncs[0].Resolver != m.Func("resolve") || m.IFuncs[0].Linkage != ir.Internal {
		t.Fatalf("ifunc: %+v", m.IFuncs)
	}
	if m.Func("impl").Personality != m.Func("__gxx_personality_v0") {
		t.Fatal("personality not bound")
	}
	if !m.Func("__gxx_personality_v0").Sig.Variadic {
		t.Fatal("expected variadic personality declaration")
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"undefined value": "define void @f() {\nentry:\n  ret i64 %missing\n}\n",
		"undefined block": "define void @f() {\nentry:\n  br label %nowhere\n}\n",
		"unknown instr":   "define void @f() {\nentry:\n  frobnicate i32 1\n}\n",
		"unknown symbol":  "@g = global ptr @nope\n",
		"bad type":        "@g = global q32 0\n",
		"duplicate":       "define void @f() {\nentry:\n  %x = add i32 1, 2\n  %x = add i32 1, 2\n  ret void\n}\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := irtext.ParseString("bad.ll", src)
			if err == nil {
				t.Fatal("expected error")
			}
			var perr *irtext.Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *irtext.Error, got %T: %v", err, err)
			}
		})
	}
}
