package layout_test

import (
	"errors"
	"testing"

	"chiabi/internal/ir"
	"chiabi/internal/layout"
)

func TestScalarAndAggregateLayouts(t *testing.T) {
	e := layout.New(layout.X86_64LinuxGNU())
	cases := []struct {
		name  string
		typ   *ir.Type
		size  int64
		align int64
	}{
		{"i1", ir.I1, 1, 1},
		{"i32", ir.I32, 4, 4},
		{"i64", ir.I64, 8, 8},
		{"i128", ir.IntType(128), 16, 16},
		{"i24", ir.IntType(24), 4, 4},
		{"ptr", ir.Ptr, 8, 8},
		{"struct", ir.StructOf(ir.I8, ir.I64, ir.I16), 24, 8},
		{"array", ir.ArrayOf(ir.I32, 5), 20, 4},
		{"nested", ir.StructOf(ir.I8, ir.ArrayOf(ir.StructOf(ir.I16, ir.I8), 3)), 14, 2},
	}
	for _, tc := range cases {
		l, err := e.LayoutOf(tc.typ)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if l.Size != tc.size || l.Align != tc.align {
			t.Fatalf("%s: got size=%d align=%d, want size=%d align=%d", tc.name, l.Size, l.Align, tc.size, tc.align)
		}
	}
}

func TestFieldOffsets(t *testing.T) {
	e := layout.New(layout.X86_64LinuxGNU())
	st := ir.StructOf(ir.I8, ir.Ptr, ir.I32)
	for i, want := range []int64{0, 8, 16} {
		got, err := e.FieldOffset(st, i)
		if err != nil || got != want {
			t.Fatalf("field %d: got %d (%v), want %d", i, got, err, want)
		}
	}
}

func TestOpaqueStructHasNoSize(t *testing.T) {
	m := ir.NewModule("t")
	frame := m.StructType("struct.__rts_stack_frame")
	_, err := layout.New(layout.X86_64LinuxGNU()).SizeOf(frame)
	var lerr *layout.LayoutError
	if !errors.As(err, &lerr) || lerr.Kind != layout.LayoutErrUnsized {
		t.Fatalf("expected unsized error, got %v", err)
	}
}

func TestRecursiveStruct(t *testing.T) {
	m := ir.NewModule("t")
	node := m.StructType("node")
	node.SetBody(ir.I64, node)
	_, err := layout.New(layout.X86_64LinuxGNU()).SizeOf(node)
	var lerr *layout.LayoutError
	if !errors.As(err, &lerr) || lerr.Kind != layout.LayoutErrRecursive {
		t.Fatalf("expected recursive error, got %v", err)
	}
}

func TestAllocationSize(t *testing.T) {
	e := layout.New(layout.X86_64LinuxGNU())
	m := ir.NewModule("t")
	f, _ := m.NewFunc("f", ir.FuncOf(ir.Void, ir.I64))
	b := ir.NewBuilder()
	b.SetInsertPointAtEnd(f.NewBlock("entry"))

	args := b.CreateAlloca(ir.StructOf(ir.I32, ir.Ptr), "args")
	if n, err := e.AllocationSize(args); err != nil || n != 16 {
		t.Fatalf("struct alloca: got %d, %v", n, err)
	}

	arr := b.CreateAlloca(ir.I64, "arr")
	arr.Operands = []ir.Value{ir.ConstIntOf(ir.I64, 4)}
	if n, err := e.AllocationSize(arr); err != nil || n != 32 {
		t.Fatalf("array alloca: got %d, %v", n, err)
	}

	dyn := b.CreateAlloca(ir.I64, "dyn")
	dyn.Operands = []ir.Value{f.Params[0]}
	_, err := e.AllocationSize(dyn)
	var lerr *layout.LayoutError
	if !errors.As(err, &lerr) || lerr.Kind != layout.LayoutErrDynamicSize {
		t.Fatalf("expected dynamic size error, got %v", err)
	}
}
