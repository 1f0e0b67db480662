// Package layout computes sizes and alignments of IR types for a target.
package layout

import (
	"math"
	"math/bits"

	"fortio.org/safecast"

	"chiabi/internal/ir"
)

// TypeLayout is the ABI layout of a type for a specific Target.
type TypeLayout struct {
	Size  int64
	Align int64

	// Struct-only:
	FieldOffsets []int64
}

// LayoutEngine computes memory layout for types.
type LayoutEngine struct {
	Target Target

	cache *cache
}

// New creates a new LayoutEngine for the specified target.
func New(target Target) *LayoutEngine {
	return &LayoutEngine{Target: target, cache: newCache()}
}

type layoutState struct {
	stack []*ir.Type
	index map[*ir.Type]int
}

func newLayoutState() *layoutState {
	return &layoutState{index: make(map[*ir.Type]int, 8)}
}

// LayoutOf computes and caches the layout of a type.
func (e *LayoutEngine) LayoutOf(t *ir.Type) (TypeLayout, error) {
	if e.cache == nil {
		e.cache = newCache()
	}
	l, err := e.layoutOf(t, newLayoutState())
	if err != nil {
		return l, err
	}
	return l, nil
}

func (e *LayoutEngine) layoutOf(t *ir.Type, state *layoutState) (TypeLayout, *LayoutError) {
	if cached, ok := e.cache.get(t); ok {
		return cached.Layout, cached.Err
	}
	if idx, ok := state.index[t]; ok {
		cycle := append(append([]*ir.Type(nil), state.stack[idx:]...), t)
		err := &LayoutError{Kind: LayoutErrRecursive, Type: t, Cycle: cycle}
		return TypeLayout{Align: 1}, err
	}
	state.index[t] = len(state.stack)
	state.stack = append(state.stack, t)
	l, err := e.computeLayout(t, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, t)

	e.cache.put(t, &cacheEntry{Layout: l, Err: err})
	return l, err
}

func (e *LayoutEngine) computeLayout(t *ir.Type, state *layoutState) (TypeLayout, *LayoutError) {
	switch t.Kind {
	case ir.TypeInt:
		return e.intLayout(t.Bits), nil
	case ir.TypePtr:
		return TypeLayout{Size: int64(e.Target.PtrSize), Align: int64(max(e.Target.PtrAlign, 1))}, nil
	case ir.TypeArray:
		if t.Len < 0 {
			return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrNegativeLength, Type: t, Value: t.Len}
		}
		el, err := e.layoutOf(t.Elem, state)
		if err != nil {
			return TypeLayout{Align: 1}, err
		}
		stride := roundUp(el.Size, el.Align)
		hi, size := bits.Mul64(uint64(stride), uint64(t.Len))
		if hi != 0 || size > math.MaxInt64 {
			return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrOverflow, Type: t}
		}
		return TypeLayout{Size: int64(size), Align: el.Align}, nil
	case ir.TypeStruct:
		if t.Opaque {
			return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrUnsized, Type: t}
		}
		return e.structLayout(t, state)
	}
	return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrUnsized, Type: t}
}

func (e *LayoutEngine) intLayout(nbits int) TypeLayout {
	size := int64((nbits + 7) / 8)
	align := int64(1)
	for align < size {
		align <<= 1
	}
	if maxAlign := int64(e.Target.MaxIntAlign); maxAlign > 0 && align > maxAlign {
		align = maxAlign
	}
	return TypeLayout{Size: roundUp(size, align), Align: align}
}

func (e *LayoutEngine) structLayout(t *ir.Type, state *layoutState) (TypeLayout, *LayoutError) {
	offsets := make([]int64, len(t.Fields))
	var size int64
	align := int64(1)
	for i, f := range t.Fields {
		fl, err := e.layoutOf(f, state)
		if err != nil {
			return TypeLayout{Align: 1}, err
		}
		size = roundUp(size, fl.Align)
		offsets[i] = size
		if size > math.MaxInt64-fl.Size {
			return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrOverflow, Type: t}
		}
		size += fl.Size
		align = max(align, fl.Align)
	}
	return TypeLayout{Size: roundUp(size, align), Align: align, FieldOffsets: offsets}, nil
}

func roundUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	if r := n % align; r != 0 {
		return n + (align - r)
	}
	return n
}

// SizeOf returns the allocation size of a type in bytes.
func (e *LayoutEngine) SizeOf(t *ir.Type) (int64, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// PrefAlignOf returns the preferred alignment of a type in bytes.
func (e *LayoutEngine) PrefAlignOf(t *ir.Type) (int64, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// FieldOffset returns the byte offset of a struct field.
func (e *LayoutEngine) FieldOffset(st *ir.Type, fieldIdx int) (int64, error) {
	l, err := e.LayoutOf(st)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, nil
	}
	return l.FieldOffsets[fieldIdx], nil
}

// AllocationSize returns the number of bytes an alloca reserves. A
// non-constant element count has no static size.
func (e *LayoutEngine) AllocationSize(alloca *ir.Instr) (uint64, error) {
	size, err := e.SizeOf(alloca.ElemType)
	if err != nil {
		return 0, err
	}
	count := int64(1)
	if len(alloca.Operands) > 0 {
		n, ok := ir.IsConstInt(alloca.Operands[0])
		if !ok {
			return 0, &LayoutError{Kind: LayoutErrDynamicSize, Type: alloca.ElemType}
		}
		if n < 0 {
			return 0, &LayoutError{Kind: LayoutErrNegativeLength, Type: alloca.ElemType, Value: n}
		}
		count = n
	}
	usize, err := safecast.Conv[uint64](size)
	if err != nil {
		return 0, &LayoutError{Kind: LayoutErrOverflow, Type: alloca.ElemType, Err: err}
	}
	ucount, err := safecast.Conv[uint64](count)
	if err != nil {
		return 0, &LayoutError{Kind: LayoutErrOverflow, Type: alloca.ElemType, Err: err}
	}
	hi, total := bits.Mul64(usize, ucount)
	if hi != 0 {
		return 0, &LayoutError{Kind: LayoutErrOverflow, Type: alloca.ElemType}
	}
	return total, nil
}
