package bitcode

import (
	"bytes"
	"fmt"
	"io"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"chiabi/internal/ir"
)

type encoder struct {
	p     *payload
	types map[*ir.Type]int
	err   error

	// per function
	params map[*ir.Param]int
	instrs map[*ir.Instr]int
	blocks map[*ir.Block]int
}

// Encode writes m to w in bitcode form.
func Encode(w io.Writer, m *ir.Module) error {
	e := &encoder{p: &payload{Schema: SchemaVersion, Name: m.Name}, types: make(map[*ir.Type]int)}
	if err := e.module(m); err != nil {
		return err
	}
	if e.err != nil {
		return e.err
	}
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(e.p)
}

// Marshal returns the bitcode bytes of m.
func Marshal(m *ir.Module) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *encoder) typ(t *ir.Type) int {
	if t == nil {
		return noType
	}
	if idx, ok := e.types[t]; ok {
		return idx
	}
	rec := typeRec{Kind: uint8(t.Kind), Len: t.Len, Variadic: t.Variadic, Elem: noType, Ret: noType}
	switch t.Kind {
	case ir.TypeInt:
		bits, err := safecast.Conv[uint16](t.Bits)
		if err != nil && e.err == nil {
			e.err = fmt.Errorf("type %s: %w", t, err)
		}
		rec.Bits = bits
	case ir.TypeStruct:
		if t.Name != "" {
			rec.Name = t.Name
			break
		}
		for _, f := range t.Fields {
			rec.Fields = append(rec.Fields, e.typ(f))
		}
	case ir.TypeArray:
		rec.Elem = e.typ(t.Elem)
	case ir.TypeFunc:
		rec.Ret = e.typ(t.Ret)
		for _, pt := range t.Params {
			rec.Params = append(rec.Params, e.typ(pt))
		}
	}
	idx := len(e.p.Types)
	e.p.Types = append(e.p.Types, rec)
	e.types[t] = idx
	return idx
}

func (e *encoder) module(m *ir.Module) error {
	for _, st := range m.Structs() {
		rec := structRec{Name: st.Name, Opaque: st.Opaque}
		for _, f := range st.Fields {
			rec.Fields = append(rec.Fields, e.typ(f))
		}
		e.p.Structs = append(e.p.Structs, rec)
	}
	for _, g := range m.Globals {
		rec := globalRec{Name: g.Name, Type: e.typ(g.ValueType), Constant: g.Constant, Linkage: uint8(g.Linkage), Align: g.Align}
		if g.Init != nil {
			v, err := e.value(g.Init)
			if err != nil {
				return fmt.Errorf("global @%s: %w", g.Name, err)
			}
			rec.Init = &v
		}
		e.p.Globals = append(e.p.Globals, rec)
	}
	for _, a := range m.Aliases {
		e.p.Aliases = append(e.p.Aliases, aliasRec{Name: a.Name, Target: ir.GlobalName(a.Aliasee), Linkage: uint8(a.Linkage)})
	}
	for _, i := range m.IFuncs {
		e.p.IFuncs = append(e.p.IFuncs, aliasRec{Name: i.Name, Target: ir.GlobalName(i.Resolver), Linkage: uint8(i.Linkage)})
	}
	for _, f := range m.Funcs {
		rec, err := e.function(f)
		if err != nil {
			return fmt.Errorf("function @%s: %w", f.Name, err)
		}
		e.p.Funcs = append(e.p.Funcs, rec)
	}
	return nil
}

func (e *encoder) function(f *ir.Func) (funcRec, error) {
	rec := funcRec{Name: f.Name, Sig: e.typ(f.Sig), Linkage: uint8(f.Linkage), Attrs: uint16(f.Attrs)}
	if f.Personality != nil {
		rec.Personality = ir.GlobalName(f.Personality)
	}
	e.params = make(map[*ir.Param]int, len(f.Params))
	for i, p := range f.Params {
		e.params[p] = i
		rec.ParamNames = append(rec.ParamNames, p.Name)
	}
	e.blocks = make(map[*ir.Block]int, len(f.Blocks))
	e.instrs = make(map[*ir.Instr]int)
	n := 0
	for i, b := range f.Blocks {
		e.blocks[b] = i
		for _, in := range b.Instrs {
			e.instrs[in] = n
			n++
		}
	}
	for _, b := range f.Blocks {
		br := blockRec{Name: b.Name}
		for _, in := range b.Instrs {
			irec, err := e.instr(in)
			if err != nil {
				return rec, fmt.Errorf("block %s: %w", b.Name, err)
			}
			br.Instrs = append(br.Instrs, irec)
		}
		rec.Blocks = append(rec.Blocks, br)
	}
	return rec, nil
}

func (e *encoder) blockIdx(b *ir.Block) (int, error) {
	idx, ok := e.blocks[b]
	if !ok {
		return 0, fmt.Errorf("reference to block %s of another function", b.Name)
	}
	return idx, nil
}

func (e *encoder) instr(in *ir.Instr) (instrRec, error) {
	rec := instrRec{
		Op: uint8(in.Op), Name: in.Name, Type: e.typ(in.Typ), FnType: e.typ(in.FnType),
		Pred: uint8(in.Pred), Cast: uint8(in.Cast), ElemType: e.typ(in.ElemType),
		Align: in.Align, Cleanup: in.Cleanup, Hints: in.Hints, Line: in.Loc.Line, Col: in.Loc.Col,
	}
	for _, op := range in.Operands {
		v, err := e.value(op)
		if err != nil {
			return rec, err
		}
		rec.Operands = append(rec.Operands, v)
	}
	for _, s := range in.Succs {
		idx, err := e.blockIdx(s)
		if err != nil {
			return rec, err
		}
		rec.Succs = append(rec.Succs, idx)
	}
	for _, s := range in.Incoming {
		idx, err := e.blockIdx(s)
		if err != nil {
			return rec, err
		}
		rec.Incoming = append(rec.Incoming, idx)
	}
	if in.Callee != nil {
		v, err := e.value(in.Callee)
		if err != nil {
			return rec, err
		}
		rec.Callee = &v
	}
	return rec, nil
}

func (e *encoder) value(v ir.Value) (valueRec, error) {
	switch x := v.(type) {
	case *ir.Const:
		rec := valueRec{K: vkConst, Type: e.typ(x.Typ), CKind: uint8(x.Kind), Int: x.Int, Bytes: x.Bytes}
		for _, el := range x.Elems {
			ev, err := e.value(el)
			if err != nil {
				return rec, err
			}
			rec.Elems = append(rec.Elems, ev)
		}
		return rec, nil
	case *ir.Func, *ir.Global, *ir.Alias, *ir.IFunc:
		return valueRec{K: vkGlobal, Type: noType, Sym: ir.GlobalName(v)}, nil
	case *ir.Param:
		idx, ok := e.params[x]
		if !ok {
			return valueRec{}, fmt.Errorf("reference to parameter %s of another function", x.Ident())
		}
		return valueRec{K: vkParam, Type: noType, Idx: idx}, nil
	case *ir.Instr:
		idx, ok := e.instrs[x]
		if !ok {
			return valueRec{}, fmt.Errorf("reference to detached instruction %s", x.Ident())
		}
		return valueRec{K: vkInstr, Type: noType, Idx: idx}, nil
	case *ir.Block:
		idx, err := e.blockIdx(x)
		return valueRec{K: vkBlock, Type: noType, Idx: idx}, err
	}
	return valueRec{}, fmt.Errorf("cannot encode value %T", v)
}
