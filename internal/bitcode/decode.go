package bitcode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"chiabi/internal/ir"
	"chiabi/internal/source"
)

var (
	// ErrNotBitcode means the input does not start with Magic.
	ErrNotBitcode = errors.New("bitcode: bad magic")
	// ErrSchema means the payload was written by an incompatible version.
	ErrSchema = errors.New("bitcode: unsupported schema version")
)

// IsBitcode reports whether data starts with the bitcode magic.
func IsBitcode(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Decode reads a module written by Encode.
func Decode(r io.Reader) (*ir.Module, error) {
	br := bufio.NewReader(r)
	head := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBitcode, err)
	}
	if string(head) != Magic {
		return nil, ErrNotBitcode
	}
	var p payload
	if err := msgpack.NewDecoder(br).Decode(&p); err != nil {
		return nil, fmt.Errorf("bitcode: %w", err)
	}
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchema, p.Schema)
	}
	d := &decoder{p: &p, m: ir.NewModule(p.Name)}
	if err := d.module(); err != nil {
		return nil, fmt.Errorf("bitcode: %w", err)
	}
	return d.m, nil
}

// Unmarshal decodes bitcode bytes.
func Unmarshal(data []byte) (*ir.Module, error) {
	return Decode(bytes.NewReader(data))
}

type decoder struct {
	p     *payload
	m     *ir.Module
	types []*ir.Type

	params []*ir.Param
	instrs []*ir.Instr
	blocks []*ir.Block
}

func (d *decoder) typ(idx int) (*ir.Type, error) {
	if idx == noType {
		return nil, nil
	}
	if idx < 0 || idx >= len(d.types) {
		return nil, fmt.Errorf("type index %d out of range", idx)
	}
	return d.types[idx], nil
}

func (d *decoder) typeList(idx []int) ([]*ir.Type, error) {
	out := make([]*ir.Type, 0, len(idx))
	for _, i := range idx {
		t, err := d.typ(i)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// buildTypes materializes the type table. Entries only refer to earlier
// entries or to named structs.
func (d *decoder) buildTypes() error {
	d.types = make([]*ir.Type, 0, len(d.p.Types))
	for i, rec := range d.p.Types {
		var t *ir.Type
		switch ir.TypeKind(rec.Kind) {
		case ir.TypeVoid:
			t = ir.Void
		case ir.TypeInt:
			t = ir.IntType(int(rec.Bits))
		case ir.TypePtr:
			t = ir.Ptr
		case ir.TypeLabel:
			t = ir.Label
		case ir.TypeToken:
			t = ir.Token
		case ir.TypeStruct:
			if rec.Name != "" {
				t = d.m.StructType(rec.Name)
				break
			}
			fields, err := d.typeList(rec.Fields)
			if err != nil {
				return err
			}
			t = ir.StructOf(fields...)
		case ir.TypeArray:
			elem, err := d.typ(rec.Elem)
			if err != nil {
				return err
			}
			t = ir.ArrayOf(elem, rec.Len)
		case ir.TypeFunc:
			ret, err := d.typ(rec.Ret)
			if err != nil {
				return err
			}
			params, err := d.typeList(rec.Params)
			if err != nil {
				return err
			}
			t = ir.FuncOf(ret, params...)
			t.Variadic = rec.Variadic
		default:
			return fmt.Errorf("type %d: unknown kind %d", i, rec.Kind)
		}
		d.types = append(d.types, t)
	}
	return nil
}

func (d *decoder) module() error {
	for _, s := range d.p.Structs {
		d.m.StructType(s.Name)
	}
	if err := d.buildTypes(); err != nil {
		return err
	}
	for _, s := range d.p.Structs {
		if s.Opaque {
			continue
		}
		fields, err := d.typeList(s.Fields)
		if err != nil {
			return err
		}
		d.m.StructType(s.Name).SetBody(fields...)
	}
	globals := make([]*ir.Global, len(d.p.Globals))
	for i, rec := range d.p.Globals {
		t, err := d.typ(rec.Type)
		if err != nil {
			return err
		}
		g, err := d.m.NewGlobal(rec.Name, t, nil, rec.Constant, ir.Linkage(rec.Linkage))
		if err != nil {
			return err
		}
		g.Align = rec.Align
		globals[i] = g
	}
	for _, rec := range d.p.Aliases {
		if _, err := d.m.NewAlias(rec.Name, nil, ir.Linkage(rec.Linkage)); err != nil {
			return err
		}
	}
	for _, rec := range d.p.IFuncs {
		if _, err := d.m.NewIFunc(rec.Name, nil, ir.Linkage(rec.Linkage)); err != nil {
			return err
		}
	}
	funcs := make([]*ir.Func, len(d.p.Funcs))
	for i, rec := range d.p.Funcs {
		sig, err := d.typ(rec.Sig)
		if err != nil {
			return err
		}
		f, err := d.m.NewFunc(rec.Name, sig)
		if err != nil {
			return err
		}
		f.Linkage = ir.Linkage(rec.Linkage)
		f.Attrs = ir.Attr(rec.Attrs)
		for j, n := range rec.ParamNames {
			if j < len(f.Params) {
				f.Params[j].Name = n
			}
		}
		funcs[i] = f
	}

	// Symbol references resolve now that every symbol exists.
	for i, rec := range d.p.Globals {
		if rec.Init == nil {
			continue
		}
		v, err := d.value(*rec.Init)
		if err != nil {
			return fmt.Errorf("global @%s: %w", rec.Name, err)
		}
		globals[i].Init = v
	}
	for i, rec := range d.p.Aliases {
		t, err := d.symbol(rec.Target)
		if err != nil {
			return err
		}
		d.m.Aliases[i].Aliasee = t
	}
	for i, rec := range d.p.IFuncs {
		t, err := d.symbol(rec.Target)
		if err != nil {
			return err
		}
		d.m.IFuncs[i].Resolver = t
	}
	for i, rec := range d.p.Funcs {
		if err := d.function(funcs[i], rec); err != nil {
			return fmt.Errorf("function @%s: %w", rec.Name, err)
		}
	}
	return nil
}

func (d *decoder) symbol(name string) (ir.Value, error) {
	v := d.m.Lookup(name)
	if v == nil {
		return nil, fmt.Errorf("undefined symbol @%s", name)
	}
	return v, nil
}

func (d *decoder) function(f *ir.Func, rec funcRec) error {
	if rec.Personality != "" {
		p, err := d.symbol(rec.Personality)
		if err != nil {
			return err
		}
		f.Personality = p
	}
	d.params = f.Params
	d.blocks = d.blocks[:0]
	d.instrs = d.instrs[:0]
	for _, br := range rec.Blocks {
		b := f.NewBlock(br.Name)
		d.blocks = append(d.blocks, b)
		for range br.Instrs {
			d.instrs = append(d.instrs, b.Append(&ir.Instr{}))
		}
	}
	n := 0
	for _, br := range rec.Blocks {
		for _, irec := range br.Instrs {
			if err := d.fillInstr(d.instrs[n], irec); err != nil {
				return err
			}
			n++
		}
	}
	return nil
}

func (d *decoder) block(idx int) (*ir.Block, error) {
	if idx < 0 || idx >= len(d.blocks) {
		return nil, fmt.Errorf("block index %d out of range", idx)
	}
	return d.blocks[idx], nil
}

func (d *decoder) fillInstr(in *ir.Instr, rec instrRec) error {
	var err error
	in.Op = ir.Opcode(rec.Op)
	in.Name = rec.Name
	in.Pred = ir.Pred(rec.Pred)
	in.Cast = ir.CastOp(rec.Cast)
	in.Align = rec.Align
	in.Cleanup = rec.Cleanup
	in.Hints = rec.Hints
	in.Loc = source.Loc{Line: rec.Line, Col: rec.Col}
	if in.Typ, err = d.typ(rec.Type); err != nil {
		return err
	}
	if in.FnType, err = d.typ(rec.FnType); err != nil {
		return err
	}
	if in.ElemType, err = d.typ(rec.ElemType); err != nil {
		return err
	}
	for _, op := range rec.Operands {
		v, err := d.value(op)
		if err != nil {
			return err
		}
		in.Operands = append(in.Operands, v)
	}
	for _, s := range rec.Succs {
		b, err := d.block(s)
		if err != nil {
			return err
		}
		in.Succs = append(in.Succs, b)
	}
	for _, s := range rec.Incoming {
		b, err := d.block(s)
		if err != nil {
			return err
		}
		in.Incoming = append(in.Incoming, b)
	}
	if rec.Callee != nil {
		if in.Callee, err = d.value(*rec.Callee); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) value(rec valueRec) (ir.Value, error) {
	switch rec.K {
	case vkConst:
		t, err := d.typ(rec.Type)
		if err != nil {
			return nil, err
		}
		c := &ir.Const{Kind: ir.ConstKind(rec.CKind), Typ: t, Int: rec.Int, Bytes: rec.Bytes}
		for _, e := range rec.Elems {
			v, err := d.value(e)
			if err != nil {
				return nil, err
			}
			c.Elems = append(c.Elems, v)
		}
		return c, nil
	case vkGlobal:
		return d.symbol(rec.Sym)
	case vkParam:
		if rec.Idx < 0 || rec.Idx >= len(d.params) {
			return nil, fmt.Errorf("parameter index %d out of range", rec.Idx)
		}
		return d.params[rec.Idx], nil
	case vkInstr:
		if rec.Idx < 0 || rec.Idx >= len(d.instrs) {
			return nil, fmt.Errorf("instruction index %d out of range", rec.Idx)
		}
		return d.instrs[rec.Idx], nil
	case vkBlock:
		return d.block(rec.Idx)
	}
	return nil, fmt.Errorf("unknown value kind %d", rec.K)
}
