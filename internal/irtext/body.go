package irtext

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2/lexer"

	"chiabi/internal/ir"
)

// slotName reports whether n is a printer-assigned number; such names are
// not kept on the parsed value.
func slotName(n string) bool {
	_, err := strconv.Atoi(n)
	return err == nil
}

func keepName(n string) string {
	if slotName(n) {
		return ""
	}
	return n
}

func (p *parser) body(f *ir.Func, names []string) error {
	p.fn = f
	p.locals = make(map[string]ir.Value)
	p.blocks = make(map[string]*ir.Block)
	p.placed = make(map[*ir.Block]bool)
	p.fwd = make(map[string]*fwdRef)
	defer func() { p.fn = nil }()

	for i, n := range names {
		if n == "" {
			continue
		}
		f.Params[i].Name = keepName(n)
		p.locals[n] = f.Params[i]
	}
	if err := p.punct("{"); err != nil {
		return err
	}
	var cur *ir.Block
	for !p.is(tokPunct, "}") {
		if p.peek().EOF() {
			return p.errf("unexpected end of input in @%s", f.Name)
		}
		if p.isLabel() {
			t := p.next()
			p.next() // ':'
			n := t.Value
			if t.Type == tokString {
				u, err := strconv.Unquote(n)
				if err != nil {
					return &Error{Pos: t.Pos, Msg: err.Error()}
				}
				n = u
			}
			b := p.blockRef(n)
			if p.placed[b] {
				return &Error{Pos: t.Pos, Msg: fmt.Sprintf("block %%%s defined twice", n)}
			}
			p.placed[b] = true
			f.Blocks = append(f.Blocks, b)
			cur = b
			continue
		}
		if cur == nil {
			cur = p.blockRef("")
			p.placed[cur] = true
			f.Blocks = append(f.Blocks, cur)
		}
		if err := p.instr(cur); err != nil {
			return err
		}
	}
	p.next()
	for n, b := range p.blocks {
		if !p.placed[b] {
			return p.errf("@%s: undefined block %%%s", f.Name, n)
		}
	}
	for n := range p.fwd {
		return p.errf("@%s: undefined value %%%s", f.Name, n)
	}
	return nil
}

func (p *parser) isLabel() bool {
	t := p.peek()
	switch t.Type {
	case tokIdent, tokInt, tokString:
		return p.is2(tokPunct, ":")
	}
	return false
}

func (p *parser) blockRef(n string) *ir.Block {
	if b, ok := p.blocks[n]; ok {
		return b
	}
	name := n
	if slotName(n) || n == "bb" {
		name = ""
	}
	b := &ir.Block{Name: name, Parent: p.fn}
	p.blocks[n] = b
	return b
}

func (p *parser) labelRef() (*ir.Block, error) {
	if err := p.expectKw("label"); err != nil {
		return nil, err
	}
	n, err := p.name(tokLocal)
	if err != nil {
		return nil, err
	}
	if v, ok := p.locals[n]; ok {
		return nil, p.errf("%%%s is %T, not a block", n, v)
	}
	return p.blockRef(n), nil
}

func (p *parser) define(n string, in *ir.Instr) error {
	if _, dup := p.locals[n]; dup {
		return p.errf("%%%s defined twice", n)
	}
	if _, isBlock := p.blocks[n]; isBlock {
		return p.errf("%%%s is already a block", n)
	}
	p.locals[n] = in
	if r, ok := p.fwd[n]; ok {
		delete(p.fwd, n)
		p.fn.ReplaceAllUsesWith(r, in)
	}
	return nil
}

func (p *parser) comma() error { return p.punct(",") }

func (p *parser) align(in *ir.Instr) error {
	if !p.is(tokPunct, ",") || !p.is2(tokIdent, "align") {
		return nil
	}
	p.next()
	p.next()
	a, err := p.intLit()
	if err != nil {
		return err
	}
	in.Align = int(a)
	return nil
}

func (p *parser) within() (ir.Value, error) {
	if err := p.expectKw("within"); err != nil {
		return nil, err
	}
	return p.value(ir.Token)
}

func (p *parser) instr(b *ir.Block) error {
	name := ""
	if p.is(tokLocal, "") && p.is2(tokPunct, "=") {
		n, err := p.name(tokLocal)
		if err != nil {
			return err
		}
		p.next()
		name = n
	}
	opTok, err := p.expect(tokIdent, "")
	if err != nil {
		return err
	}
	in := &ir.Instr{Name: keepName(name)}
	if err := p.operands(in, opTok); err != nil {
		return err
	}
	if err := p.trailing(in); err != nil {
		return err
	}
	if name != "" {
		if in.Type().IsVoid() {
			return &Error{Pos: opTok.Pos, Msg: fmt.Sprintf("cannot name void %s", opTok.Value)}
		}
		if err := p.define(name, in); err != nil {
			return err
		}
	}
	b.Append(in)
	return nil
}

func (p *parser) operands(in *ir.Instr, opTok lexer.Token) error {
	op := opTok.Value
	switch op {
	case "alloca":
		in.Op = ir.OpAlloca
		in.Typ = ir.Ptr
		t, err := p.typ()
		if err != nil {
			return err
		}
		in.ElemType = t
		if p.is(tokPunct, ",") && !p.is2(tokIdent, "align") {
			p.next()
			n, err := p.typedValue()
			if err != nil {
				return err
			}
			in.Operands = []ir.Value{n}
		}
		return p.align(in)
	case "load":
		in.Op = ir.OpLoad
		t, err := p.typ()
		if err != nil {
			return err
		}
		in.Typ = t
		if err := p.comma(); err != nil {
			return err
		}
		ptr, err := p.typedValue()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{ptr}
		return p.align(in)
	case "store":
		in.Op = ir.OpStore
		v, err := p.typedValue()
		if err != nil {
			return err
		}
		if err := p.comma(); err != nil {
			return err
		}
		ptr, err := p.typedValue()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{v, ptr}
		return p.align(in)
	case "getelementptr":
		in.Op = ir.OpGEP
		in.Typ = ir.Ptr
		t, err := p.typ()
		if err != nil {
			return err
		}
		in.ElemType = t
		for p.accept(tokPunct, ",") {
			v, err := p.typedValue()
			if err != nil {
				return err
			}
			in.Operands = append(in.Operands, v)
		}
		return nil
	case "icmp":
		in.Op = ir.OpICmp
		in.Typ = ir.I1
		pt, err := p.expect(tokIdent, "")
		if err != nil {
			return err
		}
		pred, ok := ir.ParsePred(pt.Value)
		if !ok {
			return &Error{Pos: pt.Pos, Msg: fmt.Sprintf("unknown predicate %q", pt.Value)}
		}
		in.Pred = pred
		return p.binaryOperands(in)
	case "select":
		in.Op = ir.OpSelect
		for i := range 3 {
			if i > 0 {
				if err := p.comma(); err != nil {
					return err
				}
			}
			v, err := p.typedValue()
			if err != nil {
				return err
			}
			in.Operands = append(in.Operands, v)
		}
		in.Typ = in.Operands[1].Type()
		return nil
	case "call", "invoke":
		return p.call(in, op == "invoke")
	case "phi":
		in.Op = ir.OpPhi
		t, err := p.typ()
		if err != nil {
			return err
		}
		in.Typ = t
		for first := true; first || p.accept(tokPunct, ","); first = false {
			if err := p.punct("["); err != nil {
				return err
			}
			v, err := p.value(t)
			if err != nil {
				return err
			}
			if err := p.comma(); err != nil {
				return err
			}
			bn, err := p.name(tokLocal)
			if err != nil {
				return err
			}
			if err := p.punct("]"); err != nil {
				return err
			}
			in.AddIncoming(v, p.blockRef(bn))
		}
		return nil
	case "landingpad":
		in.Op = ir.OpLandingPad
		t, err := p.typ()
		if err != nil {
			return err
		}
		in.Typ = t
		in.Cleanup = p.accept(tokIdent, "cleanup")
		return nil
	case "ret":
		in.Op = ir.OpRet
		if p.accept(tokIdent, "void") {
			return nil
		}
		v, err := p.typedValue()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{v}
		return nil
	case "br":
		if p.isKw("label") {
			in.Op = ir.OpBr
			d, err := p.labelRef()
			if err != nil {
				return err
			}
			in.Succs = []*ir.Block{d}
			return nil
		}
		in.Op = ir.OpCondBr
		c, err := p.typedValue()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{c}
		for range 2 {
			if err := p.comma(); err != nil {
				return err
			}
			d, err := p.labelRef()
			if err != nil {
				return err
			}
			in.Succs = append(in.Succs, d)
		}
		return nil
	case "resume":
		in.Op = ir.OpResume
		v, err := p.typedValue()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{v}
		return nil
	case "unreachable":
		in.Op = ir.OpUnreachable
		return nil
	case "detach", "reattach", "sync":
		in.Op = map[string]ir.Opcode{"detach": ir.OpDetach, "reattach": ir.OpReattach, "sync": ir.OpSync}[op]
		sr, err := p.within()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{sr}
		n := 1
		if in.Op == ir.OpDetach {
			n = 2
		}
		for range n {
			if err := p.comma(); err != nil {
				return err
			}
			d, err := p.labelRef()
			if err != nil {
				return err
			}
			in.Succs = append(in.Succs, d)
		}
		if in.Op == ir.OpDetach && p.accept(tokIdent, "unwind") {
			u, err := p.labelRef()
			if err != nil {
				return err
			}
			in.Succs = append(in.Succs, u)
		}
		return nil
	}
	if bop, ok := ir.BinaryOpcode(op); ok {
		in.Op = bop
		return p.binaryOperands(in)
	}
	if c, ok := ir.ParseCast(op); ok {
		in.Op = ir.OpCast
		in.Cast = c
		v, err := p.typedValue()
		if err != nil {
			return err
		}
		in.Operands = []ir.Value{v}
		if err := p.expectKw("to"); err != nil {
			return err
		}
		t, err := p.typ()
		if err != nil {
			return err
		}
		in.Typ = t
		return nil
	}
	return &Error{Pos: opTok.Pos, Msg: fmt.Sprintf("unknown instruction %q", op)}
}

func (p *parser) binaryOperands(in *ir.Instr) error {
	x, err := p.typedValue()
	if err != nil {
		return err
	}
	if err := p.comma(); err != nil {
		return err
	}
	y, err := p.value(x.Type())
	if err != nil {
		return err
	}
	in.Operands = []ir.Value{x, y}
	if in.Op != ir.OpICmp {
		in.Typ = x.Type()
	}
	return nil
}

func (p *parser) call(in *ir.Instr, invoke bool) error {
	in.Op = ir.OpCall
	if invoke {
		in.Op = ir.OpInvoke
	}
	ret, err := p.typ()
	if err != nil {
		return err
	}
	callee, err := p.value(ir.Ptr)
	if err != nil {
		return err
	}
	if err := p.punct("("); err != nil {
		return err
	}
	var (
		args  []ir.Value
		types []*ir.Type
	)
	for !p.is(tokPunct, ")") {
		if len(args) > 0 {
			if err := p.comma(); err != nil {
				return err
			}
		}
		v, err := p.typedValue()
		if err != nil {
			return err
		}
		args = append(args, v)
		types = append(types, v.Type())
	}
	p.next()
	in.Callee = callee
	in.Operands = args
	if f, ok := callee.(*ir.Func); ok {
		in.FnType = f.Sig
	} else {
		in.FnType = ir.FuncOf(ret, types...)
	}
	in.Typ = ret
	if !invoke {
		return nil
	}
	if err := p.expectKw("to"); err != nil {
		return err
	}
	normal, err := p.labelRef()
	if err != nil {
		return err
	}
	if err := p.expectKw("unwind"); err != nil {
		return err
	}
	unwind, err := p.labelRef()
	if err != nil {
		return err
	}
	in.Succs = []*ir.Block{normal, unwind}
	return nil
}

// trailing parses "!hint" and "!dbg" attachments.
func (p *parser) trailing(in *ir.Instr) error {
	for p.is(tokMeta, "") {
		t := p.next()
		switch t.Value {
		case "!dbg":
			l, err := p.loc()
			if err != nil {
				return err
			}
			in.Loc = l
		case "!hint":
			k, err := p.str()
			if err != nil {
				return err
			}
			if err := p.punct("="); err != nil {
				return err
			}
			v, err := p.str()
			if err != nil {
				return err
			}
			in.SetHint(k, v)
		default:
			return &Error{Pos: t.Pos, Msg: fmt.Sprintf("unknown attachment %s", t.Value)}
		}
	}
	return nil
}

func (p *parser) str() (string, error) {
	t, err := p.expect(tokString, "")
	if err != nil {
		return "", err
	}
	s, err := strconv.Unquote(t.Value)
	if err != nil {
		return "", &Error{Pos: t.Pos, Msg: err.Error()}
	}
	return s, nil
}
