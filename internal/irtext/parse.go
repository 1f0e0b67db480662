// Package irtext reads the textual form of the IR produced by ir.Module.String.
package irtext

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"golang.org/x/text/unicode/norm"

	"chiabi/internal/ir"
	"chiabi/internal/source"
)

// Error is a positioned syntax or reference error.
type Error struct {
	Pos lexer.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Parse reads a module from r. name becomes the module name.
func Parse(name string, r io.Reader) (*ir.Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseString(name, string(data))
}

// ParseString reads a module from src.
func ParseString(name, src string) (*ir.Module, error) {
	lx, err := irLexer.LexString(name, src)
	if err != nil {
		return nil, err
	}
	toks, err := lexer.ConsumeAll(lx)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, m: ir.NewModule(name)}
	if err := p.module(); err != nil {
		return nil, err
	}
	return p.m, nil
}

// MustParse panics on error; for fixtures.
func MustParse(name, src string) *ir.Module {
	m, err := ParseString(name, src)
	if err != nil {
		panic(err)
	}
	return m
}

// pendingBind attaches a global reference once every symbol is declared.
type pendingBind struct {
	target string
	pos    lexer.Position
	bind   func(ir.Value)
}

type deferred struct {
	pos  int
	kind int // 0 global init, 1 function body
	g    *ir.Global
	f    *ir.Func
	args []string
}

type parser struct {
	toks []lexer.Token
	pos  int
	m    *ir.Module

	later []deferred
	binds []pendingBind

	fn     *ir.Func
	locals map[string]ir.Value
	blocks map[string]*ir.Block
	placed map[*ir.Block]bool
	fwd    map[string]*fwdRef
}

// fwdRef stands in for a local used before its definition.
type fwdRef struct {
	name string
	typ  *ir.Type
}

func (f *fwdRef) Type() *ir.Type { return f.typ }
func (f *fwdRef) Ident() string  { return "%" + f.name }

func (p *parser) peek() lexer.Token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() lexer.Token {
	t := p.toks[p.pos]
	if !t.EOF() {
		p.pos++
	}
	return t
}

func (p *parser) errf(format string, args ...any) error {
	return &Error{Pos: p.peek().Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) is(typ lexer.TokenType, val string) bool {
	t := p.peek()
	return t.Type == typ && (val == "" || t.Value == val)
}

// is2 looks one token past the current one.
func (p *parser) is2(typ lexer.TokenType, val string) bool {
	t := p.peekAt(1)
	return t.Type == typ && t.Value == val
}

func (p *parser) isKw(kw string) bool { return p.is(tokIdent, kw) }

func (p *parser) accept(typ lexer.TokenType, val string) bool {
	if p.is(typ, val) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(typ lexer.TokenType, val string) (lexer.Token, error) {
	if !p.is(typ, val) {
		want := val
		if want == "" {
			want = "token"
		}
		return lexer.Token{}, p.errf("expected %q, got %q", want, p.peek().Value)
	}
	return p.next(), nil
}

func (p *parser) expectKw(kw string) error {
	_, err := p.expect(tokIdent, kw)
	return err
}

func (p *parser) punct(s string) error {
	_, err := p.expect(tokPunct, s)
	return err
}

// symName strips the sigil and quotes of a Local/Global token.
func symName(tok string) (string, error) {
	s := tok[1:]
	if strings.HasPrefix(s, `"`) {
		u, err := strconv.Unquote(s)
		if err != nil {
			return "", err
		}
		s = u
	}
	return norm.NFC.String(s), nil
}

func (p *parser) name(typ lexer.TokenType) (string, error) {
	t, err := p.expect(typ, "")
	if err != nil {
		return "", err
	}
	n, err := symName(t.Value)
	if err != nil {
		return "", &Error{Pos: t.Pos, Msg: err.Error()}
	}
	return n, nil
}

func (p *parser) module() error {
	for !p.peek().EOF() {
		if err := p.topLevel(); err != nil {
			return err
		}
	}
	for _, b := range p.binds {
		v := p.m.Lookup(b.target)
		if v == nil {
			return &Error{Pos: b.pos, Msg: fmt.Sprintf("undefined symbol @%s", b.target)}
		}
		b.bind(v)
	}
	for _, d := range p.later {
		p.pos = d.pos
		var err error
		if d.kind == 0 {
			d.g.Init, err = p.value(d.g.ValueType)
		} else {
			err = p.body(d.f, d.args)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) topLevel() error {
	switch {
	case p.is(tokLocal, ""):
		return p.typeDef()
	case p.is(tokGlobal, ""):
		return p.globalDef()
	case p.isKw("declare"), p.isKw("define"):
		return p.funcDef()
	case p.isKw("source_filename"), p.isKw("target"):
		for !p.peek().EOF() && !p.is(tokString, "") {
			p.next()
		}
		p.next()
		return nil
	}
	return p.errf("unexpected %q at top level", p.peek().Value)
}

func (p *parser) typeDef() error {
	n, err := p.name(tokLocal)
	if err != nil {
		return err
	}
	if err := p.punct("="); err != nil {
		return err
	}
	if err := p.expectKw("type"); err != nil {
		return err
	}
	st := p.m.StructType(n)
	if p.accept(tokIdent, "opaque") {
		return nil
	}
	fields, err := p.structBody()
	if err != nil {
		return err
	}
	st.SetBody(fields...)
	return nil
}

func (p *parser) linkage() ir.Linkage {
	if p.is(tokIdent, "") {
		if l, ok := ir.ParseLinkage(p.peek().Value); ok {
			p.next()
			return l
		}
	}
	return ir.External
}

func (p *parser) globalDef() error {
	n, err := p.name(tokGlobal)
	if err != nil {
		return err
	}
	if err := p.punct("="); err != nil {
		return err
	}
	l := p.linkage()
	switch {
	case p.accept(tokIdent, "alias"), p.accept(tokIdent, "ifunc"):
		kw := p.toks[p.pos-1].Value
		target, err := p.name(tokGlobal)
		if err != nil {
			return err
		}
		return p.aliasLike(kw, n, target, l)
	case p.accept(tokIdent, "global"), p.accept(tokIdent, "constant"):
		constant := p.toks[p.pos-1].Value == "constant"
		t, err := p.typ()
		if err != nil {
			return err
		}
		g, err := p.m.NewGlobal(n, t, nil, constant, l)
		if err != nil {
			return p.errf("%v", err)
		}
		if !p.is(tokPunct, ",") && !p.is2(tokPunct, "=") && p.startsValue() {
			p.later = append(p.later, deferred{pos: p.pos, kind: 0, g: g})
			if err := p.skipValue(); err != nil {
				return err
			}
		}
		if p.accept(tokPunct, ",") {
			if err := p.expectKw("align"); err != nil {
				return err
			}
			a, err := p.intLit()
			if err != nil {
				return err
			}
			g.Align = int(a)
		}
		return nil
	}
	return p.errf("expected global, constant, alias or ifunc")
}

// aliasLike creates an alias or ifunc whose target is bound once parsing
// finishes.
func (p *parser) aliasLike(kw, name, target string, l ir.Linkage) error {
	placeholder := &ir.Const{Kind: ir.ConstUndef, Typ: ir.Ptr}
	var bind func(v ir.Value)
	if kw == "alias" {
		a, err := p.m.NewAlias(name, placeholder, l)
		if err != nil {
			return p.errf("%v", err)
		}
		bind = func(v ir.Value) { a.Aliasee = v }
	} else {
		i, err := p.m.NewIFunc(name, placeholder, l)
		if err != nil {
			return p.errf("%v", err)
		}
		bind = func(v ir.Value) { i.Resolver = v }
	}
	p.binds = append(p.binds, pendingBind{target: target, bind: bind, pos: p.peek().Pos})
	return nil
}

func (p *parser) startsValue() bool {
	t := p.peek()
	switch t.Type {
	case tokLocal, tokGlobal, tokBytes, tokInt:
		return true
	case tokPunct:
		return t.Value == "{" || t.Value == "["
	case tokIdent:
		switch t.Value {
		case "null", "zeroinitializer", "undef", "true", "false":
			return true
		}
	}
	return false
}

// skipValue skips one value, balancing brackets.
func (p *parser) skipValue() error {
	depth := 0
	for {
		t := p.next()
		if t.EOF() {
			return p.errf("unexpected end of input in initializer")
		}
		if t.Type == tokPunct {
			switch t.Value {
			case "{", "[":
				depth++
			case "}", "]":
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func (p *parser) attrs() ir.Attr {
	var a ir.Attr
	for p.is(tokIdent, "") {
		x, ok := ir.ParseAttr(p.peek().Value)
		if !ok {
			break
		}
		a |= x
		p.next()
	}
	return a
}

func (p *parser) funcDef() error {
	define := p.next().Value == "define"
	l := p.linkage()
	attrs := p.attrs()
	ret, err := p.typ()
	if err != nil {
		return err
	}
	n, err := p.name(tokGlobal)
	if err != nil {
		return err
	}
	if err := p.punct("("); err != nil {
		return err
	}
	var (
		params   []*ir.Type
		names    []string
		variadic bool
	)
	for !p.is(tokPunct, ")") {
		if len(params) > 0 {
			if err := p.punct(","); err != nil {
				return err
			}
		}
		if p.accept(tokEllip, "") {
			variadic = true
			continue
		}
		t, err := p.typ()
		if err != nil {
			return err
		}
		params = append(params, t)
		pn := ""
		if p.is(tokLocal, "") {
			if pn, err = p.name(tokLocal); err != nil {
				return err
			}
		}
		names = append(names, pn)
	}
	p.next()
	sig := ir.FuncOf(ret, params...)
	sig.Variadic = variadic
	f, err := p.m.NewFunc(n, sig)
	if err != nil {
		return p.errf("%v", err)
	}
	f.Linkage = l
	f.Attrs |= attrs
	if p.accept(tokIdent, "personality") {
		if _, err := p.typ(); err != nil {
			return err
		}
		pn, err := p.name(tokGlobal)
		if err != nil {
			return err
		}
		p.binds = append(p.binds, pendingBind{target: pn, pos: p.peek().Pos, bind: func(v ir.Value) { f.Personality = v }})
	}
	if !define {
		return nil
	}
	if !p.is(tokPunct, "{") {
		return p.errf("expected function body")
	}
	p.later = append(p.later, deferred{pos: p.pos, kind: 1, f: f, args: names})
	return p.skipValue()
}

func (p *parser) intLit() (int64, error) {
	t, err := p.expect(tokInt, "")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(t.Value, 10, 64)
	if err != nil {
		return 0, &Error{Pos: t.Pos, Msg: err.Error()}
	}
	return v, nil
}

func (p *parser) structBody() ([]*ir.Type, error) {
	if err := p.punct("{"); err != nil {
		return nil, err
	}
	var fields []*ir.Type
	for !p.is(tokPunct, "}") {
		if len(fields) > 0 {
			if err := p.punct(","); err != nil {
				return nil, err
			}
		}
		t, err := p.typ()
		if err != nil {
			return nil, err
		}
		fields = append(fields, t)
	}
	p.next()
	return fields, nil
}

func (p *parser) typ() (*ir.Type, error) {
	t := p.peek()
	switch {
	case t.Type == tokLocal:
		n, err := p.name(tokLocal)
		if err != nil {
			return nil, err
		}
		return p.m.StructType(n), nil
	case t.Type == tokPunct && t.Value == "{":
		fields, err := p.structBody()
		if err != nil {
			return nil, err
		}
		return ir.StructOf(fields...), nil
	case t.Type == tokPunct && t.Value == "[":
		p.next()
		n, err := p.intLit()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("x"); err != nil {
			return nil, err
		}
		elem, err := p.typ()
		if err != nil {
			return nil, err
		}
		if err := p.punct("]"); err != nil {
			return nil, err
		}
		return ir.ArrayOf(elem, n), nil
	case t.Type == tokIdent:
		p.next()
		switch t.Value {
		case "void":
			return ir.Void, nil
		case "ptr":
			return ir.Ptr, nil
		case "label":
			return ir.Label, nil
		case "token":
			return ir.Token, nil
		}
		if strings.HasPrefix(t.Value, "i") {
			if bits, err := strconv.Atoi(t.Value[1:]); err == nil && bits > 0 {
				return ir.IntType(bits), nil
			}
		}
		return nil, &Error{Pos: t.Pos, Msg: fmt.Sprintf("unknown type %q", t.Value)}
	}
	return nil, p.errf("expected type, got %q", t.Value)
}

// value parses an untyped value of type t.
func (p *parser) value(t *ir.Type) (ir.Value, error) {
	tok := p.peek()
	switch tok.Type {
	case tokLocal:
		n, err := p.name(tokLocal)
		if err != nil {
			return nil, err
		}
		return p.local(n, t)
	case tokGlobal:
		n, err := p.name(tokGlobal)
		if err != nil {
			return nil, err
		}
		v := p.m.Lookup(n)
		if v == nil {
			return nil, &Error{Pos: tok.Pos, Msg: fmt.Sprintf("undefined symbol @%s", n)}
		}
		return v, nil
	case tokInt:
		v, err := p.intLit()
		if err != nil {
			return nil, err
		}
		if !t.IsInt() {
			return nil, &Error{Pos: tok.Pos, Msg: fmt.Sprintf("integer literal for %s", t)}
		}
		return ir.ConstIntOf(t, v), nil
	case tokBytes:
		p.next()
		data, err := unescapeBytes(tok.Value[2 : len(tok.Value)-1])
		if err != nil {
			return nil, &Error{Pos: tok.Pos, Msg: err.Error()}
		}
		return ir.BytesOf(data), nil
	case tokIdent:
		p.next()
		switch tok.Value {
		case "true":
			return ir.ConstIntOf(ir.I1, 1), nil
		case "false":
			return ir.ConstIntOf(ir.I1, 0), nil
		case "null":
			return ir.NullPtr(), nil
		case "zeroinitializer":
			return ir.ZeroOf(t), nil
		case "undef":
			return ir.UndefOf(t), nil
		}
	case tokPunct:
		if tok.Value == "{" || tok.Value == "[" {
			closer := "}"
			if tok.Value == "[" {
				closer = "]"
			}
			p.next()
			var elems []ir.Value
			for !p.is(tokPunct, closer) {
				if len(elems) > 0 {
					if err := p.punct(","); err != nil {
						return nil, err
					}
				}
				v, err := p.typedValue()
				if err != nil {
					return nil, err
				}
				elems = append(elems, v)
			}
			p.next()
			return ir.AggregateOf(t, elems...), nil
		}
	}
	return nil, &Error{Pos: tok.Pos, Msg: fmt.Sprintf("expected value, got %q", tok.Value)}
}

func (p *parser) typedValue() (ir.Value, error) {
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	return p.value(t)
}

func (p *parser) local(n string, t *ir.Type) (ir.Value, error) {
	if p.fn == nil {
		return nil, p.errf("local %%%s outside a function", n)
	}
	if v, ok := p.locals[n]; ok {
		return v, nil
	}
	if r, ok := p.fwd[n]; ok {
		return r, nil
	}
	r := &fwdRef{name: n, typ: t}
	p.fwd[n] = r
	return r, nil
}

func unescapeBytes(s string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return nil, fmt.Errorf("truncated escape in byte string")
		}
		b, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad escape in byte string: %v", err)
		}
		out = append(out, byte(b))
		i += 2
	}
	return out, nil
}

// loc parses a trailing "!dbg L:C".
func (p *parser) loc() (source.Loc, error) {
	l, err := p.intLit()
	if err != nil {
		return source.Loc{}, err
	}
	if err := p.punct(":"); err != nil {
		return source.Loc{}, err
	}
	c, err := p.intLit()
	if err != nil {
		return source.Loc{}, err
	}
	return source.Loc{Line: uint32(l), Col: uint32(c)}, nil
}
