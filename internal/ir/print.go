package ir

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
)

func isNameChar(r byte) bool {
	return r == '-' || r == '$' || r == '.' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// quoteName returns name, or its quoted form if it has other characters.
func quoteName(name string) string {
	if name == "" {
		return `""`
	}
	for i := 0; i < len(name); i++ {
		if !isNameChar(name[i]) {
			return strconv.Quote(name)
		}
	}
	return name
}

func quoteBytes(data []byte) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range data {
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "\\%02X", c)
	}
	sb.WriteByte('"')
	return sb.String()
}

// slotTracker assigns printable names to locals of one function.
type slotTracker struct {
	names map[Value]string
	used  map[string]bool
	next  int
}

func newSlotTracker(f *Func) *slotTracker {
	st := &slotTracker{names: make(map[Value]string), used: make(map[string]bool)}
	for _, p := range f.Params {
		st.assign(p, p.Name)
	}
	for _, b := range f.Blocks {
		name := b.Name
		if name == "" {
			name = "bb"
		}
		st.assign(b, name)
	}
	for in := range f.Instrs {
		if !in.Type().IsVoid() {
			st.assign(in, in.Name)
		}
	}
	return st
}

func (st *slotTracker) assign(v Value, base string) {
	var s string
	if base == "" {
		for {
			s = strconv.Itoa(st.next)
			st.next++
			if !st.used[s] {
				break
			}
		}
	} else {
		s = base
		for i := 1; st.used[s]; i++ {
			s = base + "." + strconv.Itoa(i)
		}
	}
	st.used[s] = true
	st.names[v] = s
}

func (st *slotTracker) ident(v Value) string {
	if st != nil {
		if n, ok := st.names[v]; ok {
			return "%" + quoteName(n)
		}
	}
	switch x := v.(type) {
	case *Const:
		if x.Kind == ConstAggregate {
			return st.aggregate(x)
		}
	case *Instr, *Param, *Block:
		return "%<badref>"
	}
	return v.Ident()
}

func (st *slotTracker) aggregate(c *Const) string {
	lbr, rbr := "{ ", " }"
	if c.Typ.Kind == TypeArray {
		lbr, rbr = "[", "]"
	}
	parts := make([]string, len(c.Elems))
	for i, e := range c.Elems {
		parts[i] = st.typed(e)
	}
	return lbr + strings.Join(parts, ", ") + rbr
}

func (st *slotTracker) typed(v Value) string {
	return v.Type().String() + " " + st.ident(v)
}

// Fprint writes m in textual form.
func Fprint(w io.Writer, m *Module) error {
	_, err := io.WriteString(w, m.String())
	return err
}

func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; ModuleID = %s\n", strconv.Quote(m.Name))
	if len(m.structs) > 0 {
		sb.WriteString("\n")
	}
	for _, t := range m.structs {
		fmt.Fprintf(&sb, "%s = type %s\n", t, t.BodyString())
	}
	if len(m.Globals) > 0 {
		sb.WriteString("\n")
	}
	for _, g := range m.Globals {
		sb.WriteString(globalString(g))
		sb.WriteString("\n")
	}
	for _, a := range m.Aliases {
		fmt.Fprintf(&sb, "%s = %salias %s\n", a.Ident(), linkagePrefix(a.Linkage), a.Aliasee.Ident())
	}
	for _, i := range m.IFuncs {
		fmt.Fprintf(&sb, "%s = %sifunc %s\n", i.Ident(), linkagePrefix(i.Linkage), i.Resolver.Ident())
	}
	for _, f := range m.Funcs {
		sb.WriteString("\n")
		sb.WriteString(f.String())
	}
	return sb.String()
}

func linkagePrefix(l Linkage) string {
	if l == External {
		return ""
	}
	return l.String() + " "
}

func globalString(g *Global) string {
	var sb strings.Builder
	sb.WriteString(g.Ident())
	sb.WriteString(" = ")
	sb.WriteString(linkagePrefix(g.Linkage))
	if g.Constant {
		sb.WriteString("constant ")
	} else {
		sb.WriteString("global ")
	}
	sb.WriteString(g.ValueType.String())
	if g.Init != nil {
		sb.WriteString(" ")
		sb.WriteString((*slotTracker)(nil).ident(g.Init))
	}
	if g.Align > 0 {
		fmt.Fprintf(&sb, ", align %d", g.Align)
	}
	return sb.String()
}

func (f *Func) String() string {
	var sb strings.Builder
	st := newSlotTracker(f)
	if f.IsDeclaration() {
		sb.WriteString("declare ")
	} else {
		sb.WriteString("define ")
	}
	sb.WriteString(linkagePrefix(f.Linkage))
	if f.Attrs != 0 {
		sb.WriteString(f.Attrs.String())
		sb.WriteString(" ")
	}
	sb.WriteString(f.Sig.Ret.String())
	sb.WriteString(" ")
	sb.WriteString(f.Ident())
	sb.WriteString("(")
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Typ.String())
		if !f.IsDeclaration() {
			sb.WriteString(" ")
			sb.WriteString(st.ident(p))
		}
	}
	if f.Sig.Variadic {
		if len(f.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteString(")")
	if f.Personality != nil {
		sb.WriteString(" personality ")
		sb.WriteString(st.typed(f.Personality))
	}
	if f.IsDeclaration() {
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(" {\n")
	for i, b := range f.Blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s:\n", quoteName(st.names[b]))
		for _, in := range b.Instrs {
			sb.WriteString("  ")
			sb.WriteString(st.instr(in))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// String renders a single instruction with function-local names.
func (in *Instr) String() string {
	var st *slotTracker
	if f := in.Func(); f != nil {
		st = newSlotTracker(f)
	}
	return st.instr(in)
}

func (st *slotTracker) label(b *Block) string {
	return "label " + st.ident(b)
}

func (st *slotTracker) args(in *Instr) string {
	parts := make([]string, len(in.Operands))
	for i, a := range in.Operands {
		parts[i] = st.typed(a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (st *slotTracker) instr(in *Instr) string {
	var sb strings.Builder
	if !in.Type().IsVoid() {
		sb.WriteString(st.ident(in))
		sb.WriteString(" = ")
	}
	ops := in.Operands
	switch in.Op {
	case OpAlloca:
		sb.WriteString("alloca ")
		sb.WriteString(in.ElemType.String())
		if len(ops) > 0 {
			sb.WriteString(", " + st.typed(ops[0]))
		}
		if in.Align > 0 {
			fmt.Fprintf(&sb, ", align %d", in.Align)
		}
	case OpLoad:
		fmt.Fprintf(&sb, "load %s, %s", in.Typ, st.typed(ops[0]))
		if in.Align > 0 {
			fmt.Fprintf(&sb, ", align %d", in.Align)
		}
	case OpStore:
		fmt.Fprintf(&sb, "store %s, %s", st.typed(ops[0]), st.typed(ops[1]))
		if in.Align > 0 {
			fmt.Fprintf(&sb, ", align %d", in.Align)
		}
	case OpGEP:
		sb.WriteString("getelementptr " + in.ElemType.String())
		for _, op := range ops {
			sb.WriteString(", " + st.typed(op))
		}
	case OpICmp:
		fmt.Fprintf(&sb, "icmp %s %s, %s", in.Pred, st.typed(ops[0]), st.ident(ops[1]))
	case OpSelect:
		fmt.Fprintf(&sb, "select %s, %s, %s", st.typed(ops[0]), st.typed(ops[1]), st.typed(ops[2]))
	case OpCast:
		fmt.Fprintf(&sb, "%s %s to %s", in.Cast, st.typed(ops[0]), in.Typ)
	case OpCall:
		fmt.Fprintf(&sb, "call %s %s%s", in.FnType.Ret, st.ident(in.Callee), st.args(in))
	case OpInvoke:
		fmt.Fprintf(&sb, "invoke %s %s%s to %s unwind %s",
			in.FnType.Ret, st.ident(in.Callee), st.args(in), st.label(in.Succs[0]), st.label(in.Succs[1]))
	case OpPhi:
		sb.WriteString("phi " + in.Typ.String() + " ")
		for i, v := range ops {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "[ %s, %s ]", st.ident(v), st.ident(in.Incoming[i]))
		}
	case OpLandingPad:
		sb.WriteString("landingpad " + in.Typ.String())
		if in.Cleanup {
			sb.WriteString(" cleanup")
		}
	case OpRet:
		if len(ops) == 0 {
			sb.WriteString("ret void")
		} else {
			sb.WriteString("ret " + st.typed(ops[0]))
		}
	case OpBr:
		sb.WriteString("br " + st.label(in.Succs[0]))
	case OpCondBr:
		fmt.Fprintf(&sb, "br %s, %s, %s", st.typed(ops[0]), st.label(in.Succs[0]), st.label(in.Succs[1]))
	case OpResume:
		sb.WriteString("resume " + st.typed(ops[0]))
	case OpUnreachable:
		sb.WriteString("unreachable")
	case OpDetach:
		fmt.Fprintf(&sb, "detach within %s, %s, %s", st.ident(ops[0]), st.label(in.Succs[0]), st.label(in.Succs[1]))
		if len(in.Succs) > 2 {
			sb.WriteString(" unwind " + st.label(in.Succs[2]))
		}
	case OpReattach, OpSync:
		fmt.Fprintf(&sb, "%s within %s, %s", in.Op, st.ident(ops[0]), st.label(in.Succs[0]))
	default:
		if in.Op.IsBinary() {
			fmt.Fprintf(&sb, "%s %s, %s", in.Op, st.typed(ops[0]), st.ident(ops[1]))
		} else {
			sb.WriteString(in.Op.String())
		}
	}
	for _, k := range slices.Sorted(maps.Keys(in.Hints)) {
		fmt.Fprintf(&sb, " !hint %s=%s", strconv.Quote(k), strconv.Quote(in.Hints[k]))
	}
	if !in.Loc.IsZero() {
		fmt.Fprintf(&sb, " !dbg %d:%d", in.Loc.Line, in.Loc.Col)
	}
	return sb.String()
}
