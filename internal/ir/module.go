package ir

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var (
	// ErrSymbolExists is returned when a definition would reuse a name.
	ErrSymbolExists = errors.New("symbol already defined")
	// ErrSignatureMismatch is returned when an existing function has another type.
	ErrSignatureMismatch = errors.New("mismatched function signature")
)

// CompilerUsedName is the global listing symbols that must survive stripping.
const CompilerUsedName = "llvm.compiler.used"

// Module is one compilation unit.
type Module struct {
	Name    string
	Funcs   []*Func
	Globals []*Global
	Aliases []*Alias
	IFuncs  []*IFunc

	structs   []*Type
	structIdx map[string]*Type
	symbols   map[string]Value
}

func NewModule(name string) *Module {
	return &Module{
		Name:      name,
		structIdx: make(map[string]*Type),
		symbols:   make(map[string]Value),
	}
}

// Lookup returns the global value named name, or nil.
func (m *Module) Lookup(name string) Value {
	return m.symbols[name]
}

func (m *Module) Func(name string) *Func {
	f, _ := m.symbols[name].(*Func)
	return f
}

func (m *Module) Global(name string) *Global {
	g, _ := m.symbols[name].(*Global)
	return g
}

// IsEmpty reports whether the unit holds no functions.
func (m *Module) IsEmpty() bool { return len(m.Funcs) == 0 }

// UniqueName returns base, or base.N when base is taken.
func (m *Module) UniqueName(base string) string {
	if _, ok := m.symbols[base]; !ok {
		return base
	}
	for i := 1; ; i++ {
		n := base + "." + strconv.Itoa(i)
		if _, ok := m.symbols[n]; !ok {
			return n
		}
	}
}

// NewFunc creates a declaration; add blocks to make it a definition.
func (m *Module) NewFunc(name string, sig *Type) (*Func, error) {
	if sig == nil || sig.Kind != TypeFunc {
		return nil, fmt.Errorf("function @%s: %s is not a function type", name, sig)
	}
	if _, ok := m.symbols[name]; ok {
		return nil, fmt.Errorf("function @%s: %w", name, ErrSymbolExists)
	}
	f := &Func{Name: name, Sig: sig, Parent: m}
	for i, pt := range sig.Params {
		f.Params = append(f.Params, &Param{Typ: pt, Parent: f, Index: i})
	}
	if LookupIntrinsic(name) != NotIntrinsic {
		f.Attrs |= AttrNoUnwind
	}
	m.Funcs = append(m.Funcs, f)
	m.symbols[name] = f
	return f, nil
}

// GetOrInsertFunc returns the function named name, declaring it if absent.
// An existing symbol with a different type is an error.
func (m *Module) GetOrInsertFunc(name string, sig *Type) (*Func, error) {
	switch v := m.symbols[name].(type) {
	case nil:
		return m.NewFunc(name, sig)
	case *Func:
		if !Equal(v.Sig, sig) {
			return nil, fmt.Errorf("function @%s: have %s, want %s: %w", name, v.Sig, sig, ErrSignatureMismatch)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("@%s is not a function: %w", name, ErrSymbolExists)
	}
}

// NewGlobal adds a global variable. A nil init makes a declaration.
func (m *Module) NewGlobal(name string, t *Type, init Value, constant bool, l Linkage) (*Global, error) {
	if _, ok := m.symbols[name]; ok {
		return nil, fmt.Errorf("global @%s: %w", name, ErrSymbolExists)
	}
	g := &Global{Name: name, ValueType: t, Init: init, Constant: constant, Linkage: l, Parent: m}
	m.Globals = append(m.Globals, g)
	m.symbols[name] = g
	return g, nil
}

func (m *Module) NewAlias(name string, aliasee Value, l Linkage) (*Alias, error) {
	if _, ok := m.symbols[name]; ok {
		return nil, fmt.Errorf("alias @%s: %w", name, ErrSymbolExists)
	}
	a := &Alias{Name: name, Aliasee: aliasee, Linkage: l, Parent: m}
	m.Aliases = append(m.Aliases, a)
	m.symbols[name] = a
	return a, nil
}

func (m *Module) NewIFunc(name string, resolver Value, l Linkage) (*IFunc, error) {
	if _, ok := m.symbols[name]; ok {
		return nil, fmt.Errorf("ifunc @%s: %w", name, ErrSymbolExists)
	}
	i := &IFunc{Name: name, Resolver: resolver, Linkage: l, Parent: m}
	m.IFuncs = append(m.IFuncs, i)
	m.symbols[name] = i
	return i, nil
}

// RemoveFunc drops f from the module. Uses are not rewritten.
func (m *Module) RemoveFunc(f *Func) {
	m.Funcs = slices.DeleteFunc(m.Funcs, func(x *Func) bool { return x == f })
	if m.symbols[f.Name] == Value(f) {
		delete(m.symbols, f.Name)
	}
}

// RemoveGlobal drops g from the module. Uses are not rewritten.
func (m *Module) RemoveGlobal(g *Global) {
	m.Globals = slices.DeleteFunc(m.Globals, func(x *Global) bool { return x == g })
	if m.symbols[g.Name] == Value(g) {
		delete(m.symbols, g.Name)
	}
}

// StructType returns the named struct, creating an opaque one if absent.
func (m *Module) StructType(name string) *Type {
	if t, ok := m.structIdx[name]; ok {
		return t
	}
	t := &Type{Kind: TypeStruct, Name: name, Opaque: true}
	m.structIdx[name] = t
	m.structs = append(m.structs, t)
	return t
}

// LookupStruct returns the named struct or nil.
func (m *Module) LookupStruct(name string) *Type {
	return m.structIdx[name]
}

// Structs lists named struct types in creation order.
func (m *Module) Structs() []*Type {
	return m.structs
}

// AppendCompilerUsed adds values to llvm.compiler.used, creating it on first use.
func (m *Module) AppendCompilerUsed(vals ...Value) error {
	g := m.Global(CompilerUsedName)
	var elems []Value
	if g != nil {
		if c, ok := g.Init.(*Const); ok && c.Kind == ConstAggregate {
			elems = slices.Clone(c.Elems)
		}
		m.RemoveGlobal(g)
	}
	for _, v := range vals {
		if !slices.Contains(elems, v) {
			elems = append(elems, v)
		}
	}
	t := ArrayOf(Ptr, int64(len(elems)))
	_, err := m.NewGlobal(CompilerUsedName, t, AggregateOf(t, elems...), false, Appending)
	return err
}

// CompilerUsed lists values in llvm.compiler.used.
func (m *Module) CompilerUsed() []Value {
	g := m.Global(CompilerUsedName)
	if g == nil {
		return nil
	}
	if c, ok := g.Init.(*Const); ok && c.Kind == ConstAggregate {
		return c.Elems
	}
	return nil
}

// ReplaceAllUsesWith rewrites every use of old in the module.
func (m *Module) ReplaceAllUsesWith(old, repl Value) {
	for _, f := range m.Funcs {
		f.ReplaceAllUsesWith(old, repl)
	}
	for _, g := range m.Globals {
		if g.Init != nil {
			g.Init = replaceInValue(g.Init, old, repl)
		}
	}
	for _, a := range m.Aliases {
		a.Aliasee = replaceInValue(a.Aliasee, old, repl)
	}
	for _, i := range m.IFuncs {
		i.Resolver = replaceInValue(i.Resolver, old, repl)
	}
}

// Global is a module-level variable. Its value is a pointer.
type Global struct {
	Name      string
	ValueType *Type
	Init      Value
	Constant  bool
	Linkage   Linkage
	Align     int
	Parent    *Module
}

func (g *Global) Type() *Type   { return Ptr }
func (g *Global) Ident() string { return "@" + quoteName(g.Name) }

func (g *Global) IsDeclaration() bool { return g.Init == nil }

// Alias is a second name for another global value.
type Alias struct {
	Name    string
	Aliasee Value
	Linkage Linkage
	Parent  *Module
}

func (a *Alias) Type() *Type   { return Ptr }
func (a *Alias) Ident() string { return "@" + quoteName(a.Name) }

// IFunc is a symbol resolved at load time by calling Resolver.
type IFunc struct {
	Name     string
	Resolver Value
	Linkage  Linkage
	Parent   *Module
}

func (i *IFunc) Type() *Type   { return Ptr }
func (i *IFunc) Ident() string { return "@" + quoteName(i.Name) }

// IsGlobalValue reports module-level symbols.
func IsGlobalValue(v Value) bool {
	switch v.(type) {
	case *Func, *Global, *Alias, *IFunc:
		return true
	}
	return false
}

// GlobalName returns the symbol name of a global value, or "".
func GlobalName(v Value) string {
	switch g := v.(type) {
	case *Func:
		return g.Name
	case *Global:
		return g.Name
	case *Alias:
		return g.Name
	case *IFunc:
		return g.Name
	}
	return ""
}
