// Package linker merges one IR module into another.
package linker

import (
	"errors"
	"fmt"

	"chiabi/internal/ir"
)

// Flags tune Link.
type Flags struct {
	// OnlyNeeded imports only definitions that dst references, plus what
	// those definitions reference in turn.
	OnlyNeeded bool
	// Imported, if set, runs after a successful link with the names of the
	// symbols whose definitions came from src.
	Imported func(dst *ir.Module, names []string)
}

// ErrConflict reports two definitions of one external symbol.
var ErrConflict = errors.New("symbol multiply defined")

type linker struct {
	dst, src *ir.Module
	flags    Flags
	vm       ir.ValueMap
	queue    []ir.Value
	queued   map[ir.Value]bool
	bodies   []*ir.Func
	inits    []*ir.Global
	origin   map[ir.Value]ir.Value // dst symbol -> src definition
}

// Link imports symbols of src into dst. Declarations in dst are completed
// with definitions from src. src is left unchanged.
func Link(dst, src *ir.Module, flags Flags) error {
	l := &linker{dst: dst, src: src, flags: flags, vm: make(ir.ValueMap), queued: make(map[ir.Value]bool), origin: make(map[ir.Value]ir.Value)}
	if flags.OnlyNeeded {
		l.seedNeeded()
	} else {
		for _, st := range src.Structs() {
			dst.ImportType(st)
		}
		for _, f := range src.Funcs {
			l.enqueue(f)
		}
		for _, g := range src.Globals {
			l.enqueue(g)
		}
		for _, a := range src.Aliases {
			l.enqueue(a)
		}
		for _, i := range src.IFuncs {
			l.enqueue(i)
		}
	}
	var errs []error
	for len(l.queue) > 0 {
		v := l.queue[0]
		l.queue = l.queue[1:]
		if err := l.link(v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, g := range l.inits {
		sg := l.origin[g].(*ir.Global)
		g.Init = dst.ImportConst(l.vm.Remap(sg.Init))
	}
	for _, f := range l.bodies {
		sf := l.origin[f].(*ir.Func)
		if err := ir.CloneFunctionInto(f, sf, l.vm); err != nil {
			errs = append(errs, err)
			continue
		}
		dst.ImportFuncTypes(f)
	}
	for _, a := range dst.Aliases {
		a.Aliasee = l.vm.Remap(a.Aliasee)
	}
	for _, i := range dst.IFuncs {
		i.Resolver = l.vm.Remap(i.Resolver)
	}
	if len(errs) == 0 && flags.Imported != nil {
		var names []string
		for _, f := range l.bodies {
			names = append(names, f.Name)
		}
		for _, g := range l.inits {
			names = append(names, g.Name)
		}
		flags.Imported(dst, names)
	}
	return errors.Join(errs...)
}

// seedNeeded queues every src symbol that dst declares without defining.
func (l *linker) seedNeeded() {
	for _, f := range l.dst.Funcs {
		if f.IsDeclaration() {
			if sf := l.src.Func(f.Name); sf != nil && !sf.IsDeclaration() {
				l.enqueue(sf)
			}
		}
	}
	for _, g := range l.dst.Globals {
		if g.IsDeclaration() {
			if sg := l.src.Global(g.Name); sg != nil && !sg.IsDeclaration() {
				l.enqueue(sg)
			}
		}
	}
}

func (l *linker) enqueue(v ir.Value) {
	if l.queued[v] {
		return
	}
	l.queued[v] = true
	l.queue = append(l.queue, v)
}

// refs queues the globals a src definition mentions.
func (l *linker) refs(v ir.Value) {
	var walk func(ir.Value)
	walk = func(x ir.Value) {
		switch c := x.(type) {
		case *ir.Func, *ir.Global, *ir.Alias, *ir.IFunc:
			l.enqueue(c)
		case *ir.Const:
			for _, e := range c.Elems {
				walk(e)
			}
		}
	}
	switch s := v.(type) {
	case *ir.Func:
		if s.Personality != nil {
			walk(s.Personality)
		}
		for in := range s.Instrs {
			if in.Callee != nil {
				walk(in.Callee)
			}
			for _, op := range in.Operands {
				walk(op)
			}
		}
	case *ir.Global:
		if s.Init != nil {
			walk(s.Init)
		}
	case *ir.Alias:
		walk(s.Aliasee)
	case *ir.IFunc:
		walk(s.Resolver)
	}
}

func linkageOf(v ir.Value) ir.Linkage {
	switch s := v.(type) {
	case *ir.Func:
		return s.Linkage
	case *ir.Global:
		return s.Linkage
	case *ir.Alias:
		return s.Linkage
	case *ir.IFunc:
		return s.Linkage
	}
	return ir.External
}

func isDefinition(v ir.Value) bool {
	switch s := v.(type) {
	case *ir.Func:
		return !s.IsDeclaration()
	case *ir.Global:
		return !s.IsDeclaration()
	}
	return true
}

// link maps one src symbol to its dst counterpart, creating or completing
// it as needed.
func (l *linker) link(v ir.Value) error {
	name := ir.GlobalName(v)
	existing := l.dst.Lookup(name)
	if existing != nil && linkageOf(v).IsLocal() {
		// A local symbol never merges with a dst symbol of the same name.
		existing = nil
		name = l.dst.UniqueName(name)
	}
	def := isDefinition(v)
	if existing != nil {
		if err := l.merge(existing, v); err != nil {
			return err
		}
		if def && !isDefinition(existing) {
			l.complete(existing, v)
		}
		return nil
	}
	nv, err := l.create(name, v)
	if err != nil {
		return err
	}
	l.vm[v] = nv
	if def {
		l.complete(nv, v)
	}
	return nil
}

func (l *linker) merge(existing, v ir.Value) error {
	l.vm[v] = existing
	name := ir.GlobalName(v)
	switch s := v.(type) {
	case *ir.Func:
		d, ok := existing.(*ir.Func)
		if !ok {
			return fmt.Errorf("@%s: function conflicts with a non-function symbol", name)
		}
		if !ir.Equal(d.Sig, s.Sig) {
			return fmt.Errorf("@%s: type %s conflicts with %s: %w", name, s.Sig, d.Sig, ir.ErrSignatureMismatch)
		}
		if !d.IsDeclaration() && !s.IsDeclaration() {
			return fmt.Errorf("@%s: %w", name, ErrConflict)
		}
	case *ir.Global:
		d, ok := existing.(*ir.Global)
		if !ok {
			return fmt.Errorf("@%s: global conflicts with a non-global symbol", name)
		}
		if !d.IsDeclaration() && !s.IsDeclaration() {
			return fmt.Errorf("@%s: %w", name, ErrConflict)
		}
	default:
		return fmt.Errorf("@%s: %w", name, ErrConflict)
	}
	return nil
}

func (l *linker) create(name string, v ir.Value) (ir.Value, error) {
	switch s := v.(type) {
	case *ir.Func:
		f, err := l.dst.NewFunc(name, l.dst.ImportType(s.Sig))
		if err != nil {
			return nil, err
		}
		f.Linkage = s.Linkage
		f.Attrs = s.Attrs
		return f, nil
	case *ir.Global:
		g, err := l.dst.NewGlobal(name, l.dst.ImportType(s.ValueType), nil, s.Constant, s.Linkage)
		if err != nil {
			return nil, err
		}
		g.Align = s.Align
		return g, nil
	case *ir.Alias:
		l.refs(s)
		return l.dst.NewAlias(name, s.Aliasee, s.Linkage)
	case *ir.IFunc:
		l.refs(s)
		return l.dst.NewIFunc(name, s.Resolver, s.Linkage)
	}
	return nil, fmt.Errorf("cannot link %T", v)
}

// complete schedules the body or initializer of src for dst.
func (l *linker) complete(dst, src ir.Value) {
	l.refs(src)
	switch d := dst.(type) {
	case *ir.Func:
		d.Linkage = linkageOf(src)
		l.bodies = append(l.bodies, d)
	case *ir.Global:
		sg := src.(*ir.Global)
		d.Linkage = sg.Linkage
		d.Constant = sg.Constant
		if d.Align == 0 {
			d.Align = sg.Align
		}
		l.inits = append(l.inits, d)
	}
	l.origin[dst] = src
}
