package ir

import (
	"errors"
	"fmt"
	"slices"
)

// Verify checks structural invariants of every function in m.
func Verify(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if f.Parent != m {
			errs = append(errs, fmt.Errorf("function @%s: parent is another module", f.Name))
		}
		if err := VerifyFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.Name, err))
		}
	}
	for _, g := range m.Globals {
		if g.Init != nil && !ownedBy(g.Init, m) {
			errs = append(errs, fmt.Errorf("global @%s: initializer references another module", g.Name))
		}
	}
	return errors.Join(errs...)
}

// VerifyFunc checks one function.
func VerifyFunc(f *Func) error {
	if f.IsDeclaration() {
		return nil
	}
	var errs []error
	if err := verifyTerminators(f); err != nil {
		errs = append(errs, err)
	}
	if err := verifyOperands(f); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		if err := verifyPhis(f); err != nil {
			errs = append(errs, err)
		}
		if err := verifyDominance(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func verifyTerminators(f *Func) error {
	var errs []error
	for _, b := range f.Blocks {
		if b.Parent != f {
			errs = append(errs, fmt.Errorf("%s: block parent mismatch", b.Name))
		}
		if b.Terminator() == nil {
			errs = append(errs, fmt.Errorf("%s: unterminated block", b.Name))
			continue
		}
		seenNonPhi := false
		for i, in := range b.Instrs {
			if in.Parent != b {
				errs = append(errs, fmt.Errorf("%s: instruction %d parent mismatch", b.Name, i))
			}
			if in.IsTerminator() && i != len(b.Instrs)-1 {
				errs = append(errs, fmt.Errorf("%s: terminator %s in the middle of the block", b.Name, in.Op))
			}
			if in.Op == OpPhi && seenNonPhi {
				errs = append(errs, fmt.Errorf("%s: phi after non-phi instruction", b.Name))
			}
			if in.Op != OpPhi {
				seenNonPhi = true
			}
		}
		for _, s := range b.Succs() {
			if s == nil || s.Parent != f {
				errs = append(errs, fmt.Errorf("%s: successor outside function", b.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func ownedBy(v Value, m *Module) bool {
	switch x := v.(type) {
	case *Func:
		return x.Parent == m
	case *Global:
		return x.Parent == m
	case *Alias:
		return x.Parent == m
	case *IFunc:
		return x.Parent == m
	case *Const:
		for _, e := range x.Elems {
			if !ownedBy(e, m) {
				return false
			}
		}
	}
	return true
}

func verifyOperands(f *Func) error {
	var errs []error
	m := f.Parent
	check := func(b *Block, in *Instr, v Value) {
		switch x := v.(type) {
		case nil:
			errs = append(errs, fmt.Errorf("%s: %s has a nil operand", b.Name, in.Op))
		case *Instr:
			if x.Func() != f {
				errs = append(errs, fmt.Errorf("%s: %s uses an instruction of another function", b.Name, in.Op))
			}
		case *Param:
			if x.Parent != f {
				errs = append(errs, fmt.Errorf("%s: %s uses a parameter of another function", b.Name, in.Op))
			}
		default:
			if m != nil && !ownedBy(v, m) {
				errs = append(errs, fmt.Errorf("%s: %s references %s of another module", b.Name, in.Op, v.Ident()))
			}
		}
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for _, op := range in.Operands {
				check(b, in, op)
			}
			if in.IsCall() {
				check(b, in, in.Callee)
				if err := verifyCall(in); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
				}
			}
			switch in.Op {
			case OpDetach, OpReattach, OpSync:
				if len(in.Operands) != 1 || in.Operands[0] == nil || in.Operands[0].Type().Kind != TypeToken {
					errs = append(errs, fmt.Errorf("%s: %s needs a sync region token", b.Name, in.Op))
				}
			case OpInvoke:
				if len(in.Succs) != 2 {
					errs = append(errs, fmt.Errorf("%s: invoke needs two destinations", b.Name))
				} else if !in.Succs[1].IsLandingPad() {
					errs = append(errs, fmt.Errorf("%s: invoke unwind destination %s is not a landing pad", b.Name, in.Succs[1].Name))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func verifyCall(in *Instr) error {
	sig := in.FnType
	if sig == nil || sig.Kind != TypeFunc {
		return fmt.Errorf("%s without function type", in.Op)
	}
	if callee, ok := in.Callee.(*Func); ok && !Equal(callee.Sig, sig) {
		return fmt.Errorf("call to @%s: mismatched call-site type %s, callee is %s", callee.Name, sig, callee.Sig)
	}
	if len(in.Operands) < len(sig.Params) || (!sig.Variadic && len(in.Operands) != len(sig.Params)) {
		return fmt.Errorf("call to %s: %d arguments for %s", in.Callee.Ident(), len(in.Operands), sig)
	}
	for i, pt := range sig.Params {
		if !Equal(in.Operands[i].Type(), pt) {
			return fmt.Errorf("call to %s: argument %d is %s, want %s", in.Callee.Ident(), i, in.Operands[i].Type(), pt)
		}
	}
	return nil
}

func verifyPhis(f *Func) error {
	var errs []error
	reach := Reachable(f)
	preds := Preds(f)
	for _, b := range f.Blocks {
		if !reach[b] {
			continue
		}
		for _, phi := range b.Phis() {
			if len(phi.Incoming) != len(phi.Operands) {
				errs = append(errs, fmt.Errorf("%s: phi operand/block count mismatch", b.Name))
				continue
			}
			for _, p := range preds[b] {
				if n := countBlock(phi.Incoming, p); n != 1 {
					errs = append(errs, fmt.Errorf("%s: phi has %d entries for predecessor %s", b.Name, n, p.Name))
				}
			}
			for _, ib := range phi.Incoming {
				if !slices.Contains(preds[b], ib) {
					errs = append(errs, fmt.Errorf("%s: phi entry for non-predecessor %s", b.Name, ib.Name))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func countBlock(bs []*Block, b *Block) int {
	n := 0
	for _, x := range bs {
		if x == b {
			n++
		}
	}
	return n
}

func verifyDominance(f *Func) error {
	var errs []error
	dt := NewDomTree(f)
	for _, b := range f.Blocks {
		if !dt.IsReachable(b) {
			continue
		}
		for idx, in := range b.Instrs {
			for i, op := range in.Operands {
				def, ok := op.(*Instr)
				if !ok || def.Parent == nil || !dt.IsReachable(def.Parent) {
					continue
				}
				if in.Op == OpPhi {
					if !dt.Dominates(def.Parent, in.Incoming[i]) {
						errs = append(errs, fmt.Errorf("%s: phi operand %d not available from %s", b.Name, i, in.Incoming[i].Name))
					}
					continue
				}
				if !defDominatesUse(dt, def, b, idx) {
					errs = append(errs, fmt.Errorf("%s: %s operand %d does not dominate its use", b.Name, in.Op, i))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func defDominatesUse(dt *DomTree, def *Instr, useBlock *Block, useIdx int) bool {
	if def.Op == OpInvoke {
		normal := def.Succs[0]
		return dt.Dominates(normal, useBlock) && useBlock != def.Parent
	}
	if def.Parent == useBlock {
		return useBlock.IndexOf(def) < useIdx
	}
	return dt.Dominates(def.Parent, useBlock)
}
