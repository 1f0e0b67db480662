package tapir

import (
	"fmt"
	"slices"
	"strconv"

	"chiabi/internal/ir"
)

// TaskBlocks returns the blocks of the task spawned by det in function
// order: everything reachable from the detached block without leaving
// through a reattach of det.
func TaskBlocks(det *ir.Instr) []*ir.Block {
	f := det.Func()
	cont := det.Succs[1]
	seen := map[*ir.Block]bool{}
	work := []*ir.Block{det.Succs[0]}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[b] || b == cont {
			continue
		}
		seen[b] = true
		t := b.Terminator()
		if t == nil || endsTask(t, det) {
			continue
		}
		work = append(work, t.Succs...)
	}
	var out []*ir.Block
	for _, b := range f.Blocks {
		if seen[b] {
			out = append(out, b)
		}
	}
	return out
}

func endsTask(t, det *ir.Instr) bool {
	return t.Op == ir.OpReattach && t.SyncRegion() == det.SyncRegion() && t.Succs[0] == det.Succs[1]
}

// TopLevelDetaches lists the detaches of f not nested in another task of f.
func TopLevelDetaches(f *ir.Func) []*ir.Instr {
	var dets []*ir.Instr
	for _, b := range f.Blocks {
		if t := b.Terminator(); t != nil && t.Op == ir.OpDetach {
			dets = append(dets, t)
		}
	}
	nested := map[*ir.Block]bool{}
	for _, d := range dets {
		for _, b := range TaskBlocks(d) {
			nested[b] = true
		}
	}
	return slices.DeleteFunc(dets, func(d *ir.Instr) bool { return nested[d.Parent] })
}

// HasDetach reports whether f spawns anything.
func HasDetach(f *ir.Func) bool {
	for _, b := range f.Blocks {
		if t := b.Terminator(); t != nil && t.Op == ir.OpDetach {
			return true
		}
	}
	return false
}

// regionInputs lists values defined outside blocks and used inside, in
// first-use order, and fails on values that escape the region.
func regionInputs(f *ir.Func, blocks []*ir.Block, skip func(*ir.Instr) bool) ([]ir.Value, error) {
	in := map[*ir.Block]bool{}
	for _, b := range blocks {
		in[b] = true
	}
	var inputs []ir.Value
	seen := map[ir.Value]bool{}
	for _, b := range blocks {
		for _, inst := range b.Instrs {
			if skip != nil && skip(inst) {
				continue
			}
			for _, op := range inst.Operands {
				var outside bool
				switch v := op.(type) {
				case *ir.Param:
					outside = true
				case *ir.Instr:
					outside = !in[v.Parent]
				}
				if outside && !seen[op] {
					seen[op] = true
					inputs = append(inputs, op)
				}
			}
		}
	}
	for _, b := range f.Blocks {
		if in[b] {
			continue
		}
		for _, user := range b.Instrs {
			for _, op := range user.Operands {
				if def, ok := op.(*ir.Instr); ok && in[def.Parent] {
					return nil, fmt.Errorf("value %s defined in outlined region is used outside it by %s", def.Ident(), user)
				}
			}
		}
	}
	return inputs, nil
}

// InputName names the copy of the i-th input v inside an outlined body:
// the value's own name, or in<i> when it has none.
func InputName(v ir.Value, i int) string {
	switch x := v.(type) {
	case *ir.Instr:
		if x.Name != "" {
			return x.Name
		}
	case *ir.Param:
		if x.Name != "" {
			return x.Name
		}
	}
	return "in" + strconv.Itoa(i)
}

// OutlineTask moves the task of det into a new internal helper taking a
// pointer to its argument struct, and replaces det with a call (or an
// invoke, when det has an unwind destination) of the helper.
func OutlineTask(det *ir.Instr, seq int) (*TaskOutlineInfo, error) {
	f := det.Func()
	m := f.Parent
	detached, cont := det.Succs[0], det.Succs[1]
	blocks := TaskBlocks(det)
	if len(det.Succs) > 2 && slices.Contains(blocks, det.Succs[2]) {
		return nil, fmt.Errorf("task %s of @%s unwinds into itself", detached.Ident(), f.Name)
	}

	inputs, err := regionInputs(f, blocks, func(in *ir.Instr) bool { return endsTask(in, det) })
	if err != nil {
		return nil, fmt.Errorf("outline task %s of @%s: %w", detached.Ident(), f.Name, err)
	}
	fields := make([]*ir.Type, len(inputs))
	for i, v := range inputs {
		fields[i] = v.Type()
	}
	argTy := ir.StructOf(fields...)

	name := m.UniqueName(fmt.Sprintf("%s.outline_%s.otd%d", f.Name, detached.Name, seq))
	helper, err := m.NewFunc(name, ir.FuncOf(ir.Void, ir.Ptr))
	if err != nil {
		return nil, err
	}
	helper.Params[0].Name = "args"
	helper.Personality = f.Personality

	vm := ir.ValueMap{}
	entry := helper.NewBlock("entry")
	hb := ir.NewBuilder()
	hb.SetInsertPointAtEnd(entry)
	hb.Loc = det.Loc
	for i, v := range inputs {
		gep := hb.CreateStructGEP(argTy, helper.Params[0], i, "")
		vm[v] = hb.CreateLoad(fields[i], gep, InputName(v, i))
	}
	ir.CloneBlocks(helper, blocks, vm, "")
	hb.CreateBr(vm[detached].(*ir.Block))
	for _, b := range blocks {
		if t := b.Terminator(); t != nil && endsTask(t, det) {
			ct := vm[t].(*ir.Instr)
			rb := ir.NewBuilderBefore(ct)
			rb.CreateRet(nil)
			ct.Erase()
		}
	}

	var tfc *ir.Instr
	if first := detached.FirstInsertionPt(); first != nil && first.Intrinsic() == ir.TaskFrameCreate {
		tfc = vm[first].(*ir.Instr)
	}

	ab := ir.NewBuilderBefore(f.Entry().FirstInsertionPt())
	args := ab.CreateAlloca(argTy, helper.Name+".args")
	args.Align = 8

	host := det.Parent
	b := ir.NewBuilderBefore(det)
	for i, v := range inputs {
		gep := b.CreateStructGEP(argTy, args, i, "")
		b.CreateStore(v, gep)
	}
	toi := &TaskOutlineInfo{
		Outline:   helper,
		InputSet:  inputs,
		DetachPt:  det,
		ReplStart: host,

		TaskFrameCreate: tfc,
	}
	if len(det.Succs) > 2 {
		toi.ReplUnwind = det.Succs[2]
		toi.ReplCall = b.CreateInvoke(helper, cont, det.Succs[2], []ir.Value{args}, "")
	} else {
		toi.ReplCall = b.CreateCall(helper, []ir.Value{args}, "")
		b.CreateBr(cont)
	}
	det.Erase()
	for _, blk := range blocks {
		f.RemoveBlock(blk)
	}
	return toi, nil
}
