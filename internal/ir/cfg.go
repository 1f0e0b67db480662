package ir

import "slices"

// Preds maps every block of f to its distinct predecessors in block order.
func Preds(f *Func) map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			if !slices.Contains(preds[s], b) {
				preds[s] = append(preds[s], b)
			}
		}
	}
	return preds
}

// PredsOf returns the distinct predecessors of b.
func PredsOf(b *Block) []*Block {
	var out []*Block
	for _, p := range b.Parent.Blocks {
		if slices.Contains(p.Succs(), b) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// PostOrder lists blocks reachable from the entry in post-order, using an
// explicit stack.
func PostOrder(f *Func) []*Block {
	entry := f.Entry()
	if entry == nil {
		return nil
	}
	type frame struct {
		b    *Block
		next int
	}
	var out []*Block
	visited := map[*Block]bool{entry: true}
	stack := []frame{{b: entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := top.b.Succs()
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		out = append(out, top.b)
		stack = stack[:len(stack)-1]
	}
	return out
}

// ReversePostOrder lists reachable blocks so that every block precedes its
// successors except along back edges.
func ReversePostOrder(f *Func) []*Block {
	po := PostOrder(f)
	slices.Reverse(po)
	return po
}

// Reachable returns the set of blocks reachable from the entry.
func Reachable(f *Func) map[*Block]bool {
	seen := make(map[*Block]bool)
	for _, b := range PostOrder(f) {
		seen[b] = true
	}
	return seen
}

// SplitBlockBefore moves in and everything after it into a new block that
// follows b, and leaves b ending in a branch to it. Phi entries in the old
// successors are rewired to the new block.
func SplitBlockBefore(in *Instr, name string) *Block {
	b := in.Parent
	f := b.Parent
	idx := b.IndexOf(in)
	tail := f.NewBlockAfter(name, b)
	for _, moved := range b.Instrs[idx:] {
		moved.Parent = tail
		tail.Instrs = append(tail.Instrs, moved)
	}
	b.Instrs = b.Instrs[:idx:idx]
	for _, s := range tail.Succs() {
		for _, phi := range s.Phis() {
			for i, pb := range phi.Incoming {
				if pb == b {
					phi.Incoming[i] = tail
				}
			}
		}
	}
	nb := NewBuilder()
	nb.SetInsertPointAtEnd(b)
	nb.Loc = in.Loc
	nb.CreateBr(tail)
	return tail
}
