package ir

import (
	"slices"
	"sort"
)

// Loop is a natural loop: a header plus every block that reaches one of
// its back edges without passing the header.
type Loop struct {
	Header   *Block
	Blocks   []*Block // function order, header included
	Parent   *Loop
	SubLoops []*Loop
	Depth    int // 1 for outermost loops

	set map[*Block]bool
}

func (l *Loop) Contains(b *Block) bool { return l.set[b] }

// ContainsLoop reports whether other is l or nested in l.
func (l *Loop) ContainsLoop(other *Loop) bool {
	for ; other != nil; other = other.Parent {
		if other == l {
			return true
		}
	}
	return false
}

// Latch returns the unique in-loop predecessor of the header, or nil.
func (l *Loop) Latch() *Block {
	var latch *Block
	for _, p := range PredsOf(l.Header) {
		if !l.Contains(p) {
			continue
		}
		if latch != nil {
			return nil
		}
		latch = p
	}
	return latch
}

// Preheader returns the unique out-of-loop predecessor of the header when
// its only successor is the header.
func (l *Loop) Preheader() *Block {
	var pre *Block
	for _, p := range PredsOf(l.Header) {
		if l.Contains(p) {
			continue
		}
		if pre != nil {
			return nil
		}
		pre = p
	}
	if pre == nil || len(pre.Succs()) != 1 {
		return nil
	}
	return pre
}

// ExitingBlocks lists loop blocks with a successor outside the loop.
func (l *Loop) ExitingBlocks() []*Block {
	var out []*Block
	for _, b := range l.Blocks {
		for _, s := range b.Succs() {
			if !l.Contains(s) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// ExitBlocks lists distinct out-of-loop successors of loop blocks.
func (l *Loop) ExitBlocks() []*Block {
	var out []*Block
	for _, b := range l.Blocks {
		for _, s := range b.Succs() {
			if !l.Contains(s) && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// ExitBlock returns the single exit block, or nil.
func (l *Loop) ExitBlock() *Block {
	exits := l.ExitBlocks()
	if len(exits) != 1 {
		return nil
	}
	return exits[0]
}

// LoopInfo is the loop forest of a function.
type LoopInfo struct {
	TopLevel []*Loop
	byBlock  map[*Block]*Loop
}

// NewLoopInfo discovers natural loops using back edges of dt.
func NewLoopInfo(f *Func, dt *DomTree) *LoopInfo {
	li := &LoopInfo{byBlock: make(map[*Block]*Loop)}
	preds := Preds(f)
	pos := make(map[*Block]int, len(f.Blocks))
	for i, b := range f.Blocks {
		pos[b] = i
	}

	var loops []*Loop
	for _, h := range ReversePostOrder(f) {
		var latches []*Block
		for _, p := range preds[h] {
			if dt.IsReachable(p) && dt.Dominates(h, p) {
				latches = append(latches, p)
			}
		}
		if len(latches) == 0 {
			continue
		}
		l := &Loop{Header: h, set: map[*Block]bool{h: true}}
		work := slices.Clone(latches)
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			if l.set[b] || !dt.IsReachable(b) {
				continue
			}
			l.set[b] = true
			work = append(work, preds[b]...)
		}
		for b := range l.set {
			l.Blocks = append(l.Blocks, b)
		}
		sort.Slice(l.Blocks, func(i, j int) bool { return pos[l.Blocks[i]] < pos[l.Blocks[j]] })
		loops = append(loops, l)
	}

	// Outer loops are strictly larger; assign them first so inner loops
	// overwrite the innermost mapping.
	sort.SliceStable(loops, func(i, j int) bool { return len(loops[i].Blocks) > len(loops[j].Blocks) })
	for _, l := range loops {
		l.Parent = li.byBlock[l.Header]
		for _, b := range l.Blocks {
			li.byBlock[b] = l
		}
	}
	byHeader := func(ls []*Loop) {
		sort.Slice(ls, func(i, j int) bool { return pos[ls[i].Header] < pos[ls[j].Header] })
	}
	for _, l := range loops {
		if l.Parent == nil {
			li.TopLevel = append(li.TopLevel, l)
		} else {
			l.Parent.SubLoops = append(l.Parent.SubLoops, l)
		}
	}
	byHeader(li.TopLevel)
	for _, l := range loops {
		byHeader(l.SubLoops)
	}
	for _, l := range li.Preorder() {
		if l.Parent == nil {
			l.Depth = 1
		} else {
			l.Depth = l.Parent.Depth + 1
		}
	}
	return li
}

// LoopFor returns the innermost loop containing b, or nil.
func (li *LoopInfo) LoopFor(b *Block) *Loop {
	return li.byBlock[b]
}

// Preorder lists every loop, parents before children.
func (li *LoopInfo) Preorder() []*Loop {
	var out []*Loop
	var walk func(ls []*Loop)
	walk = func(ls []*Loop) {
		for _, l := range ls {
			out = append(out, l)
			walk(l.SubLoops)
		}
	}
	walk(li.TopLevel)
	return out
}
