package ir

// DomTree is the dominator tree of a function, computed with the iterative
// algorithm of Cooper, Harvey and Kennedy over reverse post-order.
type DomTree struct {
	fn    *Func
	idom  map[*Block]*Block
	order map[*Block]int // RPO index
}

func NewDomTree(f *Func) *DomTree {
	rpo := ReversePostOrder(f)
	dt := &DomTree{
		fn:    f,
		idom:  make(map[*Block]*Block, len(rpo)),
		order: make(map[*Block]int, len(rpo)),
	}
	if len(rpo) == 0 {
		return dt
	}
	for i, b := range rpo {
		dt.order[b] = i
	}
	preds := Preds(f)
	entry := rpo[0]
	dt.idom[entry] = entry

	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var newIdom *Block
			for _, p := range preds[b] {
				if _, ok := dt.idom[p]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = dt.intersect(p, newIdom)
				}
			}
			if newIdom != nil && dt.idom[b] != newIdom {
				dt.idom[b] = newIdom
				changed = true
			}
		}
	}
	return dt
}

func (dt *DomTree) intersect(a, b *Block) *Block {
	for a != b {
		for dt.order[a] > dt.order[b] {
			a = dt.idom[a]
		}
		for dt.order[b] > dt.order[a] {
			b = dt.idom[b]
		}
	}
	return a
}

// IDom returns the immediate dominator, nil for the entry or unreachable blocks.
func (dt *DomTree) IDom(b *Block) *Block {
	d, ok := dt.idom[b]
	if !ok || d == b {
		return nil
	}
	return d
}

// IsReachable reports whether b was reachable when the tree was built.
func (dt *DomTree) IsReachable(b *Block) bool {
	_, ok := dt.idom[b]
	return ok
}

// Dominates reports whether every path from the entry to b passes a.
// Unreachable blocks are dominated by everything.
func (dt *DomTree) Dominates(a, b *Block) bool {
	if a == b {
		return true
	}
	if !dt.IsReachable(b) {
		return true
	}
	if !dt.IsReachable(a) {
		return false
	}
	for cur := b; ; {
		next := dt.idom[cur]
		if next == cur {
			return false
		}
		if next == a {
			return true
		}
		cur = next
	}
}
