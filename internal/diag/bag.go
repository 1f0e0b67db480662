package diag

import (
	"slices"
)

// Bag collects the diagnostics of one unit up to a limit. Diagnostics past
// the limit are counted, not stored.
type Bag struct {
	items   []Diagnostic
	max     int
	dropped int
}

// NewBag returns a bag holding at most max diagnostics; max <= 0 means no
// limit.
func NewBag(max int) *Bag {
	if max < 0 {
		max = 0
	}
	return &Bag{items: make([]Diagnostic, 0, min(max, 64)), max: max}
}

// Add stores d and reports whether there was room for it.
func (b *Bag) Add(d Diagnostic) bool {
	if b.max > 0 && len(b.items) >= b.max {
		b.dropped++
		return false
	}
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Len() int { return len(b.items) }

// Dropped is the number of diagnostics rejected by Add.
func (b *Bag) Dropped() int { return b.dropped }

// Items returns the backing slice; callers must not modify it.
func (b *Bag) Items() []Diagnostic { return b.items }

// Count returns how many stored diagnostics have severity s.
func (b *Bag) Count(s Severity) int {
	n := 0
	for i := range b.items {
		if b.items[i].Severity == s {
			n++
		}
	}
	return n
}

// HasErrors reports whether any stored diagnostic is an error.
func (b *Bag) HasErrors() bool { return b.Count(SevError) > 0 }

// Filter returns diagnostics carrying code.
func (b *Bag) Filter(code Code) []Diagnostic {
	var out []Diagnostic
	for _, d := range b.items {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// Sort orders by unit, function and location, then worst severity first,
// then code.
func (b *Bag) Sort() {
	slices.SortStableFunc(b.items, func(x, y Diagnostic) int {
		px, py := x.Primary, y.Primary
		switch {
		case px.Unit != py.Unit:
			return cmpString(px.Unit, py.Unit)
		case px.Func != py.Func:
			return cmpString(px.Func, py.Func)
		case px.Loc != py.Loc:
			if px.Loc.Before(py.Loc) {
				return -1
			}
			return 1
		case x.Severity != y.Severity:
			return int(y.Severity) - int(x.Severity)
		}
		return int(x.Code) - int(y.Code)
	})
}

func cmpString(a, b string) int {
	if a < b {
		return -1
	}
	return 1
}
