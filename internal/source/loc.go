package source

import (
	"fmt"
)

// Loc is a debug location attached to IR instructions.
// The zero value means "no location".
type Loc struct {
	Line uint32
	Col  uint32
}

func (l Loc) IsZero() bool {
	return l.Line == 0 && l.Col == 0
}

func (l Loc) String() string {
	if l.IsZero() {
		return "?"
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Col)
}

// Before reports whether l sorts before other; unknown locations sort last.
func (l Loc) Before(other Loc) bool {
	if l.IsZero() != other.IsZero() {
		return !l.IsZero()
	}
	if l.Line != other.Line {
		return l.Line < other.Line
	}
	return l.Col < other.Col
}
