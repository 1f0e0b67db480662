package layout

import (
	"fmt"
	"strings"

	"chiabi/internal/ir"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrUnsized is an opaque struct, void, label, token or function type.
	LayoutErrUnsized LayoutErrorKind = iota + 1
	// LayoutErrRecursive is a struct that contains itself by value.
	LayoutErrRecursive
	// LayoutErrDynamicSize is an alloca whose element count is not a constant.
	LayoutErrDynamicSize
	LayoutErrNegativeLength
	LayoutErrOverflow
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  *ir.Type
	Cycle []*ir.Type // for LayoutErrRecursive
	Value int64      // for LayoutErrNegativeLength
	Err   error      // for LayoutErrOverflow
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrUnsized:
		return fmt.Sprintf("type %s has no static size", e.Type)
	case LayoutErrRecursive:
		parts := make([]string, 0, len(e.Cycle))
		for _, t := range e.Cycle {
			parts = append(parts, t.String())
		}
		return fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(parts, " -> "))
	case LayoutErrDynamicSize:
		return fmt.Sprintf("allocation of %s has a non-constant element count", e.Type)
	case LayoutErrNegativeLength:
		return fmt.Sprintf("negative array length: %d (%s)", e.Value, e.Type)
	case LayoutErrOverflow:
		if e.Err != nil {
			return fmt.Sprintf("size of %s overflows: %v", e.Type, e.Err)
		}
		return fmt.Sprintf("size of %s overflows", e.Type)
	default:
		return fmt.Sprintf("layout error kind=%d type %s", e.Kind, e.Type)
	}
}
