package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent coarser events.
type Scope uint8

const (
	// ScopeDriver covers CLI commands and whole input files.
	ScopeDriver Scope = iota + 1
	// ScopePass covers pass phases (loop outlining, task lowering, linking).
	ScopePass
	// ScopeFunc covers per-function lowering.
	ScopeFunc
	// ScopeLoop covers individual Tapir loops and spawn sites.
	ScopeLoop
)

func (s Scope) String() string {
	switch s {
	case ScopeDriver:
		return "driver"
	case ScopePass:
		return "pass"
	case ScopeFunc:
		return "func"
	case ScopeLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 if root
	Unit     string // input unit, empty outside the driver
	Name     string // e.g. "loop_phase", "fib", "loop fib:header"
	Detail   string
	Extra    map[string]string
}
