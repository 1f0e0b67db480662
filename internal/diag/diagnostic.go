package diag

import (
	"fmt"

	"chiabi/internal/source"
)

// Where identifies the IR entity a diagnostic is about.
type Where struct {
	Unit string // compilation unit (module) name
	Func string
	Loc  source.Loc
}

func (w Where) String() string {
	s := w.Unit
	if w.Func != "" {
		if s != "" {
			s += ":"
		}
		s += "@" + w.Func
	}
	if !w.Loc.IsZero() {
		s += ":" + w.Loc.String()
	}
	return s
}

type Note struct {
	Where Where
	Msg   string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  Where
	Notes    []Note
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s %s: %s", d.Primary, d.Severity, d.Code, d.Message)
}
