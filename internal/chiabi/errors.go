package chiabi

import (
	"errors"
	"fmt"

	"chiabi/internal/diag"
	"chiabi/internal/ir"
)

// ErrInternal is matched by every contract violation the target detects.
var ErrInternal = errors.New("chiabi: internal lowering error")

// InternalError reports IR the target cannot lower. The unit is left
// partially transformed.
type InternalError struct {
	Func string
	Msg  string
}

func (e *InternalError) Error() string {
	if e.Func == "" {
		return "chiabi: " + e.Msg
	}
	return fmt.Sprintf("chiabi: @%s: %s", e.Func, e.Msg)
}

func (e *InternalError) Unwrap() error { return ErrInternal }

// fatal reports a LowerInternal error and returns it.
func (t *Target) fatal(f *ir.Func, format string, args ...any) error {
	err := &InternalError{Msg: fmt.Sprintf(format, args...)}
	where := diag.Where{Unit: t.m.Name}
	if f != nil {
		err.Func = f.Name
		where.Func = f.Name
	}
	diag.ReportError(t.r, diag.LowerInternal, where, err.Msg).Emit()
	return err
}
