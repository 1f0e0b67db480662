package trace

import "context"

// ctxState is what a context carries for tracing: the tracer, the span
// new spans attach to and the unit being lowered.
type ctxState struct {
	tracer Tracer
	parent uint64
	unit   string
}

type ctxKey struct{}

func stateOf(ctx context.Context) ctxState {
	if ctx != nil {
		if st, ok := ctx.Value(ctxKey{}).(ctxState); ok {
			return st
		}
	}
	return ctxState{tracer: Nop}
}

func withState(ctx context.Context, st ctxState) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, st)
}

// FromContext extracts the Tracer from context, or Nop.
func FromContext(ctx context.Context) Tracer {
	return stateOf(ctx).tracer
}

// WithTracer attaches a Tracer to context.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	st := stateOf(ctx)
	st.tracer = t
	return withState(ctx, st)
}

// ParentSpan returns the span new spans of ctx attach to, or 0.
func ParentSpan(ctx context.Context) uint64 {
	return stateOf(ctx).parent
}

// WithParentSpan records the active span for nested Start calls.
func WithParentSpan(ctx context.Context, id uint64) context.Context {
	st := stateOf(ctx)
	st.parent = id
	return withState(ctx, st)
}

// WithUnit tags every event started from ctx with unit. Units lowered
// concurrently share one tracer; the tag keeps their events apart.
func WithUnit(ctx context.Context, unit string) context.Context {
	st := stateOf(ctx)
	st.unit = unit
	return withState(ctx, st)
}

// UnitOf returns the unit recorded by WithUnit.
func UnitOf(ctx context.Context) string {
	return stateOf(ctx).unit
}
