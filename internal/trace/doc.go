// Package trace records the phases of a lowering run.
//
// Enable tracing via command-line flags:
//
//	chiabi lower --trace=- --trace-level=detail prog.ll
//
// # Tracers
//
//   - Nop: used when tracing is disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: in-memory circular buffer, also handy in tests
//   - MultiTracer: fan-out
//
// # Scopes and levels
//
// ScopeDriver and ScopePass are recorded from LevelPhase, ScopeFunc from
// LevelDetail and ScopeLoop only at LevelDebug.
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "lower-tasks", trace.ParentSpan(ctx))
//	defer span.End("")
package trace
