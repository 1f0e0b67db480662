// Package diag defines the diagnostic model shared by the lowering passes.
//
// # Data model
//
// Diagnostic is the central record. It contains:
//
//   - Severity – tri-level enum (Info, Warning, Error) defined in severity.go.
//   - Code – compact numeric identifier (see codes.go) with stable string form.
//   - Message – human oriented text; keep it short and actionable.
//   - Primary – the unit, function and debug location the finding is about.
//   - Notes – optional secondary locations/messages for additional context.
//
// # Emitting diagnostics
//
// Passes use a diag.Reporter to decouple emission from storage. The lowering
// target, for example, constructs a ReportBuilder via ReportWarning and chains
// WithNote before calling Emit. BagReporter aggregates diagnostics into a Bag,
// which supports sorting, filtering and deduplication.
//
// Package diag does not perform formatting or IO; rendering lives in the CLI.
package diag
