package chiabi

import (
	"fmt"

	"chiabi/internal/bitcode"
	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/linker"
)

// linkExternal links the runtime file at path into dst. Definitions taken
// from it become available_externally: the runtime library provides them
// at link time, the copies only serve inlining. Failures are reported and
// leave dst usable.
func (t *Target) linkExternal(dst *ir.Module, path string, flags linker.Flags) {
	logger.Debugf("linking runtime %s into %s", path, dst.Name)
	where := diag.Where{Unit: dst.Name}

	src, err := bitcode.ReadFile(path)
	if err != nil {
		diag.ReportWarning(t.r, diag.LowerRuntimeMissing, where,
			fmt.Sprintf("failed to parse runtime bitcode %s: %v", path, err)).Emit()
		return
	}
	flags.Imported = availableExternally
	if err := linker.Link(dst, src, flags); err != nil {
		diag.ReportWarning(t.r, diag.LowerLinkFailed, where,
			fmt.Sprintf("linking module '%s': %v", src.Name, err)).
			WithNote(where, "failed to link runtime bitcode "+path).
			Emit()
	}
}

func availableExternally(m *ir.Module, names []string) {
	for _, name := range names {
		switch v := m.Lookup(name).(type) {
		case *ir.Func:
			if !v.IsDeclaration() {
				v.Linkage = ir.AvailableExternally
			}
		case *ir.Global:
			if !v.IsDeclaration() {
				v.Linkage = ir.AvailableExternally
			}
		}
	}
}
