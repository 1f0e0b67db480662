package chiabi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chiabi/internal/bitcode"
	"chiabi/internal/diag"
	"chiabi/internal/ir"
)

// embedKernel serializes kernel into an internal constant byte array of the
// host named name and lists it in llvm.compiler.used.
func (t *Target) embedKernel(kernel *ir.Module, name string) error {
	data, err := bitcode.Marshal(kernel)
	if err != nil {
		return t.fatal(nil, "serializing kernel module %s: %v", kernel.Name, err)
	}
	blob := ir.BytesOf(data)
	g, err := t.m.NewGlobal(t.m.UniqueName(name), blob.Typ, blob, true, ir.Internal)
	if err != nil {
		return t.fatal(nil, "%v", err)
	}
	g.Align = 1
	if err := t.m.AppendCompilerUsed(g); err != nil {
		return t.fatal(nil, "%v", err)
	}
	logger.Infof("embedded kernel module %s as @%s (%d bytes)", kernel.Name, g.Name, len(data))
	return nil
}

// keepKernel writes kernel as text IR into the keep directory when
// KeepFiles is set. Write failures are reported, not returned.
func (t *Target) keepKernel(kernel *ir.Module, fn string) {
	if !t.opts.KeepFiles {
		return
	}
	name := kernel.Name
	if fn != "" {
		name += "." + fn
	}
	path := filepath.Join(t.opts.KeepDir, name+".chiabi.ll")
	err := ensureDir(t.opts.KeepDir)
	if err == nil {
		err = bitcode.WriteFile(path, kernel, true)
	}
	if err != nil {
		diag.ReportWarning(t.r, diag.IOWriteFileError, diag.Where{Unit: t.m.Name},
			fmt.Sprintf("unable to save kernel module %s: %v", path, err)).Emit()
		return
	}
	logger.Debugf("kept kernel module %s", path)
}

// Kernel is a kernel module found embedded in a lowered host module.
type Kernel struct {
	Global string
	Size   int
	Module *ir.Module
}

// EmbeddedKernels decodes every kernel module embedded in m.
func EmbeddedKernels(m *ir.Module) ([]Kernel, error) {
	var out []Kernel
	for _, g := range m.Globals {
		if !strings.HasPrefix(g.Name, KernelGlobal) {
			continue
		}
		c, ok := g.Init.(*ir.Const)
		if !ok || c.Kind != ir.ConstBytes {
			return out, fmt.Errorf("@%s: not a byte array", g.Name)
		}
		km, err := bitcode.Unmarshal(c.Bytes)
		if err != nil {
			return out, fmt.Errorf("@%s: %w", g.Name, err)
		}
		out = append(out, Kernel{Global: g.Name, Size: len(c.Bytes), Module: km})
	}
	return out, nil
}

// ensureDir creates the keep directory.
func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
