package chiabi

import (
	"path/filepath"

	"github.com/tliron/commonlog"

	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/layout"
	"chiabi/internal/linker"
	"chiabi/internal/tapir"
)

var logger = commonlog.GetLogger("chiabi.lower")

const (
	// FrameTypeName is the runtime's stack frame record.
	FrameTypeName = "struct.__rts_stack_frame"
	// FrameName names the frame alloca of a spawning function.
	FrameName  = "__rts_sf"
	frameAlign = 8

	// KernelPrefix starts the name of every kernel module.
	KernelPrefix = "__chiabi"
	// KernelGlobal is the host global holding the shared kernel module;
	// private kernel modules append ".<outlined function>".
	KernelGlobal = "__chiabi_kernel_module"
)

// Target lowers the Tapir constructs of one host module. It carries all
// pass state (frames, runtime declarations, the shared kernel module), so
// each module gets its own Target.
type Target struct {
	m      *ir.Module
	r      diag.Reporter
	opts   Options
	layout *layout.LayoutEngine

	rt      runtime
	frameTy *ir.Type
	frames  map[*ir.Func]*ir.Instr

	// kernel is the shared kernel module and kernelIter its iteration
	// queries, declared when the loop phase starts.
	kernel     *ir.Module
	kernelIter iterationFns
	loopsReady bool
}

var _ tapir.Target = (*Target)(nil)

// New returns a target for m with default options. r may be nil.
func New(m *ir.Module, r diag.Reporter) *Target {
	return &Target{
		m:      m,
		r:      r,
		layout: layout.New(layout.X86_64LinuxGNU()),
		frames: make(map[*ir.Func]*ir.Instr),
		kernel: ir.NewModule(kernelName(m)),
	}
}

func kernelName(m *ir.Module) string {
	return KernelPrefix + filepath.Base(m.Name)
}

// Configure applies Options; option sets of other targets are ignored.
func (t *Target) Configure(opts tapir.Options) {
	switch o := opts.(type) {
	case Options:
		t.opts = o
	case *Options:
		if o != nil {
			t.opts = *o
		}
	}
}

// Module returns the host module.
func (t *Target) Module() *ir.Module { return t.m }

// KernelModule returns the shared kernel module.
func (t *Target) KernelModule() *ir.Module { return t.kernel }

// FrameType returns the resolved stack frame type, nil before the task
// phase.
func (t *Target) FrameType() *ir.Type { return t.frameTy }

// PrepareUnit declares the iteration queries in the shared kernel module
// for the loop phase, and links the host runtime and declares the full
// runtime for the task phase.
func (t *Target) PrepareUnit(loops bool) error {
	if loops {
		if t.loopsReady {
			return nil
		}
		it, err := declareIterationFns(t.kernel)
		if err != nil {
			return t.fatal(nil, "%v", err)
		}
		t.kernelIter, t.loopsReady = it, true
		return nil
	}

	if t.opts.HostBCPath != "" {
		t.linkExternal(t.m, t.opts.HostBCPath, linker.Flags{})
	}
	t.frameTy = t.m.LookupStruct(FrameTypeName)
	if t.frameTy == nil || t.frameTy.Opaque {
		t.frameTy = t.m.StructType(FrameTypeName)
		t.frameTy.SetBody(ir.I64)
		diag.ReportWarning(t.r, diag.LowerFrameTypeFallback, diag.Where{Unit: t.m.Name},
			"no definition of %"+FrameTypeName+" found; using { i64 }").Emit()
	}

	t.rt = runtime{}
	if err := declare(t.m, t.rt.table()); err != nil {
		return t.fatal(nil, "%v", err)
	}
	for _, f := range []*ir.Func{t.rt.numWorkers, t.rt.workerID} {
		if !f.IsDeclaration() {
			f.Linkage = ir.Internal
		}
	}
	return nil
}

// PostProcessUnit embeds the shared kernel module when it holds code and
// links the runtime definitions the host still needs.
func (t *Target) PostProcessUnit() error {
	if !t.opts.SingleKernelModule {
		logger.Debugf("per-loop kernel modules in %s, skipping shared kernel", t.m.Name)
		if t.opts.HostBCPath != "" {
			t.linkExternal(t.m, t.opts.HostBCPath, linker.Flags{OnlyNeeded: true})
		}
		return nil
	}

	if hasDefinitions(t.kernel) {
		if t.opts.DeviceBCPath != "" {
			t.linkExternal(t.kernel, t.opts.DeviceBCPath, linker.Flags{OnlyNeeded: true})
		}
		if err := t.embedKernel(t.kernel, KernelGlobal); err != nil {
			return err
		}
		t.keepKernel(t.kernel, "")
	} else {
		logger.Debugf("shared kernel module %s is empty, not embedding", t.kernel.Name)
	}

	if t.opts.HostBCPath != "" {
		t.linkExternal(t.m, t.opts.HostBCPath, linker.Flags{OnlyNeeded: true})
	}
	return nil
}

func hasDefinitions(m *ir.Module) bool {
	for _, f := range m.Funcs {
		if !f.IsDeclaration() {
			return true
		}
	}
	return false
}

// LoopOutlineProcessor returns a Chi loop processor for loops hinted with
// the target strategy, or for every loop with ProcessAllLoops.
func (t *Target) LoopOutlineProcessor(tl *tapir.TapirLoop) tapir.LoopOutlineProcessor {
	if !t.opts.ProcessAllLoops && tl.Strategy() != tapir.StrategyTarget {
		return nil
	}
	var (
		lp  *Loop
		err error
	)
	if t.opts.SingleKernelModule {
		lp, err = newSharedLoop(t)
	} else {
		lp, err = newPrivateLoop(t)
	}
	if err != nil {
		logger.Errorf("creating kernel module for %s: %v", tl.Header.Ident(), err)
		return nil
	}
	return lp
}
