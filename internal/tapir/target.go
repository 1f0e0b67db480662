package tapir

import (
	"chiabi/internal/ir"
)

// Loop hint keys recognized on the latch branch of a Tapir loop.
const (
	HintStrategy   = "tapir.loop.spawn.strategy"
	StrategyTarget = "target"
)

// LimitArgIndex is the position of the loop limit among the parameters of
// an outlined loop; the start value is parameter 0.
const LimitArgIndex = 1

// Options is implemented by target-specific option sets. Targets ignore
// options they do not recognize.
type Options interface {
	TargetName() string
}

// InputsCallback lets a target reshape the inputs of an outlined loop.
// inputs are host values used by the loop body. Store inserts in the host
// right before the outlined call, Load inserts at the top of the outlined
// entry block and Allocas at the host entry. The callback records the
// replacement of each input in inputMap and returns the host values to pass
// as the remaining arguments.
type InputsCallback func(f *ir.Func, inputs []ir.Value, inputMap ir.ValueMap, store, load, allocas *ir.Builder) []ir.Value

// LoopLaunchCallback turns the placeholder call left behind by a loop
// outline into a launch. sync is the synchronization that waits for the
// loop, or nil.
type LoopLaunchCallback func(call, sync *ir.Instr) error

// TaskOutlineInfo describes one outlined region and its replacement call.
type TaskOutlineInfo struct {
	Outline  *ir.Func
	ReplCall *ir.Instr
	// InputSet lists the host values passed to the outline, in order.
	InputSet []ir.Value
	// DetachPt is the detach the region hung off, nil for loops.
	DetachPt        *ir.Instr
	TaskFrameCreate *ir.Instr
	// ReplStart is the host block holding ReplCall.
	ReplStart *ir.Block
	// ReplUnwind is the unwind destination kept from the detach, if any.
	ReplUnwind *ir.Block
}

// Target lowers Tapir constructs of one module onto a runtime ABI.
type Target interface {
	Configure(opts Options)
	// PrepareUnit runs before each phase; loops selects the loop phase.
	PrepareUnit(loops bool) error
	PostProcessUnit() error

	LowerGrainsize(call *ir.Instr) (ir.Value, error)
	LowerSync(sync *ir.Instr) error
	LowerSpawnSite(toi *TaskOutlineInfo, dt *ir.DomTree) error
	AddHelperAttributes(helper *ir.Func)

	PreProcessOutlinedTask(helper *ir.Func, detachPt, taskFrameCreate *ir.Instr, isSpawner bool) error
	PostProcessOutlinedTask(helper *ir.Func, detachPt, taskFrameCreate *ir.Instr, isSpawner bool) error
	PreProcessRootSpawner(f *ir.Func) error
	PostProcessRootSpawner(f *ir.Func) error

	// LoopOutlineProcessor returns the processor for tl, or nil when the
	// loop should be lowered as ordinary spawns.
	LoopOutlineProcessor(tl *TapirLoop) LoopOutlineProcessor
}

// LoopOutlineProcessor relocates and rewrites one outlined Tapir loop.
type LoopOutlineProcessor interface {
	// DestModule receives the outlined loop function.
	DestModule() *ir.Module
	InputsCallback() InputsCallback
	PreProcessLoop(tl *TapirLoop, vm ir.ValueMap) error
	PostProcessOutline(tl *TapirLoop, out *TaskOutlineInfo, vm ir.ValueMap) error
	ProcessOutlinedLoopCall(tl *TapirLoop, toi *TaskOutlineInfo, dt *ir.DomTree) error
}
