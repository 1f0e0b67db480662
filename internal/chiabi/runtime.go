package chiabi

import (
	"fmt"

	"chiabi/internal/ir"
)

// Runtime entry points.
const (
	EnterFrame    = "__rts_enter_frame"
	LeaveFrame    = "__rts_leave_frame"
	Spawn         = "__rts_spawn"
	Sync          = "__rts_sync"
	SyncNoThrow   = "__rts_sync_nothrow"
	GetNumWorkers = "__rts_get_num_workers"
	GetWorkerID   = "__rts_get_worker_id"

	grainsizePrefix = "__rts_loop_grainsize_"
	iterationPrefix = "__rts_get_iteration_"
)

// Widths with a runtime grainsize and iteration entry point.
var widths = [...]int{8, 16, 32, 64}

// widthSlot maps an integer type to its index in widths.
func widthSlot(t *ir.Type) (int, bool) {
	for i, w := range widths {
		if t.IsIntN(w) {
			return i, true
		}
	}
	return 0, false
}

// runtime holds the declarations of the host-side entry points.
type runtime struct {
	enterFrame  *ir.Func
	leaveFrame  *ir.Func
	spawn       *ir.Func
	sync        *ir.Func
	syncNoThrow *ir.Func
	grainsize   [len(widths)]*ir.Func
	numWorkers  *ir.Func
	workerID    *ir.Func
}

// iterationFns holds the __rts_get_iteration_N declarations of one kernel
// module.
type iterationFns [len(widths)]*ir.Func

type rtsFn struct {
	name string
	sig  *ir.Type
	slot **ir.Func
}

// declare makes each entry point of fns available in m as a nounwind
// function. A symbol of the same name with another type is an error.
func declare(m *ir.Module, fns []rtsFn) error {
	for _, d := range fns {
		if *d.slot != nil {
			return fmt.Errorf("redefining runtime function %s", d.name)
		}
		f, err := m.GetOrInsertFunc(d.name, d.sig)
		if err != nil {
			return err
		}
		f.Attrs |= ir.AttrNoUnwind
		*d.slot = f
	}
	return nil
}

func (rt *runtime) table() []rtsFn {
	frameFn := ir.FuncOf(ir.Void, ir.Ptr)
	workerFn := ir.FuncOf(ir.I32)
	fns := []rtsFn{
		{EnterFrame, frameFn, &rt.enterFrame},
		{Spawn, ir.FuncOf(ir.Void, ir.Ptr, ir.Ptr, ir.Ptr, ir.I64, ir.I64), &rt.spawn},
		{LeaveFrame, frameFn, &rt.leaveFrame},
		{Sync, frameFn, &rt.sync},
		{SyncNoThrow, frameFn, &rt.syncNoThrow},
	}
	for i, w := range widths {
		t := ir.IntType(w)
		fns = append(fns, rtsFn{fmt.Sprintf("%s%d", grainsizePrefix, w), ir.FuncOf(t, t), &rt.grainsize[i]})
	}
	return append(fns,
		rtsFn{GetNumWorkers, workerFn, &rt.numWorkers},
		rtsFn{GetWorkerID, workerFn, &rt.workerID},
	)
}

func (it *iterationFns) table() []rtsFn {
	fns := make([]rtsFn, 0, len(widths))
	for i, w := range widths {
		t := ir.IntType(w)
		fns = append(fns, rtsFn{fmt.Sprintf("%s%d", iterationPrefix, w), ir.FuncOf(t, t, t), &it[i]})
	}
	return fns
}

// declareIterationFns declares the iteration queries in a kernel module.
func declareIterationFns(m *ir.Module) (iterationFns, error) {
	var it iterationFns
	err := declare(m, it.table())
	return it, err
}
