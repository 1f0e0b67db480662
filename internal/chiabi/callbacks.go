package chiabi

import (
	"chiabi/internal/ir"
	"chiabi/internal/tapir"
)

// NullInputs passes the loop inputs through unchanged.
func NullInputs(f *ir.Func, inputs []ir.Value, _ ir.ValueMap, _, _, _ *ir.Builder) []ir.Value {
	logger.Debugf("null inputs callback for @%s: %d inputs", f.Name, len(inputs))
	return inputs
}

// MarshalInputs packs the loop inputs into one struct allocated in the
// host entry block. The outlined loop receives a pointer to it and loads
// each input back in its entry block.
func MarshalInputs(f *ir.Func, inputs []ir.Value, inputMap ir.ValueMap, store, load, allocas *ir.Builder) []ir.Value {
	fields := make([]*ir.Type, len(inputs))
	for i, v := range inputs {
		fields[i] = v.Type()
	}
	st := ir.StructOf(fields...)
	closure := allocas.CreateAlloca(st, f.Name+".loop.args")
	closure.Align = frameAlign
	for i, v := range inputs {
		store.CreateStore(v, store.CreateStructGEP(st, closure, i, ""))
		ptr := load.CreateStructGEP(st, closure, i, "")
		inputMap[v] = load.CreateLoad(fields[i], ptr, tapir.InputName(v, i))
	}
	return []ir.Value{closure}
}

// NullLoopLaunch accepts the outlined loop call as is.
func NullLoopLaunch(call, sync *ir.Instr) error {
	if sync != nil {
		logger.Debugf("launch of @%s waits in %s", call.CalledFunc().Name, sync.Parent.Ident())
	} else {
		logger.Debugf("launch of @%s has no sync", call.CalledFunc().Name)
	}
	return nil
}

var (
	_ tapir.InputsCallback     = NullInputs
	_ tapir.InputsCallback     = MarshalInputs
	_ tapir.LoopLaunchCallback = NullLoopLaunch
)
