package ir

import (
	"fmt"
	"strings"
)

// IntrinsicID identifies the intrinsics the lowering passes care about.
type IntrinsicID uint8

const (
	NotIntrinsic IntrinsicID = iota
	SyncRegionStart
	TaskFrameCreate
	TaskFrameUse
	TapirLoopGrainsize
	SyncUnwind
	DbgDeclare
	DbgValue
	DbgLabel
	LifetimeStart
	LifetimeEnd
	Assume
	Annotation
	VarAnnotation
	PtrAnnotation
	SideEffect
	InvariantStart
	InvariantEnd
	ObjectSize
	OtherIntrinsic
)

var intrinsicPrefixes = []struct {
	prefix string
	id     IntrinsicID
}{
	{"llvm.syncregion.start", SyncRegionStart},
	{"llvm.taskframe.create", TaskFrameCreate},
	{"llvm.taskframe.use", TaskFrameUse},
	{"llvm.tapir.loop.grainsize", TapirLoopGrainsize},
	{"llvm.sync.unwind", SyncUnwind},
	{"llvm.dbg.declare", DbgDeclare},
	{"llvm.dbg.value", DbgValue},
	{"llvm.dbg.label", DbgLabel},
	{"llvm.lifetime.start", LifetimeStart},
	{"llvm.lifetime.end", LifetimeEnd},
	{"llvm.assume", Assume},
	{"llvm.annotation", Annotation},
	{"llvm.var.annotation", VarAnnotation},
	{"llvm.ptr.annotation", PtrAnnotation},
	{"llvm.sideeffect", SideEffect},
	{"llvm.invariant.start", InvariantStart},
	{"llvm.invariant.end", InvariantEnd},
	{"llvm.objectsize", ObjectSize},
}

// LookupIntrinsic classifies a function name.
func LookupIntrinsic(name string) IntrinsicID {
	if !strings.HasPrefix(name, "llvm.") {
		return NotIntrinsic
	}
	for _, p := range intrinsicPrefixes {
		if name == p.prefix || strings.HasPrefix(name, p.prefix+".") {
			return p.id
		}
	}
	return OtherIntrinsic
}

func (id IntrinsicID) isDbgOrLifetime() bool {
	switch id {
	case DbgDeclare, DbgValue, DbgLabel, LifetimeStart, LifetimeEnd:
		return true
	}
	return false
}

// IsDebugOrPseudo reports intrinsics that do not produce executable code.
func (id IntrinsicID) IsDebugOrPseudo() bool {
	switch id {
	case DbgDeclare, DbgValue, DbgLabel, LifetimeStart, LifetimeEnd, Assume,
		Annotation, VarAnnotation, PtrAnnotation, SideEffect, InvariantStart, InvariantEnd, ObjectSize:
		return true
	}
	return false
}

// Intrinsic declares (or returns) the canonical declaration of id.
// overload is the integer type for overloaded intrinsics and ignored otherwise.
func (m *Module) Intrinsic(id IntrinsicID, overload *Type) (*Func, error) {
	var (
		name string
		sig  *Type
	)
	switch id {
	case SyncRegionStart:
		name, sig = "llvm.syncregion.start", FuncOf(Token)
	case TaskFrameCreate:
		name, sig = "llvm.taskframe.create", FuncOf(Token)
	case TaskFrameUse:
		name, sig = "llvm.taskframe.use", FuncOf(Void, Token)
	case SyncUnwind:
		name, sig = "llvm.sync.unwind", FuncOf(Void, Token)
	case TapirLoopGrainsize:
		if !overload.IsInt() {
			return nil, fmt.Errorf("llvm.tapir.loop.grainsize needs an integer overload, got %s", overload)
		}
		name = fmt.Sprintf("llvm.tapir.loop.grainsize.i%d", overload.Bits)
		sig = FuncOf(overload, overload)
	case LifetimeStart:
		name, sig = "llvm.lifetime.start.p0", FuncOf(Void, I64, Ptr)
	case LifetimeEnd:
		name, sig = "llvm.lifetime.end.p0", FuncOf(Void, I64, Ptr)
	case Assume:
		name, sig = "llvm.assume", FuncOf(Void, I1)
	case SideEffect:
		name, sig = "llvm.sideeffect", FuncOf(Void)
	default:
		return nil, fmt.Errorf("no canonical declaration for intrinsic %d", id)
	}
	return m.GetOrInsertFunc(name, sig)
}
