package chiabi

import (
	"chiabi/internal/tapir"
)

// Options configures a Target. The zero value puts every outlined loop in
// its own kernel module and links no runtime bitcode.
type Options struct {
	// SingleKernelModule collects every outlined loop of the unit in one
	// kernel module embedded at the end.
	SingleKernelModule bool
	// HostBCPath names the runtime bitcode linked into the host unit.
	HostBCPath string
	// DeviceBCPath names the runtime bitcode linked into kernel modules.
	DeviceBCPath string
	// ProcessAllLoops outlines every Tapir loop, not only those hinted with
	// the target strategy.
	ProcessAllLoops bool
	// KeepFiles writes each kernel module as text IR into KeepDir.
	KeepFiles bool
	KeepDir   string

	Inputs     tapir.InputsCallback
	LoopLaunch tapir.LoopLaunchCallback
}

func (Options) TargetName() string { return "chiabi" }

var _ tapir.Options = Options{}
