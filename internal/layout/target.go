package layout

// Target describes the data layout of the machine the IR is compiled for.
//
// Only x86_64-linux-gnu is implemented.
type Target struct {
	Triple   string // e.g. "x86_64-linux-gnu"
	PtrSize  int    // bytes
	PtrAlign int    // bytes
	// MaxIntAlign caps the preferred alignment of wide integers.
	MaxIntAlign int
}

func X86_64LinuxGNU() Target {
	return Target{
		Triple:      "x86_64-linux-gnu",
		PtrSize:     8,
		PtrAlign:    8,
		MaxIntAlign: 16,
	}
}
