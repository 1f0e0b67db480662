package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// IR input
	IRInfo          Code = 1000
	IRSyntax        Code = 1001
	IRUndefinedName Code = 1002
	IRInvalid       Code = 1003
	IRBadBitcode    Code = 1004

	// Lowering
	LowerInfo              Code = 2000
	LowerLinkFailed        Code = 2001
	LowerRuntimeMissing    Code = 2002
	LowerFrameTypeFallback Code = 2003
	LowerNoLaunchCallback  Code = 2004
	LowerInternal          Code = 2005

	// Work-span analysis
	WorkSpanInfo             Code = 3000
	WorkSpanNoConstTripCount Code = 3001
	WorkSpanLargeSubloop     Code = 3002

	// IO
	IOLoadFileError  Code = 4001
	IOWriteFileError Code = 4002
	IOConfigError    Code = 4003
)

var (
	codeDescription = map[Code]string{
		UnknownCode:              "Unknown error",
		IRInfo:                   "IR information",
		IRSyntax:                 "Malformed IR text",
		IRUndefinedName:          "Reference to undefined IR name",
		IRInvalid:                "IR failed verification",
		IRBadBitcode:             "Unreadable bitcode",
		LowerInfo:                "Lowering information",
		LowerLinkFailed:          "Linking runtime bitcode failed",
		LowerRuntimeMissing:      "Runtime bitcode not available",
		LowerFrameTypeFallback:   "Task frame type synthesized",
		LowerNoLaunchCallback:    "Outlined loop left without launch",
		LowerInternal:            "Internal lowering error",
		WorkSpanInfo:             "Work-span information",
		WorkSpanNoConstTripCount: "Could not compute constant trip count",
		WorkSpanLargeSubloop:     "Sub-loop makes parent loop huge",
		IOLoadFileError:          "Load file error",
		IOWriteFileError:         "Write file error",
		IOConfigError:            "Configuration error",
	}
)

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("IR%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("LOW%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("WSP%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
