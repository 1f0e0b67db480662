package diag

import "fmt"

// Severity orders diagnostics; a higher value is worse.
type Severity uint8

const (
	// SevInfo carries analysis remarks such as work-span estimates.
	SevInfo Severity = iota
	// SevWarning means lowering went ahead in a degraded way, for example
	// with a synthesized frame type.
	SevWarning
	// SevError means the unit could not be lowered.
	SevError
)

var severityNames = [...]string{SevInfo: "info", SevWarning: "warning", SevError: "error"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}
