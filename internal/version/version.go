package version

import (
	"strings"

	"github.com/fatih/color"
)

// Build fingerprints of the chiabi CLI, overridable via -ldflags.
var (
	// Version is the semantic version of the CLI.
	Version = "0.4.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)
)

// Pretty renders Version with each numeric component colored.
// Pre-release suffixes are kept uncolored.
func Pretty() string {
	core, suffix, _ := strings.Cut(Version, "-")
	parts := strings.SplitN(core, ".", 3)
	paint := []*color.Color{versionMajorColor, versionMinorColor, versionPatchColor}
	for i := range parts {
		parts[i] = paint[i].Sprint(parts[i])
	}
	out := strings.Join(parts, ".")
	if suffix != "" {
		out += "-" + suffix
	}
	return out
}
