package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestVersion_DefaultValues(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
}

func TestPretty_PlainWhenColorDisabled(t *testing.T) {
	prevNoColor := color.NoColor
	prevVersion := Version
	defer func() {
		color.NoColor = prevNoColor
		Version = prevVersion
	}()

	color.NoColor = true
	Version = "1.2.3-rc1"
	if got := Pretty(); got != "1.2.3-rc1" {
		t.Errorf("Pretty() = %q, want %q", got, "1.2.3-rc1")
	}
	Version = "2.0"
	if got := Pretty(); got != "2.0" {
		t.Errorf("Pretty() = %q, want %q", got, "2.0")
	}
}
