package source

import (
	"testing"
)

func TestLoc_String(t *testing.T) {
	tests := []struct {
		name     string
		loc      Loc
		expected string
	}{
		{name: "zero", loc: Loc{}, expected: "?"},
		{name: "line and column", loc: Loc{Line: 12, Col: 3}, expected: "12:3"},
		{name: "line only", loc: Loc{Line: 7}, expected: "7:0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestLoc_Before(t *testing.T) {
	a := Loc{Line: 1, Col: 5}
	b := Loc{Line: 2, Col: 1}
	if !a.Before(b) {
		t.Errorf("expected %s before %s", a, b)
	}
	if b.Before(a) {
		t.Errorf("expected %s not before %s", b, a)
	}
	if (Loc{}).Before(a) {
		t.Errorf("unknown location must sort last")
	}
	if !a.Before(Loc{}) {
		t.Errorf("known location must sort before unknown")
	}
}
