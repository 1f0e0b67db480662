package trace

import (
	"fmt"
	"strings"
)

// Level selects which scopes are recorded.
type Level uint8

const (
	LevelOff    Level = iota
	LevelPhase        // units and pass phases
	LevelDetail       // plus functions and outlined helpers
	LevelDebug        // plus loops and spawn sites
)

var levelNames = [...]string{"off", "phase", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts a level name; empty means off.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelOff, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|phase|detail|debug)", s)
}

// ShouldEmit reports whether events of scope are recorded at l. Each level
// admits one more scope than the previous one.
func (l Level) ShouldEmit(scope Scope) bool {
	return l != LevelOff && uint8(scope) <= uint8(l)+1
}
