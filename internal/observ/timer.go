// Package observ measures where lowering time goes: one Timer per unit,
// reports that can be summed across the units of a run.
package observ

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Timer records the phases of one unit. A nil Timer records nothing.
type Timer struct {
	mu     sync.Mutex
	phases []phase
}

type phase struct {
	name  string
	start time.Time
	dur   time.Duration
	note  string
}

func NewTimer() *Timer { return &Timer{phases: make([]phase, 0, 6)} }

// Begin opens a phase and returns the handle End takes.
func (t *Timer) Begin(name string) int {
	if t == nil {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, phase{name: name, start: time.Now()})
	return len(t.phases) - 1
}

// End closes the phase opened by Begin. Unknown handles are ignored.
func (t *Timer) End(idx int, note string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.dur = time.Since(p.start)
	p.note = note
}

// PhaseReport is one timed phase.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// Report is the timing of one unit, or of several after Sum.
type Report struct {
	Units   int           `json:"units"`
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

func (t *Timer) Report() Report {
	if t == nil {
		return Report{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.phases) == 0 {
		return Report{}
	}
	r := Report{Units: 1, Phases: make([]PhaseReport, len(t.phases))}
	for i, p := range t.phases {
		ms := millis(p.dur)
		r.TotalMS += ms
		r.Phases[i] = PhaseReport{Name: p.name, DurationMS: ms, Note: p.note}
	}
	return r
}

// Sum adds reports phase by phase, keeping the order in which phase names
// first appear. Per-unit notes do not survive the sum.
func Sum(reports ...Report) Report {
	var out Report
	at := map[string]int{}
	for _, r := range reports {
		out.Units += r.Units
		out.TotalMS += r.TotalMS
		for _, p := range r.Phases {
			i, ok := at[p.Name]
			if !ok {
				i = len(out.Phases)
				at[p.Name] = i
				out.Phases = append(out.Phases, PhaseReport{Name: p.Name})
			}
			out.Phases[i].DurationMS += p.DurationMS
		}
	}
	return out
}

// Write prints r as an aligned block headed by title.
func (r Report) Write(w io.Writer, title string) error {
	if _, err := fmt.Fprintf(w, "%s: %.2f ms", title, r.TotalMS); err != nil {
		return err
	}
	if r.Units > 1 {
		fmt.Fprintf(w, " over %d units", r.Units)
	}
	fmt.Fprintln(w)
	for _, p := range r.Phases {
		line := fmt.Sprintf("  %-8s %8.2f ms", p.Name, p.DurationMS)
		if p.Note != "" {
			line += "  " + p.Note
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
