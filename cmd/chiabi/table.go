package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// maxCellWidth truncates long cells such as mangled function names.
const maxCellWidth = 48

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// table is a left-aligned text table; rows may carry a style for the
// whole line.
type table struct {
	header []string
	rows   [][]string
	styles []*lipgloss.Style
}

func (t *table) add(style *lipgloss.Style, cells ...string) {
	t.rows = append(t.rows, cells)
	t.styles = append(t.styles, style)
}

func (t *table) render(w io.Writer, styled bool) error {
	widths := make([]int, len(t.header))
	measure := func(cells []string) {
		for i, c := range cells {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(truncate(c, maxCellWidth)))
			}
		}
	}
	measure(t.header)
	for _, r := range t.rows {
		measure(r)
	}

	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			c := ""
			if i < len(cells) {
				c = truncate(cells[i], maxCellWidth)
			}
			parts[i] = runewidth.FillRight(c, widths[i])
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var sb strings.Builder
	head := line(t.header)
	if styled {
		head = headerStyle.Render(head)
	}
	sb.WriteString(head + "\n")
	for i, r := range t.rows {
		s := line(r)
		if styled && t.styles[i] != nil {
			s = t.styles[i].Render(s)
		}
		sb.WriteString(s + "\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
