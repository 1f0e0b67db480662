package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chiabi/internal/bitcode"
	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/workspan"
)

var workspanCmd = &cobra.Command{
	Use:   "workspan [flags] <file>",
	Short: "Estimate the work of each loop",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspan,
}

func init() {
	workspanCmd.Flags().String("func", "", "only report this function")
	workspanCmd.Flags().StringSlice("freq", nil, "block frequency as block=count (repeatable)")
}

// parseFreqs reads block=count pairs.
func parseFreqs(pairs []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid frequency %q (expected block=count)", p)
		}
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q: %w", p, err)
		}
		out[name] = n
	}
	return out, nil
}

func runWorkspan(cmd *cobra.Command, args []string) error {
	only, err := cmd.Flags().GetString("func")
	if err != nil {
		return err
	}
	pairs, err := cmd.Flags().GetStringSlice("freq")
	if err != nil {
		return err
	}
	freqs, err := parseFreqs(pairs)
	if err != nil {
		return err
	}
	maxDiags, err := cmd.Flags().GetInt("max-diagnostics")
	if err != nil {
		return err
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}

	m, err := bitcode.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}
	var funcs []*ir.Func
	if only != "" {
		f := m.Func(only)
		if f == nil || f.IsDeclaration() {
			return fmt.Errorf("no function definition @%s in %s", only, args[0])
		}
		funcs = []*ir.Func{f}
	} else {
		for _, f := range m.Funcs {
			if !f.IsDeclaration() {
				funcs = append(funcs, f)
			}
		}
	}

	bag := diag.NewBag(maxDiags)
	r := diag.NewBagReporter(bag)
	out := cmd.OutOrStdout()
	styled := !color.NoColor
	for _, f := range funcs {
		reports := workspan.ReportFunc(f, workspan.FreqByName(f, freqs), r)
		if len(reports) == 0 {
			continue
		}
		if err := renderWorkspan(out, f.Name, reports, styled); err != nil {
			return err
		}
	}
	printDiagnostics(cmd.ErrOrStderr(), bag, maxDiags, quiet)
	return nil
}

func renderWorkspan(w io.Writer, fn string, reports []workspan.LoopReport, styled bool) error {
	title := "@" + fn
	if styled {
		title = titleStyle.Render(title)
	}
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	t := &table{header: []string{"LOOP", "DEPTH", "BLOCKS", "TRIPS", "WORK", "INSTRS"}}
	for _, r := range reports {
		trips := "?"
		if r.Trips > 0 {
			trips = strconv.FormatUint(uint64(r.Trips), 10)
		}
		instrs := "-"
		if r.Cost.Metrics != nil {
			instrs = strconv.FormatUint(r.Cost.Metrics.NumInsts, 10)
		}
		var style *lipgloss.Style
		if r.Cost.UnknownCost || r.Cost.Saturated() {
			style = &warnStyle
		}
		t.add(style,
			strings.Repeat("  ", r.Depth-1)+"%"+r.Header,
			strconv.Itoa(r.Depth),
			strconv.Itoa(r.Blocks),
			trips,
			r.Cost.String(),
			instrs,
		)
	}
	return t.render(w, styled)
}
