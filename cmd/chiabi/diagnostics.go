package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"chiabi/internal/diag"
)

var logger = commonlog.GetLogger("chiabi.cmd")

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	noteColor    = color.New(color.Faint)
)

func severityColor(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return errorColor
	case diag.SevWarning:
		return warningColor
	default:
		return infoColor
	}
}

// printDiagnostics writes the diagnostics of bag, most severe first
// within each location, showing at most max of them and a count of the
// rest, including those the bag itself dropped.
func printDiagnostics(out io.Writer, bag *diag.Bag, max int, quiet bool) {
	if bag == nil || bag.Len()+bag.Dropped() == 0 {
		return
	}
	bag.Sort()
	shown, hidden := 0, bag.Dropped()
	for _, d := range bag.Items() {
		if quiet && d.Severity == diag.SevInfo {
			continue
		}
		if max > 0 && shown == max {
			hidden++
			continue
		}
		shown++
		sev := severityColor(d.Severity).Sprint(d.Severity.String())
		where := d.Primary.String()
		if where != "" {
			where += ": "
		}
		fmt.Fprintf(out, "%s%s[%s]: %s\n", where, sev, d.Code.ID(), d.Message)
		for _, n := range d.Notes {
			fmt.Fprintf(out, "  %s %s\n", noteColor.Sprint("note:"), n.Msg)
		}
	}
	if hidden > 0 {
		fmt.Fprintf(out, "... %d more diagnostics\n", hidden)
	}
}

func printError(out io.Writer, err error) {
	fmt.Fprintf(out, "%s %v\n", errorColor.Sprint("error:"), err)
}
