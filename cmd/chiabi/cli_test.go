package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"chiabi/internal/config"
	"chiabi/internal/diag"
	"chiabi/internal/workspan"
)

func TestParseFreqs(t *testing.T) {
	got, err := parseFreqs([]string{"header=100", "body=99"})
	if err != nil {
		t.Fatalf("parseFreqs: %v", err)
	}
	if got["header"] != 100 || got["body"] != 99 {
		t.Fatalf("unexpected frequencies %v", got)
	}
	for _, bad := range []string{"header", "=3", "body=-1", "body=x"} {
		if _, err := parseFreqs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"abcdefghij", 8, "ab..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.width); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestTableRenderPlain(t *testing.T) {
	tbl := &table{header: []string{"NAME", "N"}}
	tbl.add(nil, "alpha", "1")
	tbl.add(&warnStyle, "b", "22")

	var buf bytes.Buffer
	require.NoError(t, tbl.render(&buf, false))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Equal(t, []string{
		"NAME   N",
		"alpha  1",
		"b      22",
	}, lines)
}

func TestRenderWorkspanIndentsNestedLoops(t *testing.T) {
	reports := []workspan.LoopReport{
		{Header: "outer", Depth: 1, Blocks: 4, Trips: 8, Cost: workspan.WSCost{Work: 40}},
		{Header: "inner", Depth: 2, Blocks: 2, Cost: workspan.WSCost{Work: 5, UnknownCost: true}},
	}
	var buf bytes.Buffer
	require.NoError(t, renderWorkspan(&buf, "kernel", reports, false))

	out := buf.String()
	require.Contains(t, out, "@kernel\n")
	require.Contains(t, out, "%outer")
	require.Contains(t, out, "  %inner")
	require.Contains(t, out, "?")
}

func TestApplyLowerFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "lower"}
	addLowerFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{
		"--single-kernel-module",
		"--keep-dir", "kept",
		"-j", "3",
	}))

	cfg := config.Default()
	cfg.Lower.ProcessAllLoops = true
	require.NoError(t, applyLowerFlags(cmd, &cfg))
	require.True(t, cfg.Lower.SingleKernelModule)
	require.Equal(t, "kept", cfg.Lower.KeepDir)
	require.Equal(t, 3, cfg.Lower.Jobs)
	// Unset flags leave configured values alone.
	require.True(t, cfg.Lower.ProcessAllLoops)

	bad := &cobra.Command{Use: "lower"}
	addLowerFlags(bad.Flags())
	require.NoError(t, bad.Flags().Parse([]string{"--jobs=-2"}))
	cfg = config.Default()
	require.ErrorIs(t, applyLowerFlags(bad, &cfg), config.ErrInvalid)
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeVersionJSON(&buf, currentBuild(false)))

	var info buildInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	require.Equal(t, "chiabi", info.Tool)
	require.Equal(t, "CHBC v1", info.Bitcode)
	require.Equal(t, "struct.__rts_stack_frame", info.FrameType)
	require.Empty(t, info.GitCommit)

	full := currentBuild(true)
	require.NotEmpty(t, full.GitCommit)
	require.NotEmpty(t, full.BuildDate)
}

func TestPrintDiagnostics(t *testing.T) {
	color.NoColor = true
	bag := diag.NewBag(3)
	w := diag.Where{Unit: "a.ll", Func: "f"}
	bag.Add(diag.New(diag.SevInfo, diag.WorkSpanLargeSubloop, w, "huge"))
	bag.Add(diag.New(diag.SevWarning, diag.LowerLinkFailed, w, "linking module 'rts': boom"))
	bag.Add(diag.New(diag.SevInfo, diag.WorkSpanNoConstTripCount, w, "no trip count"))
	bag.Add(diag.New(diag.SevInfo, diag.WorkSpanNoConstTripCount, w, "dropped"))

	var buf bytes.Buffer
	printDiagnostics(&buf, bag, 1, false)
	require.Equal(t,
		"a.ll:@f: warning[LOW2001]: linking module 'rts': boom\n... 3 more diagnostics\n",
		buf.String())

	buf.Reset()
	printDiagnostics(&buf, bag, 0, true)
	require.Equal(t, "a.ll:@f: warning[LOW2001]: linking module 'rts': boom\n... 1 more diagnostics\n", buf.String())
}
