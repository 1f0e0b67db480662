package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chiabi/internal/bitcode"
	"chiabi/internal/chiabi"
)

var kernelsCmd = &cobra.Command{
	Use:   "kernels [flags] <file>",
	Short: "List the kernel modules embedded in a lowered unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runKernels,
}

func init() {
	kernelsCmd.Flags().Bool("print", false, "print each kernel module as text")
	kernelsCmd.Flags().String("extract", "", "write each kernel module as text into this directory")
}

func runKernels(cmd *cobra.Command, args []string) error {
	printIR, err := cmd.Flags().GetBool("print")
	if err != nil {
		return err
	}
	extract, err := cmd.Flags().GetString("extract")
	if err != nil {
		return err
	}

	m, err := bitcode.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}
	kernels, err := chiabi.EmbeddedKernels(m)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(kernels) == 0 {
		fmt.Fprintf(out, "%s: no embedded kernel modules\n", args[0])
		return nil
	}
	if err := renderKernels(out, kernels, !color.NoColor); err != nil {
		return err
	}

	for _, k := range kernels {
		if printIR {
			fmt.Fprintf(out, "\n; %s\n%s", k.Global, k.Module.String())
		}
		if extract != "" {
			if err := os.MkdirAll(extract, 0o755); err != nil {
				return err
			}
			path := filepath.Join(extract, k.Global+".ll")
			if err := bitcode.WriteFile(path, k.Module, true); err != nil {
				return err
			}
			logger.Infof("extracted @%s to %s", k.Global, path)
		}
	}
	return nil
}

func renderKernels(w io.Writer, kernels []chiabi.Kernel, styled bool) error {
	t := &table{header: []string{"GLOBAL", "MODULE", "BYTES", "FUNCTIONS", "DEFINED"}}
	for _, k := range kernels {
		defined := 0
		for _, f := range k.Module.Funcs {
			if !f.IsDeclaration() {
				defined++
			}
		}
		t.add(nil,
			"@"+k.Global,
			k.Module.Name,
			strconv.Itoa(k.Size),
			strconv.Itoa(len(k.Module.Funcs)),
			strconv.Itoa(defined),
		)
	}
	return t.render(w, styled)
}
