package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"chiabi/internal/config"
	"chiabi/internal/driver"
	"chiabi/internal/observ"
	"chiabi/internal/trace"
)

var lowerCmd = &cobra.Command{
	Use:   "lower [flags] <file|dir>...",
	Short: "Lower Tapir units to the Chi runtime ABI",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLower,
}

func init() {
	addLowerFlags(lowerCmd.Flags())
}

func addLowerFlags(fs *pflag.FlagSet) {
	fs.StringP("output", "o", "", "output directory (default: next to each input)")
	fs.String("emit", "bitcode", "output encoding (bitcode|text)")
	fs.Bool("single-kernel-module", false, "outline all loops of a unit into one kernel module")
	fs.String("host-bc", "", "host runtime bitcode linked into each unit")
	fs.String("device-bc", "", "device runtime bitcode linked into kernel modules")
	fs.Bool("process-all-loops", false, "outline every Tapir loop, not only target-hinted ones")
	fs.Bool("keep-files", false, "also write kernel modules as text")
	fs.String("keep-dir", "", "directory for kept kernel modules")
	fs.Bool("marshal-inputs", false, "pass outlined loop inputs in one struct")
	fs.IntP("jobs", "j", 0, "units lowered in parallel (default: GOMAXPROCS)")
	fs.Bool("check", false, "lower and verify without writing outputs")
}

// applyLowerFlags layers explicitly set flags over the configuration.
func applyLowerFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	bools := []struct {
		name string
		dst  *bool
	}{
		{"single-kernel-module", &cfg.Lower.SingleKernelModule},
		{"process-all-loops", &cfg.Lower.ProcessAllLoops},
		{"keep-files", &cfg.Lower.KeepFiles},
		{"marshal-inputs", &cfg.Lower.MarshalInputs},
	}
	for _, b := range bools {
		if !flags.Changed(b.name) {
			continue
		}
		v, err := flags.GetBool(b.name)
		if err != nil {
			return err
		}
		*b.dst = v
	}
	strs := []struct {
		name string
		dst  *string
	}{
		{"host-bc", &cfg.Lower.HostBC},
		{"device-bc", &cfg.Lower.DeviceBC},
		{"keep-dir", &cfg.Lower.KeepDir},
	}
	for _, s := range strs {
		if !flags.Changed(s.name) {
			continue
		}
		v, err := flags.GetString(s.name)
		if err != nil {
			return err
		}
		*s.dst = v
	}
	if flags.Changed("jobs") {
		jobs, err := flags.GetInt("jobs")
		if err != nil {
			return err
		}
		cfg.Lower.Jobs = jobs
	}
	return cfg.Validate()
}

func runLower(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyLowerFlags(cmd, &cfg); err != nil {
		return err
	}
	tracer, cleanup, err := setupTracing(cmd, cfg.Trace)
	if err != nil {
		return err
	}
	defer cleanup()

	emitName, err := cmd.Flags().GetString("emit")
	if err != nil {
		return err
	}
	emit, err := driver.ParseEmit(emitName)
	if err != nil {
		return err
	}
	outDir, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	check, err := cmd.Flags().GetBool("check")
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
	timings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}

	inputs, err := driver.CollectInputs(args)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("no input units found")
	}

	results, err := driver.LowerFiles(cmd.Context(), inputs, driver.Options{
		Lower:          cfg.Options(),
		OutDir:         outDir,
		Emit:           emit,
		Jobs:           cfg.Lower.Jobs,
		MaxDiagnostics: maxDiags,
		NoWrite:        check,
	})

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	failed := 0
	for _, res := range results {
		printDiagnostics(stderr, res.Bag, maxDiags, quiet)
		if res.Err != nil {
			failed++
			printError(stderr, res.Err)
			if ring := trace.RingOf(tracer); ring != nil {
				fmt.Fprintf(stderr, "trace of %s:\n", res.Path)
				if err := ring.Dump(stderr, trace.FormatText, res.Path); err != nil {
					return err
				}
			}
			continue
		}
		if !quiet {
			target := res.Output
			if target == "" {
				target = "ok"
			}
			fmt.Fprintf(stdout, "%s: %s (%d loops, %d tasks, %d syncs, %d kernels)\n",
				res.Path, target, res.Stats.Loops, res.Stats.Tasks, res.Stats.Syncs, res.Kernels)
		}
		if timings {
			if err := res.Timing.Write(stdout, res.Path); err != nil {
				return err
			}
		}
	}
	if timings && len(results) > 1 {
		reports := make([]observ.Report, 0, len(results))
		for _, res := range results {
			reports = append(reports, res.Timing)
		}
		if err := observ.Sum(reports...).Write(stdout, "all units"); err != nil {
			return err
		}
	}
	if err != nil {
		if failed == 0 {
			return err
		}
		return fmt.Errorf("%d of %d units failed", failed, len(inputs))
	}
	return nil
}
