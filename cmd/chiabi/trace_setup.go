package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chiabi/internal/config"
	"chiabi/internal/trace"
)

// loadConfig reads the configuration named by --config, or the one found
// from the working directory.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if cfg.Path != "" {
		logger.Debugf("using configuration %s", cfg.Path)
	}
	return cfg, nil
}

// setupTracing layers the trace flags over the [trace] table and attaches
// the tracer to the command context. It returns the tracer and a cleanup
// that flushes and closes it.
func setupTracing(cmd *cobra.Command, tc config.Trace) (trace.Tracer, func(), error) {
	flags := cmd.Flags()
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"trace", &tc.Output},
		{"trace-level", &tc.Level},
		{"trace-mode", &tc.Mode},
		{"trace-format", &tc.Format},
	} {
		if !flags.Changed(f.name) {
			continue
		}
		v, err := flags.GetString(f.name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
		*f.dst = v
	}

	level, err := trace.ParseLevel(tc.Level)
	if err != nil {
		return nil, nil, err
	}
	mode, err := trace.ParseMode(tc.Mode)
	if err != nil {
		return nil, nil, err
	}
	format, err := trace.ParseFormat(tc.Format)
	if err != nil {
		return nil, nil, err
	}
	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: tc.Output,
		RingSize:   tc.RingSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	return tracer, func() {
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}, nil
}
