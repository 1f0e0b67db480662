// Package config loads chiabi.toml and applies CHIABI_* environment
// overrides on top of it. Command-line flags are layered last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"

	"chiabi/internal/chiabi"
)

// FileName is the configuration file looked up from the working directory
// upwards.
const FileName = "chiabi.toml"

// Environment overrides.
const (
	EnvRuntimeBCPath     = "CHIABI_RUNTIME_BC_PATH"
	EnvDeviceBCPath      = "CHIABI_DEVICE_BC_PATH"
	EnvSingleKernel      = "CHIABI_USE_SINGLE_KERNEL_MODULE"
	EnvProcessAllLoops   = "CHIABI_PROCESS_ALL_LOOPS"
	EnvKeepFiles         = "CHIABI_KEEP_FILES"
	EnvKeepDir           = "CHIABI_KEEP_DIR"
	EnvTraceLevel        = "CHIABI_TRACE_LEVEL"
	defaultKeepDir       = "chiabi-kernels"
	defaultTraceLevel    = "off"
	defaultTraceMode     = "ring"
	defaultTraceFormat   = "text"
	defaultTraceRingSize = 4096
)

// ErrInvalid marks a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Lower is the [lower] table.
type Lower struct {
	SingleKernelModule bool   `toml:"single_kernel_module"`
	HostBC             string `toml:"host_bc"`
	DeviceBC           string `toml:"device_bc"`
	ProcessAllLoops    bool   `toml:"process_all_loops"`
	KeepFiles          bool   `toml:"keep_files"`
	KeepDir            string `toml:"keep_dir"`
	MarshalInputs      bool   `toml:"marshal_inputs"`
	Jobs               int    `toml:"jobs"`
}

// Trace is the [trace] table.
type Trace struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

// Config is the merged configuration.
type Config struct {
	Lower Lower `toml:"lower"`
	Trace Trace `toml:"trace"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		Lower: Lower{KeepDir: defaultKeepDir},
		Trace: Trace{
			Level:    defaultTraceLevel,
			Mode:     defaultTraceMode,
			Format:   defaultTraceFormat,
			RingSize: defaultTraceRingSize,
		},
	}
}

// Load reads path over the defaults, then applies the environment. An
// empty path searches for chiabi.toml from the working directory up; no
// file found means defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		found, ok, err := Find(".")
		if err != nil {
			return cfg, err
		}
		if ok {
			path = found
		}
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys %s: %w", path, strings.Join(keys, ", "), ErrInvalid)
	}
	c.Path = path
	base := filepath.Dir(path)
	c.Lower.HostBC = resolve(base, c.Lower.HostBC)
	c.Lower.DeviceBC = resolve(base, c.Lower.DeviceBC)
	c.Lower.KeepDir = resolve(base, c.Lower.KeepDir)
	return nil
}

// resolve makes relative paths of a config file relative to its directory.
func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ApplyEnv overrides fields whose CHIABI_* variable is set.
func (c *Config) ApplyEnv() {
	if env.Has(EnvRuntimeBCPath) {
		c.Lower.HostBC = env.Str(EnvRuntimeBCPath)
	}
	if env.Has(EnvDeviceBCPath) {
		c.Lower.DeviceBC = env.Str(EnvDeviceBCPath)
	}
	if env.Has(EnvSingleKernel) {
		c.Lower.SingleKernelModule = env.Bool(EnvSingleKernel)
	}
	if env.Has(EnvProcessAllLoops) {
		c.Lower.ProcessAllLoops = env.Bool(EnvProcessAllLoops)
	}
	if env.Has(EnvKeepFiles) {
		c.Lower.KeepFiles = env.Bool(EnvKeepFiles)
	}
	if env.Has(EnvKeepDir) {
		c.Lower.KeepDir = env.Str(EnvKeepDir)
	}
	if env.Has(EnvTraceLevel) {
		c.Trace.Level = env.Str(EnvTraceLevel)
	}
}

// Validate rejects settings no lowering can run with.
func (c *Config) Validate() error {
	if c.Lower.Jobs < 0 {
		return fmt.Errorf("lower.jobs = %d: %w", c.Lower.Jobs, ErrInvalid)
	}
	if c.Trace.RingSize < 0 {
		return fmt.Errorf("trace.ring_size = %d: %w", c.Trace.RingSize, ErrInvalid)
	}
	for _, p := range []string{c.Lower.HostBC, c.Lower.DeviceBC} {
		if p == "" {
			continue
		}
		if st, err := os.Stat(p); err == nil && st.IsDir() {
			return fmt.Errorf("runtime bitcode %s is a directory: %w", p, ErrInvalid)
		}
	}
	return nil
}

// Options converts the [lower] table into target options.
func (c Config) Options() chiabi.Options {
	opts := chiabi.Options{
		SingleKernelModule: c.Lower.SingleKernelModule,
		HostBCPath:         c.Lower.HostBC,
		DeviceBCPath:       c.Lower.DeviceBC,
		ProcessAllLoops:    c.Lower.ProcessAllLoops,
		KeepFiles:          c.Lower.KeepFiles,
		KeepDir:            c.Lower.KeepDir,
		LoopLaunch:         chiabi.NullLoopLaunch,
	}
	if c.Lower.MarshalInputs {
		opts.Inputs = chiabi.MarshalInputs
	}
	return opts
}

// Find walks up from startDir to locate chiabi.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}
