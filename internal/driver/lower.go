// Package driver runs the Chi ABI lowering over input units: each unit is
// loaded, lowered by its own target, verified and written out. Units are
// independent and lowered in parallel.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"chiabi/internal/bitcode"
	"chiabi/internal/chiabi"
	"chiabi/internal/diag"
	"chiabi/internal/ir"
	"chiabi/internal/observ"
	"chiabi/internal/tapir"
	"chiabi/internal/trace"
)

var logger = commonlog.GetLogger("chiabi.driver")

// Emit selects the output encoding.
type Emit uint8

const (
	EmitBitcode Emit = iota
	EmitText
)

// ParseEmit accepts "bitcode" and "text".
func ParseEmit(s string) (Emit, error) {
	switch strings.ToLower(s) {
	case "bitcode", "bc", "":
		return EmitBitcode, nil
	case "text", "ll":
		return EmitText, nil
	}
	return EmitBitcode, fmt.Errorf("unsupported emit format %q (expected: text|bitcode)", s)
}

func (e Emit) ext() string {
	if e == EmitText {
		return ".ll"
	}
	return ".bc"
}

// Options configure a lowering run.
type Options struct {
	Lower  chiabi.Options
	OutDir string
	Emit   Emit
	Jobs   int
	// MaxDiagnostics caps the diagnostics kept per unit.
	MaxDiagnostics int
	// NoWrite lowers and verifies without writing output files.
	NoWrite bool
}

// UnitResult is the outcome of lowering one input.
type UnitResult struct {
	Path    string
	Output  string
	Stats   tapir.Stats
	Kernels int
	Bag     *diag.Bag
	Timing  observ.Report
	Module  *ir.Module
	Err     error
}

// OutputPath names the lowered file of path: same base name with a
// ".chiabi" infix, in outDir or next to the input.
func OutputPath(path, outDir string, emit Emit) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base)) + ".chiabi" + emit.ext()
	if outDir == "" {
		return filepath.Join(filepath.Dir(path), base)
	}
	return filepath.Join(outDir, base)
}

// LowerFile lowers one unit. The returned result carries the unit error,
// if any; diagnostics are collected in its bag either way.
func LowerFile(ctx context.Context, path string, opts Options) (res UnitResult) {
	res = UnitResult{Path: path, Bag: diag.NewBag(maxDiagnostics(opts))}
	timer := observ.NewTimer()
	ctx, span := trace.Start(trace.WithUnit(ctx, path), trace.ScopeDriver, "lower")
	defer func() {
		res.Timing = timer.Report()
		span.End(fmt.Sprintf("loops=%d tasks=%d", res.Stats.Loops, res.Stats.Tasks))
	}()

	idx := timer.Begin("load")
	m, err := bitcode.ReadFile(path)
	timer.End(idx, "")
	if err != nil {
		res.Err = fmt.Errorf("load %s: %w", path, err)
		return res
	}
	res.Module = m

	idx = timer.Begin("lower")
	r := diag.NewDedupReporter(diag.NewBagReporter(res.Bag))
	tg := chiabi.New(m, r)
	tg.Configure(opts.Lower)
	res.Stats, err = tapir.LowerModule(ctx, m, tg)
	timer.End(idx, fmt.Sprintf("%d loops, %d tasks, %d syncs", res.Stats.Loops, res.Stats.Tasks, res.Stats.Syncs))
	if err != nil {
		if errors.Is(err, chiabi.ErrInternal) {
			logger.Errorf("aborting %s: %v", path, err)
		}
		res.Err = fmt.Errorf("lower %s: %w", path, err)
		return res
	}

	idx = timer.Begin("verify")
	err = ir.Verify(m)
	timer.End(idx, "")
	if err != nil {
		res.Err = fmt.Errorf("verify %s: %w", path, err)
		return res
	}
	if kernels, err := chiabi.EmbeddedKernels(m); err == nil {
		res.Kernels = len(kernels)
	}

	if opts.NoWrite {
		return res
	}
	idx = timer.Begin("write")
	res.Output = OutputPath(path, opts.OutDir, opts.Emit)
	err = writeUnit(res.Output, m, opts.Emit)
	timer.End(idx, res.Output)
	if err != nil {
		res.Err = err
		diag.ReportError(r, diag.IOWriteFileError, diag.Where{Unit: m.Name}, err.Error()).Emit()
		return res
	}
	logger.Infof("lowered %s -> %s", path, res.Output)
	return res
}

func writeUnit(path string, m *ir.Module, emit Emit) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := bitcode.WriteFile(path, m, emit == EmitText); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func maxDiagnostics(opts Options) int {
	if opts.MaxDiagnostics > 0 {
		return opts.MaxDiagnostics
	}
	return 100
}

// LowerFiles lowers every path, at most opts.Jobs at a time. A failing
// unit does not stop the others; the joined unit errors are returned
// along with all results, in input order.
func LowerFiles(ctx context.Context, paths []string, opts Options) ([]UnitResult, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]UnitResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(paths)))
	for i, path := range paths {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				results[i] = UnitResult{Path: path, Err: gctx.Err()}
				return gctx.Err()
			default:
			}
			results[i] = LowerFile(gctx, path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return results, errors.Join(errs...)
}
