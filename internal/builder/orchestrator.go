package builder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tensorkit/forge/internal/catalog"
	"github.com/tensorkit/forge/internal/manifest"
)

// Status of one variant in a multi-variant build.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one variant build.
type Result struct {
	Variant  catalog.Variant
	Name     string
	Status   Status
	Output   *BuildOutput
	Err      error
	Duration time.Duration
}

// Report is the per-variant status summary of a multi-variant build.
// Best-effort output must never be mistaken for complete output: callers
// gate distribution on Complete().
type Report struct {
	Results []Result
}

// Complete reports whether every required (upstream) variant succeeded.
// Skipped experimental variants do not count against completeness.
func (r *Report) Complete() bool {
	for _, res := range r.Results {
		if res.Variant.Upstream && res.Status == StatusFailed {
			return false
		}
	}
	return true
}

// Failed returns the failed results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Outputs returns the successful build outputs.
func (r *Report) Outputs() []BuildOutput {
	var out []BuildOutput
	for _, res := range r.Results {
		if res.Status == StatusOK && res.Output != nil {
			out = append(out, *res.Output)
		}
	}
	return out
}

// BuildAll builds the selected variants concurrently: at most Jobs
// variants in flight, each holding Threads units of the core budget, so
// N and M are tunable independently without oversubscribing the host.
//
// A failed variant does not cancel its siblings; partial results are
// useful for diagnosis. upstreamOnly marks experimental variants skipped
// instead of building them (the distribution path).
func (d *Driver) BuildAll(ctx context.Context, m *manifest.Manifest, variants []catalog.Variant, upstreamOnly bool) *Report {
	report := &Report{Results: make([]Result, len(variants))}

	var sem *semaphore.Weighted
	if d.opts.CoreBudget > 0 {
		sem = semaphore.NewWeighted(int64(d.opts.CoreBudget))
	}
	weight := int64(d.opts.Threads)
	if d.opts.CoreBudget > 0 && weight > int64(d.opts.CoreBudget) {
		weight = int64(d.opts.CoreBudget)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Jobs)

	var mu sync.Mutex
	for i, v := range variants {
		i, v := i, v
		if upstreamOnly && !v.Upstream {
			report.Results[i] = Result{Variant: v, Name: v.Name(), Status: StatusSkipped}
			continue
		}
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(ctx, weight); err != nil {
					mu.Lock()
					report.Results[i] = Result{Variant: v, Name: v.Name(), Status: StatusFailed, Err: err}
					mu.Unlock()
					return nil
				}
				defer sem.Release(weight)
			}

			out, elapsed, err := d.instrumented(ctx, m, v)
			res := Result{Variant: v, Name: v.Name(), Duration: elapsed}
			if m.General.Universal {
				res.Name = catalog.UniversalName
			}
			if err != nil {
				res.Status = StatusFailed
				res.Err = err
				d.log.Error("variant build failed", zap.String("variant", res.Name), zap.Error(err))
			} else {
				res.Status = StatusOK
				res.Output = out
				d.log.Info("variant build succeeded",
					zap.String("variant", res.Name), zap.Duration("took", elapsed))
			}
			mu.Lock()
			report.Results[i] = res
			mu.Unlock()
			// Sibling builds keep running on failure.
			return nil
		})
	}
	_ = g.Wait()
	return report
}
