package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mixpower/domain/core"
	"mixpower/domain/model"
	"mixpower/domain/power"
	"mixpower/internal"
	"mixpower/ports"
)

// maxFailureMessages caps how many per-trial failure messages a run keeps.
const maxFailureMessages = 10

// ProgressFunc receives the number of completed trials. It is called from
// worker goroutines and must be safe for concurrent use.
type ProgressFunc func(done, total int)

// Runner executes the trial loop on a bounded worker pool.
type Runner struct {
	adapter  ports.ModelAdapter
	rngPort  ports.RNGPort
	logger   *internal.Logger
	progress ProgressFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) { r.progress = fn }
}

// NewRunner creates a trial runner.
func NewRunner(adapter ports.ModelAdapter, rngPort ports.RNGPort, logger *internal.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	r := &Runner{adapter: adapter, rngPort: rngPort, logger: logger.With("runner")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// trialSlot is written by exactly one worker.
type trialSlot struct {
	rows []power.TrialResult
	err  error
}

// Run performs cfg.NSims resample-and-refit trials against ref. Trial t always
// draws from the sub-stream (cfg.Seed, t), so the output does not depend on
// cfg.Workers. Fit failures mark the trial failed and the run continues;
// cancellation of ctx aborts the whole run.
func (r *Runner) Run(ctx context.Context, ref *model.ReferenceModel, cfg power.SimulationConfig) (*power.TrialResults, error) {
	if ref == nil {
		return nil, core.NewArgumentError("reference", "model is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Target.Validate(ref.NumCoef(), ref.NumComponents()); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > cfg.NSims {
		workers = cfg.NSims
	}

	structure := ref.Structure()
	names := ref.CoefNames()
	target := cfg.Target.Clone()
	slots := make([]trialSlot, cfg.NSims)
	var done atomic.Int64

	start := time.Now()
	r.logger.Info("starting %d trials on %d workers (seed %d)", cfg.NSims, workers, cfg.Seed)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for trial := 0; trial < cfg.NSims; trial++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := r.trial(gctx, structure, names, target, cfg.Seed, trial)
			if err != nil {
				if !core.IsFitFailure(err) {
					return core.NewFitError(trial, err)
				}
				r.logger.Debug("trial %d failed: %v", trial, err)
				rows = failedRows(trial, names)
			}
			slots[trial] = trialSlot{rows: rows, err: err}

			n := int(done.Add(1))
			if r.progress != nil {
				r.progress(n, cfg.NSims)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := &power.TrialResults{
		Rows:  make([]power.TrialResult, 0, cfg.NSims*len(names)),
		NSims: cfg.NSims,
	}
	for trial, slot := range slots {
		results.Rows = append(results.Rows, slot.rows...)
		if slot.err != nil {
			results.FailedTrials++
			if len(results.Failures) < maxFailureMessages {
				results.Failures = append(results.Failures, core.NewFitError(trial, slot.err).Error())
			}
		}
	}

	if results.FailedTrials > 0 {
		r.logger.Warn("%d of %d trials failed to fit", results.FailedTrials, cfg.NSims)
	}
	r.logger.Info("completed %d trials in %s", cfg.NSims, time.Since(start).Round(time.Millisecond))
	return results, nil
}

func (r *Runner) trial(ctx context.Context, s *model.Structure, names []string, target power.TargetParameters, seed int64, trial int) ([]power.TrialResult, error) {
	rng := r.rngPort.TrialStream(seed, trial)
	y := resample(s, target, rng)

	fit, err := r.adapter.Fit(ctx, s, y)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !core.IsFitFailure(err) {
			return nil, fmt.Errorf("%w: %v", core.ErrTrialFitFailure, err)
		}
		return nil, err
	}
	if len(fit.Coefficients) != len(names) {
		return nil, fmt.Errorf("%w: %d coefficients returned, expected %d", core.ErrTrialFitFailure, len(fit.Coefficients), len(names))
	}

	rows := make([]power.TrialResult, len(names))
	for j, c := range fit.Coefficients {
		rows[j] = power.TrialResult{
			Trial:     trial,
			CoefName:  names[j],
			Estimate:  c.Estimate,
			Statistic: c.Statistic,
			PValue:    c.PValue,
		}
	}
	return rows, nil
}

func failedRows(trial int, names []string) []power.TrialResult {
	rows := make([]power.TrialResult, len(names))
	for j, name := range names {
		rows[j] = power.TrialResult{
			Trial:     trial,
			CoefName:  name,
			Estimate:  math.NaN(),
			Statistic: math.NaN(),
			PValue:    math.NaN(),
			Failed:    true,
		}
	}
	return rows
}
