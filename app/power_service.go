package app

import (
	"context"
	"fmt"
	"time"

	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
	"mixpower/domain/power"
	"mixpower/internal"
	builder "mixpower/internal/design"
	apperrors "mixpower/internal/errors"
	"mixpower/internal/simulation"
	"mixpower/ports"
)

// PowerService runs the full pipeline: build the design, compile the model,
// fit the reference model, run the trials and aggregate them.
type PowerService struct {
	builder  *builder.Builder
	adapter  ports.ModelAdapter
	rngPort  ports.RNGPort
	repo     ports.PowerRepository
	logger   *internal.Logger
	progress simulation.ProgressFunc
}

// PowerRequest defines the inputs of one power run. Design counts are taken
// from Config, so the same request can be reused across sweep points.
type PowerRequest struct {
	Design    design.Spec
	Formula   string
	Contrasts model.Contrasts
	Config    power.SimulationConfig
}

// SweepRequest runs PowerRequest over every subject_n × item_n combination.
type SweepRequest struct {
	PowerRequest
	SubjectNs   []int
	ItemNs      []int
	Concurrency int // sweep points in flight; trial workers are set per point by Config.Workers
}

// SweepOutcome is the result of a sweep, in point order.
type SweepOutcome struct {
	ID       core.SweepID
	Results  []power.SweepResult
	Duration time.Duration
}

// Records flattens every point's run into persisted rows tagged with the sweep ID.
func (o *SweepOutcome) Records() []power.PowerRecord {
	var out []power.PowerRecord
	for _, r := range o.Results {
		out = append(out, r.Run.Records(o.ID.String())...)
	}
	return out
}

// ServiceOption configures a PowerService.
type ServiceOption func(*PowerService)

// WithRepository persists every completed run.
func WithRepository(repo ports.PowerRepository) ServiceOption {
	return func(s *PowerService) { s.repo = repo }
}

// WithTrialProgress forwards per-trial progress from every run.
func WithTrialProgress(fn simulation.ProgressFunc) ServiceOption {
	return func(s *PowerService) { s.progress = fn }
}

// NewPowerService creates a power service
func NewPowerService(adapter ports.ModelAdapter, rngPort ports.RNGPort, logger *internal.Logger, opts ...ServiceOption) *PowerService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &PowerService{
		builder: builder.NewBuilder(rngPort, logger),
		adapter: adapter,
		rngPort: rngPort,
		logger:  logger.With("power"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository returns the configured repository, or nil.
func (s *PowerService) Repository() ports.PowerRepository {
	return s.repo
}

// RunPower executes one run and persists its rows when a repository is configured.
func (s *PowerService) RunPower(ctx context.Context, req PowerRequest) (*power.Run, error) {
	run, err := s.runPower(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.SaveRecords(ctx, run.Records("")); err != nil {
			return nil, fmt.Errorf("persisting run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func (s *PowerService) runPower(ctx context.Context, req PowerRequest) (*power.Run, error) {
	startTime := time.Now()
	cfg := req.Config
	if cfg.Alpha == 0 {
		cfg.Alpha = power.DefaultAlpha
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	spec := req.Design.WithCounts(cfg.SubjectN, cfg.ItemN)
	table, err := s.builder.Build(spec, cfg.Seed)
	if err != nil {
		return nil, err
	}

	structure, err := s.adapter.Compile(req.Formula, table, req.Contrasts)
	if err != nil {
		return nil, err
	}

	// The reference model is fitted on one draw from the target population.
	response, err := simulation.DrawResponse(structure, cfg.Target, s.rngPort.SeededStream("reference", cfg.Seed))
	if err != nil {
		return nil, err
	}
	fit, err := s.adapter.Fit(ctx, structure, response)
	if err != nil {
		return nil, apperrors.SimulationError("fitting reference model", err)
	}
	ref := model.NewReferenceModel(structure, *fit)
	s.logger.Debug("reference model: %d rows, coefficients %v", structure.Rows(), ref.CoefNames())

	var runnerOpts []simulation.RunnerOption
	if s.progress != nil {
		runnerOpts = append(runnerOpts, simulation.WithProgress(s.progress))
	}
	results, err := simulation.NewRunner(s.adapter, s.rngPort, s.logger, runnerOpts...).Run(ctx, ref, cfg)
	if err != nil {
		return nil, err
	}

	powerTable, err := simulation.Aggregate(results, cfg.Alpha)
	if err != nil {
		return nil, err
	}
	for _, row := range powerTable.Rows {
		if err := row.Err(); err != nil {
			s.logger.Warn("%v", err)
		}
	}

	run := &power.Run{
		ID:          core.NewRunID(),
		Config:      cfg,
		Fingerprint: core.ComputeFingerprint(cfg.Fingerprint(), req.Formula, designKey(spec)),
		Table:       *powerTable,
		Reference:   ref.Beta(),
		StartedAt:   startTime,
		Duration:    time.Since(startTime),
	}
	s.logger.Info("run %s: subject_n=%d item_n=%d nsims=%d failed=%d in %s",
		run.ID, cfg.SubjectN, cfg.ItemN, cfg.NSims, powerTable.FailedTrials, run.Duration.Round(time.Millisecond))
	return run, nil
}

// designKey summarises the factor declarations for the run fingerprint.
func designKey(spec design.Spec) string {
	key := spec.CountMode.String()
	for _, f := range spec.Factors {
		key += fmt.Sprintf("|%s:%s:%v:%d", f.Name(), f.Population(), f.Levels(), len(f.Pool()))
	}
	return key
}

// RunSweep executes the request at every grid point. Each point is seeded
// independently from the base seed and its index.
func (s *PowerService) RunSweep(ctx context.Context, req SweepRequest) (*SweepOutcome, error) {
	startTime := time.Now()
	points, err := simulation.SweepPoints(req.SubjectNs, req.ItemNs, req.Config.Seed)
	if err != nil {
		return nil, err
	}

	sweepID := core.NewSweepID()
	s.logger.Info("sweep %s: %d points", sweepID, len(points))

	results, err := simulation.Sweep(ctx, points, req.Concurrency, func(ctx context.Context, p power.SweepPoint) (*power.Run, error) {
		pointReq := req.PowerRequest
		pointReq.Config.SubjectN = p.SubjectN
		pointReq.Config.ItemN = p.ItemN
		pointReq.Config.Seed = p.Seed
		pointReq.Config.Target = req.Config.Target.Clone()

		run, err := s.runPower(ctx, pointReq)
		if err != nil {
			return nil, err
		}
		s.logger.Info("sweep %s: point %d/%d done", sweepID, p.Index+1, len(points))
		return run, nil
	})
	if err != nil {
		return nil, err
	}

	outcome := &SweepOutcome{ID: sweepID, Results: results, Duration: time.Since(startTime)}
	if s.repo != nil {
		if err := s.repo.SaveRecords(ctx, outcome.Records()); err != nil {
			return nil, fmt.Errorf("persisting sweep %s: %w", sweepID, err)
		}
	}
	return outcome, nil
}
