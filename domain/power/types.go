// Package power defines the immutable simulation configuration and the
// trial/power tables produced by a Monte Carlo power run.
package power

import (
	"fmt"
	"math"
	"time"

	"mixpower/domain/core"
)

// DefaultAlpha is the significance threshold used when none is given.
const DefaultAlpha = 0.05

// TargetParameters is the population the simulation draws from.
type TargetParameters struct {
	Beta  []float64 // one per fixed-effect coefficient, in reference-model order
	Sigma float64   // residual standard deviation
	Theta []float64 // random-intercept standard deviations, in grouping order
}

// Validate checks the parameters against the reference model's dimensions.
func (p TargetParameters) Validate(numCoef, numComponents int) error {
	if len(p.Beta) != numCoef {
		return core.NewLengthMismatchError("beta", len(p.Beta), numCoef)
	}
	if len(p.Theta) != numComponents {
		return core.NewLengthMismatchError("theta", len(p.Theta), numComponents)
	}
	if !(p.Sigma > 0) || math.IsInf(p.Sigma, 0) {
		return core.NewArgumentError("sigma", fmt.Sprintf("must be positive and finite, got %v", p.Sigma))
	}
	for i, b := range p.Beta {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return core.NewArgumentError("beta", fmt.Sprintf("entry %d is not finite", i))
		}
	}
	for i, th := range p.Theta {
		if !(th >= 0) || math.IsInf(th, 0) {
			return core.NewArgumentError("theta", fmt.Sprintf("entry %d must be non-negative and finite, got %v", i, th))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p TargetParameters) Clone() TargetParameters {
	return TargetParameters{
		Beta:  append([]float64(nil), p.Beta...),
		Sigma: p.Sigma,
		Theta: append([]float64(nil), p.Theta...),
	}
}

// SimulationConfig is the full caller-facing configuration of one run. It is
// passed by value into every call; nothing in the engine holds run state globally.
type SimulationConfig struct {
	SubjectN int
	ItemN    int
	NSims    int
	Target   TargetParameters
	Alpha    float64
	Seed     int64
	Workers  int
}

// Validate checks the run-level arguments that do not depend on the model.
func (c SimulationConfig) Validate() error {
	if c.NSims <= 0 {
		return core.NewArgumentError("nsims", fmt.Sprintf("must be a positive integer, got %d", c.NSims))
	}
	if err := ValidateAlpha(c.Alpha); err != nil {
		return err
	}
	if c.Workers < 0 {
		return core.NewArgumentError("workers", fmt.Sprintf("cannot be negative, got %d", c.Workers))
	}
	return nil
}

// Fingerprint identifies the configuration for reproducibility records.
func (c SimulationConfig) Fingerprint() core.Hash {
	return core.ComputeFingerprint(c.SubjectN, c.ItemN, c.NSims, c.Target.Beta, c.Target.Sigma, c.Target.Theta, c.Alpha, c.Seed)
}

// ValidateAlpha requires alpha in the open interval (0, 1).
func ValidateAlpha(alpha float64) error {
	if !(alpha > 0 && alpha < 1) {
		return core.NewArgumentError("alpha", fmt.Sprintf("must be in (0, 1), got %v", alpha))
	}
	return nil
}

// TrialResult is one coefficient's outcome in one trial. Failed trials carry
// NaN statistic and p-value.
type TrialResult struct {
	Trial     int
	CoefName  string
	Estimate  float64
	Statistic float64
	PValue    float64
	Failed    bool
}

// TrialResults is the trial-indexed table of a run.
type TrialResults struct {
	Rows         []TrialResult
	NSims        int
	FailedTrials int
	Failures     []string // first failure messages, capped
}

// PowerRow summarises one coefficient. Undefined is set when no trial succeeded,
// in which case Power, MeanEstimate and the interval are NaN. NaN cannot be
// encoded as JSON; serialise through PowerRecord instead.
type PowerRow struct {
	CoefName     string
	Power        float64
	MeanEstimate float64
	LowerCI      float64
	UpperCI      float64
	Significant  int
	Valid        int
	Failed       int
	Undefined    bool
}

// Err reports ErrAggregationUnderflow for a row with no successful trials.
func (r PowerRow) Err() error {
	if !r.Undefined {
		return nil
	}
	return fmt.Errorf("%w: coefficient %q", core.ErrAggregationUnderflow, r.CoefName)
}

// PowerTable is the aggregated result of one run.
type PowerTable struct {
	Rows         []PowerRow
	Alpha        float64
	NSims        int
	FailedTrials int
}

// Row looks up a coefficient's row.
func (t *PowerTable) Row(coef string) (PowerRow, bool) {
	for _, r := range t.Rows {
		if r.CoefName == coef {
			return r, true
		}
	}
	return PowerRow{}, false
}

// Run is the full record of one simulation run. Records gives its
// serialisable form.
type Run struct {
	ID          core.RunID
	Config      SimulationConfig
	Fingerprint core.Hash
	Table       PowerTable
	Reference   []float64
	StartedAt   time.Time
	Duration    time.Duration
}

// SweepPoint is one (subject_n, item_n) combination of a sweep.
type SweepPoint struct {
	Index    int   `json:"index"`
	SubjectN int   `json:"subject_n"`
	ItemN    int   `json:"item_n"`
	Seed     int64 `json:"seed"`
}

// SweepResult pairs a sweep point with its run.
type SweepResult struct {
	Point SweepPoint
	Run   *Run
}

// PowerRecord is the persisted row: one per design point × coefficient.
type PowerRecord struct {
	RunID        string    `db:"run_id" json:"run_id"`
	SweepID      string    `db:"sweep_id" json:"sweep_id,omitempty"`
	SubjectN     int       `db:"subject_n" json:"subject_n"`
	ItemN        int       `db:"item_n" json:"item_n"`
	CoefName     string    `db:"coefname" json:"coefname"`
	Power        *float64  `db:"power" json:"power"`
	MeanEstimate *float64  `db:"mean_estimate" json:"mean_estimate"`
	LowerCI      *float64  `db:"lower_ci" json:"lower_ci"`
	UpperCI      *float64  `db:"upper_ci" json:"upper_ci"`
	Valid        int       `db:"valid_trials" json:"valid_trials"`
	Failed       int       `db:"failed_trials" json:"failed_trials"`
	NSims        int       `db:"nsims" json:"nsims"`
	Alpha        float64   `db:"alpha" json:"alpha"`
	Seed         int64     `db:"seed" json:"seed"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Records flattens a run into persisted rows. Undefined values become nil.
func (r *Run) Records(sweepID string) []PowerRecord {
	out := make([]PowerRecord, 0, len(r.Table.Rows))
	for _, row := range r.Table.Rows {
		out = append(out, PowerRecord{
			RunID:        r.ID.String(),
			SweepID:      sweepID,
			SubjectN:     r.Config.SubjectN,
			ItemN:        r.Config.ItemN,
			CoefName:     row.CoefName,
			Power:        finiteOrNil(row.Power),
			MeanEstimate: finiteOrNil(row.MeanEstimate),
			LowerCI:      finiteOrNil(row.LowerCI),
			UpperCI:      finiteOrNil(row.UpperCI),
			Valid:        row.Valid,
			Failed:       row.Failed,
			NSims:        r.Table.NSims,
			Alpha:        r.Table.Alpha,
			Seed:         r.Config.Seed,
			CreatedAt:    r.StartedAt,
		})
	}
	return out
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
