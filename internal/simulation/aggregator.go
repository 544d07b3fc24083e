package simulation

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"mixpower/domain/core"
	"mixpower/domain/power"
)

// ConfidenceLevel is the coverage of the Clopper-Pearson interval on power.
const ConfidenceLevel = 0.95

type coefTally struct {
	name        string
	estimates   []float64
	significant int
	failed      int
}

// Aggregate groups trial rows by coefficient, in order of first appearance, and
// estimates power as the share of non-failed trials with p < alpha. A coefficient
// with no successful trials gets an Undefined row instead of a division by zero.
func Aggregate(results *power.TrialResults, alpha float64) (*power.PowerTable, error) {
	if err := power.ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	if results == nil {
		return nil, core.NewArgumentError("results", "trial results are nil")
	}

	var order []*coefTally
	byName := make(map[string]*coefTally)
	for _, row := range results.Rows {
		t, ok := byName[row.CoefName]
		if !ok {
			t = &coefTally{name: row.CoefName}
			byName[row.CoefName] = t
			order = append(order, t)
		}
		if row.Failed || math.IsNaN(row.PValue) {
			t.failed++
			continue
		}
		t.estimates = append(t.estimates, row.Estimate)
		if row.PValue < alpha {
			t.significant++
		}
	}

	table := &power.PowerTable{
		Rows:         make([]power.PowerRow, 0, len(order)),
		Alpha:        alpha,
		NSims:        results.NSims,
		FailedTrials: results.FailedTrials,
	}
	for _, t := range order {
		table.Rows = append(table.Rows, t.row())
	}
	return table, nil
}

func (t *coefTally) row() power.PowerRow {
	valid := len(t.estimates)
	row := power.PowerRow{
		CoefName:    t.name,
		Significant: t.significant,
		Valid:       valid,
		Failed:      t.failed,
	}
	if valid == 0 {
		row.Undefined = true
		row.Power = math.NaN()
		row.MeanEstimate = math.NaN()
		row.LowerCI = math.NaN()
		row.UpperCI = math.NaN()
		return row
	}

	row.Power = float64(t.significant) / float64(valid)
	mean, err := stats.Mean(t.estimates)
	if err != nil {
		mean = math.NaN()
	}
	row.MeanEstimate = mean
	row.LowerCI, row.UpperCI = clopperPearson(t.significant, valid, ConfidenceLevel)
	return row
}

// clopperPearson returns the exact binomial interval for k successes in n trials.
func clopperPearson(k, n int, level float64) (float64, float64) {
	tail := (1 - level) / 2
	lower, upper := 0.0, 1.0
	if k > 0 {
		lower = distuv.Beta{Alpha: float64(k), Beta: float64(n - k + 1)}.Quantile(tail)
	}
	if k < n {
		upper = distuv.Beta{Alpha: float64(k + 1), Beta: float64(n - k)}.Quantile(1 - tail)
	}
	return lower, upper
}
