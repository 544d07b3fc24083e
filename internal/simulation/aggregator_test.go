package simulation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixpower/domain/core"
	"mixpower/domain/power"
)

func trialRows(coef string, pvalues ...float64) []power.TrialResult {
	rows := make([]power.TrialResult, len(pvalues))
	for i, p := range pvalues {
		rows[i] = power.TrialResult{Trial: i, CoefName: coef, Estimate: float64(i), Statistic: 1, PValue: p}
		if math.IsNaN(p) {
			rows[i].Failed = true
			rows[i].Estimate = math.NaN()
		}
	}
	return rows
}

func TestAggregate_PowerPerCoefficient(t *testing.T) {
	nan := math.NaN()
	results := &power.TrialResults{NSims: 5, FailedTrials: 1}
	results.Rows = append(results.Rows, trialRows("b", 0.01, 0.2, 0.04, nan, 0.5)...)
	results.Rows = append(results.Rows, trialRows("a", 0.001, 0.001, 0.001, nan, 0.001)...)

	table, err := Aggregate(results, 0.05)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)

	// First-appearance order.
	assert.Equal(t, "b", table.Rows[0].CoefName)
	assert.Equal(t, "a", table.Rows[1].CoefName)

	b := table.Rows[0]
	assert.Equal(t, 4, b.Valid)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, 2, b.Significant)
	assert.InDelta(t, 0.5, b.Power, 1e-12)
	assert.InDelta(t, (0.0+1+2+4)/4, b.MeanEstimate, 1e-12)
	assert.Less(t, b.LowerCI, b.Power)
	assert.Greater(t, b.UpperCI, b.Power)
	assert.False(t, b.Undefined)

	a, ok := table.Row("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, a.Power)
	assert.Equal(t, 1.0, a.UpperCI)
	assert.NoError(t, a.Err())

	assert.Equal(t, 0.05, table.Alpha)
	assert.Equal(t, 5, table.NSims)
	assert.Equal(t, 1, table.FailedTrials)
}

func TestAggregate_StrictThreshold(t *testing.T) {
	results := &power.TrialResults{NSims: 2, Rows: trialRows("x", 0.05, 0.0499)}
	table, err := Aggregate(results, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Rows[0].Significant)
}

func TestAggregate_UndefinedWhenNoValidTrials(t *testing.T) {
	nan := math.NaN()
	results := &power.TrialResults{NSims: 3, FailedTrials: 3, Rows: trialRows("x", nan, nan, nan)}

	table, err := Aggregate(results, 0.05)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	row := table.Rows[0]
	assert.True(t, row.Undefined)
	assert.True(t, math.IsNaN(row.Power))
	assert.True(t, math.IsNaN(row.MeanEstimate))
	assert.Equal(t, 0, row.Valid)
	assert.Equal(t, 3, row.Failed)
	assert.ErrorIs(t, row.Err(), core.ErrAggregationUnderflow)
}

func TestAggregate_AlphaBounds(t *testing.T) {
	results := &power.TrialResults{NSims: 1, Rows: trialRows("x", 0.01)}
	for _, alpha := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		_, err := Aggregate(results, alpha)
		assert.True(t, core.IsInvalidArgument(err), "alpha %v", alpha)
	}
	_, err := Aggregate(nil, 0.05)
	assert.True(t, core.IsInvalidArgument(err))
}

func TestAggregate_Idempotent(t *testing.T) {
	results := &power.TrialResults{NSims: 4}
	results.Rows = append(results.Rows, trialRows("x", 0.01, 0.3, 0.02, 0.9)...)
	results.Rows = append(results.Rows, trialRows("y", 0.5, 0.6, 0.001, 0.07)...)

	first, err := Aggregate(results, 0.05)
	require.NoError(t, err)
	second, err := Aggregate(results, 0.05)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClopperPearson(t *testing.T) {
	lo, hi := clopperPearson(0, 10, 0.95)
	assert.Equal(t, 0.0, lo)
	assert.InDelta(t, 0.3085, hi, 1e-3)

	lo, hi = clopperPearson(10, 10, 0.95)
	assert.InDelta(t, 0.6915, lo, 1e-3)
	assert.Equal(t, 1.0, hi)

	lo, hi = clopperPearson(5, 10, 0.95)
	assert.InDelta(t, 0.1871, lo, 1e-3)
	assert.InDelta(t, 0.8129, hi, 1e-3)
}
