package mixed

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
	builder "mixpower/internal/design"
	"mixpower/internal/testkit"
)

func standardTable(t *testing.T, subjectN, itemN int) *design.Table {
	t.Helper()
	table, err := builder.NewBuilder(testkit.RNGAdapter(), nil).Build(testkit.StandardSpec(subjectN, itemN), 1)
	require.NoError(t, err)
	return table
}

// simulate draws y = Xβ + u_subject + w_item + e.
func simulate(s *model.Structure, beta []float64, sigma float64, theta []float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	effects := make([][]float64, len(s.Groups))
	for g, grp := range s.Groups {
		effects[g] = make([]float64, grp.Levels)
		for l := range effects[g] {
			effects[g][l] = theta[g] * rng.NormFloat64()
		}
	}
	n, p := s.X.Dims()
	y := make([]float64, n)
	for i := range y {
		for j := 0; j < p; j++ {
			y[i] += s.X.At(i, j) * beta[j]
		}
		for g, grp := range s.Groups {
			y[i] += effects[g][grp.Index[i]]
		}
		y[i] += sigma * rng.NormFloat64()
	}
	return y
}

func TestAdapter_CompileStandardDesign(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 4, 6)

	s, err := a.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)

	assert.Equal(t, []string{model.InterceptName, "grouptreatment", "conditionhard", "grouptreatment:conditionhard"}, s.CoefNames)
	assert.Equal(t, []string{design.SubjectIDColumn, design.ItemIDColumn}, s.ComponentNames())
	assert.Equal(t, table.Rows(), s.Rows())
	assert.Equal(t, 8, s.Groups[0].Levels)
	assert.Equal(t, 6, s.Groups[1].Levels)

	// Deviation coding: the interaction column is the product of ±0.5 codes.
	for i := 0; i < s.Rows(); i++ {
		assert.InDelta(t, s.X.At(i, 1)*s.X.At(i, 2), s.X.At(i, 3), 1e-12)
		assert.InDelta(t, 0.25, math.Abs(s.X.At(i, 3)), 1e-12)
	}
}

func TestAdapter_CompileTreatmentDefault(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 2, 2)

	s, err := a.Compile(testkit.StandardFormula, table, nil)
	require.NoError(t, err)
	for i := 0; i < s.Rows(); i++ {
		v := s.X.At(i, 1)
		assert.True(t, v == 0 || v == 1)
	}
}

func TestAdapter_CompileErrors(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 2, 3)

	tests := map[string]string{
		"unknown predictor": "y ~ dose + (1 | subject_id)",
		"unknown grouping":  "y ~ group + (1 | classroom)",
		"no random term":    "y ~ group",
		"bad syntax":        "y group",
	}
	for name, formula := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Compile(formula, table, nil)
			require.Error(t, err)
			assert.True(t, core.IsInvalidArgument(err))
		})
	}
}

func TestAdapter_CompileRejectsDuplicateCoefficientNames(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	spec := testkit.StandardSpec(2, 3)
	spec.Factors = append(spec.Factors,
		testkit.MustContinuous("grouptreatment", design.SubjectContinuous, []float64{0.1, 0.4, 0.2, 0.9}))
	table, err := builder.NewBuilder(testkit.RNGAdapter(), nil).Build(spec, 1)
	require.NoError(t, err)

	_, err = a.Compile("y ~ group + grouptreatment + (1 | subject_id) + (1 | item_id)", table, nil)
	require.Error(t, err)
	assert.True(t, core.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), `"grouptreatment"`)

	s, err := a.Compile("y ~ condition + grouptreatment + (1 | subject_id) + (1 | item_id)", table, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{model.InterceptName, "conditionhard", "grouptreatment"}, s.CoefNames)
}

func TestAdapter_FitValidatesResponse(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 2, 3)
	s, err := a.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)

	_, err = a.Fit(context.Background(), s, make([]float64, s.Rows()-1))
	assert.ErrorIs(t, err, core.ErrLengthMismatch)

	y := make([]float64, s.Rows())
	y[3] = math.NaN()
	_, err = a.Fit(context.Background(), s, y)
	assert.True(t, core.IsInvalidArgument(err))
}

func TestAdapter_FitRecoversParameters(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 20, 30)
	s, err := a.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)

	beta := []float64{1, 0.5, 0.3, 0}
	theta := []float64{1, 0.8}
	y := simulate(s, beta, 1, theta, 42)

	fit, err := a.Fit(context.Background(), s, y)
	require.NoError(t, err)

	require.Len(t, fit.Coefficients, 4)
	for j, c := range fit.Coefficients {
		assert.Equal(t, s.CoefNames[j], c.Name)
		assert.Greater(t, c.StdErr, 0.0)
		assert.GreaterOrEqual(t, c.PValue, 0.0)
		assert.LessOrEqual(t, c.PValue, 1.0)
		assert.InDelta(t, c.Estimate/c.StdErr, c.Statistic, 1e-9)
	}

	assert.InDelta(t, 1.0, fit.Coefficients[0].Estimate, 0.8)
	assert.InDelta(t, 0.5, fit.Coefficients[1].Estimate, 1.2)
	assert.InDelta(t, 0.3, fit.Coefficients[2].Estimate, 0.2)
	assert.InDelta(t, 0.0, fit.Coefficients[3].Estimate, 0.3)

	// Within-subject, within-item contrast is estimated precisely.
	assert.Less(t, fit.Coefficients[2].StdErr, 0.1)
	assert.Less(t, fit.Coefficients[2].PValue, 0.01)

	assert.InDelta(t, 1.0, fit.Sigma, 0.1)
	require.Len(t, fit.Theta, 2)
	assert.InDelta(t, 1.0, fit.Theta[0], 0.45)
	assert.InDelta(t, 0.8, fit.Theta[1], 0.45)
	assert.False(t, math.IsNaN(fit.LogLik))
	assert.Greater(t, fit.Iterations, 0)
}

func TestAdapter_FitIsDeterministic(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 5, 8)
	s, err := a.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)
	y := simulate(s, []float64{0, 0.5, 0.5, 0}, 1, []float64{0.5, 0.5}, 7)

	first, err := a.Fit(context.Background(), s, y)
	require.NoError(t, err)
	second, err := a.Fit(context.Background(), s, y)
	require.NoError(t, err)
	assert.Equal(t, first.Beta(), second.Beta())
	assert.Equal(t, first.Theta, second.Theta)
}

func TestAdapter_FitNotConverged(t *testing.T) {
	a := NewAdapter(Options{MaxIter: 1, Tol: 1e-15}, nil)
	table := standardTable(t, 5, 8)
	s, err := a.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)
	y := simulate(s, []float64{0, 0.5, 0.5, 0}, 1, []float64{0.5, 0.5}, 7)

	_, err = a.Fit(context.Background(), s, y)
	assert.ErrorIs(t, err, core.ErrNotConverged)
	assert.True(t, core.IsFitFailure(err))
}

func TestAdapter_FitHonoursContext(t *testing.T) {
	a := NewAdapter(Options{}, nil)
	table := standardTable(t, 3, 4)
	s, err := a.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Fit(ctx, s, simulate(s, []float64{0, 0, 0, 0}, 1, []float64{1, 1}, 3))
	assert.ErrorIs(t, err, context.Canceled)
}
