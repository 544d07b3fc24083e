package simulation

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"mixpower/adapters/mixed"
	"mixpower/domain/model"
	"mixpower/domain/power"
	builder "mixpower/internal/design"
	"mixpower/internal/testkit"
)

func standardTarget(beta ...float64) power.TargetParameters {
	return power.TargetParameters{Beta: beta, Sigma: 2, Theta: []float64{1, 1}}
}

// referenceModel builds the standard design, draws one response from target and
// fits it, the way the service seeds a run.
func referenceModel(t *testing.T, subjectN, itemN int, target power.TargetParameters) (*model.ReferenceModel, *mixed.Adapter) {
	t.Helper()
	table, err := builder.NewBuilder(testkit.RNGAdapter(), nil).Build(testkit.StandardSpec(subjectN, itemN), 11)
	require.NoError(t, err)

	adapter := mixed.NewAdapter(mixed.Options{}, nil)
	structure, err := adapter.Compile(testkit.StandardFormula, table, testkit.StandardContrasts())
	require.NoError(t, err)

	y := resample(structure, target, testkit.RNGAdapter().SeededStream("reference", 11))
	fit, err := adapter.Fit(context.Background(), structure, y)
	require.NoError(t, err)
	return model.NewReferenceModel(structure, *fit), adapter
}

func config(nsims int, target power.TargetParameters) power.SimulationConfig {
	return power.SimulationConfig{
		NSims:   nsims,
		Target:  target,
		Alpha:   power.DefaultAlpha,
		Seed:    2024,
		Workers: 4,
	}
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func requireSameResults(t *testing.T, a, b *power.TrialResults) {
	t.Helper()
	require.Equal(t, a.NSims, b.NSims)
	require.Equal(t, a.FailedTrials, b.FailedTrials)
	require.Len(t, b.Rows, len(a.Rows))
	for i := range a.Rows {
		x, y := a.Rows[i], b.Rows[i]
		require.Equal(t, x.Trial, y.Trial)
		require.Equal(t, x.CoefName, y.CoefName)
		require.Equal(t, x.Failed, y.Failed)
		require.True(t, sameFloat(x.Estimate, y.Estimate), "row %d estimate %v vs %v", i, x.Estimate, y.Estimate)
		require.True(t, sameFloat(x.PValue, y.PValue), "row %d p-value %v vs %v", i, x.PValue, y.PValue)
	}
}
