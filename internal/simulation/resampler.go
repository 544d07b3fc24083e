// Package simulation runs the Monte Carlo loop: parametric resampling from a
// frozen reference model, parallel refits, and aggregation into power estimates.
package simulation

import (
	"math/rand/v2"

	"mixpower/domain/core"
	"mixpower/domain/model"
	"mixpower/domain/power"
)

// Resample draws one synthetic response vector from the reference structure
// under target: y = Xβ + Σ_g θ_g·u_g[level] + σ·e with standard normal u and e.
// Random effects are drawn grouping by grouping in level order, then residuals
// in row order, so a fixed stream always yields the same vector.
func Resample(ref *model.ReferenceModel, target power.TargetParameters, rng *rand.Rand) ([]float64, error) {
	if ref == nil {
		return nil, core.NewArgumentError("reference", "model is nil")
	}
	if err := target.Validate(ref.NumCoef(), ref.NumComponents()); err != nil {
		return nil, err
	}
	return resample(ref.Structure(), target, rng), nil
}

// DrawResponse resamples directly from a compiled structure. The service uses it
// to create the response the reference model is fitted on.
func DrawResponse(s *model.Structure, target power.TargetParameters, rng *rand.Rand) ([]float64, error) {
	if s == nil || s.X == nil {
		return nil, core.NewArgumentError("structure", "not compiled")
	}
	if err := target.Validate(s.NumCoef(), s.NumComponents()); err != nil {
		return nil, err
	}
	return resample(s, target, rng), nil
}

// resample assumes target has already been validated against s.
func resample(s *model.Structure, target power.TargetParameters, rng *rand.Rand) []float64 {
	n, p := s.X.Dims()
	y := make([]float64, n)

	raw := s.X.RawMatrix()
	for i := 0; i < n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+p]
		var mu float64
		for j, v := range row {
			mu += v * target.Beta[j]
		}
		y[i] = mu
	}

	for g, grp := range s.Groups {
		effects := make([]float64, grp.Levels)
		for l := range effects {
			effects[l] = target.Theta[g] * rng.NormFloat64()
		}
		for i, lvl := range grp.Index {
			y[i] += effects[lvl]
		}
	}

	for i := range y {
		y[i] += target.Sigma * rng.NormFloat64()
	}
	return y
}
