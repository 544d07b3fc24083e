package mixed

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"mixpower/domain/core"
	"mixpower/domain/model"
)

// Options controls the EM iteration.
type Options struct {
	MaxIter int
	Tol     float64 // relative change in variance parameters that counts as converged
}

// DefaultOptions returns the iteration limits used by the CLI and API.
func DefaultOptions() Options {
	return Options{MaxIter: 2000, Tol: 1e-6}
}

// tauFloor keeps a collapsed variance component strictly positive relative to σ².
const tauFloor = 1e-8

// system holds the response-dependent cross products. Z is never materialised:
// each row has exactly one nonzero (1) per grouping.
type system struct {
	n, p, q int
	x       *mat.Dense
	y       []float64
	offsets []int
	sizes   []int
	zcols   [][]int // per row, the Z column of each grouping

	xtx   *mat.SymDense
	xty   *mat.VecDense
	ztz   *mat.SymDense
	ztx   *mat.Dense
	zty   *mat.VecDense
	xChol mat.Cholesky
}

func newSystem(s *model.Structure, y []float64) (*system, error) {
	n, p := s.X.Dims()
	sys := &system{n: n, p: p, x: s.X, y: y}

	for _, g := range s.Groups {
		sys.offsets = append(sys.offsets, sys.q)
		sys.sizes = append(sys.sizes, g.Levels)
		sys.q += g.Levels
	}

	sys.xtx = mat.NewSymDense(p, nil)
	sys.xtx.SymOuterK(1, s.X.T())
	if ok := sys.xChol.Factorize(sys.xtx); !ok {
		return nil, core.ErrRankDeficient
	}
	yv := mat.NewVecDense(n, y)
	sys.xty = mat.NewVecDense(p, nil)
	sys.xty.MulVec(s.X.T(), yv)

	sys.ztz = mat.NewSymDense(sys.q, nil)
	sys.ztx = mat.NewDense(sys.q, p, nil)
	sys.zty = mat.NewVecDense(sys.q, nil)
	sys.zcols = make([][]int, n)

	raw := s.X.RawMatrix()
	for r := 0; r < n; r++ {
		cols := make([]int, len(s.Groups))
		for g, grp := range s.Groups {
			cols[g] = sys.offsets[g] + grp.Index[r]
		}
		sys.zcols[r] = cols

		row := raw.Data[r*raw.Stride : r*raw.Stride+p]
		for a, ca := range cols {
			sys.zty.SetVec(ca, sys.zty.AtVec(ca)+y[r])
			for _, cb := range cols[a:] {
				sys.ztz.SetSym(ca, cb, sys.ztz.At(ca, cb)+1)
			}
			for j, v := range row {
				sys.ztx.Set(ca, j, sys.ztx.At(ca, j)+v)
			}
		}
	}
	return sys, nil
}

// randomSystem factorises C = ZᵀZ/σ² + G⁻¹.
func (sys *system) randomSystem(sigma2 float64, tau2 []float64) (*mat.Cholesky, error) {
	c := mat.NewSymDense(sys.q, nil)
	c.ScaleSym(1/sigma2, sys.ztz)
	for g, off := range sys.offsets {
		prec := 1 / tau2[g]
		for j := off; j < off+sys.sizes[g]; j++ {
			c.SetSym(j, j, c.At(j, j)+prec)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(c); !ok {
		return nil, fmt.Errorf("%w: random-effect system is not positive definite", core.ErrTrialFitFailure)
	}
	return &chol, nil
}

// residualSS returns ||y - Xβ - Zu||².
func (sys *system) residualSS(beta, u *mat.VecDense) float64 {
	raw := sys.x.RawMatrix()
	b := beta.RawVector().Data
	var rss float64
	for r := 0; r < sys.n; r++ {
		fitted := 0.0
		row := raw.Data[r*raw.Stride : r*raw.Stride+sys.p]
		for j, v := range row {
			fitted += v * b[j]
		}
		if u != nil {
			for _, c := range sys.zcols[r] {
				fitted += u.AtVec(c)
			}
		}
		d := sys.y[r] - fitted
		rss += d * d
	}
	return rss
}

// initialise starts EM from OLS and moment estimates of each component.
func (sys *system) initialise(s *model.Structure) (*mat.VecDense, float64, []float64, error) {
	beta := mat.NewVecDense(sys.p, nil)
	if err := sys.xChol.SolveVecTo(beta, sys.xty); err != nil {
		return nil, 0, nil, core.ErrRankDeficient
	}
	if sys.n <= sys.p {
		return nil, 0, nil, core.ErrRankDeficient
	}
	rss := sys.residualSS(beta, nil)
	s2 := rss / float64(sys.n-sys.p)
	if !(s2 > 0) {
		return nil, 0, nil, fmt.Errorf("%w: response has no residual variance", core.ErrTrialFitFailure)
	}

	raw := sys.x.RawMatrix()
	b := beta.RawVector().Data
	resid := make([]float64, sys.n)
	for r := range resid {
		fitted := 0.0
		for j, v := range raw.Data[r*raw.Stride : r*raw.Stride+sys.p] {
			fitted += v * b[j]
		}
		resid[r] = sys.y[r] - fitted
	}

	k := float64(len(s.Groups))
	tau2 := make([]float64, len(s.Groups))
	remaining := s2
	for g, grp := range s.Groups {
		sums := make([]float64, grp.Levels)
		counts := make([]float64, grp.Levels)
		for r, lvl := range grp.Index {
			sums[lvl] += resid[r]
			counts[lvl]++
		}
		means := make([]float64, 0, grp.Levels)
		for l := range sums {
			if counts[l] > 0 {
				means = append(means, sums[l]/counts[l])
			}
		}
		perLevel := float64(sys.n) / float64(grp.Levels)
		v, err := stats.SampleVariance(means)
		if err != nil || math.IsNaN(v) {
			v = 0
		}
		tau2[g] = math.Max(v-s2/perLevel, 0.1*s2/k)
		remaining -= tau2[g]
	}
	sigma2 := math.Max(remaining, 0.1*s2)
	return beta, sigma2, tau2, nil
}

// fit runs EM to the ML estimates, then computes the GLS Wald table.
func fit(ctx context.Context, s *model.Structure, y []float64, opts Options) (*model.Fit, error) {
	sys, err := newSystem(s, y)
	if err != nil {
		return nil, err
	}
	beta, sigma2, tau2, err := sys.initialise(s)
	if err != nil {
		return nil, err
	}

	converged := false
	iter := 0
	for iter = 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chol, err := sys.randomSystem(sigma2, tau2)
		if err != nil {
			return nil, err
		}

		// E-step: posterior mean and covariance of the random effects.
		rz := mat.NewVecDense(sys.q, nil)
		rz.MulVec(sys.ztx, beta)
		rz.SubVec(sys.zty, rz)
		rz.ScaleVec(1/sigma2, rz)
		u := mat.NewVecDense(sys.q, nil)
		if err := chol.SolveVecTo(u, rz); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrTrialFitFailure, err)
		}
		cinv := mat.NewSymDense(sys.q, nil)
		if err := chol.InverseTo(cinv); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrTrialFitFailure, err)
		}

		// M-step.
		newTau2 := make([]float64, len(tau2))
		for g, off := range sys.offsets {
			acc := 0.0
			for j := off; j < off+sys.sizes[g]; j++ {
				acc += u.AtVec(j)*u.AtVec(j) + cinv.At(j, j)
			}
			newTau2[g] = acc / float64(sys.sizes[g])
		}

		rhs := mat.NewVecDense(sys.p, nil)
		rhs.MulVec(sys.ztx.T(), u)
		rhs.SubVec(sys.xty, rhs)
		if err := sys.xChol.SolveVecTo(beta, rhs); err != nil {
			return nil, core.ErrRankDeficient
		}

		trace := 0.0
		for i := 0; i < sys.q; i++ {
			for j := 0; j < sys.q; j++ {
				if z := sys.ztz.At(i, j); z != 0 {
					trace += z * cinv.At(i, j)
				}
			}
		}
		newSigma2 := (sys.residualSS(beta, u) + trace) / float64(sys.n)
		if !(newSigma2 > 0) || math.IsInf(newSigma2, 0) {
			return nil, fmt.Errorf("%w: residual variance collapsed", core.ErrTrialFitFailure)
		}

		// Changes are measured on the σ² scale so a component shrinking
		// towards zero does not stall convergence.
		delta := math.Abs(newSigma2-sigma2) / sigma2
		floor := tauFloor * newSigma2
		for g := range newTau2 {
			if newTau2[g] < floor {
				newTau2[g] = floor
			}
			if d := math.Abs(newTau2[g]-tau2[g]) / sigma2; d > delta {
				delta = d
			}
		}
		sigma2, tau2 = newSigma2, newTau2

		if delta < opts.Tol {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations", core.ErrNotConverged, opts.MaxIter)
	}

	return sys.wald(sigma2, tau2, iter)
}

// wald computes GLS estimates and their covariance (XᵀV⁻¹X)⁻¹ through the
// Woodbury identity, V = σ²I + ZGZᵀ.
func (sys *system) wald(sigma2 float64, tau2 []float64, iter int) (*model.Fit, error) {
	chol, err := sys.randomSystem(sigma2, tau2)
	if err != nil {
		return nil, err
	}

	zx := mat.NewDense(sys.q, sys.p, nil)
	zx.Scale(1/sigma2, sys.ztx)
	cinvZX := mat.NewDense(sys.q, sys.p, nil)
	if err := chol.SolveTo(cinvZX, zx); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTrialFitFailure, err)
	}
	var correction mat.Dense
	correction.Mul(zx.T(), cinvZX)

	xtvx := mat.NewSymDense(sys.p, nil)
	for i := 0; i < sys.p; i++ {
		for j := i; j < sys.p; j++ {
			xtvx.SetSym(i, j, sys.xtx.At(i, j)/sigma2-correction.At(i, j))
		}
	}

	zy := mat.NewVecDense(sys.q, nil)
	zy.ScaleVec(1/sigma2, sys.zty)
	cinvZy := mat.NewVecDense(sys.q, nil)
	if err := chol.SolveVecTo(cinvZy, zy); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTrialFitFailure, err)
	}
	xtvy := mat.NewVecDense(sys.p, nil)
	xtvy.MulVec(zx.T(), cinvZy)
	xty := mat.NewVecDense(sys.p, nil)
	xty.ScaleVec(1/sigma2, sys.xty)
	xtvy.SubVec(xty, xtvy)

	var xChol mat.Cholesky
	if ok := xChol.Factorize(xtvx); !ok {
		return nil, core.ErrRankDeficient
	}
	beta := mat.NewVecDense(sys.p, nil)
	if err := xChol.SolveVecTo(beta, xtvy); err != nil {
		return nil, core.ErrRankDeficient
	}
	cov := mat.NewSymDense(sys.p, nil)
	if err := xChol.InverseTo(cov); err != nil {
		return nil, core.ErrRankDeficient
	}

	coefs := make([]model.Coefficient, sys.p)
	for j := range coefs {
		est := beta.AtVec(j)
		se := math.Sqrt(cov.At(j, j))
		if math.IsNaN(est) || !(se > 0) || math.IsInf(se, 0) {
			return nil, fmt.Errorf("%w: non-finite estimate for coefficient %d", core.ErrTrialFitFailure, j)
		}
		z := est / se
		coefs[j] = model.Coefficient{
			Estimate:  est,
			StdErr:    se,
			Statistic: z,
			PValue:    2 * distuv.UnitNormal.CDF(-math.Abs(z)),
		}
	}

	theta := make([]float64, len(tau2))
	for g, t := range tau2 {
		if t <= tauFloor*sigma2*1.0000001 {
			t = 0
		}
		theta[g] = math.Sqrt(t)
	}

	return &model.Fit{
		Coefficients: coefs,
		Sigma:        math.Sqrt(sigma2),
		Theta:        theta,
		Iterations:   iter,
		LogLik:       sys.logLik(beta, sigma2, tau2, chol),
	}, nil
}

// logLik is the marginal ML log-likelihood, using |V| = σ^{2n}|G||C|.
func (sys *system) logLik(beta *mat.VecDense, sigma2 float64, tau2 []float64, chol *mat.Cholesky) float64 {
	logDetG := 0.0
	for g, t := range tau2 {
		logDetG += float64(sys.sizes[g]) * math.Log(t)
	}

	ztr := mat.NewVecDense(sys.q, nil)
	ztr.MulVec(sys.ztx, beta)
	ztr.SubVec(sys.zty, ztr)
	ztr.ScaleVec(1/sigma2, ztr)
	cinvZtr := mat.NewVecDense(sys.q, nil)
	if err := chol.SolveVecTo(cinvZtr, ztr); err != nil {
		return math.NaN()
	}
	quad := sys.residualSS(beta, nil)/sigma2 - mat.Dot(ztr, cinvZtr)

	n := float64(sys.n)
	return -0.5 * (n*math.Log(2*math.Pi) + n*math.Log(sigma2) + logDetG + chol.LogDet() + quad)
}
