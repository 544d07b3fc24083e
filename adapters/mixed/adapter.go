package mixed

import (
	"context"
	"fmt"
	"math"

	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
	"mixpower/internal"
)

// Adapter fits linear mixed models with crossed random intercepts by maximum
// likelihood and reports Wald z tests for the fixed effects.
type Adapter struct {
	opts   Options
	logger *internal.Logger
}

// NewAdapter creates an adapter. Zero options fall back to DefaultOptions.
func NewAdapter(opts Options, logger *internal.Logger) *Adapter {
	def := DefaultOptions()
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = def.Tol
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Adapter{opts: opts, logger: logger.With("mixed")}
}

// Compile parses the formula and builds the structure for table.
func (a *Adapter) Compile(formula string, table *design.Table, contrasts model.Contrasts) (*model.Structure, error) {
	f, err := ParseFormula(formula)
	if err != nil {
		return nil, err
	}
	s, err := Compile(f, table, contrasts)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("compiled %s: %d rows, %d coefficients, %d groupings", f.String(), s.Rows(), s.NumCoef(), s.NumComponents())
	return s, nil
}

// Fit estimates the model on response. Coefficient names follow structure.CoefNames.
func (a *Adapter) Fit(ctx context.Context, structure *model.Structure, response []float64) (*model.Fit, error) {
	if structure == nil || structure.X == nil {
		return nil, core.NewArgumentError("structure", "not compiled")
	}
	if len(response) != structure.Rows() {
		return nil, core.NewLengthMismatchError("response", len(response), structure.Rows())
	}
	for i, v := range response {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewArgumentError("response", fmt.Sprintf("row %d is not finite", i))
		}
	}

	result, err := fit(ctx, structure, response, a.opts)
	if err != nil {
		return nil, err
	}
	for j := range result.Coefficients {
		result.Coefficients[j].Name = structure.CoefNames[j]
	}
	a.logger.Trace("fit converged in %d iterations, sigma=%.4f", result.Iterations, result.Sigma)
	return result, nil
}
