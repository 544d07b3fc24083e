package ports

import (
	"context"

	"mixpower/domain/design"
	"mixpower/domain/model"
)

// ModelAdapter wraps the mixed-effects fitting routine. Implementations must keep
// coefficient order and grouping identity stable across calls on one Structure.
type ModelAdapter interface {
	// Compile builds the response-independent model structure for a design table.
	Compile(formula string, table *design.Table, contrasts model.Contrasts) (*model.Structure, error)

	// Fit estimates the model on a response vector aligned with the structure's rows.
	Fit(ctx context.Context, structure *model.Structure, response []float64) (*model.Fit, error)
}
