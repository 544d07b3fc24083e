package mixed

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
)

// codedColumn is one column of a variable's contribution to X.
type codedColumn struct {
	name   string
	values []float64
}

// Compile builds the fixed-effect matrix and grouping structure for a table.
// The response does not need to be present.
func Compile(formula model.Formula, table *design.Table, contrasts model.Contrasts) (*model.Structure, error) {
	n := table.Rows()
	if n == 0 {
		return nil, core.NewArgumentError("design", "table has no rows")
	}
	if len(formula.Random) == 0 {
		return nil, formulaError(formula.String(), "at least one (1 | group) term is required")
	}

	coded := make(map[string][]codedColumn)
	for _, term := range formula.Fixed {
		for _, v := range term.Vars {
			if _, done := coded[v]; done {
				continue
			}
			cols, err := codeVariable(table, v, contrasts.For(v))
			if err != nil {
				return nil, err
			}
			coded[v] = cols
		}
	}

	var columns []codedColumn
	if formula.Intercept {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		columns = append(columns, codedColumn{name: model.InterceptName, values: ones})
	}
	for _, term := range formula.Fixed {
		columns = append(columns, termColumns(term, coded, n)...)
	}
	if len(columns) == 0 {
		return nil, formulaError(formula.String(), "no fixed-effect columns")
	}
	if len(columns) >= n {
		return nil, core.NewArgumentError("design", fmt.Sprintf("%d coefficients for %d rows", len(columns), n))
	}

	p := len(columns)
	data := make([]float64, n*p)
	names := make([]string, p)
	seen := make(map[string]bool, p)
	for j, col := range columns {
		if seen[col.name] {
			return nil, core.NewArgumentError("formula", fmt.Sprintf("coefficient name %q is produced by more than one column; rename a factor, level or covariate", col.name))
		}
		seen[col.name] = true
		names[j] = col.name
		for i, v := range col.values {
			data[i*p+j] = v
		}
	}
	x := mat.NewDense(n, p, data)

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, core.NewArgumentError("formula", fmt.Sprintf("fixed-effect matrix for %q is rank deficient", formula.String()))
	}

	groups := make([]model.Grouping, len(formula.Random))
	for g, name := range formula.Random {
		codes, levels, ok := table.Grouping(name)
		if !ok {
			return nil, core.NewArgumentError("formula", fmt.Sprintf("grouping %q is not a categorical column", name))
		}
		if levels < 2 {
			return nil, core.NewArgumentError("formula", fmt.Sprintf("grouping %q has fewer than 2 levels", name))
		}
		groups[g] = model.Grouping{Name: name, Index: append([]int(nil), codes...), Levels: levels}
	}

	copied := make(model.Contrasts, len(contrasts))
	for k, v := range contrasts {
		copied[k] = v
	}
	return &model.Structure{
		Formula:   formula,
		Contrasts: copied,
		X:         x,
		CoefNames: names,
		Groups:    groups,
	}, nil
}

func codeVariable(table *design.Table, name string, contrast model.Contrast) ([]codedColumn, error) {
	col, ok := table.Column(name)
	if !ok || col.Response {
		return nil, core.NewArgumentError("formula", fmt.Sprintf("unknown predictor %q", name))
	}
	if col.Kind == design.Numeric {
		return []codedColumn{{name: name, values: col.Values}}, nil
	}

	matrix, labels, err := contrastMatrix(len(col.Levels), contrast)
	if err != nil {
		return nil, core.NewArgumentError("contrasts", fmt.Sprintf("%s: %v", name, err))
	}
	out := make([]codedColumn, len(labels))
	for j, levelIdx := range labels {
		values := make([]float64, len(col.Codes))
		for i, code := range col.Codes {
			values[i] = matrix[code][j]
		}
		out[j] = codedColumn{name: name + col.Levels[levelIdx], values: values}
	}
	return out, nil
}

// contrastMatrix returns a k × (k-1) coding matrix and, per column, the index of
// the level it is named after.
func contrastMatrix(k int, contrast model.Contrast) ([][]float64, []int, error) {
	m := make([][]float64, k)
	for i := range m {
		m[i] = make([]float64, k-1)
	}
	labels := make([]int, k-1)

	switch contrast {
	case model.Treatment, "":
		for j := 0; j < k-1; j++ {
			labels[j] = j + 1
			m[j+1][j] = 1
		}
	case model.Deviation:
		for j := 0; j < k-1; j++ {
			labels[j] = j + 1
			for i := 0; i < k; i++ {
				m[i][j] = -1 / float64(k)
			}
			m[j+1][j] += 1
		}
	case model.Sum:
		for j := 0; j < k-1; j++ {
			labels[j] = j
			m[j][j] = 1
			m[k-1][j] = -1
		}
	default:
		return nil, nil, fmt.Errorf("unknown contrast %q", contrast)
	}
	return m, labels, nil
}

// termColumns forms the product columns of a term, first variable varying slowest.
func termColumns(term model.Term, coded map[string][]codedColumn, n int) []codedColumn {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	out := []codedColumn{{name: "", values: ones}}
	for _, v := range term.Vars {
		var next []codedColumn
		for _, left := range out {
			for _, right := range coded[v] {
				values := make([]float64, n)
				for i := range values {
					values[i] = left.values[i] * right.values[i]
				}
				name := right.name
				if left.name != "" {
					name = left.name + ":" + right.name
				}
				next = append(next, codedColumn{name: name, values: values})
			}
		}
		out = next
	}
	return out
}
