package mixed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixpower/domain/core"
	"mixpower/domain/model"
)

func termNames(f model.Formula) []string {
	out := make([]string, len(f.Fixed))
	for i, t := range f.Fixed {
		out[i] = t.String()
	}
	return out
}

func TestParseFormula(t *testing.T) {
	tests := []struct {
		name      string
		formula   string
		intercept bool
		fixed     []string
		random    []string
	}{
		{
			name:      "crossed interaction",
			formula:   "y ~ group * condition + (1 | subject_id) + (1 | item_id)",
			intercept: true,
			fixed:     []string{"group", "condition", "group:condition"},
			random:    []string{"subject_id", "item_id"},
		},
		{
			name:      "three-way expansion ordered by order",
			formula:   "rt ~ a*b*c + (1|subject_id)",
			intercept: true,
			fixed:     []string{"a", "b", "c", "a:b", "a:c", "b:c", "a:b:c"},
			random:    []string{"subject_id"},
		},
		{
			name:      "explicit interaction and duplicate main effect",
			formula:   "y ~ a + a:b + a + (1 | item_id)",
			intercept: true,
			fixed:     []string{"a", "a:b"},
			random:    []string{"item_id"},
		},
		{
			name:      "intercept removed",
			formula:   "y ~ a - 1 + (1 | subject_id)",
			intercept: false,
			fixed:     []string{"a"},
			random:    []string{"subject_id"},
		},
		{
			name:      "zero intercept",
			formula:   "y ~ 0 + a + (1 | subject_id)",
			intercept: false,
			fixed:     []string{"a"},
			random:    []string{"subject_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFormula(tt.formula)
			require.NoError(t, err)
			assert.Equal(t, tt.intercept, f.Intercept)
			assert.Equal(t, tt.fixed, termNames(f))
			assert.Equal(t, tt.random, f.Random)
		})
	}
}

func TestParseFormula_Rejects(t *testing.T) {
	bad := map[string]string{
		"no tilde":            "y group + (1 | subject_id)",
		"two tildes":          "y ~ a ~ b",
		"random slope":        "y ~ a + (a | subject_id)",
		"duplicate random":    "y ~ a + (1 | subject_id) + (1 | subject_id)",
		"unbalanced":          "y ~ a + (1 | subject_id",
		"removing a variable": "y ~ a - b + (1 | subject_id)",
		"bad identifier":      "y ~ 2a + (1 | subject_id)",
		"empty rhs":           "y ~ ",
	}
	for name, formula := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFormula(formula)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestContrastMatrix(t *testing.T) {
	m, labels, err := contrastMatrix(2, model.Deviation)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, labels)
	assert.InDelta(t, -0.5, m[0][0], 1e-12)
	assert.InDelta(t, 0.5, m[1][0], 1e-12)

	m, labels, err = contrastMatrix(3, model.Treatment)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, labels)
	assert.Equal(t, [][]float64{{0, 0}, {1, 0}, {0, 1}}, m)

	m, labels, err = contrastMatrix(3, model.Sum)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, labels)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}, {-1, -1}}, m)

	_, _, err = contrastMatrix(2, model.Contrast("helmert"))
	assert.Error(t, err)
}
