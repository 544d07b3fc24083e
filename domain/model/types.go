// Package model holds the formula, model-structure and fitted-model types shared
// by the model adapter and the simulation engine.
package model

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// InterceptName is the coefficient name of the intercept column.
const InterceptName = "(Intercept)"

// Term is one fixed-effect term: a single variable or an interaction of variables.
type Term struct {
	Vars []string
}

// Order is the interaction order (1 for main effects).
func (t Term) Order() int { return len(t.Vars) }

func (t Term) String() string { return strings.Join(t.Vars, ":") }

// Formula is a parsed model formula with intercept-only random terms.
type Formula struct {
	Response  string
	Intercept bool
	Fixed     []Term
	Random    []string // grouping variables of (1 | g) terms, in formula order
}

func (f Formula) String() string {
	parts := []string{}
	if f.Intercept {
		parts = append(parts, "1")
	} else {
		parts = append(parts, "0")
	}
	for _, t := range f.Fixed {
		parts = append(parts, t.String())
	}
	for _, g := range f.Random {
		parts = append(parts, fmt.Sprintf("(1 | %s)", g))
	}
	return f.Response + " ~ " + strings.Join(parts, " + ")
}

// Contrast selects how a categorical factor is coded into fixed-effect columns.
type Contrast string

const (
	Treatment Contrast = "treatment"
	Sum       Contrast = "sum"
	Deviation Contrast = "deviation"
)

// ParseContrast accepts the contrast names used in run files.
func ParseContrast(s string) (Contrast, error) {
	switch Contrast(strings.ToLower(strings.TrimSpace(s))) {
	case "", Treatment, "dummy":
		return Treatment, nil
	case Sum, "effect":
		return Sum, nil
	case Deviation, "anova":
		return Deviation, nil
	}
	return "", fmt.Errorf("unknown contrast coding %q", s)
}

// Contrasts maps factor names to their coding; unlisted factors use Treatment.
type Contrasts map[string]Contrast

// For returns the coding for a factor.
func (c Contrasts) For(factor string) Contrast {
	if c == nil {
		return Treatment
	}
	if v, ok := c[factor]; ok && v != "" {
		return v
	}
	return Treatment
}

// Grouping is one random-intercept grouping: a level index per row.
type Grouping struct {
	Name   string
	Index  []int
	Levels int
}

// Structure is the response-independent part of a model: everything needed to
// simulate a response and refit. It is never mutated after compilation.
type Structure struct {
	Formula   Formula
	Contrasts Contrasts
	X         *mat.Dense
	CoefNames []string
	Groups    []Grouping
}

// Rows is the number of observations.
func (s *Structure) Rows() int {
	r, _ := s.X.Dims()
	return r
}

// NumCoef is the number of fixed-effect coefficients.
func (s *Structure) NumCoef() int {
	_, c := s.X.Dims()
	return c
}

// NumComponents is the number of random-effect variance components.
func (s *Structure) NumComponents() int {
	return len(s.Groups)
}

// ComponentNames names each variance component after its grouping variable.
func (s *Structure) ComponentNames() []string {
	names := make([]string, len(s.Groups))
	for i, g := range s.Groups {
		names[i] = g.Name
	}
	return names
}

// Coefficient is one row of a Wald-test table.
type Coefficient struct {
	Name      string
	Estimate  float64
	StdErr    float64
	Statistic float64
	PValue    float64
}

// Fit is the output of one model fit.
type Fit struct {
	Coefficients []Coefficient
	Sigma        float64   // residual standard deviation
	Theta        []float64 // random-intercept standard deviations, one per grouping
	Iterations   int
	LogLik       float64
}

// Beta returns the fixed-effect estimates in coefficient order.
func (f *Fit) Beta() []float64 {
	out := make([]float64, len(f.Coefficients))
	for i, c := range f.Coefficients {
		out[i] = c.Estimate
	}
	return out
}
