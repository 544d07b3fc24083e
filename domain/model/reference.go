package model

import (
	"gonum.org/v1/gonum/mat"
)

// ReferenceModel is a frozen snapshot of a fitted model. All accessors return
// copies, so one instance can be shared by any number of trial workers.
type ReferenceModel struct {
	structure *Structure
	fit       Fit
}

// NewReferenceModel freezes a structure together with the fit obtained on it.
func NewReferenceModel(structure *Structure, fit Fit) *ReferenceModel {
	frozen := fit
	frozen.Coefficients = append([]Coefficient(nil), fit.Coefficients...)
	frozen.Theta = append([]float64(nil), fit.Theta...)
	return &ReferenceModel{structure: structure, fit: frozen}
}

// Structure returns the compiled model structure. Callers must treat it as read-only.
func (m *ReferenceModel) Structure() *Structure { return m.structure }

// Formula returns the model formula.
func (m *ReferenceModel) Formula() Formula { return m.structure.Formula }

// CoefNames returns the fixed-effect coefficient names in order.
func (m *ReferenceModel) CoefNames() []string {
	return append([]string(nil), m.structure.CoefNames...)
}

// ComponentNames returns the variance-component names in order.
func (m *ReferenceModel) ComponentNames() []string {
	return m.structure.ComponentNames()
}

// NumCoef is the number of fixed-effect coefficients.
func (m *ReferenceModel) NumCoef() int { return m.structure.NumCoef() }

// NumComponents is the number of variance components.
func (m *ReferenceModel) NumComponents() int { return m.structure.NumComponents() }

// Beta returns the fitted fixed effects.
func (m *ReferenceModel) Beta() []float64 { return m.fit.Beta() }

// Sigma returns the fitted residual standard deviation.
func (m *ReferenceModel) Sigma() float64 { return m.fit.Sigma }

// Theta returns the fitted random-intercept standard deviations.
func (m *ReferenceModel) Theta() []float64 {
	return append([]float64(nil), m.fit.Theta...)
}

// Coefficients returns the reference fit's Wald table.
func (m *ReferenceModel) Coefficients() []Coefficient {
	return append([]Coefficient(nil), m.fit.Coefficients...)
}

// X returns a copy of the fixed-effect design matrix.
func (m *ReferenceModel) X() *mat.Dense {
	return mat.DenseCopyOf(m.structure.X)
}
