package ml

import (
	"demeter/internal/ml/features"
)

// LinearModel is a plain linear regression over named numeric features.
// Models of family "other" typically arrive in this shape.
type LinearModel struct {
	Coefficients map[string]float64
	Intercept    float64
}

// Predict computes intercept + sum(coefficient * value). Features absent
// from the row contribute zero.
func (m *LinearModel) Predict(row *features.Row) (float64, error) {
	pred := m.Intercept
	for name, coef := range m.Coefficients {
		pred += coef * row.Num(name)
	}
	return pred, nil
}
