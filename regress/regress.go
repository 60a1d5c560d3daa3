// Package regress fits ordinary least squares models to numeric feature
// matrices. The Fit/Predict shape follows the usual estimator pattern so
// trained models drop into scoring code without adapters.
package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearRegression is an ordinary least squares model with intercept.
// Fit must be called before Predict.
type LinearRegression struct {
	coef      []float64
	intercept float64
	fitted    bool
}

// NewLinearRegression returns an unfitted model.
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Fit estimates coefficients from an n×p feature matrix and an n-vector
// target by QR-factorized least squares. Requires n > p.
func (m *LinearRegression) Fit(x mat.Matrix, y *mat.VecDense) error {
	n, p := x.Dims()
	if y.Len() != n {
		return fmt.Errorf("regress: %d rows of features but %d targets", n, y.Len())
	}
	if n <= p {
		return fmt.Errorf("regress: need more than %d rows to fit %d features", p, p)
	}

	// Augment with a leading ones column for the intercept.
	aug := mat.NewDense(n, p+1, nil)
	for i := 0; i < n; i++ {
		aug.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			v := x.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("regress: feature matrix has a non-finite value at (%d,%d)", i, j)
			}
			aug.Set(i, j+1, v)
		}
	}

	var qr mat.QR
	qr.Factorize(aug)

	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, y); err != nil {
		return fmt.Errorf("regress: least squares solve: %w", err)
	}

	m.intercept = beta.At(0, 0)
	m.coef = make([]float64, p)
	for j := 0; j < p; j++ {
		m.coef[j] = beta.At(j+1, 0)
	}
	m.fitted = true
	return nil
}

// Predict returns fitted values for an n×p feature matrix.
func (m *LinearRegression) Predict(x mat.Matrix) (*mat.VecDense, error) {
	if !m.fitted {
		return nil, fmt.Errorf("regress: model is not fitted")
	}
	n, p := x.Dims()
	if p != len(m.coef) {
		return nil, fmt.Errorf("regress: model has %d features but matrix has %d columns", len(m.coef), p)
	}

	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v := m.intercept
		for j := 0; j < p; j++ {
			v += m.coef[j] * x.At(i, j)
		}
		out.SetVec(i, v)
	}
	return out, nil
}

// Coefficients returns the per-feature coefficients, excluding the
// intercept.
func (m *LinearRegression) Coefficients() []float64 {
	return append([]float64(nil), m.coef...)
}

// Intercept returns the fitted intercept term.
func (m *LinearRegression) Intercept() float64 { return m.intercept }

// FeatureImportances scores each feature as |coefficient| scaled by the
// feature's standard deviation in x, normalized to sum to one. Features
// with zero spread contribute zero.
func (m *LinearRegression) FeatureImportances(x mat.Matrix) ([]float64, error) {
	if !m.fitted {
		return nil, fmt.Errorf("regress: model is not fitted")
	}
	n, p := x.Dims()
	if p != len(m.coef) {
		return nil, fmt.Errorf("regress: model has %d features but matrix has %d columns", len(m.coef), p)
	}
	if n < 2 {
		return nil, fmt.Errorf("regress: need at least 2 rows to estimate feature spread")
	}

	raw := make([]float64, p)
	var total float64
	for j := 0; j < p; j++ {
		var sum, sumSq float64
		for i := 0; i < n; i++ {
			v := x.At(i, j)
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(n)
		variance := sumSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		raw[j] = math.Abs(m.coef[j]) * math.Sqrt(variance)
		total += raw[j]
	}
	if total == 0 {
		return raw, nil
	}
	for j := range raw {
		raw[j] /= total
	}
	return raw, nil
}

// R2 computes the coefficient of determination between observed and
// predicted values: 1 − SSres/SStot. A constant observed series has no
// defined R² and is an error.
func R2(observed, predicted []float64) (float64, error) {
	if len(observed) != len(predicted) {
		return 0, fmt.Errorf("regress: %d observed values but %d predicted", len(observed), len(predicted))
	}
	if len(observed) == 0 {
		return 0, fmt.Errorf("regress: no values to score")
	}

	var mean float64
	for _, v := range observed {
		mean += v
	}
	mean /= float64(len(observed))

	var ssRes, ssTot float64
	for i, v := range observed {
		d := v - predicted[i]
		ssRes += d * d
		t := v - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		return 0, fmt.Errorf("regress: observed values are constant; R² is undefined")
	}
	return 1 - ssRes/ssTot, nil
}
