package calib

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// NumTransforms is the number of feature subsets used by linear models
const NumTransforms = 1<<NumFeatures - 1

// Designs with a larger condition number are treated as singular
const maxCondition = 1e12

// Linear is a least squares fit of the label on an intercept and a
// subset of the features. Bit i of Mask selects feature i.
type Linear struct {
	Mask uint
	Coef []float64 // intercept first
}

// NewLinear returns an untrained linear model on the features in mask
func NewLinear(mask uint) *Linear {
	return &Linear{Mask: mask}
}

// LinearCandidates returns the constant model followed by the linear
// models on every non-empty feature subset
func LinearCandidates() []Function {
	c := make([]Function, 0, NumTransforms+1)
	c = append(c, &Constant{})
	for mask := uint(1); mask <= NumTransforms; mask++ {
		c = append(c, NewLinear(mask))
	}
	return c
}

func (l *Linear) features() []int {
	var f []int
	for i := 0; i < NumFeatures; i++ {
		if l.Mask&(1<<i) != 0 {
			f = append(f, i)
		}
	}
	return f
}

// Name implements Function
func (l *Linear) Name() string {
	var names []string
	for _, i := range l.features() {
		names = append(names, featureNames[i])
	}
	return "linear[" + strings.Join(names, ",") + "]"
}

// Train implements Function
func (l *Linear) Train(points []Point) error {
	feats := l.features()
	cols := len(feats) + 1
	if len(feats) == 0 || len(points) < cols {
		return fmt.Errorf("%w: %d points for %d coefficients", ErrModelFit, len(points), cols)
	}
	x := mat.NewDense(len(points), cols, nil)
	y := mat.NewVecDense(len(points), nil)
	for r := range points {
		x.Set(r, 0, 1)
		for c, f := range feats {
			x.Set(r, c+1, points[r].Inputs[f])
		}
		y.SetVec(r, points[r].Label)
	}
	var qr mat.QR
	qr.Factorize(x)
	if c := qr.Cond(); c > maxCondition {
		return fmt.Errorf("%w: condition number %g", ErrModelFit, c)
	}
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		return fmt.Errorf("%w: %v", ErrModelFit, err)
	}
	coef := make([]float64, cols)
	for i := range coef {
		coef[i] = beta.AtVec(i)
		if math.IsNaN(coef[i]) || math.IsInf(coef[i], 0) {
			return fmt.Errorf("%w: non-finite coefficient", ErrModelFit)
		}
	}
	l.Coef = coef
	return nil
}

// Predict implements Function
func (l *Linear) Predict(inputs []float64) float64 {
	if l.Coef == nil {
		return 0
	}
	v := l.Coef[0]
	for c, f := range l.features() {
		v += l.Coef[c+1] * inputs[f]
	}
	return v
}
