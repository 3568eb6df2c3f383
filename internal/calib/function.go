package calib

import (
	"github.com/524D/tdmzcal/internal/hits"
	"gonum.org/v1/gonum/stat"
)

// Point is a labeled calibration point. Label is the observed minus the
// theoretical m/z.
type Point struct {
	Inputs [NumFeatures]float64
	Label  float64
	Hit    *hits.Hit // may be nil
}

// Function is a trainable m/z error model. Predict returns the expected
// error for a feature vector, which is subtracted from the observed m/z.
type Function interface {
	Name() string
	Train(points []Point) error
	Predict(inputs []float64) float64
}

// MSE returns the mean squared error of f on points, 0 for no points
func MSE(f Function, points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	sq := make([]float64, len(points))
	for i := range points {
		d := f.Predict(points[i].Inputs[:]) - points[i].Label
		sq[i] = d * d
	}
	return stat.Mean(sq, nil)
}

// Identity predicts no error
type Identity struct{}

// Name implements Function
func (Identity) Name() string { return "identity" }

// Train implements Function
func (Identity) Train([]Point) error { return nil }

// Predict implements Function
func (Identity) Predict([]float64) float64 { return 0 }

// Constant predicts the mean label of the training points
type Constant struct {
	Offset float64
}

// Name implements Function
func (c *Constant) Name() string { return "constant" }

// Train implements Function
func (c *Constant) Train(points []Point) error {
	if len(points) == 0 {
		return ErrModelFit
	}
	c.Offset = stat.Mean(labels(points), nil)
	return nil
}

// Predict implements Function
func (c *Constant) Predict([]float64) float64 { return c.Offset }

func labels(points []Point) []float64 {
	l := make([]float64, len(points))
	for i := range points {
		l[i] = points[i].Label
	}
	return l
}
