package calib

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearPoints(n int, f func(mz, rt float64) float64) []Point {
	rng := rand.New(rand.NewPCG(1, 2))
	points := make([]Point, n)
	for i := range points {
		mz := 400 + 1200*rng.Float64()
		rt := 3600 * rng.Float64()
		points[i].Inputs = [NumFeatures]float64{mz, rt, 10 * rng.Float64(), 10 * rng.Float64()}
		points[i].Label = f(mz, rt)
	}
	return points
}

func TestMSE(t *testing.T) {
	assert.Equal(t, 0.0, MSE(Identity{}, nil))
	points := []Point{{Label: 1}, {Label: -3}}
	assert.Equal(t, 5.0, MSE(Identity{}, points))
	assert.Equal(t, 4.0, MSE(&Constant{Offset: -1}, points))
}

func TestConstant(t *testing.T) {
	var c Constant
	assert.True(t, errors.Is(c.Train(nil), ErrModelFit))
	require.NoError(t, c.Train([]Point{{Label: 1}, {Label: 2}, {Label: 6}}))
	assert.Equal(t, 3.0, c.Predict(nil))
}

func TestLinear(t *testing.T) {
	points := linearPoints(200, func(mz, rt float64) float64 { return 0.002 + 1e-5*mz - 2e-6*rt })
	l := NewLinear(1<<FeatureMz | 1<<FeatureRT)
	assert.Equal(t, "linear[mz,rt]", l.Name())
	require.NoError(t, l.Train(points))
	require.Len(t, l.Coef, 3)
	assert.InDelta(t, 0.002, l.Coef[0], 1e-9)
	assert.InDelta(t, 1e-5, l.Coef[1], 1e-12)
	assert.InDelta(t, -2e-6, l.Coef[2], 1e-12)
	assert.Less(t, MSE(l, points), 1e-20)

	assert.Len(t, LinearCandidates(), NumTransforms+1)
}

func TestLinearSingular(t *testing.T) {
	// all points share one retention time, the rt column is collinear
	// with the intercept
	points := linearPoints(50, func(mz, rt float64) float64 { return 0.001 })
	for i := range points {
		points[i].Inputs[FeatureRT] = 600
	}
	err := NewLinear(1 << FeatureRT).Train(points)
	assert.True(t, errors.Is(err, ErrModelFit), "got %v", err)

	err = NewLinear(1<<FeatureMz | 1<<FeatureRT).Train(points[:2])
	assert.True(t, errors.Is(err, ErrModelFit), "got %v", err)
}

func TestForest(t *testing.T) {
	step := func(mz, rt float64) float64 {
		if rt < 1800 {
			return 0.004
		}
		return -0.002
	}
	points := linearPoints(400, step)
	cfg := DefaultConfig()
	f := NewForest(cfg, 7)
	assert.Equal(t, "forest[40 trees,depth 10,mz,rt]", f.Name())
	require.NoError(t, f.Train(points))
	assert.InDelta(t, 0.004, f.Predict([]float64{800, 300, 0, 0}), 5e-4)
	assert.InDelta(t, -0.002, f.Predict([]float64{800, 3300, 0, 0}), 5e-4)

	// same seed, same forest
	g := NewForest(cfg, 7)
	require.NoError(t, g.Train(points))
	assert.Equal(t, f.Predict([]float64{1000, 1790, 0, 0}), g.Predict([]float64{1000, 1790, 0, 0}))

	assert.True(t, errors.Is(NewForest(cfg, 1).Train(nil), ErrModelFit))
	cfg.FeatureMask = [NumFeatures]bool{}
	assert.True(t, errors.Is(NewForest(cfg, 1).Train(points), ErrModelFit))
}

func TestSplit(t *testing.T) {
	points := linearPoints(10, func(mz, rt float64) float64 { return mz })
	train, test := Split(points, rand.New(rand.NewPCG(3, 4)))
	assert.Len(t, train, 7)
	assert.Len(t, test, 3)
	// input is not reordered
	assert.Equal(t, linearPoints(10, func(mz, rt float64) float64 { return mz }), points)
}

// failing always fails to train
type failing struct{}

func (failing) Name() string              { return "failing" }
func (failing) Train([]Point) error       { return ErrModelFit }
func (failing) Predict([]float64) float64 { return math.NaN() }

func TestSelect(t *testing.T) {
	points := linearPoints(400, func(mz, rt float64) float64 { return 0.003 + 5e-6*mz })
	candidates := append([]Function{failing{}}, LinearCandidates()...)
	sel, err := Select(context.Background(), points, candidates, rand.New(rand.NewPCG(5, 6)), 4)
	require.NoError(t, err)
	assert.Equal(t, 300, sel.Train)
	assert.Equal(t, 100, sel.Test)
	assert.Equal(t, 1, sel.Skipped)
	assert.Less(t, sel.HeldOutMSE, sel.IdentityMSE)
	assert.Contains(t, sel.Best.Name(), "mz")
	assert.Less(t, sel.HeldOutMSE, 1e-15)
}

func TestSelectNeverRegresses(t *testing.T) {
	// labels are noise around zero, no candidate may be chosen unless it
	// beats identity on the held out points
	rng := rand.New(rand.NewPCG(8, 9))
	points := linearPoints(40, func(mz, rt float64) float64 { return 0 })
	for i := range points {
		points[i].Label = 1e-3 * rng.NormFloat64()
	}
	for seed := uint64(0); seed < 20; seed++ {
		sel, err := Select(context.Background(), points, LinearCandidates(), rand.New(rand.NewPCG(seed, seed)), 2)
		require.NoError(t, err)
		assert.LessOrEqual(t, sel.HeldOutMSE, sel.IdentityMSE)
		if _, ok := sel.Best.(Identity); !ok {
			assert.Less(t, sel.HeldOutMSE, sel.IdentityMSE)
		}
	}
}

func TestSelectEmpty(t *testing.T) {
	sel, err := Select(context.Background(), nil, LinearCandidates(), rand.New(rand.NewPCG(1, 1)), 1)
	require.NoError(t, err)
	assert.Equal(t, Identity{}, sel.Best)
	assert.Equal(t, NumTransforms+1, sel.Skipped)
}

func TestSelectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	points := linearPoints(20, func(mz, rt float64) float64 { return 1 })
	_, err := Select(ctx, points, LinearCandidates(), rand.New(rand.NewPCG(1, 1)), 1)
	assert.ErrorIs(t, err, context.Canceled)
}
