package spectra

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/524D/tdmzcal/internal/mzml"
	"github.com/524D/tdmzcal/internal/mzml/mzmltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestRun(t *testing.T) (*Run, *mzml.MzML) {
	t.Helper()
	specs := []mzmltest.Spectrum{
		{MSLevel: 1, RetentionTime: 10, WindowLow: 300, WindowHigh: 2000,
			Peaks: []mzmltest.Peak{{Mz: 500, Intens: 100}, {Mz: 500.5, Intens: math.E}, {Mz: 501, Intens: 50}}},
		{MSLevel: 2, RetentionTime: 11, PrecursorMz: 500.5, PrecursorCharge: 2,
			Peaks: []mzmltest.Peak{{Mz: 200, Intens: 1}}},
		{MSLevel: 2, RetentionTime: 12, PrecursorMz: 501, PrecursorCharge: 2},
		{MSLevel: 1, RetentionTime: 20,
			Peaks: []mzmltest.Peak{{Mz: 800, Intens: 10}, {Mz: 700, Intens: 20}}},
	}
	f, err := mzml.Read(bytes.NewReader(mzmltest.Build(specs, mzmltest.Options{})))
	require.NoError(t, err)
	r, err := Load("run1", &f)
	require.NoError(t, err)
	return r, &f
}

func TestLoad(t *testing.T) {
	r, _ := loadTestRun(t)
	assert.Equal(t, "run1", r.File())
	assert.Equal(t, 4, r.NumScans())
	assert.Equal(t, 2, r.MSLevel(2))
	assert.Equal(t, 0, r.MSLevel(5))
	assert.Equal(t, 20.0, r.RetentionTime(4))

	lo, hi := r.Window(1)
	assert.Equal(t, 300.0, lo)
	assert.Equal(t, 2000.0, hi)
	// no scan window: measured range, peaks sorted
	lo, hi = r.Window(4)
	assert.Equal(t, 700.0, lo)
	assert.Equal(t, 800.0, hi)

	s, ok := r.Scan(4)
	require.True(t, ok)
	assert.Equal(t, 700.0, s.Peaks[0].Mz)

	mz, ok := r.PrecursorMz(2)
	assert.True(t, ok)
	assert.InDelta(t, 500.5, mz, 1e-9)
	_, ok = r.PrecursorMz(1)
	assert.False(t, ok)
}

func TestQueries(t *testing.T) {
	r, _ := loadTestRun(t)

	m := r.Within(1, 500.4, 501.0)
	require.Len(t, m, 2)
	assert.Equal(t, 500.5, m[0].Mz)
	assert.InDelta(t, math.Log(100), m[0].LogPred, 1e-12)
	assert.InDelta(t, math.Log(50), m[0].LogSucc, 1e-12)
	// last peak has no successor
	assert.Equal(t, 0.0, m[1].LogSucc)
	assert.Empty(t, r.Within(1, 600, 700))
	assert.Empty(t, r.Within(9, 0, 1000))

	c, ok := r.Closest(1, 500.3)
	require.True(t, ok)
	assert.Equal(t, 500.5, c.Mz)
	_, ok = r.Closest(3, 500)
	assert.False(t, ok)

	assert.Equal(t, 1, r.ClosestScan(0))
	assert.Equal(t, 2, r.ClosestScan(11.2))
	assert.Equal(t, 4, r.ClosestScan(100))

	assert.Equal(t, 1, r.PrecedingMS1(3))
	assert.Equal(t, 4, r.PrecedingMS1(4))
	assert.Equal(t, 4, r.PrecedingMS1(10))
	assert.Equal(t, 0, r.PrecedingMS1(0))
}

func TestTransformAndWriteBack(t *testing.T) {
	r, f := loadTestRun(t)
	shift := func(rt float64, m Match) float64 { return 0.01 }

	require.NoError(t, r.TransformMS1(context.Background(), 2, shift))
	// compounding: a second application subtracts again
	require.NoError(t, r.TransformMS1(context.Background(), 2, shift))
	s, _ := r.Scan(1)
	assert.InDelta(t, 499.98, s.Peaks[0].Mz, 1e-9)
	assert.InDelta(t, 0.02, r.TotalShift(1), 1e-12)
	// MS2 peaks are never touched
	s, _ = r.Scan(2)
	assert.Equal(t, 200.0, s.Peaks[0].Mz)

	assert.Equal(t, 2, r.TransformPrecursors(func(rt float64, m Match) float64 {
		assert.Equal(t, 10.0, rt)
		return 0.005
	}))
	n, err := r.WriteBack(f)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	g, err := mzml.Read(&buf)
	require.NoError(t, err)
	p, err := g.ReadScan(0)
	require.NoError(t, err)
	assert.InDelta(t, 500.48, p[1].Mz, 1e-9)
	assert.Equal(t, math.E, p[1].Intens)
	mz, _, err := g.SelectedIonMz(1)
	require.NoError(t, err)
	assert.InDelta(t, 500.495, mz, 1e-7)
}

func TestTransformCancelled(t *testing.T) {
	r, _ := loadTestRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.TransformMS1(ctx, 1, func(float64, Match) float64 { return 1 })
	assert.ErrorIs(t, err, context.Canceled)
}
