package calib

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/isotope"
	"github.com/524D/tdmzcal/internal/mzml"
	"github.com/524D/tdmzcal/internal/mzml/mzmltest"
	"github.com/524D/tdmzcal/internal/spectra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrateConstantShift(t *testing.T) {
	run, ids := synthRun(t, synthSequences(6), 0.01)
	var rounds []RoundInfo
	c := &Calibrator{
		Spectra: run,
		Hits:    ids,
		Config:  testConfig(),
		OnRound: func(r RoundInfo) { rounds = append(rounds, r) },
	}
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Ran)
	assert.Nil(t, res.Reason)
	assert.Equal(t, rounds, res.Rounds)
	require.NotNil(t, res.Final)

	// linear: fit, then the count no longer grows. forest: fit, harvest,
	// fit, harvest, count no longer grows.
	require.Len(t, res.Rounds, 4)
	assert.Equal(t, LoopLinear, res.Rounds[0].Loop)
	assert.NotEmpty(t, res.Rounds[0].Function)
	assert.Less(t, res.Rounds[0].HeldOutMSE, res.Rounds[0].IdentityMSE)
	assert.Equal(t, LoopLinear, res.Rounds[1].Loop)
	assert.Empty(t, res.Rounds[1].Function)
	assert.Equal(t, LoopForest, res.Rounds[2].Loop)
	assert.Equal(t, LoopForest, res.Rounds[3].Loop)
	for _, r := range res.Rounds {
		assert.Equal(t, 4*len(ids), r.Points)
	}

	// harvesting again finds no error left
	points, _, err := NewHarvester(run, ids, nil, testConfig()).Harvest(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.Less(t, math.Abs(p.Label), 0.0005)
	}
	for _, h := range ids {
		assert.InDelta(t, h.TheoreticalMass, h.CorrectedMass, 0.001, h.Sequence)
		assert.InDelta(t, isotope.ToMz(h.TheoreticalMass, 2), h.Mz, 0.0005, h.Sequence)
		// precursors corrected like the hits
		mz, ok := run.PrecursorMz(h.ScanNumber)
		require.True(t, ok)
		assert.InDelta(t, h.Mz, mz, 0.0005)
	}
	s, ok := run.Scan(1)
	require.True(t, ok)
	assert.InDelta(t, 0.01, s.TotalShift, 0.0005)
}

func TestCalibrateLinearOnly(t *testing.T) {
	run, ids := synthRun(t, synthSequences(5), -0.006)
	cfg := testConfig()
	cfg.Forest = false
	cfg.CorrectPrecursors = false
	res, err := (&Calibrator{Spectra: run, Hits: ids, Config: cfg}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Ran)
	require.Len(t, res.Rounds, 2)
	for _, r := range res.Rounds {
		assert.Equal(t, LoopLinear, r.Loop)
	}
	for _, h := range ids {
		assert.InDelta(t, isotope.ToMz(h.TheoreticalMass, 2), h.Mz, 0.0005)
		// precursor left alone
		mz, _ := run.PrecursorMz(h.ScanNumber)
		assert.InDelta(t, isotope.ToMz(h.TheoreticalMass, 2)-0.006, mz, 1e-6)
	}
}

func TestCalibrateInsufficientData(t *testing.T) {
	run, ids := synthRun(t, synthSequences(4), 0.01)
	before, _ := run.Scan(1)
	res, err := (&Calibrator{Spectra: run, Hits: ids, Config: testConfig()}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.True(t, errors.Is(res.Reason, ErrInsufficientData))
	assert.Empty(t, res.Rounds)
	after, _ := run.Scan(1)
	assert.Equal(t, before, after)
}

func TestCalibrateMaxRounds(t *testing.T) {
	run, ids := synthRun(t, synthSequences(5), 0.01)
	cfg := testConfig()
	cfg.MaxRounds = 1
	res, err := (&Calibrator{Spectra: run, Hits: ids, Config: cfg}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rounds, 2)
	assert.Equal(t, LoopLinear, res.Rounds[0].Loop)
	assert.Equal(t, LoopForest, res.Rounds[1].Loop)
}

func TestCalibrateCancelled(t *testing.T) {
	run, ids := synthRun(t, synthSequences(5), 0.01)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Calibrator{Spectra: run, Hits: ids, Config: testConfig()}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrateOtherFile(t *testing.T) {
	run, ids := synthRun(t, synthSequences(6), 0.01)
	ids[0].Filename = "elsewhere"
	ids[1].Filename = "elsewhere"
	mz := ids[0].Mz
	res, err := (&Calibrator{Spectra: run, Hits: ids, Config: testConfig()}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.ErrorIs(t, res.Reason, ErrInsufficientData)

	ids[1].Filename = synthFile
	res, err = (&Calibrator{Spectra: run, Hits: ids, Config: testConfig()}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, 4*5, res.Rounds[0].Points)
	// identifications of other files are left alone
	assert.Equal(t, mz, ids[0].Mz)
	assert.InDelta(t, isotope.ToMz(ids[1].TheoreticalMass, 2), ids[1].Mz, 0.0005)
}

func TestApplyCompounds(t *testing.T) {
	run, ids := synthRun(t, synthSequences(5), 0.01)
	comp := &hits.Component{
		Filename:     synthFile,
		RTApex:       125,
		ChargeStates: []hits.ChargeState{{Charge: 2, Intensity: 1, MzCentroid: 600}},
	}
	a := &Applicator{Run: run, Hits: ids, Components: []*hits.Component{comp}, Workers: 2}
	mz := ids[0].Mz
	first, _ := run.Scan(1)

	f := &Constant{Offset: 0.002}
	require.NoError(t, a.Apply(context.Background(), f))
	require.NoError(t, a.Apply(context.Background(), f))

	assert.InDelta(t, mz-0.004, ids[0].Mz, 1e-9)
	assert.InDelta(t, isotope.ToMass(mz-0.004, 2), ids[0].CorrectedMass, 1e-9)
	assert.InDelta(t, 599.996, comp.ChargeStates[0].MzCentroid, 1e-9)
	s, _ := run.Scan(1)
	assert.InDelta(t, first.Peaks[0].Mz-0.004, s.Peaks[0].Mz, 1e-9)
	assert.InDelta(t, 0.004, s.TotalShift, 1e-12)
}

func TestApplyUsesPrecedingMS1(t *testing.T) {
	run, ids := synthRun(t, synthSequences(5), 0)
	// the shift depends on the retention time, the MS1 scan before the
	// MS2 scans is at 120 s
	f := &Linear{Mask: 1 << FeatureRT, Coef: []float64{0, 1e-5}}
	comp := &hits.Component{Filename: synthFile, RTApex: 140,
		ChargeStates: []hits.ChargeState{{Charge: 1, MzCentroid: 1000}}}
	mz := ids[0].Mz
	a := &Applicator{Run: run, Hits: ids, Components: []*hits.Component{comp}, Workers: 1}
	require.NoError(t, a.Apply(context.Background(), f))
	assert.InDelta(t, mz-120e-5, ids[0].Mz, 1e-9)
	// closest scan to 140 s is the last MS2 scan, walking back gives 120 s
	assert.InDelta(t, 1000-120e-5, comp.ChargeStates[0].MzCentroid, 1e-9)
}

func TestLockMassShifts(t *testing.T) {
	targets, err := LockMassTargets()
	require.NoError(t, err)
	require.Len(t, targets, 3)
	// NNNNN+H
	assert.InDelta(t, 589.2325, targets[0], 0.001)
	assert.InDelta(t, targets[0]-16.0187, targets[1], 0.001)
	assert.InDelta(t, targets[0]+0.9840, targets[2], 0.001)

	specs := []mzmltest.Spectrum{
		{MSLevel: 1, RetentionTime: 1, Peaks: []mzmltest.Peak{
			{Mz: targets[0] + 0.003, Intens: 1000}, {Mz: targets[0] - 0.008, Intens: 10}, {Mz: 700, Intens: 1e6}}},
		{MSLevel: 1, RetentionTime: 2, Peaks: []mzmltest.Peak{
			{Mz: targets[0] + 0.003, Intens: 1000}, {Mz: targets[2] - 0.005, Intens: 5000}}},
		{MSLevel: 2, RetentionTime: 3, Peaks: []mzmltest.Peak{{Mz: targets[0], Intens: 1}}},
		{MSLevel: 1, RetentionTime: 4, Peaks: []mzmltest.Peak{{Mz: targets[0] + 0.02, Intens: 1000}}},
	}
	f, err := mzml.Read(bytes.NewReader(mzmltest.Build(specs, mzmltest.Options{})))
	require.NoError(t, err)
	run, err := spectra.Load("lock", &f)
	require.NoError(t, err)

	shifts, err := LockMassShifts(run)
	require.NoError(t, err)
	require.Len(t, shifts, 3)
	assert.InDelta(t, 0.003, shifts[1], 1e-9)
	assert.InDelta(t, -0.005, shifts[2], 1e-9)
	assert.True(t, math.IsNaN(shifts[4]))
	_, ok := shifts[3]
	assert.False(t, ok)
}
