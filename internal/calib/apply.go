package calib

import (
	"context"

	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/spectra"
)

// Applicator subtracts a calibration function from the identifications,
// components and spectra of one run
type Applicator struct {
	Run               *spectra.Run
	Hits              []*hits.Hit
	Components        []*hits.Component
	Workers           int
	CorrectPrecursors bool
}

// inputs builds the feature vector of an observed peak
func inputs(rt float64, m spectra.Match) []float64 {
	var in [NumFeatures]float64
	in[FeatureMz] = m.Mz
	in[FeatureRT] = rt
	in[FeatureLogPred] = m.LogPred
	in[FeatureLogSucc] = m.LogSucc
	return in[:]
}

func shiftFunc(f Function) spectra.ShiftFunc {
	return func(rt float64, m spectra.Match) float64 {
		return f.Predict(inputs(rt, m))
	}
}

// Apply corrects, in this order, the identifications and components of
// the run's file and then the MS1 peaks (and MS2 precursors if
// CorrectPrecursors is set). Identifications and components are corrected
// before the peaks, so their features come from uncorrected spectra.
func (a *Applicator) Apply(ctx context.Context, f Function) error {
	shift := shiftFunc(f)
	file := a.Run.File()

	for _, h := range a.Hits {
		if h.Filename != file {
			continue
		}
		ms1 := a.Run.PrecedingMS1(h.ScanNumber)
		if ms1 == 0 {
			continue
		}
		m, _ := a.Run.Closest(ms1, h.Mz)
		m.Mz = h.Mz
		h.Correct(shift(a.Run.RetentionTime(ms1), m))
	}

	for _, c := range a.Components {
		if c.Filename != file {
			continue
		}
		ms1 := a.Run.PrecedingMS1(a.Run.ClosestScan(c.RTApex))
		if ms1 == 0 {
			continue
		}
		rt := a.Run.RetentionTime(ms1)
		for i := range c.ChargeStates {
			cs := &c.ChargeStates[i]
			m, _ := a.Run.Closest(ms1, cs.MzCentroid)
			m.Mz = cs.MzCentroid
			cs.MzCentroid -= shift(rt, m)
		}
	}

	if err := a.Run.TransformMS1(ctx, a.Workers, shift); err != nil {
		return err
	}
	if a.CorrectPrecursors {
		a.Run.TransformPrecursors(shift)
	}
	return nil
}
