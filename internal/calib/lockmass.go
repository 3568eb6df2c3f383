package calib

import (
	"math"

	"github.com/524D/tdmzcal/internal/isotope"
	"github.com/524D/tdmzcal/internal/spectra"
)

// Peaks within lockMassTolerance (m/z) of a lock mass are candidates
const lockMassTolerance = 0.01

// Polyasparagine lock mass and its ammonia loss and deamidation products
var lockMassDeltas = []string{"", "N-1H-2", "H-1N-1O"}

// LockMassTargets returns the m/z (charge 1) of the most abundant isotope
// of each lock mass variant
func LockMassTargets() ([]float64, error) {
	var targets []float64
	for _, delta := range lockMassDeltas {
		var mods []string
		if delta != "" {
			mods = []string{delta}
		}
		f, err := isotope.PeptideFormula("NNNNN", mods)
		if err != nil {
			return nil, err
		}
		env, err := isotope.Distribution(f, isotope.DefaultFineResolution, isotope.DefaultMinProbability)
		if err != nil {
			return nil, err
		}
		targets = append(targets, isotope.ToMz(env.Masses[0], 1))
	}
	return targets, nil
}

// LockMassShifts estimates the m/z error of every MS1 scan from the most
// intense lock mass peak in the scan. The map is keyed by scan number,
// the shift is NaN when no lock mass was found.
func LockMassShifts(run *spectra.Run) (map[int]float64, error) {
	targets, err := LockMassTargets()
	if err != nil {
		return nil, err
	}
	shifts := make(map[int]float64)
	for n := 1; n <= run.NumScans(); n++ {
		if run.MSLevel(n) != 1 {
			continue
		}
		best, shift := 0.0, math.NaN()
		for _, target := range targets {
			for _, m := range run.Within(n, target-lockMassTolerance, target+lockMassTolerance) {
				if m.Intens > best {
					best, shift = m.Intens, m.Mz-target
				}
			}
		}
		shifts[n] = shift
	}
	return shifts, nil
}
