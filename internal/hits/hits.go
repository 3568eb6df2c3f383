// Package hits holds the identified analytes used as calibration ground
// truth and the chromatographic features (components) that are corrected
// along with them, and reads and writes them in the table formats used by
// identification and deconvolution software.
package hits

import (
	"math"

	"github.com/524D/tdmzcal/internal/isotope"
)

// Modification is a post-translational or chemical modification of a hit.
// If Formula is empty, only Mass is known and the modification shifts the
// isotope envelope without changing its shape.
type Modification struct {
	Name     string
	Position int // one-based, 0 for the N-terminus
	Formula  string
	Mass     float64
}

// Hit is an identified analyte. Only Mz and CorrectedMass change after
// construction.
type Hit struct {
	Filename        string
	Accession       string
	Sequence        string
	Start           int
	Stop            int
	Mods            []Modification
	TheoreticalMass float64 // NaN when the composition cannot be resolved
	ReportedMass    float64
	CorrectedMass   float64
	Charge          int
	Mz              float64
	ScanNumber      int // one-based number of the MS2 scan
	RetentionTime   float64
	Score           float64

	row int // row in the source table, 0 if not from a table
}

// New completes a hit: it derives the theoretical mass from the sequence
// and modifications, fills Mz or ReportedMass from the other and starts
// CorrectedMass at ReportedMass.
func New(h Hit) *Hit {
	h.Mods = append([]Modification(nil), h.Mods...)
	for i, m := range h.Mods {
		if m.Formula != "" && m.Mass == 0 {
			if f, err := isotope.ParseFormula(m.Formula); err == nil {
				h.Mods[i].Mass = f.MonoisotopicMass()
			}
		}
	}
	h.TheoreticalMass = math.NaN()
	if f, extra, err := h.formula(); err == nil {
		h.TheoreticalMass = f.MonoisotopicMass() + extra
	}
	if h.Charge > 0 {
		if h.Mz == 0 && h.ReportedMass != 0 {
			h.Mz = isotope.ToMz(h.ReportedMass, h.Charge)
		} else if h.ReportedMass == 0 && h.Mz != 0 {
			h.ReportedMass = isotope.ToMass(h.Mz, h.Charge)
		}
	}
	h.CorrectedMass = h.ReportedMass
	return &h
}

// formula returns the elemental composition and the summed mass of
// modifications without formula
func (h *Hit) formula() (isotope.Formula, float64, error) {
	var formulas []string
	var extra float64
	for _, m := range h.Mods {
		if m.Formula != "" {
			formulas = append(formulas, m.Formula)
		} else {
			extra += m.Mass
		}
	}
	f, err := isotope.PeptideFormula(h.Sequence, formulas)
	return f, extra, err
}

// Envelope returns the theoretical isotope distribution of the hit,
// sorted by descending intensity. It fails with *isotope.FormulaError if
// the composition cannot be resolved.
func (h *Hit) Envelope(fineResolution, minProbability float64) (isotope.Envelope, error) {
	f, extra, err := h.formula()
	if err != nil {
		return isotope.Envelope{}, err
	}
	env, err := isotope.Distribution(f, fineResolution, minProbability)
	if err != nil {
		return env, err
	}
	if extra != 0 {
		for i := range env.Masses {
			env.Masses[i] += extra
		}
	}
	return env, nil
}

// MassError returns the difference between an observed mass of the hit
// and its theoretical mass, with the whole isotope offset removed. It is
// NaN when the theoretical mass is unknown.
func (h *Hit) MassError(observed float64) float64 {
	d := observed - h.TheoreticalMass
	return d - math.Round(d)
}

// Correct subtracts shift from the m/z and recomputes the corrected mass
func (h *Hit) Correct(shift float64) {
	h.Mz -= shift
	if h.Charge > 0 {
		h.CorrectedMass = isotope.ToMass(h.Mz, h.Charge)
	}
}
