package isotope

import (
	"math"
	"sort"
)

// Default parameters for envelope generation
const (
	DefaultFineResolution = 0.1
	DefaultMinProbability = 0.001
)

// Probabilities below pruneLimit are dropped while convolving
const pruneLimit = 1e-12

// Envelope is a theoretical isotope distribution. Masses and
// Intensities have the same length and are sorted by descending
// intensity. Intensities sum to one.
type Envelope struct {
	Masses      []float64
	Intensities []float64
}

// Len returns the number of isotope peaks
func (e Envelope) Len() int {
	return len(e.Masses)
}

// isotopologue aggregates all compositions with the same number of
// extra neutrons
type isotopologue struct {
	prob      float64
	massTimes float64 // sum of prob * mass, divided out at the end
}

// aggregated is indexed by the number of extra neutrons
type aggregated []isotopologue

// Distribution computes the isotope envelope of a formula. Isotopologue
// peaks closer than fineResolution are merged and peaks with a relative
// abundance below minProbability are removed.
func Distribution(f Formula, fineResolution, minProbability float64) (Envelope, error) {
	if err := f.validate(); err != nil {
		return Envelope{}, err
	}
	total := aggregated{{prob: 1}}
	// Iterate elements in a fixed order so results are bit-for-bit
	// reproducible
	symbols := make([]string, 0, len(f))
	for el := range f {
		symbols = append(symbols, el)
	}
	sort.Strings(symbols)
	for _, el := range symbols {
		total = convolve(total, elementPower(elements[el], f[el]))
	}

	type peak struct{ mass, intens float64 }
	peaks := make([]peak, 0, len(total))
	for _, iso := range total {
		if iso.prob <= 0 {
			continue
		}
		mass := iso.massTimes / iso.prob
		if n := len(peaks); n > 0 && mass-peaks[n-1].mass < fineResolution {
			prev := &peaks[n-1]
			prev.mass = (prev.mass*prev.intens + mass*iso.prob) / (prev.intens + iso.prob)
			prev.intens += iso.prob
			continue
		}
		peaks = append(peaks, peak{mass: mass, intens: iso.prob})
	}

	var sum float64
	for _, p := range peaks {
		sum += p.intens
	}
	kept := peaks[:0]
	for _, p := range peaks {
		if p.intens/sum >= minProbability {
			kept = append(kept, p)
		}
	}
	sum = 0
	for _, p := range kept {
		sum += p.intens
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].intens > kept[j].intens })

	env := Envelope{
		Masses:      make([]float64, len(kept)),
		Intensities: make([]float64, len(kept)),
	}
	for i, p := range kept {
		env.Masses[i] = p.mass
		env.Intensities[i] = p.intens / sum
	}
	return env, nil
}

// elementPower returns the aggregated distribution of n atoms of an
// element, using binary exponentiation of the single atom distribution
func elementPower(isotopes []Isotope, n int) aggregated {
	light := isotopes[0].Mass
	maxOffset := int(math.Round(isotopes[len(isotopes)-1].Mass - light))
	single := make(aggregated, maxOffset+1)
	for _, iso := range isotopes {
		o := int(math.Round(iso.Mass - light))
		single[o].prob += iso.Abundance
		single[o].massTimes += iso.Abundance * iso.Mass
	}
	result := aggregated{{prob: 1}}
	base := single
	for n > 0 {
		if n&1 == 1 {
			result = convolve(result, base)
		}
		n >>= 1
		if n > 0 {
			base = convolve(base, base)
		}
	}
	return result
}

func convolve(a, b aggregated) aggregated {
	out := make(aggregated, len(a)+len(b)-1)
	for oa, ia := range a {
		for ob, ib := range b {
			p := ia.prob * ib.prob
			if p < pruneLimit {
				continue
			}
			// mass of the combination is the sum of the mean masses
			out[oa+ob].prob += p
			out[oa+ob].massTimes += ia.massTimes*ib.prob + ib.massTimes*ia.prob
		}
	}
	// drop the negligible tail
	n := len(out)
	for n > 1 && out[n-1].prob < pruneLimit {
		n--
	}
	return out[:n]
}
