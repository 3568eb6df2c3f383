package isotope

// Isotope is a single stable isotope of an element
type Isotope struct {
	Mass      float64
	Abundance float64
}

// Stable isotopes, lightest first. Masses and natural abundances from
// the IUPAC/NIST tables.
var elements = map[string][]Isotope{
	"H":  {{1.00782503207, 0.999885}, {2.0141017778, 0.000115}},
	"Li": {{6.015122795, 0.0759}, {7.01600455, 0.9241}},
	"C":  {{12.0, 0.9893}, {13.0033548378, 0.0107}},
	"N":  {{14.0030740048, 0.99636}, {15.0001088982, 0.00364}},
	"O":  {{15.99491461956, 0.99757}, {16.99913170, 0.00038}, {17.9991610, 0.00205}},
	"F":  {{18.99840322, 1.0}},
	"Na": {{22.9897692809, 1.0}},
	"Mg": {{23.985041700, 0.7899}, {24.98583692, 0.1000}, {25.982592929, 0.1101}},
	"P":  {{30.97376163, 1.0}},
	"S":  {{31.97207100, 0.9499}, {32.97145876, 0.0075}, {33.96786690, 0.0425}, {35.96708076, 0.0001}},
	"Cl": {{34.96885268, 0.7576}, {36.96590259, 0.2424}},
	"K":  {{38.96370668, 0.932581}, {39.96399848, 0.000117}, {40.96182576, 0.067302}},
	"Ca": {{39.96259098, 0.96941}, {41.95861801, 0.00647}, {42.9587666, 0.00135}, {43.9554818, 0.02086}, {45.9536926, 0.00004}, {47.952534, 0.00187}},
	"Fe": {{53.9396105, 0.05845}, {55.9349375, 0.91754}, {56.9353940, 0.02119}, {57.9332756, 0.00282}},
	"Cu": {{62.9295975, 0.6915}, {64.9277895, 0.3085}},
	"Zn": {{63.9291422, 0.48268}, {65.9260334, 0.27975}, {66.9271273, 0.04102}, {67.9248442, 0.19024}, {69.9253193, 0.00631}},
	"Se": {{73.9224764, 0.0089}, {75.9192136, 0.0937}, {76.9199140, 0.0763}, {77.9173091, 0.2377}, {79.9165213, 0.4961}, {81.9166994, 0.0873}},
	"Br": {{78.9183371, 0.5069}, {80.9162906, 0.4931}},
	"I":  {{126.904473, 1.0}},
}

// monoisotopicMass returns the mass of the most abundant isotope,
// which is the convention for monoisotopic masses.
func monoisotopicMass(symbol string) (float64, bool) {
	isotopes, ok := elements[symbol]
	if !ok {
		return 0, false
	}
	best := isotopes[0]
	for _, iso := range isotopes[1:] {
		if iso.Abundance > best.Abundance {
			best = iso
		}
	}
	return best.Mass, true
}
