package isotope

// ProtonMass is used to convert between neutral mass and m/z
const ProtonMass = 1.007276466879

// Residue compositions (amino acid minus H2O)
var residues = map[rune]Formula{
	'A': {"C": 3, "H": 5, "N": 1, "O": 1},
	'R': {"C": 6, "H": 12, "N": 4, "O": 1},
	'N': {"C": 4, "H": 6, "N": 2, "O": 2},
	'D': {"C": 4, "H": 5, "N": 1, "O": 3},
	'C': {"C": 3, "H": 5, "N": 1, "O": 1, "S": 1},
	'E': {"C": 5, "H": 7, "N": 1, "O": 3},
	'Q': {"C": 5, "H": 8, "N": 2, "O": 2},
	'G': {"C": 2, "H": 3, "N": 1, "O": 1},
	'H': {"C": 6, "H": 7, "N": 3, "O": 1},
	'I': {"C": 6, "H": 11, "N": 1, "O": 1},
	'L': {"C": 6, "H": 11, "N": 1, "O": 1},
	'K': {"C": 6, "H": 12, "N": 2, "O": 1},
	'M': {"C": 5, "H": 9, "N": 1, "O": 1, "S": 1},
	'F': {"C": 9, "H": 9, "N": 1, "O": 1},
	'P': {"C": 5, "H": 7, "N": 1, "O": 1},
	'S': {"C": 3, "H": 5, "N": 1, "O": 2},
	'T': {"C": 4, "H": 7, "N": 1, "O": 2},
	'W': {"C": 11, "H": 10, "N": 2, "O": 1},
	'Y': {"C": 9, "H": 9, "N": 1, "O": 2},
	'V': {"C": 5, "H": 9, "N": 1, "O": 1},
	'O': {"C": 12, "H": 19, "N": 3, "O": 2},        // Pyrrolysine
	'U': {"C": 3, "H": 5, "N": 1, "O": 1, "Se": 1}, // Selenocysteine
}

var water = Formula{"H": 2, "O": 1}

// PeptideFormula returns the elemental composition of a sequence
// including the terminal water and the given modification formulas
// (deltas, e.g. "HPO3" or "H-1N-1O").
func PeptideFormula(sequence string, modFormulas []string) (Formula, error) {
	f := water.Clone()
	for _, aa := range sequence {
		r, ok := residues[aa]
		if !ok {
			return nil, &FormulaError{Formula: sequence, Reason: "unknown residue " + string(aa)}
		}
		f.Add(r)
	}
	for _, mf := range modFormulas {
		delta, err := ParseFormula(mf)
		if err != nil {
			return nil, err
		}
		f.Add(delta)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ToMz converts a neutral mass to the m/z at the given charge
func ToMz(mass float64, charge int) float64 {
	return mass/float64(charge) + ProtonMass
}

// ToMass converts an m/z at the given charge to a neutral mass
func ToMass(mz float64, charge int) float64 {
	return (mz - ProtonMass) * float64(charge)
}
