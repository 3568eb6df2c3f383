// Package isotope computes elemental compositions and theoretical
// isotope envelopes of peptides and proteoforms.
package isotope

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FormulaError reports a formula that cannot be resolved into an
// elemental composition
type FormulaError struct {
	Formula string
	Reason  string
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula %q: %s", e.Formula, e.Reason)
}

// Formula is an elemental composition. Counts may be negative while
// deltas (e.g. a neutral loss) are being built.
type Formula map[string]int

var reElement = regexp.MustCompile(`([A-Z][a-z]?)(-?\d*)`)

// ParseFormula parses formulas like "C6H12O6", "N-1H-2" and "H-1N-1O".
// An element may occur more than once, counts are added.
func ParseFormula(s string) (Formula, error) {
	f := make(Formula)
	s = strings.TrimSpace(s)
	consumed := 0
	for _, m := range reElement.FindAllStringSubmatchIndex(s, -1) {
		if m[0] != consumed {
			return nil, &FormulaError{Formula: s, Reason: "unexpected character at position " + strconv.Itoa(consumed)}
		}
		consumed = m[1]
		symbol := s[m[2]:m[3]]
		if _, ok := elements[symbol]; !ok {
			return nil, &FormulaError{Formula: s, Reason: "unknown element " + symbol}
		}
		n := 1
		if cnt := s[m[4]:m[5]]; cnt != "" {
			var err error
			n, err = strconv.Atoi(cnt)
			if err != nil {
				return nil, &FormulaError{Formula: s, Reason: "invalid count " + cnt}
			}
		}
		f[symbol] += n
	}
	if consumed != len(s) {
		return nil, &FormulaError{Formula: s, Reason: "unexpected character at position " + strconv.Itoa(consumed)}
	}
	return f, nil
}

// Add adds the composition of g to f
func (f Formula) Add(g Formula) {
	for el, n := range g {
		f[el] += n
		if f[el] == 0 {
			delete(f, el)
		}
	}
}

// Clone returns an independent copy
func (f Formula) Clone() Formula {
	c := make(Formula, len(f))
	for el, n := range f {
		c[el] = n
	}
	return c
}

// MonoisotopicMass returns the mass of the formula using the most
// abundant isotope of every element
func (f Formula) MonoisotopicMass() float64 {
	var m float64
	for el, n := range f {
		em, _ := monoisotopicMass(el)
		m += float64(n) * em
	}
	return m
}

// String writes the formula in Hill order
func (f Formula) String() string {
	symbols := make([]string, 0, len(f))
	for el, n := range f {
		if n != 0 {
			symbols = append(symbols, el)
		}
	}
	sort.Slice(symbols, func(i, j int) bool {
		return hillRank(symbols[i]) < hillRank(symbols[j]) ||
			(hillRank(symbols[i]) == hillRank(symbols[j]) && symbols[i] < symbols[j])
	})
	var b strings.Builder
	for _, el := range symbols {
		b.WriteString(el)
		if n := f[el]; n != 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}

func hillRank(el string) int {
	switch el {
	case "C":
		return 0
	case "H":
		return 1
	}
	return 2
}

// validate checks that a formula can be turned into a distribution
func (f Formula) validate() error {
	if len(f) == 0 {
		return &FormulaError{Formula: f.String(), Reason: "empty composition"}
	}
	for el, n := range f {
		if n < 0 {
			return &FormulaError{Formula: f.String(), Reason: "negative count for " + el}
		}
	}
	return nil
}
