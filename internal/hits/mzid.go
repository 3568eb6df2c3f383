package hits

import (
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"

	"github.com/524D/tdmzcal/internal/mzidentml"
	"github.com/524D/tdmzcal/internal/rangespec"
)

// DefaultScoreFilter accepts confident PSMs of some common search
// engines and post-search scoring software:
//
//	MS:1002257 (Comet:expectation value)
//	MS:1001330 (X!Tandem:expectation value)
//	MS:1001159 (SEQUEST:expectation value)
//	MS:1002466 (PeptideShaker PSM score)
const DefaultScoreFilter = "MS:1002257(0.0:1e-2)MS:1001330(0.0:1e-2)MS:1001159(0.0:1e-2)MS:1002466(0.99:)"

type scoreRange struct {
	minScore float64 // Minimum score to accept
	maxScore float64 // Maximum score to accept
	priority int     // Priority of the score, lowest is best
}

// ScoreFilter maps CV accessions or score names to accepted ranges
type ScoreFilter map[string]scoreRange

// ParseScoreFilter parses filters like "MS:1002257(0.0:1e-2)MS:1002466(0.99:)".
// When multiple score names/CV terms are specified, the first one on the
// list that matches a score of an identification is used.
func ParseScoreFilter(scoreFilterStr string) (ScoreFilter, error) {
	scoreFilt := make(ScoreFilter)

	re := regexp.MustCompile(`([^\(]+)\(([^\)]*)\)`)
	matchedStringsList := re.FindAllStringSubmatch(scoreFilterStr, -1)
	for n, matchedStrings := range matchedStringsList {

		scoreName := matchedStrings[1]
		scoreRangeStr := matchedStrings[2]
		_, ok := scoreFilt[scoreName]
		if ok {
			return nil, errors.New(scoreName + ` defined more than once.`)
		}
		minScore, maxScore, err := rangespec.ParseFloat64Range(scoreRangeStr,
			-math.MaxFloat64, math.MaxFloat64)

		if err != nil {
			return nil, errors.New(`Invalid range for score ` + scoreName)
		}
		scoreFilt[scoreName] = scoreRange{minScore: minScore, maxScore: maxScore, priority: n}
	}

	return scoreFilt, nil
}

// accept returns whether the identification passes the filter, and the
// score that was used
func (scoreFilt ScoreFilter) accept(ident *mzidentml.Identification) (bool, float64, error) {
	scoreOK := false
	var used float64
	curPrio := math.MaxInt32
	for _, cv := range ident.Cv {
		// Check if the CV accession number or CV name matches scorefilter
		filt, ok := scoreFilt[cv.Accession]
		if !ok {
			filt, ok = scoreFilt[cv.Name]
		}
		if ok && filt.priority < curPrio {
			score, err := strconv.ParseFloat(cv.Value, 64)
			if err != nil {
				return false, 0, errors.New("Invalid score value " + cv.Value)
			}
			curPrio = filt.priority
			used = score
			scoreOK = score >= filt.minScore && score <= filt.maxScore
		}
	}
	return scoreOK, used, nil
}

// Unimod mass deltas that are resolved into an elemental composition,
// other modifications keep only their mass
var unimodFormulas = []struct {
	mass    float64
	formula string
}{
	{15.994915, "O"},       // Oxidation
	{57.021464, "C2H3NO"},  // Carbamidomethyl
	{42.010565, "C2H2O"},   // Acetyl
	{79.966331, "HPO3"},    // Phospho
	{0.984016, "H-1N-1O"},  // Deamidated
	{14.01565, "CH2"},      // Methyl
	{28.0313, "C2H4"},      // Dimethyl
	{-17.026549, "N-1H-3"}, // Gln->pyro-Glu
	{-18.010565, "H-2O-1"}, // Glu->pyro-Glu
}

const unimodTolerance = 0.001

func modFormula(mass float64) string {
	for _, u := range unimodFormulas {
		if math.Abs(u.mass-mass) < unimodTolerance {
			return u.formula
		}
	}
	return ""
}

// ScanLookup resolves spectrum ids of identifications. *mzml.MzML
// implements it.
type ScanLookup interface {
	ScanIndex(scanID string) (int, error)
	RetentionTime(scanIndex int) (float64, error)
}

// FromMzIdentML converts the identifications that pass the score filter
// into hits of file. Identifications without charge are skipped.
func FromMzIdentML(m *mzidentml.MzIdentML, scans ScanLookup, file string,
	scoreFilt ScoreFilter) ([]*Hit, error) {
	hits := make([]*Hit, 0, m.NumIdents())
	for i := 0; i < m.NumIdents(); i++ {
		ident, err := m.Ident(i)
		if err != nil {
			return nil, err
		}
		ok, score, err := scoreFilt.accept(&ident)
		if err != nil {
			return nil, err
		}
		if !ok || ident.Charge <= 0 {
			continue
		}
		scanIndex, err := scans.ScanIndex(ident.SpecID)
		if err != nil {
			return nil, fmt.Errorf("identification %s: %w", ident.PepID, err)
		}
		rt := ident.RetentionTime
		if rt < 0 {
			if rt, err = scans.RetentionTime(scanIndex); err != nil {
				return nil, err
			}
		}
		h := Hit{
			Filename:      file,
			Accession:     ident.PepID,
			Sequence:      ident.PepSeq,
			Start:         1,
			Stop:          len(ident.PepSeq),
			Charge:        ident.Charge,
			Mz:            ident.ExperimentalMz,
			ScanNumber:    scanIndex + 1,
			RetentionTime: rt,
			Score:         score,
		}
		for _, mod := range ident.Mods {
			h.Mods = append(h.Mods, Modification{
				Name:     mod.Name,
				Position: mod.Location,
				Formula:  modFormula(mod.MassDelta),
				Mass:     mod.MassDelta,
			})
		}
		hits = append(hits, New(h))
	}
	if len(hits) == 0 {
		log.Print("No identified spectra will be used for calibration. Is the specified scorefilter applicable for this file?")
	}
	return hits, nil
}
