package mzidentml

import (
	"encoding/xml"
	"io"
	"math"
	"strconv"

	"golang.org/x/net/html/charset"
)

// Read reads mzIdentML content from io.reader
func Read(reader io.Reader) (MzIdentML, error) {
	var mzIdentML MzIdentML
	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel
	err := d.Decode(&mzIdentML.content)
	if err != nil {
		return mzIdentML, err
	}
	mzIdentML.buildPepID2Sequence()
	mzIdentML.buildIdentList()
	return mzIdentML, err
}

func (m *MzIdentML) buildPepID2Sequence() {
	m.seqID2PepIdx = make(map[string]int, len(m.content.Peptide))
	for i, p := range m.content.Peptide {
		m.seqID2PepIdx[p.ID] = i
	}
}

func (m *MzIdentML) buildIdentList() {
	for i := range m.content.SpectrumIdentificationResult {
		for j := range m.content.SpectrumIdentificationResult[i].SpectrumIdentificationItem {
			m.identList = append(m.identList, identRef{resultIdx: i, itemIdx: j})
		}
	}
}

// NumIdents returns the total number of identifications in the mzIdentML file
// Note that for some spectra, multiple identifications may be present
// The identifications can be accessed using the Ident() method, which takes
// an index as argument. The index runs from 0 to NumIdents()-1
func (m *MzIdentML) NumIdents() int {
	return len(m.identList)
}

// Ident returns a spectrum identification from the mzIdentML file.
// Parameter i is the index of the identification to return. The index runs
// from 0 to NumIdents()-1
func (m *MzIdentML) Ident(i int) (Identification, error) {

	var ident Identification

	if i < 0 || i >= len(m.identList) {
		return ident, ErrInvalidIdentIndex
	}
	result := &m.content.SpectrumIdentificationResult[m.identList[i].resultIdx]
	item := &result.SpectrumIdentificationItem[m.identList[i].itemIdx]

	pepIdx, ok := m.seqID2PepIdx[item.PeptideRef]
	if !ok {
		return ident, ErrUnknownPeptide
	}
	pep := &m.content.Peptide[pepIdx]
	ident.PepSeq = pep.PeptideSequence
	ident.PepID = pep.ID
	ident.ModMass = float64(0)
	ident.Charge = item.ChargeState
	ident.Rank = item.Rank
	ident.ExperimentalMz = item.ExperimentalMassToCharge
	ident.CalculatedMz = item.CalculatedMassToCharge
	for _, mod := range pep.Modification {
		ident.ModMass += mod.MonoisotopicMassDelta
		modif := Modification{
			Location:  mod.Location,
			Residues:  mod.Residues,
			MassDelta: mod.MonoisotopicMassDelta,
		}
		if len(mod.CvPar) > 0 {
			modif.Name = mod.CvPar[0].Name
		}
		ident.Mods = append(ident.Mods, modif)
	}
	ident.SpecID = result.SpectrumID
	ident.RetentionTime = float64(-1)
	prio := math.MaxInt32
	for _, cv := range result.CvPar {
		// There are multiple CV terms that can be used to report the
		// retention time. In order of decreasing preference we use:
		// 1. MS:1000016 - scan start time
		// 2. MS:1000894 - retention time
		// 3. MS:1000826 - elution time
		// 4. MS:1001114 - retention time (deprecated)
		useTime := false
		switch cv.Accession {
		case "MS:1000016":
			if prio > 1 {
				prio = 1
				useTime = true
			}
		case "MS:1000894":
			if prio > 2 {
				prio = 2
				useTime = true
			}
		case "MS:1000826":
			if prio > 3 {
				prio = 3
				useTime = true
			}
		case "MS:1001114":
			if prio > 4 {
				prio = 4
				useTime = true
			}
		}
		// If a (higher priority) term was found, process/store the retention time
		if useTime {
			retentionTime, err := strconv.ParseFloat(cv.Value, 64)
			if err != nil {
				return ident, err
			}
			// Check if the retention time is in minutes, otherwise assume it's seconds
			if cv.UnitAccession == "UO:0000031" || cv.UnitAccession == "MS:1000038" {
				retentionTime *= 60
			}
			ident.RetentionTime = retentionTime
		}
	}
	// Collect CV terms/values for the identification, the scores are in there
	ident.Cv = append(ident.Cv, item.CvPar...)

	return ident, nil
}
