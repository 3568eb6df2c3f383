// Package mzidentml reads peptide and proteoform identifications from
// mzIdentML files.
package mzidentml

import (
	"encoding/xml"
	"errors"
)

// Types for parsing mzIdentML

// MzIdentML holds only the part of mzIdentML files
// in which we are interrested
type MzIdentML struct {
	seqID2PepIdx map[string]int
	identList    []identRef
	content      mzIdentMLContent
}

type identRef struct {
	resultIdx int // Index into SpectrumIdentificationResult
	itemIdx   int // Index into SpectrumIdentificationItem
}

// Identification is a single spectrum identification item joined with
// its peptide and spectrum result
type Identification struct {
	PepSeq         string
	PepID          string
	Charge         int
	Rank           int
	ModMass        float64
	Mods           []Modification
	ExperimentalMz float64
	CalculatedMz   float64
	SpecID         string
	RetentionTime  float64
	Cv             []CVParam
}

// Modification is a mass shift on a peptide. Location 0 is the N-terminus,
// len(sequence)+1 the C-terminus.
type Modification struct {
	Location  int
	Residues  string
	MassDelta float64
	// Name of the first modification cvParam, e.g. "Oxidation"
	Name string
}

type mzIdentMLContent struct {
	XMLName                      xml.Name                       `xml:"MzIdentML"`
	Peptide                      []peptide                      `xml:"SequenceCollection>Peptide"`
	SpectrumIdentificationResult []spectrumIdentificationResult `xml:"DataCollection>AnalysisData>SpectrumIdentificationList>SpectrumIdentificationResult"`
}

type peptide struct {
	ID              string `xml:"id,attr"`
	PeptideSequence string
	Modification    []modification
}

type modification struct {
	// Note: monoisotopicMassDelta is optional according the the schema, but
	// appears to be no other way to determine mass shift, as other
	// corresponding cvParam's don't carry this info either
	MonoisotopicMassDelta float64   `xml:"monoisotopicMassDelta,attr"`
	Location              int       `xml:"location,attr"`
	Residues              string    `xml:"residues,attr"`
	CvPar                 []CVParam `xml:"cvParam"`
}

type spectrumIdentificationResult struct {
	SpectrumID                 string `xml:"spectrumID,attr"`
	SpectrumIdentificationItem []spectrumIdentificationItem
	CvPar                      []CVParam `xml:"cvParam"`
}

type spectrumIdentificationItem struct {
	ChargeState              int       `xml:"chargeState,attr"`
	Rank                     int       `xml:"rank,attr"`
	ExperimentalMassToCharge float64   `xml:"experimentalMassToCharge,attr"`
	CalculatedMassToCharge   float64   `xml:"calculatedMassToCharge,attr"`
	PeptideRef               string    `xml:"peptide_ref,attr"`
	CvPar                    []CVParam `xml:"cvParam"`
}

// CVParam is a controlled vocabulary term, scores of identifications
// are reported as CV terms
type CVParam struct {
	Accession     string `xml:"accession,attr"`
	Name          string `xml:"name,attr"`
	Value         string `xml:"value,attr"`
	UnitAccession string `xml:"unitAccession,attr"`
}

var (
	// ErrInvalidIdentIndex means an identification index out of range is used
	ErrInvalidIdentIndex = errors.New("mzIdentML: invalid identification index")
	// ErrUnknownPeptide means a spectrum identification item refers to a
	// peptide that is not in the sequence collection
	ErrUnknownPeptide = errors.New("mzIdentML: unknown peptide reference")
)
