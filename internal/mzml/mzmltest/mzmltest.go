// Package mzmltest builds small synthetic mzML documents for tests.
package mzmltest

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Peak is an m/z, intensity pair
type Peak struct {
	Mz     float64
	Intens float64
}

// Spectrum describes one spectrum of the generated file
type Spectrum struct {
	MSLevel       int
	RetentionTime float64 // seconds
	Peaks         []Peak
	// Scan window, omitted when both are zero
	WindowLow, WindowHigh float64
	// Precursor of MS2 spectra
	PrecursorMz     float64
	PrecursorCharge int
	Centroid        bool
}

// Options control the binary encoding
type Options struct {
	Zlib    bool
	Float32 bool
	// Store retention times in minutes instead of seconds
	Minutes bool
}

// ScanID returns the id attribute used for the spectrum with the given
// index
func ScanID(index int) string {
	return fmt.Sprintf("controllerType=0 controllerNumber=1 scan=%d", index+1)
}

// Build returns an mzML document containing the spectra
func Build(specs []Spectrum, opt Options) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
 <cvList count="2">
  <cv id="MS" fullName="Proteomics Standards Initiative Mass Spectrometry Ontology" version="4.1.30" URI="https://raw.githubusercontent.com/HUPO-PSI/psi-ms-CV/master/psi-ms.obo"/>
  <cv id="UO" fullName="Unit Ontology" version="09:04:2014" URI="https://raw.githubusercontent.com/bio-ontology-research-group/unit-ontology/master/unit.obo"/>
 </cvList>
 <fileDescription>
  <fileContent>
   <cvParam cvRef="MS" accession="MS:1000579" name="MS1 spectrum" value=""/>
  </fileContent>
 </fileDescription>
 <softwareList count="1">
  <software id="synth" version="1.0">
   <cvParam cvRef="MS" accession="MS:1000799" name="custom unreleased software tool" value=""/>
  </software>
 </softwareList>
 <instrumentConfigurationList count="1">
  <instrumentConfiguration id="IC1">
   <componentList count="1">
    <analyzer order="1">
     <cvParam cvRef="MS" accession="MS:1000484" name="orbitrap" value=""/>
    </analyzer>
   </componentList>
  </instrumentConfiguration>
 </instrumentConfigurationList>
 <dataProcessingList count="1">
  <dataProcessing id="synth_processing">
   <processingMethod order="0" softwareRef="synth">
    <cvParam cvRef="MS" accession="MS:1000544" name="Conversion to mzML" value=""/>
   </processingMethod>
  </dataProcessing>
 </dataProcessingList>
 <run id="synthetic" defaultInstrumentConfigurationRef="IC1">
`)
	fmt.Fprintf(&b, "  <spectrumList count=\"%d\" defaultDataProcessingRef=\"synth_processing\">\n", len(specs))
	for i, s := range specs {
		writeSpectrum(&b, i, s, opt)
	}
	b.WriteString("  </spectrumList>\n </run>\n</mzML>\n")
	return []byte(b.String())
}

func writeSpectrum(b *strings.Builder, index int, s Spectrum, opt Options) {
	level := s.MSLevel
	if level == 0 {
		level = 1
	}
	fmt.Fprintf(b, "   <spectrum index=\"%d\" id=\"%s\" defaultArrayLength=\"%d\">\n",
		index, ScanID(index), len(s.Peaks))
	fmt.Fprintf(b, "    <cvParam cvRef=\"MS\" accession=\"MS:1000511\" name=\"ms level\" value=\"%d\"/>\n", level)
	if s.Centroid {
		b.WriteString("    <cvParam cvRef=\"MS\" accession=\"MS:1000127\" name=\"centroid spectrum\" value=\"\"/>\n")
	}
	b.WriteString("    <scanList count=\"1\">\n     <scan>\n")
	if opt.Minutes {
		fmt.Fprintf(b, "      <cvParam cvRef=\"MS\" accession=\"MS:1000016\" name=\"scan start time\" value=\"%g\" unitCvRef=\"UO\" unitAccession=\"UO:0000031\" unitName=\"minute\"/>\n",
			s.RetentionTime/60)
	} else {
		fmt.Fprintf(b, "      <cvParam cvRef=\"MS\" accession=\"MS:1000016\" name=\"scan start time\" value=\"%g\" unitCvRef=\"UO\" unitAccession=\"UO:0000010\" unitName=\"second\"/>\n",
			s.RetentionTime)
	}
	if s.WindowLow != 0 || s.WindowHigh != 0 {
		b.WriteString("      <scanWindowList count=\"1\">\n       <scanWindow>\n")
		fmt.Fprintf(b, "        <cvParam cvRef=\"MS\" accession=\"MS:1000501\" name=\"scan window lower limit\" value=\"%g\" unitCvRef=\"MS\" unitAccession=\"MS:1000040\" unitName=\"m/z\"/>\n", s.WindowLow)
		fmt.Fprintf(b, "        <cvParam cvRef=\"MS\" accession=\"MS:1000500\" name=\"scan window upper limit\" value=\"%g\" unitCvRef=\"MS\" unitAccession=\"MS:1000040\" unitName=\"m/z\"/>\n", s.WindowHigh)
		b.WriteString("       </scanWindow>\n      </scanWindowList>\n")
	}
	b.WriteString("     </scan>\n    </scanList>\n")
	if level > 1 && s.PrecursorMz != 0 {
		b.WriteString("    <precursorList count=\"1\">\n     <precursor>\n      <isolationWindow>\n")
		fmt.Fprintf(b, "       <cvParam cvRef=\"MS\" accession=\"MS:1000827\" name=\"isolation window target m/z\" value=\"%.8f\"/>\n", s.PrecursorMz)
		b.WriteString("      </isolationWindow>\n      <selectedIonList count=\"1\">\n       <selectedIon>\n")
		fmt.Fprintf(b, "        <cvParam cvRef=\"MS\" accession=\"MS:1000744\" name=\"selected ion m/z\" value=\"%.8f\"/>\n", s.PrecursorMz)
		if s.PrecursorCharge > 0 {
			fmt.Fprintf(b, "        <cvParam cvRef=\"MS\" accession=\"MS:1000041\" name=\"charge state\" value=\"%d\"/>\n", s.PrecursorCharge)
		}
		b.WriteString("       </selectedIon>\n      </selectedIonList>\n      <activation>\n")
		b.WriteString("       <cvParam cvRef=\"MS\" accession=\"MS:1000422\" name=\"beam-type collision-induced dissociation\" value=\"\"/>\n")
		b.WriteString("      </activation>\n     </precursor>\n    </precursorList>\n")
	}
	b.WriteString("    <binaryDataArrayList count=\"2\">\n")
	writeArray(b, s.Peaks, true, opt)
	writeArray(b, s.Peaks, false, opt)
	b.WriteString("    </binaryDataArrayList>\n   </spectrum>\n")
}

func writeArray(b *strings.Builder, peaks []Peak, mz bool, opt Options) {
	width := 8
	if opt.Float32 {
		width = 4
	}
	raw := make([]byte, len(peaks)*width)
	for i, p := range peaks {
		v := p.Intens
		if mz {
			v = p.Mz
		}
		if opt.Float32 {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
		}
	}
	compression := `<cvParam cvRef="MS" accession="MS:1000576" name="no compression" value=""/>`
	if opt.Zlib {
		var buf bytes.Buffer
		z := zlib.NewWriter(&buf)
		z.Write(raw)
		z.Close()
		raw = buf.Bytes()
		compression = `<cvParam cvRef="MS" accession="MS:1000574" name="zlib compression" value=""/>`
	}
	typ := `<cvParam cvRef="MS" accession="MS:1000523" name="64-bit float" value=""/>`
	if opt.Float32 {
		typ = `<cvParam cvRef="MS" accession="MS:1000521" name="32-bit float" value=""/>`
	}
	array := `<cvParam cvRef="MS" accession="MS:1000515" name="intensity array" value="" unitCvRef="MS" unitAccession="MS:1000131" unitName="number of detector counts"/>`
	if mz {
		array = `<cvParam cvRef="MS" accession="MS:1000514" name="m/z array" value="" unitCvRef="MS" unitAccession="MS:1000040" unitName="m/z"/>`
	}
	enc := base64.StdEncoding.EncodeToString(raw)
	fmt.Fprintf(b, "     <binaryDataArray encodedLength=\"%d\">\n      %s\n      %s\n      %s\n      <binary>%s</binary>\n     </binaryDataArray>\n",
		len(enc), typ, compression, array, enc)
}
