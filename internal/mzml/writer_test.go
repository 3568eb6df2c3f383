package mzml

import (
	"bytes"
	"math"
	"testing"

	"github.com/524D/tdmzcal/internal/mzml/mzmltest"
)

func writeRead(t *testing.T, f *MzML) MzML {
	t.Helper()
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write: error return %v", err)
	}
	g, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	return g
}

func TestAllWrite1(t *testing.T) {
	for _, opt := range []mzmltest.Options{{}, {Zlib: true, Float32: true}} {
		f := readTestFile(t, opt)
		p, err := f.ReadScan(0)
		if err != nil {
			t.Errorf("ReadScan: error return %v", err)
		}
		p[0].Mz = 42.0
		p[0].Intens = 777.0
		f.UpdateScan(0, p, true, false)
		f.UpdateScan(2, p, false, true)

		f = writeRead(t, &f)
		p, err = f.ReadScan(0)
		if err != nil {
			t.Errorf("ReadScan: error return %v", err)
		}
		// Check if only mz changed for scan 0 peak 0
		if p[0].Mz < 41.9999 || p[0].Mz > 42.0001 {
			t.Errorf("ReadScan: peak 0 mz %v", p[0].Mz)
		}
		if p[0].Intens > 776.9999 && p[0].Intens < 777.0001 {
			t.Errorf("ReadScan: peak 0 intens %v", p[0].Intens)
		}
		p, err = f.ReadScan(2)
		if err != nil {
			t.Errorf("ReadScan: error return %v", err)
		}
		// Check if only intens changed for scan 2 peak 0
		if p[0].Mz > 41.9999 && p[0].Mz < 42.0001 {
			t.Errorf("ReadScan: peak 2 mz %v", p[0].Mz)
		}
		if p[0].Intens < 776.9999 || p[0].Intens > 777.0001 {
			t.Errorf("ReadScan: peak 2 intens %v", p[0].Intens)
		}
		// Scan 2 had 3 peaks, the update with 2 peaks shortens it
		if len(p) != 2 {
			t.Errorf("ReadScan: %d peaks, should be 2", len(p))
		}
	}
}

func TestUpdatePrecursorMz(t *testing.T) {
	f := readTestFile(t, mzmltest.Options{})
	n, err := f.UpdatePrecursorMz(1, func(mz float64) float64 { return mz - 0.01 })
	if err != nil {
		t.Fatalf("UpdatePrecursorMz: error return %v", err)
	}
	if n != 1 {
		t.Errorf("UpdatePrecursorMz: %d updated, should be 1", n)
	}
	n, _ = f.UpdatePrecursorMz(0, func(mz float64) float64 { return 0 })
	if n != 0 {
		t.Errorf("UpdatePrecursorMz: MS1 spectrum updated")
	}
	g := writeRead(t, &f)
	mz, ok, err := g.SelectedIonMz(1)
	if err != nil || !ok {
		t.Fatalf("SelectedIonMz: ok %v error %v", ok, err)
	}
	if math.Abs(mz-699.6855) > 1e-7 {
		t.Errorf("SelectedIonMz: %f, should be 699.6855", mz)
	}
}

func TestAppendProcessingInfo(t *testing.T) {
	f := readTestFile(t, mzmltest.Options{})
	f.AppendSoftwareInfo("tdmzcal", "0.1")
	f.AppendDataProcessing(DataProcessing{ID: "calibration",
		ProcessingMeth: []ProcessingMethod{{SoftwareRef: "tdmzcal"}}})
	g := writeRead(t, &f)
	if g.content.SoftwareList.Count != 2 || g.content.SoftwareList.Software[1].ID != "tdmzcal" {
		t.Errorf("software list %+v", g.content.SoftwareList)
	}
	if len(g.content.DataProcessingList.DataProcessingd) != 2 {
		t.Errorf("data processing list %+v", g.content.DataProcessingList)
	}

	var empty MzML
	empty.AppendSoftwareInfo("tdmzcal", "0.1")
	if empty.content.SoftwareList == nil || empty.content.SoftwareList.Count != 1 {
		t.Errorf("AppendSoftwareInfo on empty file failed")
	}
}
