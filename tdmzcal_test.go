package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/524D/tdmzcal/internal/calib"
	"github.com/524D/tdmzcal/internal/correction"
	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/isotope"
	"github.com/524D/tdmzcal/internal/mzml"
	"github.com/524D/tdmzcal/internal/mzml/mzmltest"
	"github.com/524D/tdmzcal/internal/spectra"
	"github.com/google/go-cmp/cmp"
)

func TestParseFeatures(t *testing.T) {
	got, err := parseFeatures("mz, RT,logsucc")
	if err != nil {
		t.Fatalf("parseFeatures: %v", err)
	}
	want := [calib.NumFeatures]bool{true, true, false, true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseFeatures mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseFeatures("mz,intensity"); err == nil {
		t.Errorf("Expected error for unknown feature")
	}
}

func TestFileKey(t *testing.T) {
	tests := map[string]string{
		"run1.mzML":                "run1",
		"/data/run1.mzML":          "run1",
		`C:\data\run1.raw`:         "run1",
		"run1":                     "run1",
		"dir.with.dots/run.1.mzML": "run.1",
	}
	for in, want := range tests {
		if got := fileKey(in); got != want {
			t.Errorf("fileKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func testParams() params {
	def := calib.DefaultConfig()
	return params{
		scoreFilter:        hits.DefaultScoreFilter,
		massTolerance:      def.MassTolerance,
		rtTolerance:        def.RetentionTimeTolerance,
		minIdentifications: def.MinIdentifications,
		forest:             true,
		trees:              5,
		treeDepth:          def.TreeDepth,
		features:           "mz,rt",
		maxRounds:          def.MaxRounds,
		workers:            1,
		seed:               1,
		verbosity:          infoSilent,
	}
}

func TestCalibConfig(t *testing.T) {
	par := testParams()
	par.componentsFilename = "features.json"
	par.noPrecursors = true
	cfg := calibConfig(par)
	if !cfg.MatchComponents || cfg.CorrectPrecursors {
		t.Errorf("component/precursor switches not mapped: %+v", cfg)
	}
	if cfg.TreeCount != 5 || cfg.Seed != 1 || cfg.Workers != 1 {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestSanitizeParams(t *testing.T) {
	par := testParams()
	par.args = []string{"a.mzML", "b.mzML"}
	if err := sanitizeParams(&par); err == nil {
		t.Errorf("Expected error for multiple files without hit table")
	}
	par.args = []string{"/data/a.mzML"}
	if err := sanitizeParams(&par); err != nil {
		t.Fatalf("sanitizeParams: %v", err)
	}
	if par.mzIdentMlFilename != "/data/a.mzid" {
		t.Errorf("mzid default %q", par.mzIdentMlFilename)
	}
	par.componentsFilename = "/data/a.xlsx"
	if err := sanitizeParams(&par); err == nil {
		t.Errorf("Expected error for colliding calibrated tables")
	}
	par.componentsFilename = ""
	par.scoreFilter = "MS:1(1:0)"
	if err := sanitizeParams(&par); err == nil {
		t.Errorf("Expected error for invalid score filter")
	}
}

// writeTestRun writes an mzML file with three MS1 scans in which six
// peptides are observed at charges 1 and 2, shifted by shift, and a hit
// table with their identifications
func writeTestRun(t *testing.T, dir string, shift float64) (mzMLFn, hitsFn string) {
	t.Helper()
	var ms1Peaks []mzmltest.Peak
	var ids []*hits.Hit
	for i := 0; i < 6; i++ {
		seq := "PEPTIDE" + strings.Repeat("G", i)
		theo := hits.New(hits.Hit{Sequence: seq, Charge: 2})
		h := hits.New(hits.Hit{
			Filename:  "run1.raw",
			Accession: "P" + strconv.Itoa(i),
			Sequence:  seq,
			Charge:    2,
			Mz:        isotope.ToMz(theo.TheoreticalMass, 2) + shift,
		})
		env, err := h.Envelope(isotope.DefaultFineResolution, isotope.DefaultMinProbability)
		if err != nil {
			t.Fatalf("Envelope: %v", err)
		}
		for z := 1; z <= 2; z++ {
			for k, m := range env.Masses {
				ms1Peaks = append(ms1Peaks, mzmltest.Peak{Mz: isotope.ToMz(m, z) + shift, Intens: 1e6 * env.Intensities[k]})
			}
		}
		ids = append(ids, h)
	}
	var specs []mzmltest.Spectrum
	for c := 1; c <= 3; c++ {
		rt := 60 * float64(c)
		specs = append(specs, mzmltest.Spectrum{MSLevel: 1, RetentionTime: rt,
			WindowLow: 300, WindowHigh: 2000, Peaks: ms1Peaks, Centroid: true})
		if c != 2 {
			continue
		}
		for i, h := range ids {
			specs = append(specs, mzmltest.Spectrum{MSLevel: 2, RetentionTime: rt + float64(i+1),
				PrecursorMz: h.Mz, PrecursorCharge: 2, Peaks: []mzmltest.Peak{{Mz: 200, Intens: 1}}})
			h.ScanNumber = len(specs)
			h.RetentionTime = rt + float64(i+1)
		}
	}
	// an identification of a file that is not calibrated
	ids = append(ids, hits.New(hits.Hit{Filename: "run2.raw", Sequence: "PEPTIDE", Charge: 2, Mz: 400, ScanNumber: 3}))

	mzMLFn = filepath.Join(dir, "run1.mzML")
	if err := os.WriteFile(mzMLFn, mzmltest.Build(specs, mzmltest.Options{Zlib: true}), 0o644); err != nil {
		t.Fatal(err)
	}
	hitsFn = filepath.Join(dir, "hits.xlsx")
	if err := hits.WriteTable(hitsFn, ids); err != nil {
		t.Fatal(err)
	}
	return mzMLFn, hitsFn
}

func TestRunCalibrate(t *testing.T) {
	dir := t.TempDir()
	mzMLFn, hitsFn := writeTestRun(t, dir, 0.01)
	par := testParams()
	par.hitsFilename = hitsFn
	par.storeFilename = filepath.Join(dir, "factors.db")
	par.args = []string{mzMLFn}
	if err := sanitizeParams(&par); err != nil {
		t.Fatalf("sanitizeParams: %v", err)
	}
	if err := runCalibrate(context.Background(), par); err != nil {
		t.Fatalf("runCalibrate: %v", err)
	}

	// summary
	b, err := os.ReadFile(filepath.Join(dir, "run1-cal.json"))
	if err != nil {
		t.Fatalf("reading summary: %v", err)
	}
	var summary calSummary
	if err = json.Unmarshal(b, &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if !summary.Calibrated || summary.TdMzCalVersion != outputFormatVersion {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Scans) != 3 || summary.Precursors != 6 {
		t.Errorf("summary has %d scans and %d precursors, want 3 and 6", len(summary.Scans), summary.Precursors)
	}
	// identifications have charge 2, a 0.01 m/z shift is 0.02 Da
	if math.Abs(summary.MassErrorBefore-0.02) > 1e-6 {
		t.Errorf("mass error before calibration %f, want 0.02", summary.MassErrorBefore)
	}
	if summary.MassErrorAfter > 0.002 {
		t.Errorf("mass error after calibration %f, want below 0.002", summary.MassErrorAfter)
	}
	for _, s := range summary.Scans {
		if math.Abs(s.Shift-0.01) > 0.0005 {
			t.Errorf("scan %d shift %f, want 0.01", s.Scan, s.Shift)
		}
	}

	// calibrated spectra
	b, err = os.ReadFile(filepath.Join(dir, "run1_calibrated.mzML"))
	if err != nil {
		t.Fatalf("reading calibrated mzML: %v", err)
	}
	mzML, err := mzml.Read(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("mzml.Read: %v", err)
	}
	run, err := spectra.Load("run1", &mzML)
	if err != nil {
		t.Fatalf("spectra.Load: %v", err)
	}
	table, err := hits.ReadTable(filepath.Join(dir, "hits_calibrated.xlsx"))
	if err != nil {
		t.Fatalf("reading calibrated hits: %v", err)
	}
	if len(table) != 6 {
		t.Fatalf("calibrated table has %d rows, want 6", len(table))
	}
	env, _ := table[0].Envelope(isotope.DefaultFineResolution, isotope.DefaultMinProbability)
	mostAbundant := isotope.ToMz(env.Masses[0], 2)
	m, ok := run.Closest(1, mostAbundant)
	if !ok || math.Abs(m.Mz-mostAbundant) > 0.0005 {
		t.Errorf("calibrated peak %f, want %f", m.Mz, mostAbundant)
	}
	for _, h := range table {
		if math.Abs(h.CorrectedMass-h.TheoreticalMass) > 0.002 {
			t.Errorf("%s corrected mass %f, theoretical %f", h.Sequence, h.CorrectedMass, h.TheoreticalMass)
		}
	}

	// correction factors
	store, err := correction.Open(par.storeFilename)
	if err != nil {
		t.Fatalf("correction.Open: %v", err)
	}
	defer store.Close()
	corr, err := store.Query(context.Background(), "run1", "1-100")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if math.Abs(corr-0.01) > 0.0005 {
		t.Errorf("average correction %f, want 0.01", corr)
	}
}

func TestRunCalibrateTooFewIdentifications(t *testing.T) {
	dir := t.TempDir()
	mzMLFn, hitsFn := writeTestRun(t, dir, 0.01)
	par := testParams()
	par.hitsFilename = hitsFn
	par.minIdentifications = 10
	par.args = []string{mzMLFn}
	if err := runCalibrate(context.Background(), par); err != nil {
		t.Fatalf("runCalibrate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run1_calibrated.mzML")); !os.IsNotExist(err) {
		t.Errorf("calibrated mzML written for uncalibrated file")
	}
	table, err := hits.ReadTable(filepath.Join(dir, "hits_calibrated.xlsx"))
	if err != nil {
		t.Fatalf("reading calibrated hits: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("calibrated table has %d rows, want 0", len(table))
	}
}

func TestRunCalibrateComponentTable(t *testing.T) {
	dir := t.TempDir()
	mzMLFn, hitsFn := writeTestRun(t, dir, 0.01)
	ids, err := hits.ReadTable(hitsFn)
	if err != nil {
		t.Fatal(err)
	}
	var components []*hits.Component
	for i, h := range ids {
		if h.Filename != "run1.raw" {
			continue
		}
		components = append(components, &hits.Component{
			ID:                       strconv.Itoa(i + 1),
			Filename:                 h.Filename,
			WeightedMonoisotopicMass: h.TheoreticalMass,
			RTApex:                   120,
			RTRange:                  "100-140",
			ScanRange:                "1-1",
			ChargeStates: []hits.ChargeState{
				{Charge: 1, Intensity: 10, MzCentroid: isotope.ToMz(h.ReportedMass, 1)},
				{Charge: 2, Intensity: 1000, MzCentroid: h.Mz},
			},
		})
	}
	compFn := filepath.Join(dir, "features.xlsx")
	if err = hits.WriteComponentTable(compFn, components); err != nil {
		t.Fatal(err)
	}

	par := testParams()
	par.hitsFilename = hitsFn
	par.componentsFilename = compFn
	par.args = []string{mzMLFn}
	if err = sanitizeParams(&par); err != nil {
		t.Fatalf("sanitizeParams: %v", err)
	}
	if err = runCalibrate(context.Background(), par); err != nil {
		t.Fatalf("runCalibrate: %v", err)
	}

	got, err := hits.ReadComponentTable(filepath.Join(dir, "features_calibrated.xlsx"))
	if err != nil {
		t.Fatalf("reading calibrated components: %v", err)
	}
	if len(got) != len(components) {
		t.Fatalf("got %d components, want %d", len(got), len(components))
	}
	for i, c := range got {
		for j, cs := range c.ChargeStates {
			want := components[i].ChargeStates[j].MzCentroid - 0.01
			if math.Abs(cs.MzCentroid-want) > 0.0005 {
				t.Errorf("component %s charge %d m/z %f, want %f", c.ID, cs.Charge, cs.MzCentroid, want)
			}
		}
	}
}
