// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/524D/tdmzcal/internal/calib"
	"github.com/524D/tdmzcal/internal/correction"
	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/mzidentml"
	"github.com/524D/tdmzcal/internal/mzml"
	"github.com/524D/tdmzcal/internal/spectra"
	"gonum.org/v1/gonum/stat"
)

// calSummary is written as <base>-cal.json for every calibrated file
type calSummary struct {
	// Version of the summary format
	TdMzCalVersion string
	File           string
	Calibrated     bool
	Reason         string `json:",omitempty"`
	Config         calib.Config
	Rounds         []calib.RoundInfo
	Function       string      `json:",omitempty"` // last applied function
	Precursors     int         // updated MS2 precursors
	Scans          []scanShift `json:",omitempty"`

	// Mean absolute mass error (Da, whole isotope offsets removed) of the
	// identifications of the file, before and after calibration
	MassErrorBefore float64 `json:",omitempty"`
	MassErrorAfter  float64 `json:",omitempty"`
}

type scanShift struct {
	Scan          int
	RetentionTime float64
	Shift         float64 // total m/z shift subtracted from the scan
}

// runCalibrate calibrates every mzML file of par.args and writes the
// calibrated copies of the spectra, hits and components
func runCalibrate(ctx context.Context, par params) error {
	cfg := calibConfig(par)
	t := time.Now()

	var allHits []*hits.Hit
	if par.hitsFilename != "" {
		if par.verbosity == infoVerbose {
			fmt.Fprintf(os.Stderr, "Reading identifications from %s: ", par.hitsFilename)
		}
		var err error
		allHits, err = hits.ReadTable(par.hitsFilename)
		if err != nil {
			return fmt.Errorf("reading hit table %s: %w", par.hitsFilename, err)
		}
		if par.verbosity == infoVerbose {
			fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
		}
	}

	components, err := readComponents(par.componentsFilename)
	if err != nil {
		return fmt.Errorf("reading components %s: %w", par.componentsFilename, err)
	}
	for _, h := range allHits {
		h.Filename = fileKey(h.Filename)
	}
	for _, c := range components {
		c.Filename = fileKey(c.Filename)
	}

	var store *correction.Store
	if par.storeFilename != "" {
		if store, err = correction.Open(par.storeFilename); err != nil {
			return err
		}
		defer store.Close()
	}

	calibrated := make(map[string]bool)
	for _, fn := range par.args {
		fileHits, ok, err := calibrateFile(ctx, par, cfg, fn, allHits, components, store)
		if err != nil {
			return fmt.Errorf("%s: %w", fn, err)
		}
		if par.hitsFilename == "" {
			allHits = append(allHits, fileHits...)
		}
		calibrated[fileKey(fn)] = ok
	}

	if par.verbosity == infoVerbose {
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Writing identifications: ")
	}
	isCalibrated := func(file string) bool { return calibrated[fileKey(file)] }
	if par.hitsFilename != "" {
		out := baseName(par.hitsFilename) + "_calibrated.xlsx"
		if err := hits.WriteCalibrated(par.hitsFilename, out, allHits, isCalibrated); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
	} else {
		var kept []*hits.Hit
		for _, h := range allHits {
			if isCalibrated(h.Filename) {
				kept = append(kept, h)
			}
		}
		out := baseName(par.args[0]) + "_calibrated.xlsx"
		if err := hits.WriteTable(out, kept); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
	}
	if par.componentsFilename != "" {
		if err := writeComponents(par.componentsFilename, components); err != nil {
			return err
		}
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
	return nil
}

// calibrateFile calibrates one mzML file. Hits read from mzIdentML are
// returned. The boolean reports whether the file was calibrated.
func calibrateFile(ctx context.Context, par params, cfg calib.Config, fn string,
	allHits []*hits.Hit, components []*hits.Component,
	store *correction.Store) ([]*hits.Hit, bool, error) {
	t := time.Now()
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Reading MS data from %s: ", fn)
	}
	mzML, err := readMzML(fn)
	if err != nil {
		return nil, false, err
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}

	var fileHits []*hits.Hit
	ids := allHits
	if par.hitsFilename == "" {
		if fileHits, err = readMzIdentML(par, &mzML, fileKey(fn)); err != nil {
			return nil, false, err
		}
		ids = fileHits
	}

	run, err := spectra.Load(fileKey(fn), &mzML)
	if err != nil {
		return fileHits, false, err
	}
	dbg := newDebugger(par.debugSpecs, run)

	if par.verbosity == infoVerbose {
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Calibrating:\n")
	}
	c := calib.Calibrator{
		Spectra:    run,
		Hits:       ids,
		Components: components,
		Config:     cfg,
		OnRound: func(r calib.RoundInfo) {
			if par.verbosity == infoVerbose {
				fmt.Fprintf(os.Stderr, "  %s round %d: %d points, %s, held out MSE %g (identity %g)\n",
					r.Loop, r.Round, r.Points, r.Function, r.HeldOutMSE, r.IdentityMSE)
			}
		},
		OnPoint: dbg.logPoint,
	}
	res, err := c.Run(ctx)
	if err != nil {
		return fileHits, false, err
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Calibration: %s\n", time.Since(t))
	}

	summary := calSummary{
		TdMzCalVersion: outputFormatVersion,
		File:           fn,
		Calibrated:     res.Ran,
		Config:         cfg,
		Rounds:         res.Rounds,
	}
	if !res.Ran {
		if par.verbosity != infoSilent {
			log.Printf("%s not calibrated: %v", fn, res.Reason)
		}
		summary.Reason = res.Reason.Error()
		return fileHits, false, writeSummary(baseName(fn)+"-cal.json", summary)
	}
	if res.Final != nil {
		summary.Function = res.Final.Name()
	}
	summary.MassErrorBefore, summary.MassErrorAfter = meanMassErrors(ids, fileKey(fn))
	for n := 1; n <= run.NumScans(); n++ {
		if run.MSLevel(n) == 1 {
			summary.Scans = append(summary.Scans,
				scanShift{Scan: n, RetentionTime: run.RetentionTime(n), Shift: run.TotalShift(n)})
		}
	}
	dbg.logShifts()

	if par.verbosity == infoVerbose {
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Writing MS data: ")
	}
	if summary.Precursors, err = run.WriteBack(&mzML); err != nil {
		return fileHits, false, err
	}
	if err = mzML.AppendSoftwareInfo(progName, progVersion); err != nil {
		return fileHits, false, err
	}
	if err = mzML.AppendDataProcessing(tdMzCalProcessing); err != nil {
		return fileHits, false, err
	}
	if err = writeMzML(baseName(fn)+"_calibrated.mzML", &mzML); err != nil {
		return fileHits, false, err
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "%s: %d rounds, %s, updated precursors: %d\n",
			fn, len(res.Rounds), summary.Function, summary.Precursors)
	}
	if err = writeSummary(baseName(fn)+"-cal.json", summary); err != nil {
		return fileHits, true, err
	}

	if store != nil {
		r, err := store.BeginRun(ctx, fileKey(fn))
		if err != nil {
			return fileHits, true, err
		}
		for _, s := range summary.Scans {
			if err := r.Record(ctx, s.Scan, s.Shift); err != nil {
				return fileHits, true, err
			}
		}
	}
	return fileHits, true, nil
}

// meanMassErrors returns the mean absolute mass error of the reported and
// the corrected masses of the hits of file. Hits without theoretical mass
// are skipped.
func meanMassErrors(ids []*hits.Hit, file string) (before, after float64) {
	var b, a []float64
	for _, h := range ids {
		if h.Filename != file || math.IsNaN(h.TheoreticalMass) {
			continue
		}
		b = append(b, math.Abs(h.MassError(h.ReportedMass)))
		a = append(a, math.Abs(h.MassError(h.CorrectedMass)))
	}
	if len(b) == 0 {
		return 0, 0
	}
	return stat.Mean(b, nil), stat.Mean(a, nil)
}

// readComponents reads a component table (xlsx) or a JSON component list
func readComponents(fn string) ([]*hits.Component, error) {
	if fn == "" {
		return nil, nil
	}
	if isXlsx(fn) {
		return hits.ReadComponentTable(fn)
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return hits.ReadComponents(f)
}

// writeComponents writes the calibrated components next to fn, in the
// format of fn
func writeComponents(fn string, components []*hits.Component) error {
	if isXlsx(fn) {
		out := baseName(fn) + "_calibrated.xlsx"
		if err := hits.WriteCalibratedComponents(fn, out, components); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		return nil
	}
	out := baseName(fn) + "_calibrated.json"
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err = hits.WriteComponents(f, components); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", out, err)
	}
	return f.Close()
}

func isXlsx(fn string) bool {
	return strings.EqualFold(filepath.Ext(fn), ".xlsx")
}

func readMzML(fn string) (mzml.MzML, error) {
	f, err := os.Open(fn)
	if err != nil {
		return mzml.MzML{}, err
	}
	defer f.Close()
	return mzml.Read(f)
}

func writeMzML(fn string, mzML *mzml.MzML) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err = mzML.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", fn, err)
	}
	return f.Close()
}

func readMzIdentML(par params, mzML *mzml.MzML, file string) ([]*hits.Hit, error) {
	scoreFilt, err := hits.ParseScoreFilter(par.scoreFilter)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(par.mzIdentMlFilename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mzIdentML, err := mzidentml.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", par.mzIdentMlFilename, err)
	}
	return hits.FromMzIdentML(&mzIdentML, mzML, file, scoreFilt)
}

func writeSummary(fn string, summary calSummary) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	e := json.NewEncoder(f)
	e.SetIndent(``, `  `) // Make output easier to read for humans
	if err = e.Encode(summary); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", fn, err)
	}
	return f.Close()
}

// runLockMass prints the lock mass shift of every MS1 scan and records
// the shifts that could be determined in the store
func runLockMass(ctx context.Context, par params) error {
	var store *correction.Store
	if par.storeFilename != "" {
		var err error
		if store, err = correction.Open(par.storeFilename); err != nil {
			return err
		}
		defer store.Close()
	}
	for _, fn := range par.args {
		mzML, err := readMzML(fn)
		if err != nil {
			return fmt.Errorf("%s: %w", fn, err)
		}
		run, err := spectra.Load(fileKey(fn), &mzML)
		if err != nil {
			return fmt.Errorf("%s: %w", fn, err)
		}
		shifts, err := calib.LockMassShifts(run)
		if err != nil {
			return err
		}
		var r *correction.Run
		if store != nil {
			if r, err = store.BeginRun(ctx, fileKey(fn)); err != nil {
				return err
			}
		}
		found := 0
		for n := 1; n <= run.NumScans(); n++ {
			shift, ok := shifts[n]
			if !ok {
				continue
			}
			fmt.Printf("%s\t%d\t%f\t%f\n", fileKey(fn), n, run.RetentionTime(n), shift)
			if math.IsNaN(shift) {
				continue
			}
			found++
			if r != nil {
				if err := r.Record(ctx, n, shift); err != nil {
					return err
				}
			}
		}
		if par.verbosity != infoSilent {
			fmt.Fprintf(os.Stderr, "%s: lock mass found in %d of %d MS1 scans\n", fn, found, len(shifts))
		}
	}
	return nil
}

// runFactor prints the average correction of a scan range
func runFactor(ctx context.Context, par params, file, scanRange string) error {
	if par.storeFilename == "" {
		return fmt.Errorf("--store is required")
	}
	store, err := correction.Open(par.storeFilename)
	if err != nil {
		return err
	}
	defer store.Close()
	corr, err := store.Query(ctx, fileKey(file), scanRange)
	if err != nil {
		return err
	}
	fmt.Printf("%g\n", corr)
	return nil
}
