// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"sync"

	"github.com/524D/tdmzcal/internal/calib"
	"github.com/524D/tdmzcal/internal/rangespec"
	"github.com/524D/tdmzcal/internal/spectra"
)

// debugger prints harvest and correction details for a range of scans
type debugger struct {
	enabled          bool
	debugMin         int
	debugMax         int
	run              *spectra.Run
	precursorsBefore map[int]float64

	mux sync.Mutex // points are reported from concurrent harvesters
}

func newDebugger(debugSpecs string, run *spectra.Run) *debugger {
	d := &debugger{run: run}
	if debugSpecs == `` {
		return d
	}
	d.enabled = true
	d.debugMin, d.debugMax, _ = rangespec.ParseIntRange(debugSpecs, 1, run.NumScans())
	d.precursorsBefore = make(map[int]float64)
	for n := d.debugMin; n <= d.debugMax; n++ {
		if mz, ok := run.PrecursorMz(n); ok {
			d.precursorsBefore[n] = mz
		}
	}
	return d
}

func (d *debugger) inRange(scan int) bool {
	return d.enabled && scan >= d.debugMin && scan <= d.debugMax
}

func (d *debugger) logPoint(scan, charge int, p calib.Point, matched int) {
	if !d.inRange(scan) {
		return
	}
	name := ``
	if p.Hit != nil {
		name = p.Hit.Accession + ` ` + p.Hit.Sequence
	}
	d.mux.Lock()
	fmt.Printf("Scan:%d charge:%d mz:%f rt:%f error:%f matched:%d logpred:%f logsucc:%f id:%s\n",
		scan, charge, p.Inputs[calib.FeatureMz], p.Inputs[calib.FeatureRT], p.Label, matched,
		p.Inputs[calib.FeatureLogPred], p.Inputs[calib.FeatureLogSucc], name)
	d.mux.Unlock()
}

// logShifts prints the total shift of the MS1 scans and the precursor
// changes of the MS2 scans in range
func (d *debugger) logShifts() {
	if !d.enabled {
		return
	}
	for n := d.debugMin; n <= d.debugMax; n++ {
		if d.run.MSLevel(n) == 1 {
			fmt.Printf("Scan %d rt:%f shift:%f\n", n, d.run.RetentionTime(n), d.run.TotalShift(n))
			continue
		}
		mzOrig, ok := d.precursorsBefore[n]
		if !ok {
			continue
		}
		mzNew, _ := d.run.PrecursorMz(n)
		fmt.Printf("Scan %d precursor changed from %f to %f (%f)\n",
			n, mzOrig, mzNew, mzOrig-mzNew)
	}
}
