// Package calib removes systematic, scan dependent m/z errors from an
// LC-MS run. Identified analytes are located in the MS1 scans around
// their MS2 scan, the differences between observed and theoretical
// isotope peaks train a set of competing calibration functions, and the
// function with the lowest held-out error is subtracted from every hit,
// component and MS1 peak. This repeats until the number of harvested
// training points stops growing.
package calib

import (
	"errors"
	"runtime"

	"github.com/524D/tdmzcal/internal/isotope"
)

// Indices into the feature vector of a calibration point
const (
	FeatureMz = iota
	FeatureRT
	FeatureLogPred // log intensity of the neighbouring peak below in m/z
	FeatureLogSucc // log intensity of the neighbouring peak above in m/z
	NumFeatures
)

var featureNames = [NumFeatures]string{"mz", "rt", "logpred", "logsucc"}

var (
	// ErrInsufficientData means too few identifications were supplied,
	// calibration is skipped
	ErrInsufficientData = errors.New("calib: insufficient identifications")
	// ErrModelFit means a calibration function could not be trained
	ErrModelFit = errors.New("calib: model fit failed")
)

// Config holds the calibration parameters
type Config struct {
	// Component matching window, in ppm of the component mass
	MassTolerance float64
	// Component matching window for the start of the RT range, seconds
	RetentionTimeTolerance float64
	// Calibration is skipped with fewer identifications
	MinIdentifications int

	// Regression tree ensemble of the second loop
	Forest      bool
	TreeCount   int
	TreeDepth   int
	MinLeafSize int
	FeatureMask [NumFeatures]bool

	// Harvest around the scan range of matching components instead of
	// the MS2 scan of the identification
	MatchComponents bool
	// Also correct MS2 precursor m/z values
	CorrectPrecursors bool

	// Upper bound of each convergence loop
	MaxRounds int
	Workers   int
	// Seed of the train/test shuffle and the bootstrap samples, 0 picks
	// a random seed
	Seed uint64

	FineResolution float64
	MinProbability float64
}

// DefaultConfig returns the default parameters
func DefaultConfig() Config {
	return Config{
		MassTolerance:          10,
		RetentionTimeTolerance: 300,
		MinIdentifications:     5,
		Forest:                 true,
		TreeCount:              40,
		TreeDepth:              10,
		MinLeafSize:            1,
		FeatureMask:            [NumFeatures]bool{true, true, false, false},
		CorrectPrecursors:      true,
		MaxRounds:              20,
		Workers:                runtime.NumCPU(),
		FineResolution:         isotope.DefaultFineResolution,
		MinProbability:         isotope.DefaultMinProbability,
	}
}
