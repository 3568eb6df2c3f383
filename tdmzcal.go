// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/524D/tdmzcal/internal/calib"
	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/mzml"
	"github.com/spf13/cobra"
)

// Program name and version, appended to software list in mzML output
const progName = "tdMzCal"

var progVersion = `Unknown`

// Format of the calibration summary, if it ever changes we should still
// be able to parse output from old versions
const outputFormatVersion = "1.0"

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters
type params struct {
	hitsFilename       string  // xlsx hit table
	mzIdentMlFilename  string  // mzIdentML, alternative to the hit table
	scoreFilter        string  // PSM score filter for mzIdentML input
	componentsFilename string  // JSON list of chromatographic features
	storeFilename      string  // SQLite database for correction factors
	massTolerance      float64 // ppm, component matching
	rtTolerance        float64 // seconds, component matching
	minIdentifications int
	forest             bool
	trees              int
	treeDepth          int
	features           string // feature names for the forest, comma separated
	maxRounds          int
	workers            int
	seed               uint64
	noPrecursors       bool
	debugSpecs         string // Print debug output for given scan range
	verbose            bool
	quiet              bool
	verbosity          int      // Verbosity of progress messages (infoDefault...)
	args               []string // mzML files
}

var par params

// Data processing steps to be added to mzML file
var tdMzCalProcessing = mzml.DataProcessing{
	ID: progName,
	ProcessingMeth: []mzml.ProcessingMethod{
		{
			Count:       0,
			SoftwareRef: progName,
			CvPar: []mzml.CVParam{
				{
					Accession: `MS:1001485`,
					Name:      `m/z calibration`,
				},
			},
		},
		{
			Count:       1,
			SoftwareRef: progName,
			CvPar: []mzml.CVParam{
				{
					Accession: `MS:1000780`,
					Name:      `precursor recalculation`,
				},
			},
		},
	},
}

var rootCmd = &cobra.Command{
	Use:   "tdmzcal",
	Short: "Mass calibration of LC-MS runs using identified analytes",
	Long: `tdmzcal removes systematic, scan dependent m/z errors from LC-MS runs.
Identified proteoforms or peptides are located in the MS1 scans around their
MS2 scan, and the differences between observed and theoretical isotope peaks
train a calibration function that is subtracted from every MS1 peak,
identification and chromatographic feature.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		par.verbosity = infoDefault
		if par.verbose {
			par.verbosity = infoVerbose
		}
		if par.quiet {
			par.verbosity = infoSilent
		}
	},
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate [flags] <mzMLfile>...",
	Short: "Calibrate mzML files, identifications and features",
	Long: `Calibrate mzML files using the identifications of a hit table or an
mzIdentML file.

For every mzML file <base>.mzML the following files are written:
  <base>_calibrated.mzML   calibrated spectra
  <base>-cal.json          calibration rounds and per scan shifts
The hit table <hits>.xlsx is copied to <hits>_calibrated.xlsx with a
"Corrected Mass" column; rows of files that could not be calibrated are
removed. Features <features>.json are written to <features>_calibrated.json,
a feature table <features>.xlsx to <features>_calibrated.xlsx.

Examples:
  tdmzcal calibrate --hits hits.xlsx run1.mzML run2.mzML
  tdmzcal calibrate --mzid yeast.mzid --scorefilter 'MS:1002257(0.0:0.001)' yeast.mzML
  tdmzcal calibrate --hits hits.xlsx --components features.xlsx --ppm 5 run1.mzML`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		par.args = args
		if err := sanitizeParams(&par); err != nil {
			return err
		}
		return runCalibrate(cmd.Context(), par)
	},
}

var lockMassCmd = &cobra.Command{
	Use:   "lockmass [flags] <mzMLfile>...",
	Short: "Estimate per scan m/z errors from the polyasparagine lock mass",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		par.args = args
		return runLockMass(cmd.Context(), par)
	},
}

var factorCmd = &cobra.Command{
	Use:   "factor <file> <first-last>",
	Short: "Print the average correction of a scan range",
	Long: `Print the average m/z correction of the scans in an inclusive range of
the most recent calibration of a file, as recorded with --store. Malformed
ranges and ranges without recorded scans give 0.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFactor(cmd.Context(), par, args[0], args[1])
	},
}

func init() {
	def := calib.DefaultConfig()

	rootCmd.PersistentFlags().BoolVar(&par.verbose, "verbose", false,
		`Print more verbose progress information`)
	rootCmd.PersistentFlags().BoolVar(&par.quiet, "quiet", false,
		`Don't print any output except for errors`)
	rootCmd.PersistentFlags().StringVar(&par.storeFilename, "store", "",
		"SQLite `database` for correction factors")

	f := calibrateCmd.Flags()
	f.StringVar(&par.hitsFilename, "hits", "", "xlsx hit table `filename`")
	f.StringVar(&par.mzIdentMlFilename, "mzid", "",
		"mzIdentML `filename`, used when no hit table is given (default <base>.mzid)")
	f.StringVar(&par.scoreFilter, "scorefilter", hits.DefaultScoreFilter,
		`filter for PSM scores of mzIdentML input. Format:
<CVterm1|scorename1>([<minscore1>]:[<maxscore1>])...`)
	f.StringVar(&par.componentsFilename, "components", "",
		"xlsx table or JSON `filename` of chromatographic features; when set, identifications are\nharvested around the scan range of their matching feature")
	f.Float64Var(&par.massTolerance, "ppm", def.MassTolerance,
		`mass tolerance (ppm) for matching identifications to features`)
	f.Float64Var(&par.rtTolerance, "rt-tol", def.RetentionTimeTolerance,
		`retention time tolerance (s) for matching identifications to features`)
	f.IntVar(&par.minIdentifications, "min-ids", def.MinIdentifications,
		`files with fewer identifications are not calibrated`)
	f.BoolVar(&par.forest, "forest", def.Forest,
		`run the regression forest loop after the linear loop`)
	f.IntVar(&par.trees, "trees", def.TreeCount, `number of regression trees`)
	f.IntVar(&par.treeDepth, "tree-depth", def.TreeDepth, `maximum depth of regression trees`)
	f.StringVar(&par.features, "features", "mz,rt",
		"`features` used by the regression trees (mz,rt,logpred,logsucc)")
	f.IntVar(&par.maxRounds, "max-rounds", def.MaxRounds, `maximum rounds of each calibration loop`)
	f.IntVar(&par.workers, "workers", runtime.NumCPU(), `number of worker goroutines`)
	f.Uint64Var(&par.seed, "seed", 0, `random seed, 0 picks a random seed`)
	f.BoolVar(&par.noPrecursors, "no-precursors", false, `don't correct MS2 precursor m/z values`)
	f.StringVar(&par.debugSpecs, "debug", "",
		"Print debug output for given scan `range` e.g. 3:6")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(lockMassCmd)
	rootCmd.AddCommand(factorCmd)
}

// sanitizeParams checks parameters, and fills missing filenames if
// possible
func sanitizeParams(par *params) error {
	if par.hitsFilename == "" && par.mzIdentMlFilename == "" {
		if len(par.args) != 1 {
			return fmt.Errorf("--hits is required when calibrating more than one mzML file")
		}
		par.mzIdentMlFilename = baseName(par.args[0]) + ".mzid"
	}
	if par.hitsFilename == "" && len(par.args) != 1 {
		return fmt.Errorf("--mzid can only be used with a single mzML file")
	}
	if par.hitsFilename == "" && isXlsx(par.componentsFilename) &&
		baseName(par.componentsFilename) == baseName(par.args[0]) {
		return fmt.Errorf("identifications and components would both be written to %s_calibrated.xlsx",
			baseName(par.args[0]))
	}
	if _, err := hits.ParseScoreFilter(par.scoreFilter); err != nil {
		return fmt.Errorf("invalid parameter 'scorefilter': %w", err)
	}
	if _, err := parseFeatures(par.features); err != nil {
		return err
	}
	if par.workers < 1 {
		par.workers = 1
	}
	return nil
}

// parseFeatures converts a list like "mz,rt" into a feature mask
func parseFeatures(s string) ([calib.NumFeatures]bool, error) {
	var mask [calib.NumFeatures]bool
	names := map[string]int{
		"mz":      calib.FeatureMz,
		"rt":      calib.FeatureRT,
		"logpred": calib.FeatureLogPred,
		"logsucc": calib.FeatureLogSucc,
	}
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		i, ok := names[name]
		if !ok {
			return mask, fmt.Errorf("unknown feature %q", name)
		}
		mask[i] = true
	}
	return mask, nil
}

// calibConfig maps the command line parameters onto the calibration
// parameters
func calibConfig(par params) calib.Config {
	cfg := calib.DefaultConfig()
	cfg.MassTolerance = par.massTolerance
	cfg.RetentionTimeTolerance = par.rtTolerance
	cfg.MinIdentifications = par.minIdentifications
	cfg.Forest = par.forest
	cfg.TreeCount = par.trees
	cfg.TreeDepth = par.treeDepth
	cfg.FeatureMask, _ = parseFeatures(par.features)
	cfg.MatchComponents = par.componentsFilename != ""
	cfg.CorrectPrecursors = !par.noPrecursors
	cfg.MaxRounds = par.maxRounds
	cfg.Workers = par.workers
	cfg.Seed = par.seed
	return cfg
}

// baseName strips the extension from a filename
func baseName(fn string) string {
	return strings.TrimSuffix(fn, filepath.Ext(fn))
}

// fileKey identifies a run in hit tables and feature lists: the filename
// without directory and extension. Tables are often written on Windows.
func fileKey(fn string) string {
	return baseName(filepath.Base(strings.ReplaceAll(fn, `\`, `/`)))
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	rootCmd.Version = progVersion
	// Stop between calibration rounds on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
