package calib

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/isotope"
	"github.com/524D/tdmzcal/internal/spectra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Peaks are matched within harvestTolerance/charge of a theoretical
// isotope m/z, with the charge of the identification
const harvestTolerance = 0.2

// A charge state with a single matched peak counts as a failure when
// the most abundant isotope is below this relative intensity
const singleMatchIntensity = 0.65

// Number of matched isotope peaks needed for a point (or the whole
// envelope when shorter)
const minMatchedPeaks = 5

// HarvestStats counts what happened while harvesting
type HarvestStats struct {
	Considered    int // theoretical peaks with at least one observed peak in tolerance
	Ambiguous     int // of which more than one observed peak
	FormulaErrors int // identifications skipped, composition unresolvable
	NoComponent   int // identifications skipped, no matching component
}

func (s *HarvestStats) add(o HarvestStats) {
	s.Considered += o.Considered
	s.Ambiguous += o.Ambiguous
	s.FormulaErrors += o.FormulaErrors
	s.NoComponent += o.NoComponent
}

// claimSet holds the (m/z, scan) pairs of peaks that contributed to a
// point. The first harvester that claims a peak owns it.
type claimSet struct {
	mu    sync.Mutex
	peaks map[claim]struct{}
}

type claim struct {
	mz   float64
	scan int
}

// add claims a peak, it returns false if the peak was claimed before
func (c *claimSet) add(mz float64, scan int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := claim{mz, scan}
	if _, ok := c.peaks[k]; ok {
		return false
	}
	c.peaks[k] = struct{}{}
	return true
}

// Harvester collects labeled calibration points for a set of
// identifications from one run
type Harvester struct {
	run        *spectra.Run
	hits       []*hits.Hit
	envelopes  []isotope.Envelope
	components []*hits.Component
	cfg        Config
	stats      HarvestStats // envelope failures, fixed for all rounds

	// Debug, if set, is called for every emitted point
	Debug func(scan, charge int, p Point, matched int)
}

// NewHarvester computes the isotope envelopes of the identifications.
// Identifications whose formula cannot be resolved are logged and
// skipped in all rounds. components is only used when
// cfg.MatchComponents is set.
func NewHarvester(run *spectra.Run, ids []*hits.Hit, components []*hits.Component, cfg Config) *Harvester {
	h := &Harvester{run: run, components: components, cfg: cfg}
	for _, id := range ids {
		env, err := id.Envelope(cfg.FineResolution, cfg.MinProbability)
		if err != nil {
			log.Printf("Skipping identification %s %s: %v", id.Accession, id.Sequence, err)
			h.stats.FormulaErrors++
			continue
		}
		if env.Len() == 0 {
			continue
		}
		h.hits = append(h.hits, id)
		h.envelopes = append(h.envelopes, env)
	}
	return h
}

// Harvest searches the MS1 scans around every identification and returns
// the labeled points in identification order. The spectra are only read.
func (h *Harvester) Harvest(ctx context.Context) ([]Point, HarvestStats, error) {
	claimed := &claimSet{peaks: make(map[claim]struct{})}
	results := make([][]Point, len(h.hits))
	stats := make([]HarvestStats, len(h.hits))

	g, gCtx := errgroup.WithContext(ctx)
	if h.cfg.Workers > 0 {
		g.SetLimit(h.cfg.Workers)
	}
	for i := range h.hits {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = h.harvestOne(i, claimed, &stats[i])
			return nil
		})
	}
	total := h.stats
	if err := g.Wait(); err != nil {
		return nil, total, err
	}
	var points []Point
	for i := range results {
		points = append(points, results[i]...)
		total.add(stats[i])
	}
	return points, total, nil
}

func (h *Harvester) harvestOne(i int, claimed *claimSet, stats *HarvestStats) []Point {
	id := h.hits[i]
	scans := []int{id.ScanNumber}
	charge := id.Charge
	if h.cfg.MatchComponents {
		c := h.matchComponent(id)
		if c == nil {
			stats.NoComponent++
			return nil
		}
		var err error
		if scans, err = c.Scans(); err != nil {
			stats.NoComponent++
			return nil
		}
		charge = c.MostIntenseCharge()
	}
	var points []Point
	for _, scan := range scans {
		points = append(points, h.search(id, h.envelopes[i], scan, -1, charge, claimed, stats)...)
		points = append(points, h.search(id, h.envelopes[i], scan, 1, charge, claimed, stats)...)
	}
	return points
}

// matchComponent returns the component of the run closest in mass to the
// identification, within the mass tolerance and with an RT range that
// starts within the RT tolerance
func (h *Harvester) matchComponent(id *hits.Hit) *hits.Component {
	var best *hits.Component
	bestDiff := math.Inf(1)
	for _, c := range h.components {
		if c.Filename != h.run.File() {
			continue
		}
		diff := math.Abs(c.WeightedMonoisotopicMass - id.ReportedMass)
		if diff >= c.WeightedMonoisotopicMass/1e6*h.cfg.MassTolerance {
			continue
		}
		start, err := c.RTStart()
		if err != nil || math.Abs(start-id.RetentionTime) >= h.cfg.RetentionTimeTolerance {
			continue
		}
		if diff < bestDiff {
			best, bestDiff = c, diff
		}
	}
	return best
}

type matchedPeak struct {
	spectra.Match
	label float64
}

// search walks from the MS2 scan across MS1 scans in one direction. In
// every MS1 scan, charges are tried downward and upward from the
// starting charge. The walk stops at the first MS1 scan that yields no
// point, at an empty scan or at the end of the run.
func (h *Harvester) search(id *hits.Hit, env isotope.Envelope, ms2Scan, direction, charge int,
	claimed *claimSet, stats *HarvestStats) []Point {
	scan := ms2Scan
	if direction < 0 {
		scan = ms2Scan - 1
	}
	tol := harvestTolerance / float64(id.Charge)
	needed := minMatchedPeaks
	if env.Len() < needed {
		needed = env.Len()
	}

	var points []Point
	addedScan := true
	for scan >= 1 && scan <= h.run.NumScans() && addedScan {
		if h.run.MSLevel(scan) > 1 {
			scan += direction
			continue
		}
		addedScan = false
		if h.run.NumPeaks(scan) == 0 {
			break
		}
		lo, hi := h.run.Window(scan)
		rt := h.run.RetentionTime(scan)

		for _, step := range []int{-1, 1} {
			startedAdding := false
			continueAdding := false
			z := charge
			if direction < 0 {
				z = charge - 1
			}
			for z >= 1 {
				mostAbundant := isotope.ToMz(env.Masses[0], z)
				if mostAbundant > hi {
					z++
					if !continueAdding {
						break
					}
					continue
				}
				if mostAbundant < lo {
					break
				}
				var matched []matchedPeak
				for _, mass := range env.Masses {
					mz := isotope.ToMz(mass, z)
					peaks := h.run.Within(scan, mz-tol, mz+tol)
					if len(peaks) == 0 {
						break
					}
					stats.Considered++
					if len(peaks) > 1 {
						stats.Ambiguous++
						continue
					}
					if !claimed.add(peaks[0].Mz, scan) {
						break
					}
					matched = append(matched, matchedPeak{Match: peaks[0], label: peaks[0].Mz - mz})
				}
				// Matching stopped after earlier charges succeeded, higher
				// charges won't match either
				if len(matched) == 0 && startedAdding {
					break
				}
				if (len(matched) == 0 || (len(matched) == 1 && env.Intensities[0] < singleMatchIntensity)) &&
					charge <= z {
					break
				}
				if len(matched) >= needed {
					continueAdding = true
					addedScan = true
					startedAdding = true
					p := newPoint(matched, rt, id)
					if h.Debug != nil {
						h.Debug(scan, z, p, len(matched))
					}
					points = append(points, p)
				}
				z += step
				if !continueAdding {
					break
				}
			}
		}
		scan += direction
	}
	return points
}

// newPoint averages the matched peaks into one calibration point, the
// label is the median error
func newPoint(matched []matchedPeak, rt float64, id *hits.Hit) Point {
	mz := make([]float64, len(matched))
	pred := make([]float64, len(matched))
	succ := make([]float64, len(matched))
	errs := make([]float64, len(matched))
	for i, m := range matched {
		mz[i] = m.Mz
		pred[i] = m.LogPred
		succ[i] = m.LogSucc
		errs[i] = m.label
	}
	var p Point
	p.Inputs[FeatureMz] = stat.Mean(mz, nil)
	p.Inputs[FeatureRT] = rt
	p.Inputs[FeatureLogPred] = stat.Mean(pred, nil)
	p.Inputs[FeatureLogSucc] = stat.Mean(succ, nil)
	p.Label = median(errs)
	p.Hit = id
	return p
}

// median averages the two middle values for an even count
func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
