// Package spectra keeps the scans of one LC-MS run in memory and gives
// random access to them by one-based scan number. Readers (harvesting,
// queries) may run concurrently; the Transform methods take the write
// lock and are the only way to modify peak values.
package spectra

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/524D/tdmzcal/internal/mzml"
	"golang.org/x/sync/errgroup"
)

// Source provides the scans of a run by zero-based index. *mzml.MzML
// implements it.
type Source interface {
	NumSpecs() int
	MSLevel(scanIndex int) (int, error)
	RetentionTime(scanIndex int) (float64, error)
	ScanWindow(scanIndex int) (float64, float64, bool, error)
	ReadScan(scanIndex int) ([]mzml.Peak, error)
	SelectedIonMz(scanIndex int) (float64, bool, error)
}

// Sink receives modified scans. *mzml.MzML implements it.
type Sink interface {
	UpdateScan(scanIndex int, p []mzml.Peak, updateMz bool, updateIntens bool) error
	UpdatePrecursorMz(scanIndex int, fn func(mz float64) float64) (int, error)
}

// Scan is a copy of the data of one scan
type Scan struct {
	Number        int
	MSLevel       int
	RetentionTime float64
	WindowLow     float64
	WindowHigh    float64
	// Peaks sorted by m/z
	Peaks []mzml.Peak
	// Mean shift subtracted from the peaks of this scan by all
	// transformations so far
	TotalShift float64
	// Precursor selected ion, MS2 scans only
	PrecursorMz  float64
	HasPrecursor bool

	modified bool
}

// Match is an observed peak together with the log intensities of its
// neighbours in m/z. A missing neighbour has log intensity 0.
type Match struct {
	mzml.Peak
	LogPred float64
	LogSucc float64
}

// Run is the in-memory copy of all scans of one file
type Run struct {
	file string

	mu             sync.RWMutex
	scans          []Scan
	precursorShift []float64
	byRT           []int // scan indices sorted by retention time
}

// Load reads all scans from src. file identifies the run in hit
// tables and the correction store.
func Load(file string, src Source) (*Run, error) {
	n := src.NumSpecs()
	r := &Run{
		file:           file,
		scans:          make([]Scan, n),
		precursorShift: make([]float64, n),
		byRT:           make([]int, n),
	}
	for i := 0; i < n; i++ {
		s := &r.scans[i]
		s.Number = i + 1
		var err error
		if s.MSLevel, err = src.MSLevel(i); err != nil {
			return nil, fmt.Errorf("scan %d: %w", s.Number, err)
		}
		if s.RetentionTime, err = src.RetentionTime(i); err != nil {
			return nil, fmt.Errorf("scan %d: %w", s.Number, err)
		}
		if s.Peaks, err = src.ReadScan(i); err != nil {
			return nil, fmt.Errorf("scan %d: %w", s.Number, err)
		}
		if !sort.SliceIsSorted(s.Peaks, func(a, b int) bool { return s.Peaks[a].Mz < s.Peaks[b].Mz }) {
			sort.SliceStable(s.Peaks, func(a, b int) bool { return s.Peaks[a].Mz < s.Peaks[b].Mz })
		}
		lo, hi, ok, err := src.ScanWindow(i)
		if err != nil {
			return nil, fmt.Errorf("scan %d: %w", s.Number, err)
		}
		if !ok && len(s.Peaks) > 0 {
			// No scan window in the file, use the measured range
			lo, hi = s.Peaks[0].Mz, s.Peaks[len(s.Peaks)-1].Mz
		}
		s.WindowLow, s.WindowHigh = lo, hi
		if s.MSLevel > 1 {
			if s.PrecursorMz, s.HasPrecursor, err = src.SelectedIonMz(i); err != nil {
				return nil, fmt.Errorf("scan %d: %w", s.Number, err)
			}
		}
		r.byRT[i] = i
	}
	sort.SliceStable(r.byRT, func(a, b int) bool {
		return r.scans[r.byRT[a]].RetentionTime < r.scans[r.byRT[b]].RetentionTime
	})
	return r, nil
}

// File returns the file name of the run
func (r *Run) File() string {
	return r.file
}

// NumScans returns the number of scans, valid scan numbers are
// 1..NumScans()
func (r *Run) NumScans() int {
	return len(r.scans)
}

func (r *Run) valid(number int) bool {
	return number >= 1 && number <= len(r.scans)
}

// Scan returns a copy of a scan
func (r *Run) Scan(number int) (Scan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.valid(number) {
		return Scan{}, false
	}
	s := r.scans[number-1]
	s.Peaks = append([]mzml.Peak(nil), s.Peaks...)
	return s, true
}

// MSLevel returns the MS level of a scan, 0 for an invalid scan number
func (r *Run) MSLevel(number int) int {
	if !r.valid(number) {
		return 0
	}
	return r.scans[number-1].MSLevel
}

// RetentionTime returns the retention time of a scan in seconds
func (r *Run) RetentionTime(number int) float64 {
	if !r.valid(number) {
		return 0
	}
	return r.scans[number-1].RetentionTime
}

// Window returns the scanned m/z range
func (r *Run) Window(number int) (float64, float64) {
	if !r.valid(number) {
		return 0, 0
	}
	return r.scans[number-1].WindowLow, r.scans[number-1].WindowHigh
}

// NumPeaks returns the number of peaks in a scan
func (r *Run) NumPeaks(number int) int {
	if !r.valid(number) {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scans[number-1].Peaks)
}

// TotalShift returns the mean shift applied to the peaks of a scan
func (r *Run) TotalShift(number int) float64 {
	if !r.valid(number) {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scans[number-1].TotalShift
}

// Within returns all peaks of a scan with lo <= m/z <= hi
func (r *Run) Within(number int, lo, hi float64) []Match {
	if !r.valid(number) {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	peaks := r.scans[number-1].Peaks
	first := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= lo })
	var matches []Match
	for i := first; i < len(peaks) && peaks[i].Mz <= hi; i++ {
		matches = append(matches, match(peaks, i))
	}
	return matches
}

// Closest returns the peak of a scan closest to mz
func (r *Run) Closest(number int, mz float64) (Match, bool) {
	if !r.valid(number) {
		return Match{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return closest(r.scans[number-1].Peaks, mz)
}

func closest(peaks []mzml.Peak, mz float64) (Match, bool) {
	if len(peaks) == 0 {
		return Match{}, false
	}
	i := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= mz })
	if i == len(peaks) || (i > 0 && mz-peaks[i-1].Mz < peaks[i].Mz-mz) {
		i--
	}
	return match(peaks, i), true
}

func match(peaks []mzml.Peak, i int) Match {
	m := Match{Peak: peaks[i]}
	if i > 0 {
		m.LogPred = logIntensity(peaks[i-1].Intens)
	}
	if i < len(peaks)-1 {
		m.LogSucc = logIntensity(peaks[i+1].Intens)
	}
	return m
}

func logIntensity(intens float64) float64 {
	if intens <= 0 {
		return 0
	}
	return math.Log(intens)
}

// ClosestScan returns the number of the scan (any MS level) with the
// retention time closest to rt, 0 for an empty run
func (r *Run) ClosestScan(rt float64) int {
	if len(r.byRT) == 0 {
		return 0
	}
	i := sort.Search(len(r.byRT), func(i int) bool { return r.scans[r.byRT[i]].RetentionTime >= rt })
	if i == len(r.byRT) ||
		(i > 0 && rt-r.scans[r.byRT[i-1]].RetentionTime < r.scans[r.byRT[i]].RetentionTime-rt) {
		i--
	}
	return r.byRT[i] + 1
}

// PrecedingMS1 walks backward from number (inclusive) and returns the
// first MS1 scan, 0 if there is none
func (r *Run) PrecedingMS1(number int) int {
	if number > len(r.scans) {
		number = len(r.scans)
	}
	for n := number; n >= 1; n-- {
		if r.scans[n-1].MSLevel == 1 {
			return n
		}
	}
	return 0
}

// PrecursorMz returns the selected ion m/z of an MS2 scan
func (r *Run) PrecursorMz(number int) (float64, bool) {
	if !r.valid(number) {
		return 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scans[number-1].PrecursorMz, r.scans[number-1].HasPrecursor
}

// ShiftFunc returns the value to subtract from the m/z of a peak
// observed at retention time rt
type ShiftFunc func(rt float64, m Match) float64

// TransformMS1 subtracts shift from every peak of every MS1 scan. Scans
// are distributed over at most workers goroutines, each scan is owned by
// one goroutine. The features of all peaks of a scan are computed before
// any of them is modified.
func (r *Run) TransformMS1(ctx context.Context, workers int, shift ShiftFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range r.scans {
		if r.scans[i].MSLevel != 1 || len(r.scans[i].Peaks) == 0 {
			continue
		}
		s := &r.scans[i]
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			shifts := make([]float64, len(s.Peaks))
			var sum float64
			for k := range s.Peaks {
				shifts[k] = shift(s.RetentionTime, match(s.Peaks, k))
				sum += shifts[k]
			}
			for k := range s.Peaks {
				s.Peaks[k].Mz -= shifts[k]
			}
			if !sort.SliceIsSorted(s.Peaks, func(a, b int) bool { return s.Peaks[a].Mz < s.Peaks[b].Mz }) {
				sort.SliceStable(s.Peaks, func(a, b int) bool { return s.Peaks[a].Mz < s.Peaks[b].Mz })
			}
			s.TotalShift += sum / float64(len(shifts))
			s.modified = true
			return nil
		})
	}
	return g.Wait()
}

// TransformPrecursors subtracts shift from the selected ion m/z of all
// MS2 scans. The retention time and neighbour intensities are taken from
// the MS1 scan preceding the MS2 scan, at the peak closest to the
// precursor. It returns the number of precursors that were updated.
func (r *Run) TransformPrecursors(shift ShiftFunc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := 0
	for i := range r.scans {
		s := &r.scans[i]
		if !s.HasPrecursor {
			continue
		}
		ms1 := r.PrecedingMS1(s.Number)
		if ms1 == 0 {
			continue
		}
		m, _ := closest(r.scans[ms1-1].Peaks, s.PrecursorMz)
		m.Mz = s.PrecursorMz
		d := shift(r.scans[ms1-1].RetentionTime, m)
		s.PrecursorMz -= d
		r.precursorShift[i] += d
		updated++
	}
	return updated
}

// WriteBack copies the modified MS1 peaks and precursor m/z values to
// dst. It returns the number of updated precursors.
func (r *Run) WriteBack(dst Sink) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	precursors := 0
	for i, s := range r.scans {
		if s.modified {
			if err := dst.UpdateScan(i, append([]mzml.Peak(nil), s.Peaks...), true, true); err != nil {
				return precursors, fmt.Errorf("scan %d: %w", s.Number, err)
			}
		}
		if d := r.precursorShift[i]; d != 0 {
			n, err := dst.UpdatePrecursorMz(i, func(mz float64) float64 { return mz - d })
			if err != nil {
				return precursors, fmt.Errorf("scan %d: %w", s.Number, err)
			}
			precursors += n
		}
	}
	return precursors, nil
}
