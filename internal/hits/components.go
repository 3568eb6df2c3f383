package hits

import (
	"encoding/json"
	"io"
	"math"

	"github.com/524D/tdmzcal/internal/rangespec"
)

// ChargeState is the observation of a component at one charge
type ChargeState struct {
	Charge     int
	Intensity  float64
	MzCentroid float64

	row int // row in the source table, 0 if not from a table
}

// Component is a chromatographic feature found by deconvolution. RTRange
// and ScanRange are written as "first-last".
type Component struct {
	ID                       string
	Filename                 string
	WeightedMonoisotopicMass float64
	RTApex                   float64
	RTRange                  string
	ScanRange                string
	ChargeStates             []ChargeState
}

// MostIntenseCharge returns the charge of the most intense charge state,
// 0 if there are none
func (c *Component) MostIntenseCharge() int {
	best, charge := math.Inf(-1), 0
	for _, cs := range c.ChargeStates {
		if cs.Intensity > best {
			best, charge = cs.Intensity, cs.Charge
		}
	}
	return charge
}

// Scans returns the scan numbers of the scan range
func (c *Component) Scans() ([]int, error) {
	first, last, err := rangespec.ParseScanRange(c.ScanRange)
	if err != nil {
		return nil, err
	}
	scans := make([]int, 0, last-first+1)
	for n := first; n <= last; n++ {
		scans = append(scans, n)
	}
	return scans, nil
}

// RTStart returns the start of the retention time range
func (c *Component) RTStart() (float64, error) {
	start, _, err := rangespec.ParseRTRange(c.RTRange)
	return start, err
}

// ReadComponents reads a JSON list of components
func ReadComponents(r io.Reader) ([]*Component, error) {
	var components []*Component
	d := json.NewDecoder(r)
	err := d.Decode(&components)
	return components, err
}

// WriteComponents writes components as an indented JSON list
func WriteComponents(w io.Writer, components []*Component) error {
	e := json.NewEncoder(w)
	e.SetIndent(``, `  `) // Make output easier to read for humans
	return e.Encode(components)
}
