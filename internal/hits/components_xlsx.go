package hits

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column headers of component tables. Every component row is followed by
// a charge state header row and one row per charge state. These rows have
// an empty first cell and fixed columns: charge, intensity, m/z centroid.
//
//	No. | Monoisotopic Mass | Apex RT   | RT Range    | Scan Range | File Name
//	1   | 10000.5           | 61        | 60.5-62     | 10-13      | run1
//	    | Charge State      | Intensity | MZ Centroid |
//	    | 8                 | 10        | 1251.07     |
const (
	ColComponentID = "No."
	ColMonoMass    = "Monoisotopic Mass"
	ColApexRT      = "Apex RT"
	ColRTRange     = "RT Range"
	ColScanRange   = "Scan Range"
)

var componentColumns = []string{ColComponentID, ColMonoMass, ColApexRT, ColRTRange, ColScanRange, ColFile}

var requiredComponentColumns = []string{ColComponentID, ColMonoMass, ColRTRange, ColScanRange}

// Columns of charge state rows, one-based
const (
	csChargeCol = 2
	csIntensCol = 3
	csMzCol     = 4
)

var reDigits = regexp.MustCompile(`^\d+$`)

// cellAt returns the trimmed cell i of a row, "" if absent
func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadComponentTable reads components from the first sheet of an xlsx
// file. Components without a file name belong to the file the table is
// named after.
func ReadComponentTable(path string) ([]*Component, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetList()[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	col := map[string]int{ColFile: -1, ColApexRT: -1}
	for i, h := range rows[0] {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range requiredComponentColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}
	defaultFile := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parseFloat := func(s string, rowNr int, name string) (float64, error) {
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("row %d column %s: %w", rowNr, name, err)
		}
		return v, nil
	}

	var components []*Component
	var cur *Component
	for r, row := range rows[1:] {
		rowNr := r + 2
		if id := cellAt(row, col[ColComponentID]); id != "" {
			c := &Component{
				ID:        id,
				Filename:  cellAt(row, col[ColFile]),
				RTRange:   cellAt(row, col[ColRTRange]),
				ScanRange: cellAt(row, col[ColScanRange]),
			}
			if c.Filename == "" {
				c.Filename = defaultFile
			}
			if c.WeightedMonoisotopicMass, err = parseFloat(cellAt(row, col[ColMonoMass]), rowNr, ColMonoMass); err != nil {
				return nil, err
			}
			if c.RTApex, err = parseFloat(cellAt(row, col[ColApexRT]), rowNr, ColApexRT); err != nil {
				return nil, err
			}
			components = append(components, c)
			cur = c
			continue
		}
		// charge state header rows have text in the charge column
		chargeStr := cellAt(row, csChargeCol-1)
		if cur == nil || !reDigits.MatchString(chargeStr) {
			continue
		}
		cs := ChargeState{row: rowNr}
		cs.Charge, _ = strconv.Atoi(chargeStr)
		if cs.Intensity, err = parseFloat(cellAt(row, csIntensCol-1), rowNr, "Intensity"); err != nil {
			return nil, err
		}
		if cs.MzCentroid, err = parseFloat(cellAt(row, csMzCol-1), rowNr, "MZ Centroid"); err != nil {
			return nil, err
		}
		cur.ChargeStates = append(cur.ChargeStates, cs)
	}
	return components, nil
}

// WriteComponentTable writes components to a new xlsx file
func WriteComponentTable(path string, components []*Component) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]
	rowNr := 1
	setRow := func(values []interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNr)
		if err != nil {
			return err
		}
		rowNr++
		return f.SetSheetRow(sheet, cell, &values)
	}
	header := make([]interface{}, 0, len(componentColumns))
	for _, c := range componentColumns {
		header = append(header, c)
	}
	if err := setRow(header); err != nil {
		return err
	}
	for _, c := range components {
		if err := setRow([]interface{}{c.ID, c.WeightedMonoisotopicMass, c.RTApex,
			c.RTRange, c.ScanRange, c.Filename}); err != nil {
			return err
		}
		if err := setRow([]interface{}{"", "Charge State", "Intensity", "MZ Centroid"}); err != nil {
			return err
		}
		for _, cs := range c.ChargeStates {
			if err := setRow([]interface{}{"", cs.Charge, cs.Intensity, cs.MzCentroid}); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}

// WriteCalibratedComponents copies the component table src to dst with
// the m/z centroids of the charge states read from src replaced by their
// current values
func WriteCalibratedComponents(src, dst string, components []*Component) error {
	f, err := excelize.OpenFile(src)
	if err != nil {
		return err
	}
	defer f.Close()
	sheet := f.GetSheetList()[0]
	for _, c := range components {
		for _, cs := range c.ChargeStates {
			if cs.row == 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(csMzCol, cs.row)
			if err != nil {
				return err
			}
			if err = f.SetCellValue(sheet, cell, cs.MzCentroid); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(dst)
}
