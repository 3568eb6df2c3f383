package hits

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column headers of hit tables
const (
	ColFile          = "File Name"
	ColAccession     = "Accession"
	ColSequence      = "Sequence"
	ColStart         = "Start Index"
	ColStop          = "End Index"
	ColMods          = "Modifications"
	ColCharge        = "Charge"
	ColMass          = "Observed Precursor Mass"
	ColMz            = "Precursor m/z"
	ColScan          = "Scan"
	ColRetentionTime = "Retention Time"
	ColScore         = "Score"
	ColCorrectedMass = "Corrected Mass"
	// Written only, derived from the masses above
	ColMassError          = "Mass Error"
	ColCorrectedMassError = "Corrected Mass Error"
)

var tableColumns = []string{ColFile, ColAccession, ColSequence, ColStart, ColStop,
	ColMods, ColCharge, ColMass, ColMz, ColScan, ColRetentionTime, ColScore}

var requiredColumns = []string{ColFile, ColSequence, ColCharge, ColMass, ColScan}

// ErrMissingColumn means a hit table lacks a required column
var ErrMissingColumn = errors.New("hit table: missing column")

// "Oxidation@5:O", "Unknown@3:+14.0157"
var reMod = regexp.MustCompile(`^(.*)@(\d+)(?::(.+))?$`)

// ParseMods parses the modification cell of a hit table. Modifications
// are separated by ';' and written as name@position:formula or
// name@position:+mass.
func ParseMods(s string) ([]Modification, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil, nil
	}
	var mods []Modification
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := reMod.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("invalid modification %q", part)
		}
		pos, _ := strconv.Atoi(m[2])
		mod := Modification{Name: strings.TrimSpace(m[1]), Position: pos}
		if v := m[3]; v != "" {
			if v[0] == '+' || v[0] == '-' {
				mass, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid modification mass %q", part)
				}
				mod.Mass = mass
			} else {
				mod.Formula = v
			}
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// FormatMods is the inverse of ParseMods
func FormatMods(mods []Modification) string {
	parts := make([]string, len(mods))
	for i, m := range mods {
		parts[i] = m.Name + "@" + strconv.Itoa(m.Position)
		if m.Formula != "" {
			parts[i] += ":" + m.Formula
		} else if m.Mass != 0 {
			parts[i] += fmt.Sprintf(":%+g", m.Mass)
		}
	}
	return strings.Join(parts, "; ")
}

// ReadTable reads hits from the first sheet of an xlsx file. The first
// row holds the column headers.
func ReadTable(path string) ([]*Hit, error) {
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
	col := make(map[string]int)
	for i, h := range rows[0] {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var hits []*Hit
	for r, row := range rows[1:] {
		rowNr := r + 2
		if cell(row, ColSequence) == "" {
			continue
		}
		var h Hit
		var err error
		h.Filename = cell(row, ColFile)
		h.Accession = cell(row, ColAccession)
		h.Sequence = cell(row, ColSequence)
		if h.Mods, err = ParseMods(cell(row, ColMods)); err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNr, err)
		}
		ints := []struct {
			name string
			dst  *int
		}{{ColStart, &h.Start}, {ColStop, &h.Stop}, {ColCharge, &h.Charge}, {ColScan, &h.ScanNumber}}
		for _, c := range ints {
			if v := cell(row, c.name); v != "" {
				if *c.dst, err = strconv.Atoi(v); err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", rowNr, c.name, err)
				}
			}
		}
		floats := []struct {
			name string
			dst  *float64
		}{{ColMass, &h.ReportedMass}, {ColMz, &h.Mz}, {ColRetentionTime, &h.RetentionTime}, {ColScore, &h.Score}}
		for _, c := range floats {
			if v := cell(row, c.name); v != "" {
				if *c.dst, err = strconv.ParseFloat(v, 64); err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", rowNr, c.name, err)
				}
			}
		}
		hit := New(h)
		hit.row = rowNr
		// Tables written by an earlier calibration
		if v := cell(row, ColCorrectedMass); v != "" {
			if hit.CorrectedMass, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", rowNr, ColCorrectedMass, err)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// WriteTable writes hits to a new xlsx file, including their corrected
// masses
func WriteTable(path string, hits []*Hit) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]
	header := make([]interface{}, 0, len(tableColumns)+3)
	for _, c := range tableColumns {
		header = append(header, c)
	}
	header = append(header, ColCorrectedMass, ColMassError, ColCorrectedMassError)
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, h := range hits {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{h.Filename, h.Accession, h.Sequence, h.Start, h.Stop,
			FormatMods(h.Mods), h.Charge, h.ReportedMass, h.Mz, h.ScanNumber,
			h.RetentionTime, h.Score, h.CorrectedMass,
			cellFloat(h.MassError(h.ReportedMass)), cellFloat(h.MassError(h.CorrectedMass))}
		if err = f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// WriteCalibrated copies the hit table src to dst. The corrected mass of
// every hit read from src and its mass errors before and after correction
// are written to their columns, which are added if needed. Rows of hits
// whose file was not calibrated are removed.
func WriteCalibrated(src, dst string, hits []*Hit, calibrated func(file string) bool) error {
	f, err := excelize.OpenFile(src)
	if err != nil {
		return err
	}
	defer f.Close()
	sheet := f.GetSheetList()[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return f.SaveAs(dst)
	}
	header := rows[0]
	// column returns the one-based column with the given header, adding
	// it after the last column if needed
	column := func(name string) (int, error) {
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i + 1, nil
			}
		}
		header = append(header, name)
		cell, err := excelize.CoordinatesToCellName(len(header), 1)
		if err != nil {
			return 0, err
		}
		return len(header), f.SetCellValue(sheet, cell, name)
	}
	var cols [3]int
	for i, name := range []string{ColCorrectedMass, ColMassError, ColCorrectedMassError} {
		if cols[i], err = column(name); err != nil {
			return err
		}
	}

	var remove []int
	for _, h := range hits {
		if h.row == 0 {
			continue
		}
		if !calibrated(h.Filename) {
			remove = append(remove, h.row)
			continue
		}
		values := []interface{}{h.CorrectedMass,
			cellFloat(h.MassError(h.ReportedMass)), cellFloat(h.MassError(h.CorrectedMass))}
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(cols[i], h.row)
			if err != nil {
				return err
			}
			if err = f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	// Remove from the bottom up, rows below a removed row move up
	sort.Sort(sort.Reverse(sort.IntSlice(remove)))
	for _, r := range remove {
		if err = f.RemoveRow(sheet, r); err != nil {
			return err
		}
	}
	return f.SaveAs(dst)
}

// cellFloat leaves the cell empty for NaN, which xlsx cannot store
func cellFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return ""
	}
	return v
}
