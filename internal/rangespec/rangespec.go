// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package rangespec parses the range strings used on the command line
// ("-12:6", "0.5:") and in feature/report tables ("10-20").
package rangespec

import (
	"errors"
	"regexp"
	"strconv"
)

var ErrRangeSpec = errors.New("invalid range specified")

var (
	reIntRange   = regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	reFloatRange = regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	reDashInt    = regexp.MustCompile(`^\s*(\d+)\s*-\s*(\d+)\s*$`)
	reDashFloat  = regexp.MustCompile(`^\s*(\d+(?:\.\d*)?(?:[eE][-+]?\d+)?)\s*-\s*(\d+(?:\.\d*)?(?:[eE][-+]?\d+)?)\s*$`)
)

// ParseIntRange parses a string like "-12:6" into 2 values, -12 and 6.
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12:"), the default is assigned
func ParseIntRange(r string, min int, max int) (int, int, error) {
	m := reIntRange.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// ParseFloat64Range parses a string like "-12.01e1:+6" into 2 values,
// -120.1 and 6.0. Defaults and clamping work as in ParseIntRange.
func ParseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	m := reFloatRange.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// ParseScanRange parses an inclusive scan range written as "first-last".
// Both bounds must be present, positive and in order.
func ParseScanRange(r string) (int, int, error) {
	m := reDashInt.FindStringSubmatch(r)
	if m == nil {
		return 0, 0, ErrRangeSpec
	}
	first, err1 := strconv.Atoi(m[1])
	last, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || first <= 0 || last <= 0 || first > last {
		return 0, 0, ErrRangeSpec
	}
	return first, last, nil
}

// ParseRTRange parses a retention time range written as "start-end".
func ParseRTRange(r string) (float64, float64, error) {
	m := reDashFloat.FindStringSubmatch(r)
	if m == nil {
		return 0, 0, ErrRangeSpec
	}
	start, err1 := strconv.ParseFloat(m[1], 64)
	end, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || start > end {
		return 0, 0, ErrRangeSpec
	}
	return start, end, nil
}
