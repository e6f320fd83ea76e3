package util

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNotFinite is returned for NaN and infinite values.
var ErrNotFinite = errors.New("not a finite number")

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// ParseNumber parses feed numerics such as "1,23,450.50" or "-". Empty and dash mean absent.
// NaN and infinities are rejected with ErrNotFinite.
func ParseNumber(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, ErrNotFinite
	}
	return &v, nil
}
