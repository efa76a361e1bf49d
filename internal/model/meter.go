package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Liters is a fixed-point volume in milliliters. Fixed-point arithmetic is
// used throughout instead of float64 so that stability comparisons
// (last_stable == current) are bit-exact, never subject to floating-point
// rounding — the same reasoning the teacher applies to prices stored as
// integer paise.
type Liters int64

// ParseLiters parses the wire representation of a meter_read argument: an
// unsigned decimal with one or more fractional digits (e.g. "12.3",
// "0.0", "104.125").
func ParseLiters(s string) (Liters, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("model: empty liters value")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) {
		return 0, fmt.Errorf("model: invalid liters value %q", s)
	}
	if hasFrac && (frac == "" || !isDigits(frac)) {
		return 0, fmt.Errorf("model: invalid liters value %q", s)
	}
	// Pad/truncate fractional part to 3 digits (milliliters).
	for len(frac) < 3 {
		frac += "0"
	}
	frac = frac[:3]
	w, err := strconv.ParseInt(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("model: invalid liters value %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("model: invalid liters value %q: %w", s, err)
	}
	v := w*1000 + f
	if neg {
		v = -v
	}
	return Liters(v), nil
}

// Float64 returns the value as a liters float, for display/JSON only —
// never for comparisons.
func (l Liters) Float64() float64 {
	return float64(l) / 1000.0
}

// String renders the value the way the nozzle controller does, e.g. "12.300".
func (l Liters) String() string {
	neg := ""
	v := int64(l)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%03d", neg, v/1000, v%1000)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MeterReading is a single raw observation from the flow meter, carried
// alongside the time it was observed (for the stability-window protocol).
type MeterReading struct {
	Value Liters
	At    int64 // unix nanos
}
