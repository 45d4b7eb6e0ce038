package scoring

import (
	"math"
	"strings"
)

// Default merge tolerances in price units.
const (
	DefaultMetalsTolerance = 1.0
	DefaultJPYTolerance    = 0.10
	DefaultPriceTolerance  = 0.001
)

// Tolerance is the per-instrument price distance under which two entries are duplicates.
type Tolerance struct {
	Metals  float64
	JPY     float64
	Default float64
}

// DefaultTolerance returns roughly ten pips for each instrument class.
func DefaultTolerance() Tolerance {
	return Tolerance{Metals: DefaultMetalsTolerance, JPY: DefaultJPYTolerance, Default: DefaultPriceTolerance}
}

// For returns the tolerance that applies to symbol.
func (t Tolerance) For(symbol string) float64 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"), strings.HasPrefix(s, "XAG"):
		return t.Metals
	case strings.Contains(s, "JPY"):
		return t.JPY
	default:
		return t.Default
	}
}

// IsPriceTooClose reports whether a and b are within the symbol tolerance.
func (t Tolerance) IsPriceTooClose(symbol string, a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return math.Abs(a-b) <= t.For(symbol)
}

// IsPriceTooClose applies DefaultTolerance.
func IsPriceTooClose(symbol string, a, b float64) bool {
	return DefaultTolerance().IsPriceTooClose(symbol, a, b)
}
