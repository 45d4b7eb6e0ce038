package tables

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Factor names of the technical score.
const (
	FactorRSI               = "rsi"
	FactorMACD              = "macd"
	FactorTrend             = "trend"
	FactorEntryPrice        = "entry_price"
	FactorSupportResistance = "support_resistance"
)

// Factors lists every technical factor in evaluation order.
var Factors = []string{FactorRSI, FactorMACD, FactorTrend, FactorEntryPrice, FactorSupportResistance}

// DefaultMinTechnical is the technical gate used when no threshold applies.
const DefaultMinTechnical = 0.60

// WeightTable assigns a weight to each technical factor.
type WeightTable struct {
	Version string             `json:"version"`
	Default float64            `json:"default"`
	Weights map[string]float64 `json:"weights"`
}

// DefaultWeights weighs every factor 1.0.
func DefaultWeights() WeightTable {
	return WeightTable{Version: "default", Default: 1.0}
}

// Weight returns the weight for factor, falling back to the table default.
func (w WeightTable) Weight(factor string) float64 {
	if v, ok := w.Weights[factor]; ok {
		return v
	}
	return w.Default
}

// ParseWeights decodes a weight table. A missing default means 1.0.
func ParseWeights(b []byte) (WeightTable, error) {
	var raw struct {
		Version string             `json:"version"`
		Default *float64           `json:"default"`
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return WeightTable{}, fmt.Errorf("decode weights: %w", err)
	}
	t := WeightTable{Version: raw.Version, Default: 1.0, Weights: raw.Weights}
	if raw.Default != nil {
		if *raw.Default < 0 {
			return WeightTable{}, fmt.Errorf("default weight is negative")
		}
		t.Default = *raw.Default
	}
	for k, v := range t.Weights {
		if v < 0 {
			return WeightTable{}, fmt.Errorf("weight %s is negative", k)
		}
	}
	return t, nil
}

// ThresholdTable holds per-symbol minimum technical scores.
type ThresholdTable struct {
	Version     string             `json:"version"`
	GeneratedAt string             `json:"generated_at,omitempty"`
	Default     float64            `json:"default"`
	Overrides   map[string]float64 `json:"overrides"`
}

// DefaultThresholds applies DefaultMinTechnical to every symbol.
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{Version: "default", Default: DefaultMinTechnical, Overrides: map[string]float64{}}
}

// Min returns the technical minimum for symbol.
func (t ThresholdTable) Min(symbol string) float64 {
	if v, ok := t.Overrides[symbol]; ok {
		return v
	}
	if v, ok := t.Overrides[strings.ToUpper(symbol)]; ok {
		return v
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultMinTechnical
}

// ParseThresholds decodes a threshold table.
func ParseThresholds(b []byte) (ThresholdTable, error) {
	var t ThresholdTable
	if err := json.Unmarshal(b, &t); err != nil {
		return ThresholdTable{}, fmt.Errorf("decode thresholds: %w", err)
	}
	if t.Overrides == nil {
		t.Overrides = map[string]float64{}
	}
	for k, v := range t.Overrides {
		if v < 0 || v > 1 {
			return ThresholdTable{}, fmt.Errorf("threshold %s out of range: %v", k, v)
		}
	}
	return t, nil
}
