package repository

import "time"

// Timeframe represents candle granularity in broker notation.
type Timeframe string

const (
	TFM1  Timeframe = "M1"
	TFM5  Timeframe = "M5"
	TFM15 Timeframe = "M15"
	TFM30 Timeframe = "M30"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
	TFD   Timeframe = "D"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TFM1, TFM5, TFM15, TFM30, TFH1, TFH4, TFD:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TFH1 }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Duration returns the bar length of tf.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TFM1:
		return time.Minute
	case TFM5:
		return 5 * time.Minute
	case TFM15:
		return 15 * time.Minute
	case TFM30:
		return 30 * time.Minute
	case TFH4:
		return 4 * time.Hour
	case TFD:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// TableSuffix returns the lowercase suffix used for per-timeframe tables.
func (tf Timeframe) TableSuffix() string {
	switch tf {
	case TFM1:
		return "m1"
	case TFM5:
		return "m5"
	case TFM15:
		return "m15"
	case TFM30:
		return "m30"
	case TFH4:
		return "h4"
	case TFD:
		return "d"
	default:
		return "h1"
	}
}

// Align rounds t down to the start of its tf bucket.
func (tf Timeframe) Align(t time.Time) time.Time {
	return t.Truncate(tf.Duration())
}
