// Package numfmt renders amounts and quantities in the short form used in
// participant-facing messages (950, 12.5, 250.0K, 3.4M, 1.2B).
package numfmt

import (
	"math"
	"strconv"
)

// Compact formats value with one decimal and a K/M/B suffix once it is large.
// Values below 100 000 keep their full magnitude; whole numbers drop the decimal.
func Compact(value float64) string {
	abs := math.Abs(value)
	switch {
	case abs >= 1_000_000_000:
		return oneDecimal(value/1_000_000_000) + "B"
	case abs >= 1_000_000:
		return oneDecimal(value/1_000_000) + "M"
	case abs >= 100_000:
		return oneDecimal(value/1_000) + "K"
	}
	if value == math.Trunc(value) {
		return strconv.FormatInt(int64(value), 10)
	}
	return oneDecimal(value)
}

// CompactInt is Compact for integer quantities.
func CompactInt(value int64) string {
	return Compact(float64(value))
}

func oneDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
