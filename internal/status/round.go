package status

import (
	"encoding/json"
	"math"
)

// round rounds half-to-even at the given number of decimals. A zero decimal
// count yields an int64 so integral setpoints and durations keep an integer
// type downstream; otherwise a float64 is returned.
func round(v float64, decimals int) any {
	if decimals <= 0 {
		return int64(math.RoundToEven(v))
	}
	p := math.Pow10(decimals)
	return math.RoundToEven(v*p) / p
}

// number extracts a finite numeric value from a decoded JSON field.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
