package heap

import "math"

// F2I converts with Java semantics: NaN becomes 0 and out-of-range values
// saturate.
func F2I(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

// F2L is F2I for long results.
func F2L(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// Fcmp compares two floating values. nanResult is returned when either
// operand is NaN (-1 for fcmpl/dcmpl, 1 for fcmpg/dcmpg).
func Fcmp(a, b float64, nanResult int32) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return nanResult
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}
