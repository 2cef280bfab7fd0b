package locker

import (
	"math"
	"time"
)

// maxExponent caps the exponential term so that exp() stays finite
const maxExponent = 700

// BackoffDelay returns the pause after the failed trial n (1-indexed):
//
//	floor(base * exp(clamp(0, 700, (n-1) * multiplier)) + (n-1) * increment)
//
// computed in milliseconds. The linear term is added to the exponential one,
// not multiplied. Delays beyond the range of time.Duration saturate.
func BackoffDelay(trial int, base, increment time.Duration, multiplier float64) time.Duration {
	n := float64(trial - 1)
	exponent := math.Max(0, math.Min(maxExponent, n*multiplier))
	ms := math.Floor(toMillis(base)*math.Exp(exponent) + n*toMillis(increment))

	if ms <= 0 || math.IsNaN(ms) {
		return 0
	}
	if ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
