// Package power turns replicate fits into power estimates and bounds them
// with a binomial confidence interval.
package power

import (
	"math"

	"lmmpower/domain/core"
)

// intervalZ is the two-sided 95% normal quantile used by the arcsine interval
const intervalZ = 1.96

// Interval is an approximate two-sided confidence interval for a proportion
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Width returns Upper - Lower
func (iv Interval) Width() float64 { return iv.Upper - iv.Lower }

// EstimateInterval bounds a success proportion p observed over n trials using
// the default tolerance 1/n
func EstimateInterval(p float64, n int) (Interval, error) {
	if n <= 0 {
		return Interval{}, core.NewInvalidArgumentf("n", "must be positive, got %d", n)
	}
	return EstimateIntervalWithTolerance(p, n, 1/float64(n))
}

// EstimateIntervalWithTolerance bounds a success proportion p observed over n
// trials. Proportions within tol of 0 or 1 use the rule of three; everything
// else uses the arcsine-square-root approximation. Both bounds are rounded to
// two significant digits and lie in [0, 1].
func EstimateIntervalWithTolerance(p float64, n int, tol float64) (Interval, error) {
	if n <= 0 {
		return Interval{}, core.NewInvalidArgumentf("n", "must be positive, got %d", n)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Interval{}, core.NewInvalidArgumentf("p", "must lie in [0, 1], got %v", p)
	}
	if math.IsNaN(tol) || tol < 0 {
		return Interval{}, core.NewInvalidArgumentf("tolerance", "must be non-negative, got %v", tol)
	}

	lower, upper := bounds(p, float64(n), tol)
	return Interval{
		Lower: clamp01(roundSignificant(lower, 2)),
		Upper: clamp01(roundSignificant(upper, 2)),
	}, nil
}

// bounds computes the unrounded interval. The boundary branches never take
// the arcsine of p.
func bounds(p, n, tol float64) (lower, upper float64) {
	switch {
	case 1-p < tol:
		return 1 - 3/n, 1
	case p < tol:
		return 0, 3 / n
	}
	a := math.Asin(math.Sqrt(p))
	z := intervalZ / (2 * math.Sqrt(n))
	return math.Pow(math.Sin(a-z), 2), math.Pow(math.Sin(a+z), 2)
}

// roundSignificant rounds x to the given number of significant digits, ties to even
func roundSignificant(x float64, digits int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	d := math.Ceil(math.Log10(math.Abs(x)))
	pow := math.Pow(10, float64(digits)-d)
	return math.RoundToEven(x*pow) / pow
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
