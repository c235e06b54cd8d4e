package enrich

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Quantile returns the q-th quantile (0 <= q <= 1) of sorted using linear
// interpolation between the closest ranks. NaN for an empty slice.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// Median returns the median of values (in any order). NaN when empty.
func Median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return Quantile(sorted, 0.5)
}

// meanStd returns the mean and sample standard deviation. ok is false when
// the deviation is undefined or zero, which makes a z-score meaningless.
func meanStd(values []float64) (mean, std float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}
	if slices.Min(values) == slices.Max(values) {
		return values[0], 0, false
	}
	mean, std = stat.MeanStdDev(values, nil)
	if math.IsNaN(std) || std == 0 {
		return mean, std, false
	}
	return mean, std, true
}

// present collects values[i] where mask[i] is set.
func present(values []float64, mask []bool) []float64 {
	out := make([]float64, 0, len(values))
	for i, v := range values {
		if mask[i] {
			out = append(out, v)
		}
	}
	return out
}
