package eda

import (
	"fmt"
	"math"
)

// MaxBins caps the number of histogram bins.
const MaxBins = 10

// Histogram bins values into at most MaxBins equal-width buckets.
//
// With n values the bin count is min(MaxBins, floor(sqrt(n))). A zero range
// yields one bin labelled with the value; fewer than two bins yields one bin
// spanning the full range. Bin i covers [lo, hi) except the last, which also
// includes the maximum, so every value lands in exactly one bin.
func Histogram(values []float64) []Bin {
	n := len(values)
	if n == 0 {
		return []Bin{}
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return []Bin{{Name: fmt.Sprintf("%.1f", lo), Count: n}}
	}

	k := int(math.Floor(math.Sqrt(float64(n))))
	if k > MaxBins {
		k = MaxBins
	}
	if k < 2 {
		return []Bin{{Name: binLabel(lo, hi), Count: n}}
	}

	// Interpolate instead of lo+i*width: hi-lo overflows for extreme ranges.
	lower := func(i int) float64 {
		t := float64(i) / float64(k)
		return lo*(1-t) + hi*t
	}
	half := hi/2 - lo/2

	bins := make([]Bin, k)
	for i := range bins {
		upper := lower(i + 1)
		if i == k-1 {
			upper = hi
		}
		bins[i].Name = binLabel(lower(i), upper)
	}
	for _, v := range values {
		guess := 0
		if half > 0 {
			guess = int((v/2 - lo/2) / half * float64(k))
		}
		bins[binIndex(v, guess, k, lower)].Count++
	}
	return bins
}

// binIndex clamps the arithmetic guess, then nudges it to agree with the
// bounds that lower reports, which absorbs floating point error at the edges.
func binIndex(v float64, i, k int, lower func(int) float64) int {
	if i < 0 {
		i = 0
	}
	if i > k-1 {
		i = k - 1
	}
	for i > 0 && v < lower(i) {
		i--
	}
	for i < k-1 && v >= lower(i+1) {
		i++
	}
	return i
}

func binLabel(lo, hi float64) string {
	return fmt.Sprintf("%.1f-%.1f", lo, hi)
}
