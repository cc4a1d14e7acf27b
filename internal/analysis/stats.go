package analysis

import (
	"math"
	"sort"
)

// Small numeric helpers shared by the analyzers. All operate on float64
// slices and return 0 for degenerate inputs rather than NaN so downstream
// JSON stays clean.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// coefVariation is stddev/mean, or 0 when the mean is 0.
func coefVariation(xs []float64) float64 {
	m := mean(xs)
	if m == 0 {
		return 0
	}
	return stddev(xs) / m
}

// linearRegression fits y = slope·x + intercept over x = 0..n-1.
func linearRegression(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	if n < 2 {
		if n == 1 {
			return 0, ys[0]
		}
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// pearson correlates the series against its index. A flat series has no
// defined correlation and reports 0.
func pearson(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

// quartiles returns Q1 and Q3 by linear interpolation over the sorted copy.
func quartiles(xs []float64) (q1, q3 float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

// percentile interpolates over an already-sorted slice; p in [0,1].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// gini computes the Gini coefficient of a count distribution. By convention
// an empty or all-zero distribution is perfectly equal (0).
func gini(counts []float64) float64 {
	n := len(counts)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), counts...)
	sort.Float64s(sorted)

	var cumWeighted, total float64
	for i, x := range sorted {
		cumWeighted += float64(i+1) * x
		total += x
	}
	if total == 0 {
		return 0
	}
	nf := float64(n)
	g := (2*cumWeighted)/(nf*total) - (nf+1)/nf
	if g < 0 {
		g = 0
	}
	if g > 1 {
		g = 1
	}
	return g
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
