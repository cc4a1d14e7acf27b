package analysis

import (
	"math"

	"patlas/internal/types"
)

// Prediction method names as they appear in PredictedYear.Methods.
const (
	methodLinear   = "linear_regression"
	methodMA       = "moving_average"
	methodSmooth   = "exponential_smoothing"
	methodSeasonal = "seasonal"
)

// predict forecasts the next PredictionYears yearly counts with every
// applicable method and folds them into per-year ensembles. Counts are
// floored at zero.
func (a *TrendAnalyzer) predict(years []int, series []float64) []types.PredictedYear {
	horizon := a.cfg.PredictionYears
	if horizon <= 0 || len(series) < 2 {
		return nil
	}
	lastYear := years[len(years)-1]

	linear := a.predictLinear(series, horizon)
	ma := a.predictMovingAverage(series, horizon)
	smooth := a.predictSmoothing(series, horizon)
	seasonal := a.predictSeasonal(series, horizon)

	out := make([]types.PredictedYear, 0, horizon)
	for h := 0; h < horizon; h++ {
		methods := map[string]float64{
			methodLinear: linear[h],
			methodMA:     ma[h],
			methodSmooth: smooth[h],
		}
		if seasonal != nil {
			methods[methodSeasonal] = seasonal[h]
		}

		values := make([]float64, 0, len(methods))
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range methods {
			values = append(values, v)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		out = append(out, types.PredictedYear{
			Year:     lastYear + h + 1,
			Methods:  methods,
			Ensemble: mean(values),
			Min:      lo,
			Max:      hi,
			Std:      stddev(values),
		})
	}
	return out
}

// predictLinear extrapolates the fitted regression line.
func (a *TrendAnalyzer) predictLinear(series []float64, horizon int) []float64 {
	slope, intercept := linearRegression(series)
	out := make([]float64, horizon)
	n := float64(len(series))
	for h := 0; h < horizon; h++ {
		out[h] = nonNegative(intercept + slope*(n+float64(h)))
	}
	return out
}

// predictMovingAverage extends the series recursively with the mean of the
// trailing window, so later horizons feed on earlier predictions.
func (a *TrendAnalyzer) predictMovingAverage(series []float64, horizon int) []float64 {
	window := a.cfg.MAWindow
	extended := append([]float64(nil), series...)
	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		lo := len(extended) - window
		if lo < 0 {
			lo = 0
		}
		next := nonNegative(mean(extended[lo:]))
		out[h] = next
		extended = append(extended, next)
	}
	return out
}

// predictSmoothing runs simple exponential smoothing; the final smoothed
// level is the forecast for every horizon.
func (a *TrendAnalyzer) predictSmoothing(series []float64, horizon int) []float64 {
	alpha := a.cfg.SmoothingAlpha
	level := series[0]
	for _, y := range series[1:] {
		level = alpha*y + (1-alpha)*level
	}
	level = nonNegative(level)
	out := make([]float64, horizon)
	for h := range out {
		out[h] = level
	}
	return out
}

// seasonalCycle is the assumed periodicity of filing activity in years.
const seasonalCycle = 3

// predictSeasonal projects the per-phase means of a 3-year cycle. It needs
// at least two full cycles of data; otherwise nil.
func (a *TrendAnalyzer) predictSeasonal(series []float64, horizon int) []float64 {
	if len(series) < 2*seasonalCycle {
		return nil
	}
	phaseSums := make([]float64, seasonalCycle)
	phaseCounts := make([]int, seasonalCycle)
	for i, v := range series {
		phase := i % seasonalCycle
		phaseSums[phase] += v
		phaseCounts[phase]++
	}
	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		phase := (len(series) + h) % seasonalCycle
		if phaseCounts[phase] == 0 {
			out[h] = 0
			continue
		}
		out[h] = nonNegative(phaseSums[phase] / float64(phaseCounts[phase]))
	}
	return out
}

func nonNegative(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	return x
}
