package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"patlas/internal/logging"
	"patlas/internal/types"
)

// TrendConfig controls the trend analyzer. Zero values fall back to the
// standard gates (3 points, 365 days, 3 years, window 3, horizon 3).
type TrendConfig struct {
	MinDataPoints    int
	MinSpanDays      int
	MinDistinctYears int
	MAWindow         int
	PredictionYears  int
	SmoothingAlpha   float64
	Logger           *zap.Logger
}

func (c *TrendConfig) applyDefaults() {
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = 3
	}
	if c.MinSpanDays <= 0 {
		c.MinSpanDays = 365
	}
	if c.MinDistinctYears <= 0 {
		c.MinDistinctYears = 3
	}
	if c.MAWindow <= 0 {
		c.MAWindow = 3
	}
	if c.PredictionYears <= 0 {
		c.PredictionYears = 3
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		c.SmoothingAlpha = 0.3
	}
}

// TrendAnalyzer computes filing-trend statistics and forecasts.
type TrendAnalyzer struct {
	cfg    TrendConfig
	logger *zap.Logger
}

// NewTrendAnalyzer creates a TrendAnalyzer from cfg.
func NewTrendAnalyzer(cfg TrendConfig) *TrendAnalyzer {
	cfg.applyDefaults()
	return &TrendAnalyzer{cfg: cfg, logger: logging.Named(cfg.Logger, "trend")}
}

// Analyze runs the full trend pipeline over the records. Records whose
// application date does not parse are skipped; if what remains fails the
// data gates the error kind is ErrInsufficientData and its message lists
// every violated gate.
func (a *TrendAnalyzer) Analyze(records []types.PatentRecord) (*types.TrendResult, error) {
	dates := make([]filingDate, 0, len(records))
	for i := range records {
		if fd, ok := parseFilingDate(records[i].ApplicationDate); ok {
			dates = append(dates, fd)
		}
	}

	if err := a.checkGates(dates); err != nil {
		return nil, err
	}

	res := &types.TrendResult{
		YearlyCounts:    make(map[int]int),
		MonthlyCounts:   make(map[string]int),
		QuarterlyCounts: make(map[string]int),
		DataPoints:      len(dates),
	}
	for _, fd := range dates {
		res.YearlyCounts[fd.Year]++
		if fd.Month > 0 {
			res.MonthlyCounts[fmt.Sprintf("%04d-%02d", fd.Year, fd.Month)]++
			res.QuarterlyCounts[fmt.Sprintf("%04d-Q%d", fd.Year, fd.Quarter())]++
		}
	}

	years := sortedYears(res.YearlyCounts)
	res.YearSpan = [2]int{years[0], years[len(years)-1]}
	series := make([]float64, len(years))
	for i, y := range years {
		series[i] = float64(res.YearlyCounts[y])
	}

	res.MovingAverage = movingAverage(years, series, a.cfg.MAWindow)
	res.GrowthRates = growthRates(years, series)
	res.MeanGrowthRate = meanGrowth(res.GrowthRates)
	res.Slope, _ = linearRegression(series)
	res.Correlation = pearson(series)
	res.CAGR, res.CAGRValid = cagr(years, series)
	res.Pattern = classifyPattern(res.MeanGrowthRate, res.GrowthRates)
	res.Direction = assessDirection(series, res.GrowthRates, res.Correlation)
	res.Predictions = a.predict(years, series)
	res.Seasonality = detectSeasonality(res.MonthlyCounts)
	res.Outliers = detectOutliers(years, series)

	res.Confidence, res.ConfidenceGrade = a.confidence(years, series, res)

	a.logger.Debug("trend analysis complete",
		zap.Int("data_points", res.DataPoints),
		zap.Ints("year_span", res.YearSpan[:]),
		zap.String("pattern", res.Pattern),
		zap.String("direction", string(res.Direction.Direction)))
	return res, nil
}

// checkGates verifies the minimum-data requirements and reports every
// violation at once.
func (a *TrendAnalyzer) checkGates(dates []filingDate) error {
	var issues []string
	if len(dates) < a.cfg.MinDataPoints {
		issues = append(issues, fmt.Sprintf("need at least %d dated records, have %d",
			a.cfg.MinDataPoints, len(dates)))
	}
	if len(dates) > 0 {
		first, last := dates[0].Time(), dates[0].Time()
		yearSet := make(map[int]bool, len(dates))
		for _, fd := range dates {
			t := fd.Time()
			if t.Before(first) {
				first = t
			}
			if t.After(last) {
				last = t
			}
			yearSet[fd.Year] = true
		}
		if spanDays := int(last.Sub(first).Hours() / 24); spanDays < a.cfg.MinSpanDays {
			issues = append(issues, fmt.Sprintf("time span %d days is below %d",
				spanDays, a.cfg.MinSpanDays))
		}
		if len(yearSet) < a.cfg.MinDistinctYears {
			issues = append(issues, fmt.Sprintf("need %d distinct years, have %d",
				a.cfg.MinDistinctYears, len(yearSet)))
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return types.NewError(types.ErrInsufficientData,
		"trend: "+strings.Join(issues, "; "))
}

func sortedYears(counts map[int]int) []int {
	years := make([]int, 0, len(counts))
	for y := range counts {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// movingAverage is the trailing mean over the last window entries of the
// year-ordered series.
func movingAverage(years []int, series []float64, window int) map[int]float64 {
	out := make(map[int]float64, len(years))
	for i := range series {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		out[years[i]] = mean(series[lo : i+1])
	}
	return out
}

// growthRates computes year-over-year percentage growth between consecutive
// entries of the sorted year list. A zero previous count yields 0%.
func growthRates(years []int, series []float64) map[int]float64 {
	out := make(map[int]float64, len(years))
	for i := 1; i < len(series); i++ {
		prev := series[i-1]
		if prev == 0 {
			out[years[i]] = 0
			continue
		}
		out[years[i]] = (series[i] - prev) / prev * 100
	}
	return out
}

func meanGrowth(rates map[int]float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates))
}

// cagr computes compound annual growth in percent. It is valid only when the
// first year's count is positive and the span covers more than one year.
func cagr(years []int, series []float64) (float64, bool) {
	if len(years) < 2 {
		return 0, false
	}
	start, end := series[0], series[len(series)-1]
	span := years[len(years)-1] - years[0]
	if start <= 0 || span <= 0 {
		return 0, false
	}
	v := (math.Pow(end/start, 1/float64(span)) - 1) * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// classifyPattern buckets the mean growth rate. The moderate band further
// requires strictly more growing years than shrinking ones; otherwise the
// series is fluctuating.
func classifyPattern(meanGrowthRate float64, rates map[int]float64) string {
	switch {
	case meanGrowthRate >= 20:
		return types.PatternRapidGrowth
	case meanGrowthRate >= 5:
		return types.PatternSteadyGrowth
	case meanGrowthRate > -5:
		pos, neg := 0, 0
		for _, r := range rates {
			switch {
			case r > 0:
				pos++
			case r < 0:
				neg++
			}
		}
		if pos > neg {
			return types.PatternModerateGrowth
		}
		return types.PatternFluctuating
	case meanGrowthRate >= -20:
		return types.PatternDeclining
	default:
		return types.PatternRapidDecline
	}
}

// Direction vote weights.
const (
	voteWeightGrowth   = 0.4
	voteWeightPattern  = 0.3
	voteWeightLongTerm = 0.3
)

// assessDirection combines three votes into the overall direction. Each vote
// depends only on the signs of year-over-year deltas, the regression slope,
// or the net change, so adding a constant to every yearly count never changes
// the outcome, only the strength.
func assessDirection(series []float64, rates map[int]float64, correlation float64) types.DirectionAssessment {
	growthVote := func() types.TrendDirection {
		pos, neg := 0, 0
		for _, r := range rates {
			switch {
			case r > 0:
				pos++
			case r < 0:
				neg++
			}
		}
		switch {
		case pos > neg:
			return types.DirectionIncreasing
		case neg > pos:
			return types.DirectionDecreasing
		default:
			return types.DirectionStable
		}
	}()

	patternVote := func() types.TrendDirection {
		slope, _ := linearRegression(series)
		switch {
		case slope > 1e-9:
			return types.DirectionIncreasing
		case slope < -1e-9:
			return types.DirectionDecreasing
		default:
			return types.DirectionStable
		}
	}()

	longTermVote := func() types.TrendDirection {
		if len(series) < 2 {
			return types.DirectionStable
		}
		net := series[len(series)-1] - series[0]
		switch {
		case net > 0:
			return types.DirectionIncreasing
		case net < 0:
			return types.DirectionDecreasing
		default:
			return types.DirectionStable
		}
	}()

	votes := map[string]string{
		"growth":    string(growthVote),
		"pattern":   string(patternVote),
		"long_term": string(longTermVote),
	}
	scores := map[string]float64{}
	scores[string(growthVote)] += voteWeightGrowth
	scores[string(patternVote)] += voteWeightPattern
	scores[string(longTermVote)] += voteWeightLongTerm

	winner := types.DirectionStable
	best := -1.0
	for _, dir := range []types.TrendDirection{
		types.DirectionIncreasing, types.DirectionStable, types.DirectionDecreasing,
	} {
		if s := scores[string(dir)]; s > best {
			best = s
			winner = dir
		}
	}

	return types.DirectionAssessment{
		Direction:  winner,
		Confidence: best,
		Strength:   math.Abs(correlation),
		Votes:      votes,
		Scores:     scores,
	}
}

// detectSeasonality aggregates monthly counts by calendar month and reports
// seasonality when the coefficient of variation exceeds 0.3. Nil when no
// record carried a month.
func detectSeasonality(monthly map[string]int) *types.SeasonalityResult {
	if len(monthly) == 0 {
		return nil
	}

	sums := make(map[int]float64, 12)
	occur := make(map[int]int, 12)
	for key, count := range monthly {
		var year, month int
		if _, err := fmt.Sscanf(key, "%04d-%02d", &year, &month); err != nil {
			continue
		}
		sums[month] += float64(count)
		occur[month]++
	}
	if len(sums) == 0 {
		return nil
	}

	totals := make(map[int]float64, len(sums))
	values := make([]float64, 0, len(sums))
	peak, trough := 0, 0
	for month := 1; month <= 12; month++ {
		n, ok := occur[month]
		if !ok {
			continue
		}
		avg := sums[month] / float64(n)
		totals[month] = avg
		values = append(values, avg)
		if peak == 0 || avg > totals[peak] {
			peak = month
		}
		if trough == 0 || avg < totals[trough] {
			trough = month
		}
	}

	cv := coefVariation(values)
	return &types.SeasonalityResult{
		Present:       cv > 0.3,
		CV:            cv,
		MonthlyTotals: totals,
		PeakMonth:     peak,
		TroughMonth:   trough,
	}
}

// Hypothesis texts attached to outliers.
var (
	highOutlierHypotheses = []string{
		"政策激励或行业热点引发集中申请",
		"重点企业批量公开或项目集中结题",
	}
	lowOutlierHypotheses = []string{
		"统计窗口不完整或公开滞后",
		"行业周期低谷或申请策略收缩",
	}
)

// detectOutliers flags yearly counts outside the 1.5·IQR fences or with
// |z| > 2. Both detectors run; either suffices.
func detectOutliers(years []int, series []float64) []types.Outlier {
	if len(series) < 3 {
		return nil
	}
	q1, q3 := quartiles(series)
	iqr := q3 - q1
	loFence, hiFence := q1-1.5*iqr, q3+1.5*iqr
	m, sd := mean(series), stddev(series)

	var out []types.Outlier
	for i, v := range series {
		byIQR := v < loFence || v > hiFence
		z := 0.0
		if sd > 0 {
			z = (v - m) / sd
		}
		byZ := math.Abs(z) > 2
		if !byIQR && !byZ {
			continue
		}
		side := "high"
		hypotheses := highOutlierHypotheses
		if v < m {
			side = "low"
			hypotheses = lowOutlierHypotheses
		}
		out = append(out, types.Outlier{
			Year:       years[i],
			Count:      int(v),
			Side:       side,
			ZScore:     z,
			ByIQR:      byIQR,
			Hypothesis: hypotheses,
		})
	}
	return out
}

// The four confidence sub-scores weigh equally.
const confidenceWeight = 0.25

// confidence blends data quality, trend consistency, method agreement and
// historical stability into [0,1] and grades the result.
func (a *TrendAnalyzer) confidence(years []int, series []float64, res *types.TrendResult) (float64, string) {
	spanYears := years[len(years)-1] - years[0] + 1
	coverage := float64(len(years)) / float64(spanYears)
	dataQuality := 0.5*math.Min(float64(len(years))/10, 1) + 0.5*coverage

	trendConsistency := math.Abs(res.Correlation)
	if stddev(series) == 0 {
		// A flat series carries no correlation but is perfectly consistent.
		trendConsistency = 1
	}

	methodAgreement := 1.0
	if len(res.Predictions) > 0 {
		disp := 0.0
		for _, p := range res.Predictions {
			disp += p.Std / math.Max(math.Abs(p.Ensemble), 1)
		}
		methodAgreement = clamp01(1 - disp/float64(len(res.Predictions)))
	}

	historicalStability := clamp01(1 - coefVariation(series))

	score := confidenceWeight * (dataQuality + trendConsistency + methodAgreement + historicalStability)
	score = clamp01(score)

	switch {
	case score >= 0.8:
		return score, "high"
	case score >= 0.6:
		return score, "medium"
	case score >= 0.4:
		return score, "low"
	default:
		return score, "very_low"
	}
}
