package quality

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// =============================================================================
// DIMENSIONS
// =============================================================================

// Dimension names used in QualityReport.DimensionScores.
const (
	dimCompleteness = "completeness"
	dimConsistency  = "consistency"
	dimStatistical  = "statistical_validity"
	dimCoherence    = "logical_coherence"
	dimTemporal     = "temporal_stability"
	dimAnomaly      = "anomaly"
)

var dimensionWeights = map[string]float64{
	dimCompleteness: 0.25,
	dimConsistency:  0.25,
	dimStatistical:  0.20,
	dimCoherence:    0.15,
	dimTemporal:     0.15,
}

const (
	severityCritical = "critical"
	severityWarning  = "warning"
	severityInfo     = "info"
)

// Minimum sample sizes below which a module's statistics are shaky.
const (
	trendSampleFloor       = 20
	competitionSampleFloor = 15
	technologySampleFloor  = 10
)

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidatorConfig controls analysis validation.
type ValidatorConfig struct {
	// PassThreshold is the overall score a bundle must reach to pass.
	PassThreshold float64
	// CacheTTL bounds how long a validation outcome is reused.
	CacheTTL time.Duration
	// CacheCapacity bounds the result cache; oldest entries are evicted.
	CacheCapacity int
	// RetentionDays bounds how long version snapshots are kept.
	RetentionDays int
	// Store persists version snapshots. Nil selects an in-memory store.
	Store VersionStore
	// Logger may be nil.
	Logger *zap.Logger
	// Clock may be nil, selecting the system clock.
	Clock clock.Clock
}

// DefaultValidatorConfig returns the standard validation configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		PassThreshold: 0.7,
		CacheTTL:      time.Hour,
		CacheCapacity: 1000,
		RetentionDays: 30,
	}
}

// AnalysisValidator scores analysis bundles across five weighted dimensions
// and memoizes outcomes per content hash.
type AnalysisValidator struct {
	cfg    ValidatorConfig
	logger *zap.Logger
	clk    clock.Clock
	cache  *resultCache
	store  VersionStore
}

// NewAnalysisValidator builds a validator, filling zero config fields with
// defaults.
func NewAnalysisValidator(cfg ValidatorConfig) *AnalysisValidator {
	def := DefaultValidatorConfig()
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = def.PassThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = def.CacheCapacity
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryVersionStore()
	}
	return &AnalysisValidator{
		cfg:    cfg,
		logger: logging.Named(cfg.Logger, "quality.analysis"),
		clk:    cfg.Clock,
		cache:  newResultCache(cfg.CacheCapacity, cfg.CacheTTL, cfg.Clock),
		store:  cfg.Store,
	}
}

// ResultID derives the cache and report key for a bundle: the first 16 hex
// characters of the MD5 of its canonical JSON encoding. json.Marshal sorts
// map keys, so equal bundles hash equally.
func ResultID(bundle *types.AnalysisBundle) (string, error) {
	canonical, err := json.Marshal(bundle)
	if err != nil {
		return "", types.WrapError(types.ErrValidation, "failed to encode analysis bundle", err)
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Validate scores the bundle and returns its quality report. seriesID keys
// the version history used for temporal stability; pass "" to skip the
// cross-version comparison. Identical bundles validated within the cache TTL
// reuse the first outcome.
func (v *AnalysisValidator) Validate(seriesID string, bundle *types.AnalysisBundle) (*types.QualityReport, error) {
	if bundle == nil {
		return nil, types.NewError(types.ErrValidation, "analysis bundle is required")
	}
	resultID, err := ResultID(bundle)
	if err != nil {
		return nil, err
	}

	cacheKey := seriesID + "|" + resultID
	if report, ok := v.cache.get(cacheKey); ok {
		v.logger.Debug("validation cache hit", zap.String("result_id", resultID))
		return &report, nil
	}

	report := v.evaluate(seriesID, resultID, bundle)
	v.cache.put(cacheKey, *report)
	v.record(seriesID, bundle)

	v.logger.Info("analysis validated",
		zap.String("result_id", resultID),
		zap.Float64("overall", report.OverallQuality),
		zap.String("grade", string(report.Grade)),
		zap.Bool("passed", report.Passed),
		zap.Int("issues", len(report.Issues)))
	return report, nil
}

func (v *AnalysisValidator) evaluate(seriesID, resultID string, bundle *types.AnalysisBundle) *types.QualityReport {
	var issues []types.QualityIssue

	scores := make(map[string]float64, len(dimensionWeights))
	scores[dimCompleteness] = v.scoreCompleteness(bundle, &issues)
	scores[dimConsistency] = v.scoreConsistency(bundle, &issues)
	scores[dimStatistical] = v.scoreStatisticalValidity(bundle, &issues)
	scores[dimCoherence] = v.scoreLogicalCoherence(bundle, &issues)
	scores[dimTemporal] = v.scoreTemporalStability(seriesID, bundle, &issues)

	issues = append(issues, detectAnomalies(bundle)...)

	overall := 0.0
	for dim, weight := range dimensionWeights {
		overall += weight * scores[dim]
	}

	return &types.QualityReport{
		ResultID:        resultID,
		OverallQuality:  overall,
		Grade:           types.GradeFor(overall),
		DimensionScores: scores,
		Issues:          issues,
		Recommendations: recommendations(scores, issues),
		Risks:           riskCounts(issues),
		Passed:          overall >= v.cfg.PassThreshold,
		Timestamp:       v.clk.Now(),
	}
}

// =============================================================================
// COMPLETENESS
// =============================================================================

// scoreCompleteness averages module presence (out of the three scored
// modules) with how fully each present module populated its key fields.
func (v *AnalysisValidator) scoreCompleteness(bundle *types.AnalysisBundle, issues *[]types.QualityIssue) float64 {
	checks := []struct {
		name    string
		present bool
		ratio   func() float64
	}{
		{"trend", bundle.Trend != nil, func() float64 { return trendFieldRatio(bundle.Trend) }},
		{"competition", bundle.Competition != nil, func() float64 { return competitionFieldRatio(bundle.Competition) }},
		{"technology", bundle.Technology != nil, func() float64 { return technologyFieldRatio(bundle.Technology) }},
	}

	present := 0
	fieldSum := 0.0
	for _, c := range checks {
		if !c.present {
			*issues = append(*issues, issuef(dimCompleteness, severityWarning, "%s 分析模块缺失", c.name))
			continue
		}
		present++
		ratio := c.ratio()
		fieldSum += ratio
		if ratio < 1 {
			*issues = append(*issues, issuef(dimCompleteness, severityInfo,
				"%s 模块关键字段不完整（完整度 %.0f%%）", c.name, ratio*100))
		}
	}
	if present == 0 {
		return 0
	}
	presence := float64(present) / float64(len(checks))
	fields := fieldSum / float64(present)
	return (presence + fields) / 2
}

func trendFieldRatio(t *types.TrendResult) float64 {
	return ratioOf([]bool{
		len(t.YearlyCounts) > 0,
		len(t.GrowthRates) > 0,
		t.Pattern != "",
		t.Direction.Direction != "",
		len(t.Predictions) > 0,
	})
}

func competitionFieldRatio(c *types.CompetitionResult) float64 {
	return ratioOf([]bool{
		c.TotalApplicants > 0,
		len(c.TopApplicants) > 0,
		c.ConcentrationLevel != "",
		len(c.TypeDistribution) > 0,
	})
}

func technologyFieldRatio(tc *types.TechnologyResult) float64 {
	return ratioOf([]bool{
		len(tc.IPCDistribution) > 0,
		len(tc.Keywords) > 0,
		len(tc.Clusters) > 0,
		len(tc.MainTechnologies) > 0,
	})
}

func ratioOf(fields []bool) float64 {
	set := 0
	for _, ok := range fields {
		if ok {
			set++
		}
	}
	return float64(set) / float64(len(fields))
}

// =============================================================================
// CONSISTENCY
// =============================================================================

// scoreConsistency averages three sub-checks where applicable: sample-count
// agreement across modules, time-range overlap, and the growth/concentration
// cross check. A bundle with a single module cannot disagree with itself and
// scores 1.
func (v *AnalysisValidator) scoreConsistency(bundle *types.AnalysisBundle, issues *[]types.QualityIssue) float64 {
	var parts []float64

	// Sample counts reported by each module should roughly agree.
	var counts []int
	if bundle.Trend != nil {
		counts = append(counts, bundle.Trend.DataPoints)
	}
	if bundle.Competition != nil {
		counts = append(counts, bundle.Competition.TotalPatents)
	}
	if bundle.Technology != nil {
		counts = append(counts, bundle.Technology.TotalPatents)
	}
	if len(counts) >= 2 {
		lo, hi := counts[0], counts[0]
		for _, n := range counts[1:] {
			lo = min(lo, n)
			hi = max(hi, n)
		}
		agreement := 1.0
		if hi > 0 {
			agreement = float64(lo) / float64(hi)
		}
		if agreement < 0.9 {
			*issues = append(*issues, issuef(dimConsistency, severityWarning,
				"各模块样本数量偏差较大（最小 %d，最大 %d）", lo, hi))
		}
		parts = append(parts, agreement)
	}

	// Year ranges of the modules should overlap.
	if bundle.Trend != nil {
		if r, ok := temporalRange(bundle.Competition); ok {
			parts = append(parts, v.rangeOverlap(bundle.Trend.YearSpan, r, "competition", issues))
		}
		if r, ok := evolutionRange(bundle.Technology); ok {
			parts = append(parts, v.rangeOverlap(bundle.Trend.YearSpan, r, "technology", issues))
		}
	}

	// A rapidly growing field should not read as a pure monopoly.
	if bundle.Trend != nil && bundle.Competition != nil {
		if bundle.Trend.Pattern == types.PatternRapidGrowth && bundle.Competition.HHI >= 0.9 {
			*issues = append(*issues, issuef(dimConsistency, severityWarning,
				"专利快速增长与高度垄断并存（HHI=%.2f），数据口径可能不一致", bundle.Competition.HHI))
			parts = append(parts, 0)
		} else {
			parts = append(parts, 1)
		}
	}

	if len(parts) == 0 {
		return 1
	}
	return meanOf(parts)
}

func (v *AnalysisValidator) rangeOverlap(a, b [2]int, module string, issues *[]types.QualityIssue) float64 {
	overlap := yearOverlap(a, b)
	if overlap < 0.5 {
		*issues = append(*issues, issuef(dimConsistency, severityWarning,
			"trend 与 %s 模块时间范围重叠不足（%.0f%%）", module, overlap*100))
	}
	return overlap
}

// yearOverlap is the Jaccard overlap of two inclusive year ranges.
func yearOverlap(a, b [2]int) float64 {
	overlap := min(a[1], b[1]) - max(a[0], b[0]) + 1
	if overlap < 0 {
		overlap = 0
	}
	union := max(a[1], b[1]) - min(a[0], b[0]) + 1
	if union <= 0 {
		return 1
	}
	return float64(overlap) / float64(union)
}

func temporalRange(c *types.CompetitionResult) ([2]int, bool) {
	if c == nil || len(c.Temporal) == 0 {
		return [2]int{}, false
	}
	r := [2]int{c.Temporal[0].Year, c.Temporal[0].Year}
	for _, y := range c.Temporal[1:] {
		r[0] = min(r[0], y.Year)
		r[1] = max(r[1], y.Year)
	}
	return r, true
}

func evolutionRange(tc *types.TechnologyResult) ([2]int, bool) {
	if tc == nil || len(tc.Evolution) == 0 {
		return [2]int{}, false
	}
	found := false
	var r [2]int
	for _, area := range tc.Evolution {
		for year := range area.YearlyCounts {
			if !found {
				r = [2]int{year, year}
				found = true
				continue
			}
			r[0] = min(r[0], year)
			r[1] = max(r[1], year)
		}
	}
	return r, found
}

// =============================================================================
// STATISTICAL VALIDITY
// =============================================================================

// scoreStatisticalValidity rates each present module's sample size against
// its floor and flags implausible distributions.
func (v *AnalysisValidator) scoreStatisticalValidity(bundle *types.AnalysisBundle, issues *[]types.QualityIssue) float64 {
	var parts []float64

	if t := bundle.Trend; t != nil {
		s := sampleScore(t.DataPoints, trendSampleFloor)
		if s < 1 {
			*issues = append(*issues, issuef(dimStatistical, severityInfo,
				"趋势分析样本不足（%d 条，建议不少于 %d 条）", t.DataPoints, trendSampleFloor))
		}
		if cv := yearlyCV(t.YearlyCounts); cv > 2 {
			s *= 0.8
			*issues = append(*issues, issuef(dimStatistical, severityWarning,
				"年度申请量波动异常（CV=%.1f）", cv))
		}
		parts = append(parts, s)
	}
	if c := bundle.Competition; c != nil {
		s := sampleScore(c.TotalPatents, competitionSampleFloor)
		if s < 1 {
			*issues = append(*issues, issuef(dimStatistical, severityInfo,
				"竞争分析样本不足（%d 条，建议不少于 %d 条）", c.TotalPatents, competitionSampleFloor))
		}
		if c.HHI < 0 || c.HHI > 1 {
			s = 0
			*issues = append(*issues, issuef(dimStatistical, severityCritical,
				"HHI 超出有效区间（%.3f）", c.HHI))
		}
		parts = append(parts, s)
	}
	if tc := bundle.Technology; tc != nil {
		s := sampleScore(tc.TotalPatents, technologySampleFloor)
		if s < 1 {
			*issues = append(*issues, issuef(dimStatistical, severityInfo,
				"技术分析样本不足（%d 条，建议不少于 %d 条）", tc.TotalPatents, technologySampleFloor))
		}
		parts = append(parts, s)
	}

	if len(parts) == 0 {
		return 0
	}
	return meanOf(parts)
}

func sampleScore(n, floor int) float64 {
	if n >= floor {
		return 1
	}
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(floor)
}

func yearlyCV(counts map[int]int) float64 {
	if len(counts) == 0 {
		return 0
	}
	values := make([]float64, 0, len(counts))
	for _, c := range counts {
		values = append(values, float64(c))
	}
	m := meanOf(values)
	if m == 0 {
		return 0
	}
	variance := 0.0
	for _, x := range values {
		variance += (x - m) * (x - m)
	}
	return math.Sqrt(variance/float64(len(values))) / m
}

// =============================================================================
// LOGICAL COHERENCE
// =============================================================================

// scoreLogicalCoherence counts contradictions within and across modules.
// Each one costs a quarter of the score.
func (v *AnalysisValidator) scoreLogicalCoherence(bundle *types.AnalysisBundle, issues *[]types.QualityIssue) float64 {
	contradictions := 0
	flag := func(format string, args ...interface{}) {
		contradictions++
		*issues = append(*issues, issuef(dimCoherence, severityWarning, format, args...))
	}

	if t := bundle.Trend; t != nil {
		growing := t.Pattern == types.PatternRapidGrowth ||
			t.Pattern == types.PatternSteadyGrowth ||
			t.Pattern == types.PatternModerateGrowth
		declining := t.Pattern == types.PatternDeclining || t.Pattern == types.PatternRapidDecline

		if growing && t.Direction.Direction == types.DirectionDecreasing {
			flag("增长模式 %s 与方向判定 decreasing 矛盾", t.Pattern)
		}
		if declining && t.Direction.Direction == types.DirectionIncreasing {
			flag("增长模式 %s 与方向判定 increasing 矛盾", t.Pattern)
		}
		if t.CAGRValid && t.CAGR > 5 && t.Direction.Direction == types.DirectionDecreasing {
			flag("CAGR 为正（%.1f%%）但方向判定为下降", t.CAGR)
		}
		if t.CAGRValid && t.CAGR < -5 && t.Direction.Direction == types.DirectionIncreasing {
			flag("CAGR 为负（%.1f%%）但方向判定为上升", t.CAGR)
		}
	}

	if t, c := bundle.Trend, bundle.Competition; t != nil && c != nil {
		if t.Pattern == types.PatternRapidDecline && len(c.Emerging) >= 3 {
			flag("市场快速萎缩但新兴申请人大量出现（%d 家）", len(c.Emerging))
		}
	}

	if t, tc := bundle.Trend, bundle.Technology; t != nil && tc != nil && len(tc.Evolution) >= 2 {
		allDeclining := true
		for _, area := range tc.Evolution {
			if area.Verdict != "declining" {
				allDeclining = false
				break
			}
		}
		if allDeclining && t.Direction.Direction == types.DirectionIncreasing {
			flag("总体趋势上升但主要技术领域普遍衰退")
		}
	}

	if c := bundle.Competition; c != nil {
		if c.ConcentrationLevel == "高度集中" && c.HHI < 0.05 {
			flag("集中度结论与 HHI 数值不符（HHI=%.3f）", c.HHI)
		}
	}

	score := 1 - 0.25*float64(contradictions)
	if score < 0 {
		return 0
	}
	return score
}

// =============================================================================
// TEMPORAL STABILITY
// =============================================================================

// versionSnapshot is the slice of a bundle retained for cross-version
// comparison.
type versionSnapshot struct {
	TrendDirection   string   `json:"trend_direction,omitempty"`
	TopApplicants    []string `json:"top_applicants,omitempty"`
	MainTechnologies []string `json:"main_technologies,omitempty"`
	PatentCount      int      `json:"patent_count"`
}

func snapshotOf(bundle *types.AnalysisBundle) versionSnapshot {
	snap := versionSnapshot{PatentCount: bundle.PatentCount}
	if bundle.Trend != nil {
		snap.TrendDirection = string(bundle.Trend.Direction.Direction)
	}
	if bundle.Competition != nil {
		for i, a := range bundle.Competition.TopApplicants {
			if i == 5 {
				break
			}
			snap.TopApplicants = append(snap.TopApplicants, a.Name)
		}
	}
	if bundle.Technology != nil {
		limit := min(len(bundle.Technology.MainTechnologies), 5)
		snap.MainTechnologies = append([]string(nil), bundle.Technology.MainTechnologies[:limit]...)
	}
	return snap
}

// scoreTemporalStability compares the bundle against the previous snapshot of
// the same series. A series with no history is trivially stable.
func (v *AnalysisValidator) scoreTemporalStability(seriesID string, bundle *types.AnalysisBundle, issues *[]types.QualityIssue) float64 {
	if seriesID == "" {
		return 1
	}
	prev, err := v.store.Latest(seriesID)
	if err != nil {
		v.logger.Warn("failed to load version history", zap.String("series_id", seriesID), zap.Error(err))
		return 1
	}
	if prev == nil {
		return 1
	}
	var old versionSnapshot
	if err := json.Unmarshal(prev.Payload, &old); err != nil {
		v.logger.Warn("corrupt version snapshot", zap.String("series_id", seriesID), zap.Error(err))
		return 1
	}
	cur := snapshotOf(bundle)

	var parts []float64
	if old.TrendDirection != "" && cur.TrendDirection != "" {
		if old.TrendDirection == cur.TrendDirection {
			parts = append(parts, 1)
		} else {
			parts = append(parts, 0)
			*issues = append(*issues, issuef(dimTemporal, severityWarning,
				"趋势方向与上一版本不一致（%s → %s）", old.TrendDirection, cur.TrendDirection))
		}
	}
	if len(old.TopApplicants) > 0 && len(cur.TopApplicants) > 0 {
		parts = append(parts, overlapRatio(old.TopApplicants, cur.TopApplicants))
	}
	if len(old.MainTechnologies) > 0 && len(cur.MainTechnologies) > 0 {
		parts = append(parts, overlapRatio(old.MainTechnologies, cur.MainTechnologies))
	}
	if len(parts) == 0 {
		return 1
	}
	score := meanOf(parts)
	if score < 0.5 {
		*issues = append(*issues, issuef(dimTemporal, severityWarning,
			"分析结果与历史版本差异显著（稳定性 %.0f%%）", score*100))
	}
	return score
}

// overlapRatio is the overlap coefficient of two name lists.
func overlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, name := range a {
		set[name] = true
	}
	shared := 0
	for _, name := range b {
		if set[name] {
			shared++
		}
	}
	return float64(shared) / float64(min(len(a), len(b)))
}

// record appends the bundle's snapshot to the series history and prunes
// entries past retention. History failures degrade to logs: validation
// results never depend on the write succeeding.
func (v *AnalysisValidator) record(seriesID string, bundle *types.AnalysisBundle) {
	if seriesID == "" {
		return
	}
	payload, err := json.Marshal(snapshotOf(bundle))
	if err != nil {
		v.logger.Warn("failed to encode version snapshot", zap.Error(err))
		return
	}
	now := v.clk.Now()
	version, err := v.store.Append(seriesID, payload, now)
	if err != nil {
		v.logger.Warn("failed to append version snapshot", zap.String("series_id", seriesID), zap.Error(err))
		return
	}
	cutoff := now.AddDate(0, 0, -v.cfg.RetentionDays)
	removed, err := v.store.Purge(cutoff)
	if err != nil {
		v.logger.Warn("failed to purge version history", zap.Error(err))
		return
	}
	v.logger.Debug("version snapshot recorded",
		zap.String("series_id", seriesID),
		zap.Int("version", version),
		zap.Int("purged", removed))
}

// =============================================================================
// ANOMALIES
// =============================================================================

// detectAnomalies flags statistically extreme values across the bundle.
func detectAnomalies(bundle *types.AnalysisBundle) []types.QualityIssue {
	var out []types.QualityIssue

	if t := bundle.Trend; t != nil {
		for _, year := range sortedYears(t.GrowthRates) {
			rate := t.GrowthRates[year]
			switch {
			case math.Abs(rate) > 500:
				out = append(out, issuef(dimAnomaly, severityCritical,
					"%d 年增长率极端异常（%.0f%%）", year, rate))
			case math.Abs(rate) > 200:
				out = append(out, issuef(dimAnomaly, severityWarning,
					"%d 年增长率异常（%.0f%%）", year, rate))
			}
		}

		if len(t.YearlyCounts) > 0 {
			values := make([]float64, 0, len(t.YearlyCounts))
			years := make([]int, 0, len(t.YearlyCounts))
			for year, count := range t.YearlyCounts {
				years = append(years, year)
				values = append(values, float64(count))
			}
			sort.Ints(years)
			m := meanOf(values)
			for _, year := range years {
				if m > 0 && float64(t.YearlyCounts[year]) > 10*m {
					out = append(out, issuef(dimAnomaly, severityWarning,
						"%d 年申请量异常（%d 条，超过均值 10 倍）", year, t.YearlyCounts[year]))
				}
			}
			for year := t.YearSpan[0]; year <= t.YearSpan[1]; year++ {
				if _, ok := t.YearlyCounts[year]; !ok {
					out = append(out, issuef(dimAnomaly, severityInfo, "%d 年无申请记录", year))
				}
			}
		}
	}

	if c := bundle.Competition; c != nil {
		if c.HHI > 0.95 {
			out = append(out, issuef(dimAnomaly, severityWarning, "市场集中度异常偏高（HHI=%.2f）", c.HHI))
		}
		if c.HHI < 0.01 && c.TotalApplicants > 0 {
			out = append(out, issuef(dimAnomaly, severityWarning, "市场集中度异常偏低（HHI=%.3f）", c.HHI))
		}
	}

	return out
}

// =============================================================================
// REPORT ASSEMBLY
// =============================================================================

func recommendations(scores map[string]float64, issues []types.QualityIssue) []string {
	var recs []string
	if scores[dimCompleteness] < 0.8 {
		recs = append(recs, "补充缺失的分析模块或未填充的关键字段")
	}
	if scores[dimConsistency] < 0.8 {
		recs = append(recs, "核对各模块的数据口径，消除数量与时间范围偏差")
	}
	if scores[dimStatistical] < 0.8 {
		recs = append(recs, "扩大检索范围以提高样本量")
	}
	if scores[dimCoherence] < 0.8 {
		recs = append(recs, "人工复核相互矛盾的分析结论")
	}
	if scores[dimTemporal] < 0.8 {
		recs = append(recs, "与上一版本差异较大，建议复核数据源变更")
	}
	for _, is := range issues {
		if is.Severity == severityCritical {
			recs = append(recs, "存在严重异常项，建议人工审核后再使用该结果")
			break
		}
	}
	return recs
}

func riskCounts(issues []types.QualityIssue) map[string]int {
	risks := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, is := range issues {
		switch is.Severity {
		case severityCritical:
			risks["high"]++
		case severityWarning:
			risks["medium"]++
		default:
			risks["low"]++
		}
	}
	return risks
}

func issuef(dimension, severity, format string, args ...interface{}) types.QualityIssue {
	return types.QualityIssue{
		Dimension: dimension,
		Severity:  severity,
		Message:   fmt.Sprintf(format, args...),
	}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range values {
		total += x
	}
	return total / float64(len(values))
}

func sortedYears(m map[int]float64) []int {
	years := make([]int, 0, len(m))
	for year := range m {
		years = append(years, year)
	}
	sort.Ints(years)
	return years
}
