package quality

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/monitoring"
	"patlas/internal/types"
)

// Batch agreement thresholds.
const (
	numericCVLimit   = 0.2
	categoricalFloor = 0.6
	trendAgreeFloor  = 0.6
)

// =============================================================================
// INPUT SCHEMAS
// =============================================================================

// inputRules holds the validator tags applied to task payload fields, per
// task type.
var inputRules = map[string]map[string]interface{}{
	types.TaskTypeSearch: {
		"keywords":    "required,min=1,max=20",
		"search_type": "omitempty,oneof=general patent academic news",
		"limit":       "omitempty,gte=1,lte=100",
	},
	types.TaskTypeCollect: {
		"records": "required,min=1",
	},
	types.TaskTypeAnalysis: {
		"patents": "required,min=1",
		"kinds":   "omitempty,min=1",
	},
	types.TaskTypeReport: {
		"analysis": "required",
		"title":    "omitempty,min=2,max=200",
		"formats":  "omitempty,min=1",
	},
}

// inputPatterns adds regular-expression constraints on string fields.
var inputPatterns = map[string]map[string]*regexp.Regexp{
	types.TaskTypeSearch: {
		"time_range": regexp.MustCompile(`^\d{4}-\d{4}$`),
	},
}

// =============================================================================
// MONITOR
// =============================================================================

// MonitorConfig controls workflow quality monitoring.
type MonitorConfig struct {
	// PassThreshold gates workflow checks; scores below it fire a
	// quality_degradation alert.
	PassThreshold float64
	// AlertCapacity bounds the retained alert list; oldest entries drop.
	AlertCapacity int
	// HistoryCapacity bounds per-workflow check history.
	HistoryCapacity int
	// SampleCapacity bounds the task observation ring.
	SampleCapacity int
	// ResponseTimeLimit is the mean task duration above which the response
	// score decays, reaching zero at twice the limit.
	ResponseTimeLimit time.Duration
	// ThroughputFloor is the tasks-per-minute rate treated as full score.
	ThroughputFloor float64
	// ErrorRateLimit is the tolerated task failure fraction.
	ErrorRateLimit float64
	// ResourceLimit is the tolerated CPU and memory utilization percentage.
	ResourceLimit float64
	// Sink receives alerts and metrics. Nil discards them.
	Sink monitoring.Sink
	// Logger may be nil.
	Logger *zap.Logger
	// Clock may be nil, selecting the system clock.
	Clock clock.Clock
}

// DefaultMonitorConfig returns the standard monitoring configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PassThreshold:     0.6,
		AlertCapacity:     100,
		HistoryCapacity:   100,
		SampleCapacity:    512,
		ResponseTimeLimit: 30 * time.Second,
		ThroughputFloor:   10,
		ErrorRateLimit:    0.05,
		ResourceLimit:     80,
	}
}

// taskSample is one observed task outcome.
type taskSample struct {
	at       time.Time
	taskType string
	duration time.Duration
	success  bool
}

// qualityCheck is one recorded check outcome for a workflow.
type qualityCheck struct {
	at        time.Time
	checkType string
	score     float64
	passed    bool
}

// WorkflowMonitor validates task inputs, scores result batches and engine
// performance, and keeps per-workflow quality history with bounded alerts.
// It implements collab.QualityHook so the collaboration manager can feed it
// task outcomes.
type WorkflowMonitor struct {
	mu       sync.Mutex
	cfg      MonitorConfig
	logger   *zap.Logger
	clk      clock.Clock
	validate *validator.Validate
	sink     monitoring.Sink
	samples  []taskSample
	checks   map[string][]qualityCheck
	alerts   []monitoring.Alert
}

// NewWorkflowMonitor builds a monitor, filling zero config fields with
// defaults.
func NewWorkflowMonitor(cfg MonitorConfig) *WorkflowMonitor {
	def := DefaultMonitorConfig()
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = def.PassThreshold
	}
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = def.AlertCapacity
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.SampleCapacity <= 0 {
		cfg.SampleCapacity = def.SampleCapacity
	}
	if cfg.ResponseTimeLimit <= 0 {
		cfg.ResponseTimeLimit = def.ResponseTimeLimit
	}
	if cfg.ThroughputFloor <= 0 {
		cfg.ThroughputFloor = def.ThroughputFloor
	}
	if cfg.ErrorRateLimit <= 0 {
		cfg.ErrorRateLimit = def.ErrorRateLimit
	}
	if cfg.ResourceLimit <= 0 {
		cfg.ResourceLimit = def.ResourceLimit
	}
	if cfg.Sink == nil {
		cfg.Sink = monitoring.Noop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &WorkflowMonitor{
		cfg:      cfg,
		logger:   logging.Named(cfg.Logger, "quality.workflow"),
		clk:      cfg.Clock,
		validate: validator.New(),
		sink:     cfg.Sink,
		checks:   make(map[string][]qualityCheck),
	}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// ValidateInput checks a task payload against the schema for its task type.
// It returns nil when the payload is acceptable.
func (m *WorkflowMonitor) ValidateInput(taskType string, data map[string]interface{}) error {
	rules, ok := inputRules[taskType]
	if !ok {
		return types.Errorf(types.ErrValidation, "no validation schema for task type %q", taskType)
	}
	if data == nil {
		return types.Errorf(types.ErrValidation, "%s task input is required", taskType)
	}

	var problems []string
	bad := m.validate.ValidateMap(data, rules)
	for _, field := range sortedKeys(bad) {
		if ve, ok := bad[field].(validator.ValidationErrors); ok && len(ve) > 0 {
			problems = append(problems, fmt.Sprintf("%s failed on %q", field, ve[0].Tag()))
			continue
		}
		problems = append(problems, fmt.Sprintf("%s is invalid", field))
	}

	patterns := inputPatterns[taskType]
	for _, field := range sortedPatternKeys(patterns) {
		raw, ok := data[field].(string)
		if ok && raw != "" && !patterns[field].MatchString(raw) {
			problems = append(problems, fmt.Sprintf("%s must match %s", field, patterns[field]))
		}
	}

	if len(problems) > 0 {
		return types.Errorf(types.ErrValidation, "invalid %s input: %s", taskType, strings.Join(problems, "; "))
	}
	return nil
}

// =============================================================================
// BATCH CONSISTENCY
// =============================================================================

// CheckConsistency scores agreement across a batch of same-type results.
// Numeric fields agree when their coefficient of variation stays at or below
// 0.2; categorical fields when the most frequent value covers at least 60% of
// the batch; direction fields when the dominant direction does. The outcome
// is recorded into the workflow's history under taskType.
func (m *WorkflowMonitor) CheckConsistency(workflowID, taskType string, results []map[string]interface{}) *types.QualityReport {
	now := m.clk.Now()
	var issues []types.QualityIssue
	scores := make(map[string]float64, 3)

	if len(results) >= 2 {
		numeric := bucketScore{}
		categorical := bucketScore{}
		trend := bucketScore{}

		for _, field := range sharedFields(results) {
			numbers, labels, mixed := fieldValues(results, field)
			switch {
			case mixed:
				categorical.add(false)
				issues = append(issues, issuef("categorical", severityWarning,
					"字段 %s 在批次内类型不一致", field))
			case len(numbers) == len(results):
				cv := cvOf(numbers)
				ok := cv <= numericCVLimit
				numeric.add(ok)
				if !ok {
					issues = append(issues, issuef("numerical", severityWarning,
						"字段 %s 数值离散度过高（CV=%.2f）", field, cv))
				}
			case strings.Contains(strings.ToLower(field), "direction"):
				share := majorityShare(labels)
				ok := share >= trendAgreeFloor
				trend.add(ok)
				if !ok {
					issues = append(issues, issuef("trend", severityWarning,
						"字段 %s 方向判断不一致（主流占比 %.0f%%）", field, share*100))
				}
			default:
				share := majorityShare(labels)
				ok := share >= categoricalFloor
				categorical.add(ok)
				if !ok {
					issues = append(issues, issuef("categorical", severityWarning,
						"字段 %s 取值分歧（主流占比 %.0f%%）", field, share*100))
				}
			}
		}

		numeric.into(scores, "numerical")
		categorical.into(scores, "categorical")
		trend.into(scores, "trend")
	}

	overall := 1.0
	if len(scores) > 0 {
		parts := make([]float64, 0, len(scores))
		for _, s := range scores {
			parts = append(parts, s)
		}
		overall = meanOf(parts)
	} else if len(results) >= 2 {
		issues = append(issues, issuef("consistency", severityInfo, "结果批次无共同字段可比对"))
	}

	report := &types.QualityReport{
		OverallQuality:  overall,
		Grade:           types.GradeFor(overall),
		DimensionScores: scores,
		Issues:          issues,
		Risks:           riskCounts(issues),
		Passed:          overall >= m.cfg.PassThreshold,
		Timestamp:       now,
	}
	m.recordCheck(workflowID, taskType, overall, now)
	return report
}

// bucketScore tallies pass/fail per field class.
type bucketScore struct {
	total  int
	passed int
}

func (b *bucketScore) add(ok bool) {
	b.total++
	if ok {
		b.passed++
	}
}

func (b *bucketScore) into(scores map[string]float64, name string) {
	if b.total == 0 {
		return
	}
	scores[name] = float64(b.passed) / float64(b.total)
}

// sharedFields lists, sorted, the keys present in every result.
func sharedFields(results []map[string]interface{}) []string {
	var shared []string
	for field := range results[0] {
		present := true
		for _, r := range results[1:] {
			if _, ok := r[field]; !ok {
				present = false
				break
			}
		}
		if present {
			shared = append(shared, field)
		}
	}
	sort.Strings(shared)
	return shared
}

// fieldValues splits a field's batch values into numbers and strings. mixed
// reports a batch that is neither all-numeric nor all-string.
func fieldValues(results []map[string]interface{}, field string) ([]float64, []string, bool) {
	var numbers []float64
	var labels []string
	for _, r := range results {
		switch v := r[field].(type) {
		case int:
			numbers = append(numbers, float64(v))
		case int64:
			numbers = append(numbers, float64(v))
		case float32:
			numbers = append(numbers, float64(v))
		case float64:
			numbers = append(numbers, v)
		case string:
			labels = append(labels, v)
		case bool:
			labels = append(labels, strconv.FormatBool(v))
		default:
			return nil, nil, true
		}
	}
	if len(numbers) > 0 && len(labels) > 0 {
		return nil, nil, true
	}
	return numbers, labels, false
}

func majorityShare(labels []string) float64 {
	if len(labels) == 0 {
		return 0
	}
	freq := make(map[string]int, len(labels))
	best := 0
	for _, l := range labels {
		freq[l]++
		if freq[l] > best {
			best = freq[l]
		}
	}
	return float64(best) / float64(len(labels))
}

// cvOf is stddev over |mean|, infinite when values spread around a zero mean.
func cvOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := meanOf(values)
	variance := 0.0
	for _, x := range values {
		variance += (x - m) * (x - m)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if m == 0 {
		if std == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return std / math.Abs(m)
}

// =============================================================================
// PERFORMANCE
// =============================================================================

// ResourceUsage carries host utilization sampled by the caller.
type ResourceUsage struct {
	CPUPercent float64
	MemPercent float64
}

// ObserveTask implements the collaboration manager's quality hook, feeding
// the performance window.
func (m *WorkflowMonitor) ObserveTask(taskType string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, taskSample{
		at:       m.clk.Now(),
		taskType: taskType,
		duration: duration,
		success:  success,
	})
	if len(m.samples) > m.cfg.SampleCapacity {
		m.samples = m.samples[len(m.samples)-m.cfg.SampleCapacity:]
	}
}

// CheckPerformance scores the engine over the trailing window: mean response
// time, throughput, error rate, and the caller-sampled resource usage. The
// outcome is recorded into the workflow's history under "performance".
func (m *WorkflowMonitor) CheckPerformance(workflowID string, window time.Duration, usage ResourceUsage) *types.QualityReport {
	if window <= 0 {
		window = time.Minute
	}
	now := m.clk.Now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	var recent []taskSample
	for _, s := range m.samples {
		if !s.at.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	m.mu.Unlock()

	var issues []types.QualityIssue
	scores := make(map[string]float64, 4)
	metrics := map[string]float64{
		"cpu_percent": usage.CPUPercent,
		"mem_percent": usage.MemPercent,
	}

	if len(recent) == 0 {
		issues = append(issues, issuef("performance", severityInfo, "观测窗口内无任务样本"))
	} else {
		var total time.Duration
		failures := 0
		for _, s := range recent {
			total += s.duration
			if !s.success {
				failures++
			}
		}
		avg := total / time.Duration(len(recent))
		scores["response_time"] = responseScore(avg, m.cfg.ResponseTimeLimit)
		if avg > m.cfg.ResponseTimeLimit {
			issues = append(issues, issuef("response_time", severityWarning,
				"平均响应时间 %.1fs 超过阈值 %.0fs", avg.Seconds(), m.cfg.ResponseTimeLimit.Seconds()))
		}

		perMinute := float64(len(recent)) / window.Minutes()
		scores["throughput"] = clamp01(perMinute / m.cfg.ThroughputFloor)
		if perMinute < m.cfg.ThroughputFloor {
			issues = append(issues, issuef("throughput", severityWarning,
				"吞吐量 %.1f 任务/分钟低于下限 %.0f", perMinute, m.cfg.ThroughputFloor))
		}

		errorRate := float64(failures) / float64(len(recent))
		scores["error_rate"] = errorScore(errorRate, m.cfg.ErrorRateLimit)
		if errorRate > m.cfg.ErrorRateLimit {
			issues = append(issues, issuef("error_rate", severityWarning,
				"错误率 %.1f%% 超过上限 %.0f%%", errorRate*100, m.cfg.ErrorRateLimit*100))
		}

		metrics["response_time_seconds"] = avg.Seconds()
		metrics["throughput_per_minute"] = perMinute
		metrics["error_rate"] = errorRate
	}

	scores["resource_usage"] = m.resourceScore(usage, &issues)

	parts := make([]float64, 0, len(scores))
	for _, name := range []string{"response_time", "throughput", "error_rate", "resource_usage"} {
		if s, ok := scores[name]; ok {
			parts = append(parts, s)
		}
	}
	overall := meanOf(parts)

	report := &types.QualityReport{
		OverallQuality:  overall,
		Grade:           types.GradeFor(overall),
		DimensionScores: scores,
		Issues:          issues,
		Risks:           riskCounts(issues),
		Passed:          overall >= m.cfg.PassThreshold,
		Timestamp:       now,
	}
	m.recordCheck(workflowID, "performance", overall, now)
	m.sink.RecordMetrics("performance", metrics)
	return report
}

// responseScore is 1 at or below the limit, decaying linearly to 0 at twice
// the limit.
func responseScore(avg, limit time.Duration) float64 {
	if avg <= limit {
		return 1
	}
	if avg >= 2*limit {
		return 0
	}
	return 1 - float64(avg-limit)/float64(limit)
}

// errorScore is 1 at or below the limit, decaying to 0 at ten times the
// limit (capped at 100%).
func errorScore(rate, limit float64) float64 {
	if rate <= limit {
		return 1
	}
	ceiling := math.Min(10*limit, 1)
	if rate >= ceiling {
		return 0
	}
	return (ceiling - rate) / (ceiling - limit)
}

func (m *WorkflowMonitor) resourceScore(usage ResourceUsage, issues *[]types.QualityIssue) float64 {
	one := func(pct float64, name string) float64 {
		if pct <= m.cfg.ResourceLimit {
			return 1
		}
		*issues = append(*issues, issuef("resource_usage", severityWarning,
			"%s 使用率 %.0f%% 超过上限 %.0f%%", name, pct, m.cfg.ResourceLimit))
		if pct >= 100 {
			return 0
		}
		return (100 - pct) / (100 - m.cfg.ResourceLimit)
	}
	return (one(usage.CPUPercent, "CPU") + one(usage.MemPercent, "内存")) / 2
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

// =============================================================================
// CHECK HISTORY AND ALERTS
// =============================================================================

// RecordCheck folds one externally computed quality score (for example an
// analysis validation outcome) into the workflow's history.
func (m *WorkflowMonitor) RecordCheck(workflowID, checkType string, score float64) {
	m.recordCheck(workflowID, checkType, score, m.clk.Now())
}

func (m *WorkflowMonitor) recordCheck(workflowID, checkType string, score float64, at time.Time) {
	passed := score >= m.cfg.PassThreshold

	m.mu.Lock()
	hist := append(m.checks[workflowID], qualityCheck{at: at, checkType: checkType, score: score, passed: passed})
	if len(hist) > m.cfg.HistoryCapacity {
		hist = hist[len(hist)-m.cfg.HistoryCapacity:]
	}
	m.checks[workflowID] = hist

	var fired []monitoring.Alert
	if !passed {
		severity := severityWarning
		if score < m.cfg.PassThreshold/2 {
			severity = severityCritical
		}
		fired = append(fired, monitoring.Alert{
			Type:       monitoring.AlertQualityDegradation,
			Severity:   severity,
			WorkflowID: workflowID,
			Message:    fmt.Sprintf("%s check scored %.2f, below threshold %.2f", checkType, score, m.cfg.PassThreshold),
			Value:      score,
			Timestamp:  at,
		})
	}
	if n := len(hist); n >= 3 && !hist[n-1].passed && !hist[n-2].passed && !hist[n-3].passed {
		fired = append(fired, monitoring.Alert{
			Type:       monitoring.AlertConsecutiveFailures,
			Severity:   severityCritical,
			WorkflowID: workflowID,
			Message:    fmt.Sprintf("last 3 quality checks failed for workflow %s", workflowID),
			Value:      score,
			Timestamp:  at,
		})
	}
	m.alerts = append(m.alerts, fired...)
	if len(m.alerts) > m.cfg.AlertCapacity {
		m.alerts = m.alerts[len(m.alerts)-m.cfg.AlertCapacity:]
	}
	m.mu.Unlock()

	for _, alert := range fired {
		m.logger.Warn("quality alert",
			zap.String("type", alert.Type),
			zap.String("severity", alert.Severity),
			zap.String("workflow_id", workflowID),
			zap.Float64("score", score))
		m.sink.SendAlert(alert)
	}
	m.sink.RecordMetrics("workflow_"+workflowID, map[string]float64{"quality_score": score})
}

// Alerts returns a copy of the retained alerts, oldest first.
func (m *WorkflowMonitor) Alerts() []monitoring.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]monitoring.Alert(nil), m.alerts...)
}

// =============================================================================
// WORKFLOW SUMMARIES
// =============================================================================

// TypeSummary aggregates checks of one type.
type TypeSummary struct {
	Checks       int     `json:"checks"`
	AverageScore float64 `json:"average_score"`
}

// WorkflowSummary is the per-workflow quality digest.
type WorkflowSummary struct {
	WorkflowID   string                 `json:"workflow_id"`
	Checks       int                    `json:"checks"`
	AverageScore float64                `json:"average_score"`
	PassRate     float64                `json:"pass_rate"`
	ByType       map[string]TypeSummary `json:"by_type"`
	Trend        string                 `json:"trend"` // improving | declining | stable
	LastChecked  time.Time              `json:"last_checked"`
}

// WorkflowReport summarizes a workflow's recorded checks, or returns nil when
// none were recorded.
func (m *WorkflowMonitor) WorkflowReport(workflowID string) *WorkflowSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.checks[workflowID]
	if len(hist) == 0 {
		return nil
	}
	summary := &WorkflowSummary{
		WorkflowID:  workflowID,
		Checks:      len(hist),
		ByType:      make(map[string]TypeSummary),
		Trend:       scoreTrend(hist),
		LastChecked: hist[len(hist)-1].at,
	}
	passed := 0
	totals := make(map[string]float64)
	for _, c := range hist {
		summary.AverageScore += c.score
		if c.passed {
			passed++
		}
		ts := summary.ByType[c.checkType]
		ts.Checks++
		totals[c.checkType] += c.score
		summary.ByType[c.checkType] = ts
	}
	summary.AverageScore /= float64(len(hist))
	summary.PassRate = float64(passed) / float64(len(hist))
	for checkType, ts := range summary.ByType {
		ts.AverageScore = totals[checkType] / float64(ts.Checks)
		summary.ByType[checkType] = ts
	}
	return summary
}

// scoreTrend compares the older and newer halves of the last five checks,
// with a ±0.05 dead band.
func scoreTrend(hist []qualityCheck) string {
	if len(hist) < 2 {
		return "stable"
	}
	if len(hist) > 5 {
		hist = hist[len(hist)-5:]
	}
	half := len(hist) / 2
	early, late := 0.0, 0.0
	for _, c := range hist[:half] {
		early += c.score
	}
	for _, c := range hist[len(hist)-half:] {
		late += c.score
	}
	early /= float64(half)
	late /= float64(half)
	switch {
	case late-early > 0.05:
		return "improving"
	case early-late > 0.05:
		return "declining"
	default:
		return "stable"
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPatternKeys(m map[string]*regexp.Regexp) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
