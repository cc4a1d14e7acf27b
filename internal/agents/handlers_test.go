package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patlas/internal/analysis"
	"patlas/internal/config"
	"patlas/internal/quality"
	"patlas/internal/report"
	"patlas/internal/search"
	"patlas/internal/types"
)

// patentTopics vary the generated corpus; one template repeated would
// collapse in the aggregator's dedup pass.
var patentTopics = []struct {
	invention string
	abstract  string
}{
	{"图像识别装置", "本发明公开了一种基于卷积网络的图像识别装置，通过特征金字塔提升小目标检出率。"},
	{"语音唤醒方法", "本发明提供一种低功耗语音唤醒方法，利用两级检测结构降低误唤醒次数。"},
	{"知识图谱构建系统", "本发明涉及一种知识图谱构建系统，结合远程监督与人工校验提高三元组质量。"},
	{"自动泊车控制器", "本发明公开了一种自动泊车控制器，融合超声与视觉信息规划泊车轨迹。"},
	{"机器翻译引擎", "本发明提供一种领域自适应的机器翻译引擎，支持术语约束解码。"},
	{"医学影像分割方法", "本发明涉及一种医学影像分割方法，采用多尺度注意力网络细化病灶边界。"},
	{"工业缺陷检测设备", "本发明公开了一种工业缺陷检测设备，以少样本学习适配新产线。"},
	{"风险评估平台", "本发明提供一种基于图神经网络的风险评估平台，实时识别团伙欺诈。"},
}

// patentCorpus builds n search hits on distinct inventions carrying full
// patent metadata, spread over 2020..2022.
func patentCorpus(n int) []search.Record {
	out := make([]search.Record, 0, n)
	for i := 0; i < n; i++ {
		topic := patentTopics[i%len(patentTopics)]
		year := 2020 + i%3
		out = append(out, search.Record{
			Title:         fmt.Sprintf("一种人工智能%s", topic.invention),
			URL:           fmt.Sprintf("https://patents.example.com/CN%d%04d", year, i+1),
			Content:       topic.abstract,
			PublishedYear: year,
			Metadata: map[string]interface{}{
				"application_number": fmt.Sprintf("CN%d%04d", year, i+1),
				"applicants":         []string{"华为技术有限公司"},
				"ipc_classes":        []string{"G06N 3/08"},
				"country":            "CN",
				"application_date":   fmt.Sprintf("%d-%02d-10", year, i%9+1),
			},
		})
	}
	return out
}

func testSearchConfig() search.Config {
	cfg := search.DefaultConfig()
	cfg.RetryBackoff = 0
	cfg.PaceInterval = 0
	cfg.Clock = testClock()
	return cfg
}

func TestSearchHandlerServesQuery(t *testing.T) {
	t.Parallel()

	agg := search.New(testSearchConfig())
	agg.AddSource(search.NewStaticSource(search.SourceCNKI, patentCorpus(6)))

	h := NewSearchHandler(agg, nil)
	assert.Equal(t, types.TaskTypeSearch, h.TaskType())

	result, err := h.Execute(context.Background(), map[string]interface{}{
		"keywords": []string{"人工智能"},
		"limit":    10,
	})
	require.NoError(t, err)

	records, ok := result["records"].([]search.Record)
	require.True(t, ok)
	require.Len(t, records, 6)
	assert.Equal(t, search.TypePatent, records[0].SearchType, "patent search is the default flavor")
	assert.Equal(t, 6, result["total"])
	assert.Equal(t, false, result["degraded"])

	reports, ok := result["source_reports"].([]search.SourceReport)
	require.True(t, ok)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Healthy)

	_, err = h.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
}

func TestSearchHandlerReportsDegradation(t *testing.T) {
	t.Parallel()

	agg := search.New(testSearchConfig())
	src := search.NewStaticSource(search.SourceCNKI, patentCorpus(4))
	src.SetHealthy(false)
	agg.AddSource(src)

	h := NewSearchHandler(agg, nil)
	result, err := h.Execute(context.Background(), map[string]interface{}{
		"keywords": []string{"人工智能"},
	})
	require.NoError(t, err, "source trouble degrades, never errors")

	assert.Equal(t, true, result["degraded"])
	records, ok := result["records"].([]search.Record)
	require.True(t, ok)
	assert.NotEmpty(t, records, "placeholders keep the workflow moving")
}

func TestSearchHandlerFiltersTimeRange(t *testing.T) {
	t.Parallel()

	corpus := []search.Record{
		{Title: "量子纠错编码专利综述", URL: "https://example.com/q/1",
			Content: "表面码与级联码的纠错开销对比分析。", PublishedYear: 2019},
		{Title: "量子通信密钥分发研究", URL: "https://example.com/q/2",
			Content: "诱骗态协议显著提升了密钥分发的安全距离。", PublishedYear: 2021},
		{Title: "量子传感重力仪进展", URL: "https://example.com/q/3",
			Content: "冷原子干涉技术把重力测量精度推向新高。"},
	}
	agg := search.New(testSearchConfig())
	agg.AddSource(search.NewStaticSource(search.SourceWeb, corpus))

	h := NewSearchHandler(agg, nil)
	result, err := h.Execute(context.Background(), map[string]interface{}{
		"keywords":   []string{"量子"},
		"time_range": "2020-2022",
	})
	require.NoError(t, err)

	records, ok := result["records"].([]search.Record)
	require.True(t, ok)
	years := make([]int, 0, len(records))
	for _, rec := range records {
		years = append(years, rec.PublishedYear)
	}
	assert.ElementsMatch(t, []int{2021, 0}, years, "out-of-range hits drop, unknown years survive")
}

func TestFilterByYearsToleratesMalformedRanges(t *testing.T) {
	t.Parallel()

	recs := []search.Record{{Title: "a", PublishedYear: 1999}}
	assert.Equal(t, recs, filterByYears(recs, "garbage"))
	assert.Equal(t, recs, filterByYears(recs, "2022-2020"))
	assert.Equal(t, recs, filterByYears(recs, "2022"))
	assert.Empty(t, filterByYears(recs, "2020-2022"))
}

func TestCollectHandlerNormalizesRecords(t *testing.T) {
	t.Parallel()

	records := []search.Record{
		{
			Title:   "一种图像识别装置",
			Content: "正文内容。",
			Metadata: map[string]interface{}{
				"application_number": "CN202010001",
				"abstract":           "本发明公开了一种图像识别装置。",
				"applicants":         []string{"华为技术有限公司"},
				"inventors":          []string{"张三", "李四"},
				"application_date":   "2020-03-15",
				"publication_date":   "2021-09-01",
				"ipc_classes":        []string{"G06N 3/08", "G06F 17/00"},
				"country":            "CN",
				"status":             "授权",
			},
		},
		{
			// Same application number: dropped by the dedup pass.
			Title: "一种图像识别装置(重复)",
			Metadata: map[string]interface{}{
				"application_number": "CN202010001",
				"applicants":         []string{"华为技术有限公司"},
				"application_date":   "2020-03-15",
				"ipc_classes":        []string{"G06N 3/08"},
				"country":            "CN",
			},
		},
		{
			// JSON-shaped metadata: slices arrive as []interface{}.
			Title:         "一种语音识别方法",
			Content:       "一种语音识别方法的摘要。",
			PublishedYear: 2021,
			Metadata: map[string]interface{}{
				"application_number": "CN202110002",
				"applicants":         []interface{}{"中兴通讯股份有限公司"},
				"ipc_classes":        []interface{}{"G10L 15/00"},
				"country":            "CN",
			},
		},
		{
			// Title only: fails the completeness gate.
			Title:   "裸记录",
			Content: "没有任何专利字段。",
		},
	}

	h := NewCollectHandler(0, nil)
	assert.Equal(t, types.TaskTypeCollect, h.TaskType())

	result, err := h.Execute(context.Background(), map[string]interface{}{"records": records})
	require.NoError(t, err)

	patents, ok := result["patents"].([]types.PatentRecord)
	require.True(t, ok)
	require.Len(t, patents, 2)
	assert.Equal(t, 2, result["count"])
	assert.Equal(t, 2, result["dropped"])

	first := patents[0]
	assert.Equal(t, "CN202010001", first.ApplicationNumber)
	assert.Equal(t, "一种图像识别装置", first.Title)
	assert.Equal(t, "本发明公开了一种图像识别装置。", first.Abstract, "metadata abstract wins over content")
	assert.Equal(t, []string{"华为技术有限公司"}, first.Applicants)
	assert.Equal(t, []string{"张三", "李四"}, first.Inventors)
	assert.Equal(t, "2020-03-15", first.ApplicationDate)
	assert.Equal(t, "2021-09-01", first.PublicationDate)
	assert.Equal(t, []string{"G06N 3/08", "G06F 17/00"}, first.IPCClasses)
	assert.Equal(t, "CN", first.Country)
	assert.Equal(t, "授权", first.Status)

	second := patents[1]
	assert.Equal(t, "CN202110002", second.ApplicationNumber)
	assert.Equal(t, []string{"中兴通讯股份有限公司"}, second.Applicants)
	assert.Equal(t, []string{"G10L 15/00"}, second.IPCClasses)
	assert.Equal(t, "一种语音识别方法的摘要。", second.Abstract, "content backfills a missing abstract")
	assert.Equal(t, "2021", second.ApplicationDate, "published year backfills a missing date")
}

func TestCollectHandlerRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	h := NewCollectHandler(0.5, nil)

	_, err := h.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))

	_, err = h.Execute(context.Background(), map[string]interface{}{
		"records": []search.Record{{Title: "裸记录"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInsufficientData, types.KindOf(err))
}

// patentFixture builds per-year batches of complete patent records.
func patentFixture(counts map[int]int) []types.PatentRecord {
	applicants := []string{"华为技术有限公司", "中兴通讯股份有限公司", "百度在线网络技术有限公司"}
	var out []types.PatentRecord
	for year, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, types.PatentRecord{
				ApplicationNumber: fmt.Sprintf("CN%d%04d", year, i),
				Title:             "测试专利",
				Applicants:        []string{applicants[i%len(applicants)]},
				ApplicationDate:   fmt.Sprintf("%d-%02d-15", year, i%12+1),
				IPCClasses:        []string{"G06N 3/08"},
				Country:           "CN",
			})
		}
	}
	return out
}

func TestAnalysisHandlerProducesBundle(t *testing.T) {
	t.Parallel()

	engine := analysis.NewEngine(config.DefaultConfig().Analysis, nil, testClock())
	vcfg := quality.DefaultValidatorConfig()
	vcfg.Clock = testClock()
	validator := quality.NewAnalysisValidator(vcfg)

	h := NewAnalysisHandler(engine, validator, nil)
	assert.Equal(t, types.TaskTypeAnalysis, h.TaskType())

	result, err := h.Execute(context.Background(), map[string]interface{}{
		"patents":   patentFixture(map[int]int{2020: 10, 2021: 20, 2022: 40}),
		"series_id": "ai-vision",
	})
	require.NoError(t, err)

	bundle, ok := result["analysis"].(*types.AnalysisBundle)
	require.True(t, ok)
	assert.Equal(t, 70, bundle.PatentCount)
	assert.Equal(t, 70, result["patent_count"])

	modules, ok := result["modules"].([]types.AnalysisKind)
	require.True(t, ok)
	assert.ElementsMatch(t, []types.AnalysisKind{
		types.AnalysisTrend,
		types.AnalysisCompetition,
		types.AnalysisTechnology,
		types.AnalysisGeographic,
	}, modules)

	verdict, ok := result["quality"].(*types.QualityReport)
	require.True(t, ok)
	assert.Equal(t, !verdict.Passed, result["degraded"])
}

func TestAnalysisHandlerHonorsKindSelection(t *testing.T) {
	t.Parallel()

	engine := analysis.NewEngine(config.DefaultConfig().Analysis, nil, testClock())
	h := NewAnalysisHandler(engine, nil, nil)

	result, err := h.Execute(context.Background(), map[string]interface{}{
		"patents": patentFixture(map[int]int{2020: 8, 2021: 12, 2022: 15}),
		"kinds":   []string{"trend", " GEOGRAPHIC ", "nonsense"},
	})
	require.NoError(t, err)

	modules, ok := result["modules"].([]types.AnalysisKind)
	require.True(t, ok)
	assert.ElementsMatch(t, []types.AnalysisKind{types.AnalysisTrend, types.AnalysisGeographic}, modules)
	_, hasQuality := result["quality"]
	assert.False(t, hasQuality, "no validator, no verdict")

	_, err = h.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
}

func TestReportHandlerGeneratesReport(t *testing.T) {
	t.Parallel()

	p, err := report.NewPipeline(report.Config{OutputDir: t.TempDir(), Clock: testClock()})
	require.NoError(t, err)
	h := NewReportHandler(p, nil)
	assert.Equal(t, types.TaskTypeReport, h.TaskType())

	bundle := &types.AnalysisBundle{
		Trend: &types.TrendResult{
			YearlyCounts: map[int]int{2021: 5, 2022: 8},
			Pattern:      types.PatternSteadyGrowth,
			Direction:    types.DirectionAssessment{Direction: types.DirectionIncreasing},
			DataPoints:   13,
			YearSpan:     [2]int{2021, 2022},
		},
		PatentCount: 13,
	}

	result, err := h.Execute(context.Background(), map[string]interface{}{
		"analysis":  bundle,
		"title":     "量子专利分析",
		"formats":   []string{"html"},
		"report_id": "rpt-q",
	})
	require.NoError(t, err)

	assert.Equal(t, "rpt-q", result["report_id"])
	assert.Equal(t, 1, result["version"])
	assert.Equal(t, "量子专利分析", result["title"])
	assert.Equal(t, 1, result["charts"])

	files, ok := result["files"].(map[string]string)
	require.True(t, ok)
	require.Contains(t, files, report.FormatHTML)
	assert.FileExists(t, files[report.FormatHTML])

	_, err = h.Execute(context.Background(), map[string]interface{}{"title": "缺失分析"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
}

func TestPayloadCoercions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, stringsFrom([]string{"a", "b"}))
	assert.Equal(t, []string{"a"}, stringsFrom([]interface{}{"a", 3, ""}))
	assert.Equal(t, []string{"solo"}, stringsFrom("solo"))
	assert.Nil(t, stringsFrom(nil))
	assert.Nil(t, stringsFrom(42))

	n, ok := intFrom(7)
	require.True(t, ok)
	assert.Equal(t, 7, n)
	n, ok = intFrom(float64(9))
	require.True(t, ok)
	assert.Equal(t, 9, n)
	_, ok = intFrom("9")
	assert.False(t, ok)

	recs, ok := recordsFrom([]interface{}{search.Record{Title: "t"}})
	require.True(t, ok)
	require.Len(t, recs, 1)
	_, ok = recordsFrom([]interface{}{"not a record"})
	assert.False(t, ok)

	pats, ok := patentsFrom([]types.PatentRecord{{Title: "p"}})
	require.True(t, ok)
	require.Len(t, pats, 1)
	_, ok = patentsFrom(12)
	assert.False(t, ok)
}
