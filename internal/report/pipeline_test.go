package report

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patlas/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testBundle is a representative four-module analysis bundle.
func testBundle() *types.AnalysisBundle {
	return &types.AnalysisBundle{
		Trend: &types.TrendResult{
			YearlyCounts:   map[int]int{2020: 10, 2021: 14, 2022: 16},
			GrowthRates:    map[int]float64{2021: 40, 2022: 14.3},
			MeanGrowthRate: 27.1,
			CAGR:           26.5,
			CAGRValid:      true,
			Pattern:        types.PatternRapidGrowth,
			Direction:      types.DirectionAssessment{Direction: types.DirectionIncreasing, Confidence: 0.8},
			Predictions:    []types.PredictedYear{{Year: 2023, Ensemble: 19, Min: 17, Max: 21}},
			DataPoints:     40,
			YearSpan:       [2]int{2020, 2022},
		},
		Competition: &types.CompetitionResult{
			TotalApplicants:    12,
			TotalPatents:       40,
			HHI:                0.15,
			ConcentrationLevel: "中度集中",
			TopApplicants: []types.ApplicantProfile{
				{Name: "华为技术", PatentCount: 8, Share: 0.2},
				{Name: "中兴通讯", PatentCount: 6, Share: 0.15},
			},
			TypeDistribution: map[string]int{"enterprise": 10, "university": 2},
		},
		Technology: &types.TechnologyResult{
			IPCDistribution: []types.IPCEntry{
				{Prefix: "G06N", Label: "人工智能", Count: 18, Share: 0.45},
				{Prefix: "G06F", Label: "数据处理", Count: 12, Share: 0.3},
			},
			Keywords:         []string{"人工智能", "神经网络"},
			Clusters:         []types.KeywordCluster{{Area: "人工智能算法", Keywords: []string{"神经网络"}, Size: 1}},
			MainTechnologies: []string{"人工智能算法", "数据处理"},
			TotalPatents:     40,
		},
		Geographic: &types.GeographicResult{
			Distribution: []types.CountryEntry{
				{Country: "CN", Count: 25, Share: 0.625},
				{Country: "US", Count: 10, Share: 0.25},
				{Country: "JP", Count: 5, Share: 0.125},
			},
			TopCountry:   "CN",
			TotalPatents: 40,
		},
		PatentCount: 40,
		GeneratedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	cfg.OutputDir = dir
	if cfg.Clock == nil {
		cfg.Clock = testClock()
	}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	return p, dir
}

type stubText struct {
	prompt string
	text   string
	err    error
}

func (s *stubText) Generate(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.text, s.err
}

type stubExporter struct{ data []byte }

func (s stubExporter) HTMLToPDF(string, map[string]interface{}) ([]byte, error) {
	return s.data, nil
}

type flakyTemplates struct {
	real TemplateRenderer
	fail bool
}

func (f *flakyTemplates) Render(name string, data interface{}) (string, error) {
	if f.fail {
		return "", errors.New("template corrupted")
	}
	return f.real.Render(name, data)
}

type failingCharts struct{}

func (failingCharts) Render(ChartSpec) (RenderedChart, error) {
	return RenderedChart{}, errors.New("chart backend offline")
}

func TestGenerateDefaultFormats(t *testing.T) {
	t.Parallel()

	p, dir := newTestPipeline(t, Config{})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-ai",
		Title:    "AI 专利分析报告",
		Bundle:   testBundle(),
	})
	require.NoError(t, err)

	assert.Equal(t, "rpt-ai", res.ReportID)
	assert.Equal(t, 1, res.Version.VersionNumber)
	assert.Equal(t, types.VersionCompleted, res.Version.Status)
	require.Len(t, res.Files, 2)

	htmlFile := res.Files[FormatHTML]
	assert.Equal(t, FormatHTML, htmlFile.Format)
	assert.Equal(t, filepath.Join(dir, "reports", "rpt-ai_v1.html"), htmlFile.Path)
	data, err := os.ReadFile(htmlFile.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), htmlFile.Size)
	assert.Equal(t, hashOf(data), htmlFile.Hash)
	page := string(data)
	assert.Contains(t, page, "<h1>AI 专利分析报告</h1>")
	assert.Contains(t, page, "生成时间:2026-03-01 09:00")
	assert.Contains(t, page, "版本 v1")
	assert.Contains(t, page, "发展趋势分析")
	assert.Contains(t, page, "图表")

	jsonData, err := os.ReadFile(res.Files[FormatJSON].Path)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(jsonData, &doc))
	assert.Equal(t, "rpt-ai", doc.ReportID)
	assert.Equal(t, 1, doc.Version)
	assert.Contains(t, doc.Content.Summary, "本报告基于 40 件专利数据")
	assert.Len(t, doc.Charts, 4)
	require.NotNil(t, doc.Analysis)
	assert.Equal(t, 40, doc.Analysis.PatentCount)

	require.Len(t, res.Charts, 4)
	trend := res.Charts[0]
	assert.Equal(t, "rpt-ai_v1_trend_chart", trend.Spec.ID)
	assert.Equal(t, filepath.Join(dir, "assets", "rpt-ai_v1_trend_chart.json"), trend.Rendered.Path)
	assert.FileExists(t, trend.Rendered.Path)

	assert.Equal(t, htmlFile.Path, res.Version.Files[FormatHTML].Path)

	entry, ok := p.Get("rpt-ai")
	require.True(t, ok)
	assert.Equal(t, 1, entry.LatestVersion)
	assert.Equal(t, []string{FormatHTML, FormatJSON}, entry.Formats)
	assert.Equal(t, htmlFile.Path, entry.Files[FormatHTML])
	assert.FileExists(t, filepath.Join(dir, "reports", storageIndexFile))

	leftovers, err := os.ReadDir(filepath.Join(dir, "temp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestGenerateAssignsIDAndTitle(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, Config{})
	res, err := p.Generate(context.Background(), Request{Bundle: testBundle()})
	require.NoError(t, err)

	assert.Len(t, res.ReportID, 36)
	assert.Equal(t, "专利分析报告", res.Content.Title)
	assert.Contains(t, res.Files[FormatHTML].Path, res.ReportID+"_v1.html")
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, Config{})

	_, err := p.Generate(context.Background(), Request{ReportID: "rpt-x"})
	assert.True(t, types.IsKind(err, types.ErrValidation))

	_, err = p.Generate(context.Background(), Request{
		ReportID: "rpt-x",
		Bundle:   testBundle(),
		Formats:  []string{"docx"},
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrValidation))
	assert.Contains(t, err.Error(), "docx")

	// Rejected requests spend no version number.
	assert.Empty(t, p.Versions("rpt-x"))
}

func TestGenerateNormalizesFormats(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, Config{})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-norm",
		Bundle:   testBundle(),
		Formats:  []string{"HTML", " json ", "html"},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Contains(t, res.Files, FormatHTML)
	assert.Contains(t, res.Files, FormatJSON)
}

func TestPDFFallsBackToHTML(t *testing.T) {
	t.Parallel()

	p, dir := newTestPipeline(t, Config{})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-pdf",
		Bundle:   testBundle(),
		Formats:  []string{FormatPDF},
	})
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	entry := res.Files[FormatPDF]
	assert.Equal(t, FormatPDFError, entry.Format)
	assert.Equal(t, filepath.Join(dir, "reports", "rpt-pdf_v1.html"), entry.Path)
	assert.FileExists(t, entry.Path)
	assert.NoFileExists(t, filepath.Join(dir, "reports", "rpt-pdf_v1.pdf"))

	explainer, err := os.ReadFile(filepath.Join(dir, "reports", "rpt-pdf_v1.pdf_error.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(explainer), "PDF 导出不可用")
	assert.Contains(t, string(explainer), "no PDF backend configured")
	assert.Contains(t, string(explainer), entry.Path)

	assert.Equal(t, types.VersionCompleted, res.Version.Status)
	assert.Equal(t, entry.Path, res.Version.Files[FormatPDF].Path)
}

func TestPDFExportWithBackend(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.4 patlas test")
	p, dir := newTestPipeline(t, Config{Exporter: stubExporter{data: payload}})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-doc",
		Bundle:   testBundle(),
		Formats:  []string{FormatHTML, FormatPDF},
	})
	require.NoError(t, err)

	entry := res.Files[FormatPDF]
	assert.Equal(t, FormatPDF, entry.Format)
	data, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, hashOf(payload), entry.Hash)
	assert.NoFileExists(t, filepath.Join(dir, "reports", "rpt-doc_v1.pdf_error.txt"))
}

func TestZipBundlesArtifacts(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, Config{})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-zip",
		Bundle:   testBundle(),
		Formats:  []string{FormatZip},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)

	zr, err := zip.OpenReader(res.Files[FormatZip].Path)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	members := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		names = append(names, f.Name)
		members[f.Name] = data
	}
	assert.Equal(t, []string{"report.html", "report.json", "metadata.json"}, names)
	assert.Contains(t, string(members["report.html"]), "<h1>专利分析报告</h1>")

	var meta zipMetadata
	require.NoError(t, json.Unmarshal(members["metadata.json"], &meta))
	assert.Equal(t, "rpt-zip", meta.ReportID)
	assert.Equal(t, 1, meta.Version)
	assert.Equal(t, names, meta.Members)
}

func TestZipIncludesPDFWhenProduced(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.4 patlas test")
	p, _ := newTestPipeline(t, Config{Exporter: stubExporter{data: payload}})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-zpdf",
		Bundle:   testBundle(),
		Formats:  []string{FormatPDF, FormatZip},
	})
	require.NoError(t, err)

	zr, err := zip.OpenReader(res.Files[FormatZip].Path)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"report.html", "report.json", "report.pdf", "metadata.json"}, names)
}

func TestVersionRetentionDropsOldestFiles(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, Config{MaxVersions: 2})

	var firstFiles map[string]ExportedFile
	for i := 1; i <= 3; i++ {
		res, err := p.Generate(context.Background(), Request{
			ReportID: "rpt-keep",
			Bundle:   testBundle(),
		})
		require.NoError(t, err)
		assert.Equal(t, i, res.Version.VersionNumber)
		if i == 1 {
			firstFiles = res.Files
		}
	}

	hist := p.Versions("rpt-keep")
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].VersionNumber)
	assert.Equal(t, 3, hist[1].VersionNumber)

	for _, f := range firstFiles {
		assert.NoFileExists(t, f.Path)
	}
	for _, f := range hist[1].Files {
		assert.FileExists(t, f.Path)
	}

	latest, ok := p.Latest("rpt-keep")
	require.True(t, ok)
	assert.Equal(t, 3, latest.VersionNumber)

	entry, ok := p.Get("rpt-keep")
	require.True(t, ok)
	assert.Equal(t, 3, entry.LatestVersion)
}

func TestFailedRenderSpendsVersionNumber(t *testing.T) {
	t.Parallel()

	tmpl := &flakyTemplates{real: NewHTMLTemplateRenderer(), fail: true}
	p, _ := newTestPipeline(t, Config{Templates: tmpl})

	_, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-flaky",
		Bundle:   testBundle(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to render report template")

	hist := p.Versions("rpt-flaky")
	require.Len(t, hist, 1)
	assert.Equal(t, types.VersionFailed, hist[0].Status)

	tmpl.fail = false
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-flaky",
		Bundle:   testBundle(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version.VersionNumber)

	hist = p.Versions("rpt-flaky")
	require.Len(t, hist, 2)
	assert.Equal(t, types.VersionFailed, hist[0].Status)
	assert.Equal(t, types.VersionCompleted, hist[1].Status)
}

func TestCommentaryEnhancement(t *testing.T) {
	t.Parallel()

	gen := &stubText{text: "  该领域专利布局已进入快速扩张期,值得持续关注。\n"}
	p, _ := newTestPipeline(t, Config{Text: gen})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-note",
		Bundle:   testBundle(),
	})
	require.NoError(t, err)

	assert.Equal(t, "该领域专利布局已进入快速扩张期,值得持续关注。", res.Content.Commentary)
	assert.Contains(t, gen.prompt, "请以资深专利分析师")
	assert.Contains(t, gen.prompt, "本报告基于 40 件专利数据")

	page, err := os.ReadFile(res.Files[FormatHTML].Path)
	require.NoError(t, err)
	assert.Contains(t, string(page), "专家点评")

	// A failing generator degrades to the template prose.
	broken, _ := newTestPipeline(t, Config{Text: &stubText{err: errors.New("backend offline")}})
	res, err = broken.Generate(context.Background(), Request{
		ReportID: "rpt-note",
		Bundle:   testBundle(),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Content.Commentary)
	page, err = os.ReadFile(res.Files[FormatHTML].Path)
	require.NoError(t, err)
	assert.NotContains(t, string(page), "专家点评")
}

func TestChartFailureDegradesReport(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, Config{Charts: failingCharts{}})
	res, err := p.Generate(context.Background(), Request{
		ReportID: "rpt-chart",
		Bundle:   testBundle(),
	})
	require.NoError(t, err)

	assert.Empty(t, res.Charts)
	page, err := os.ReadFile(res.Files[FormatHTML].Path)
	require.NoError(t, err)
	assert.NotContains(t, string(page), "图表")
}

func TestPipelineReloadsIndices(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clk := testClock()
	cfg := Config{OutputDir: dir, Clock: clk}

	p1, err := NewPipeline(cfg)
	require.NoError(t, err)
	_, err = p1.Generate(context.Background(), Request{ReportID: "rpt-a", Bundle: testBundle()})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = p1.Generate(context.Background(), Request{ReportID: "rpt-b", Bundle: testBundle()})
	require.NoError(t, err)

	p2, err := NewPipeline(cfg)
	require.NoError(t, err)

	list := p2.List()
	require.Len(t, list, 2)
	assert.Equal(t, "rpt-b", list[0].ReportID)
	assert.Equal(t, "rpt-a", list[1].ReportID)

	latest, ok := p2.Latest("rpt-a")
	require.True(t, ok)
	assert.Equal(t, 1, latest.VersionNumber)

	// Version numbering continues across restarts.
	res, err := p2.Generate(context.Background(), Request{ReportID: "rpt-a", Bundle: testBundle()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version.VersionNumber)
}

func TestDeleteRemovesArtifactsAndCatalog(t *testing.T) {
	t.Parallel()

	p, dir := newTestPipeline(t, Config{})
	for i := 0; i < 2; i++ {
		_, err := p.Generate(context.Background(), Request{
			ReportID: "rpt-gone",
			Bundle:   testBundle(),
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Delete("rpt-gone"))

	_, ok := p.Get("rpt-gone")
	assert.False(t, ok)
	assert.Empty(t, p.Versions("rpt-gone"))
	assert.Empty(t, p.List())

	reports, err := os.ReadDir(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, storageIndexFile, reports[0].Name())

	versions, err := os.ReadDir(filepath.Join(dir, "versions"))
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, versionsIndexFile, versions[0].Name())
}
