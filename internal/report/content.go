package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"patlas/internal/types"
)

// =============================================================================
// CONTENT MODEL
// =============================================================================

// Section is one prose block of a report.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Content is the composed report text before rendering.
type Content struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Sections    []Section `json:"sections"`
	Commentary  string    `json:"commentary,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// =============================================================================
// PROSE TEMPLATES
// =============================================================================

// Section bodies are produced from fixed phrase templates; the variable parts
// are preformatted in Go so the templates stay purely structural.
var proseTemplates = template.Must(template.New("prose").Parse(`
{{- define "summary" -}}
本报告基于 {{.PatentCount}} 件专利数据,从{{.Dimensions}}等维度展开分析。{{.Headline}}
{{- end -}}
{{- define "trend" -}}
{{.SpanStart}} 年至 {{.SpanEnd}} 年间共有 {{.DataPoints}} 件可定位申请日期的专利,总体趋势为{{.Direction}},增长模式属于{{.Pattern}}。{{.CAGRClause}}{{.PredictionClause}}
{{- end -}}
{{- define "competition" -}}
共识别出 {{.Applicants}} 家申请人、{{.Patents}} 件专利,HHI 指数为 {{.HHI}},市场格局为{{.Level}}。{{.LeaderClause}}{{.EmergingClause}}
{{- end -}}
{{- define "technology" -}}
主要技术方向为{{.Main}}。{{.IPCClause}}{{.ClusterClause}}
{{- end -}}
{{- define "geographic" -}}
专利申请覆盖 {{.Countries}} 个国家/地区,其中 {{.Top}} 的申请量最高{{.ShareClause}}。
{{- end -}}
`))

func renderProse(name string, vars interface{}) (string, error) {
	var buf bytes.Buffer
	if err := proseTemplates.ExecuteTemplate(&buf, name, vars); err != nil {
		return "", fmt.Errorf("failed to render %s prose: %w", name, err)
	}
	return buf.String(), nil
}

// =============================================================================
// LABELS
// =============================================================================

var patternLabels = map[string]string{
	types.PatternRapidGrowth:    "快速增长",
	types.PatternSteadyGrowth:   "稳定增长",
	types.PatternModerateGrowth: "温和增长",
	types.PatternFluctuating:    "波动起伏",
	types.PatternDeclining:      "持续下降",
	types.PatternRapidDecline:   "快速下滑",
}

func patternLabel(pattern string) string {
	if label, ok := patternLabels[pattern]; ok {
		return label
	}
	return pattern
}

func directionLabel(d types.TrendDirection) string {
	switch d {
	case types.DirectionIncreasing:
		return "上升"
	case types.DirectionDecreasing:
		return "下降"
	default:
		return "平稳"
	}
}

// =============================================================================
// CONTENT BUILDER
// =============================================================================

// BuildContent composes the summary and the per-module sections for the
// bundle. Sections follow the module order trend, competition, technology,
// geographic; absent modules are skipped.
func BuildContent(title string, bundle *types.AnalysisBundle, now time.Time) (*Content, error) {
	content := &Content{Title: title, GeneratedAt: now}

	summary, err := renderProse("summary", summaryVars(bundle))
	if err != nil {
		return nil, err
	}
	content.Summary = summary

	if bundle.Trend != nil {
		section, err := trendSection(bundle.Trend)
		if err != nil {
			return nil, err
		}
		content.Sections = append(content.Sections, section)
	}
	if bundle.Competition != nil {
		section, err := competitionSection(bundle.Competition)
		if err != nil {
			return nil, err
		}
		content.Sections = append(content.Sections, section)
	}
	if bundle.Technology != nil {
		section, err := technologySection(bundle.Technology)
		if err != nil {
			return nil, err
		}
		content.Sections = append(content.Sections, section)
	}
	if bundle.Geographic != nil {
		section, err := geographicSection(bundle.Geographic)
		if err != nil {
			return nil, err
		}
		content.Sections = append(content.Sections, section)
	}
	return content, nil
}

type summaryTemplateVars struct {
	PatentCount int
	Dimensions  string
	Headline    string
}

func summaryVars(b *types.AnalysisBundle) summaryTemplateVars {
	var dims []string
	if b.Trend != nil {
		dims = append(dims, "发展趋势")
	}
	if b.Competition != nil {
		dims = append(dims, "竞争格局")
	}
	if b.Technology != nil {
		dims = append(dims, "技术构成")
	}
	if b.Geographic != nil {
		dims = append(dims, "地域分布")
	}
	if len(dims) == 0 {
		dims = append(dims, "基础统计")
	}

	var parts []string
	if b.Trend != nil {
		parts = append(parts, fmt.Sprintf("专利申请总体呈%s态势", directionLabel(b.Trend.Direction.Direction)))
	}
	if b.Competition != nil && b.Competition.ConcentrationLevel != "" {
		parts = append(parts, fmt.Sprintf("市场格局为%s", b.Competition.ConcentrationLevel))
	}
	if b.Technology != nil && len(b.Technology.MainTechnologies) > 0 {
		main := b.Technology.MainTechnologies
		if len(main) > 3 {
			main = main[:3]
		}
		parts = append(parts, fmt.Sprintf("核心技术集中于%s", strings.Join(main, "、")))
	}
	headline := ""
	if len(parts) > 0 {
		headline = strings.Join(parts, ",") + "。"
	}

	return summaryTemplateVars{
		PatentCount: b.PatentCount,
		Dimensions:  strings.Join(dims, "、"),
		Headline:    headline,
	}
}

func trendSection(t *types.TrendResult) (Section, error) {
	vars := struct {
		SpanStart, SpanEnd, DataPoints int
		Direction, Pattern             string
		CAGRClause, PredictionClause   string
	}{
		SpanStart:  t.YearSpan[0],
		SpanEnd:    t.YearSpan[1],
		DataPoints: t.DataPoints,
		Direction:  directionLabel(t.Direction.Direction),
		Pattern:    patternLabel(t.Pattern),
	}
	if t.CAGRValid {
		vars.CAGRClause = fmt.Sprintf("年均复合增长率为 %.1f%%。", t.CAGR)
	}
	if len(t.Predictions) > 0 {
		p := t.Predictions[0]
		vars.PredictionClause = fmt.Sprintf("预计 %d 年申请量约为 %.0f 件。", p.Year, p.Ensemble)
	}
	body, err := renderProse("trend", vars)
	return Section{Heading: "发展趋势分析", Body: body}, err
}

func competitionSection(c *types.CompetitionResult) (Section, error) {
	vars := struct {
		Applicants, Patents          int
		HHI, Level                   string
		LeaderClause, EmergingClause string
	}{
		Applicants: c.TotalApplicants,
		Patents:    c.TotalPatents,
		HHI:        fmt.Sprintf("%.3f", c.HHI),
		Level:      c.ConcentrationLevel,
	}
	if len(c.TopApplicants) > 0 {
		lead := c.TopApplicants[0]
		vars.LeaderClause = fmt.Sprintf("申请量最高的是%s(%d 件,份额 %.1f%%)。",
			lead.Name, lead.PatentCount, lead.Share*100)
	}
	if len(c.Emerging) > 0 {
		vars.EmergingClause = fmt.Sprintf("另有 %d 家申请人呈快速上升态势。", len(c.Emerging))
	}
	body, err := renderProse("competition", vars)
	return Section{Heading: "竞争格局分析", Body: body}, err
}

func technologySection(t *types.TechnologyResult) (Section, error) {
	main := t.MainTechnologies
	if len(main) > 3 {
		main = main[:3]
	}
	mainText := strings.Join(main, "、")
	if mainText == "" {
		mainText = "综合技术"
	}
	vars := struct {
		Main, IPCClause, ClusterClause string
	}{Main: mainText}
	if len(t.IPCDistribution) > 0 {
		top := t.IPCDistribution[0]
		vars.IPCClause = fmt.Sprintf("IPC 分布中 %s(%s)占比最高,达 %.1f%%。",
			top.Prefix, top.Label, top.Share*100)
	}
	if len(t.Clusters) > 0 {
		vars.ClusterClause = fmt.Sprintf("关键词聚类形成 %d 个技术簇。", len(t.Clusters))
	}
	body, err := renderProse("technology", vars)
	return Section{Heading: "技术构成分析", Body: body}, err
}

func geographicSection(g *types.GeographicResult) (Section, error) {
	vars := struct {
		Countries        int
		Top, ShareClause string
	}{
		Countries: len(g.Distribution),
		Top:       g.TopCountry,
	}
	if len(g.Distribution) > 0 {
		vars.ShareClause = fmt.Sprintf("(占比 %.1f%%)", g.Distribution[0].Share*100)
	}
	body, err := renderProse("geographic", vars)
	return Section{Heading: "地域分布分析", Body: body}, err
}
