package report

import (
	"sort"
	"strconv"

	"patlas/internal/types"
)

// Chart types understood by renderers.
const (
	ChartLine = "line"
	ChartPie  = "pie"
	ChartBar  = "bar"
)

// topEntryCap bounds pie and bar charts to the ten largest entries.
const topEntryCap = 10

// ChartSpec is a renderer-independent chart description. Labels and Values
// are parallel slices.
type ChartSpec struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Title  string    `json:"title"`
	XLabel string    `json:"x_label,omitempty"`
	YLabel string    `json:"y_label,omitempty"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// BuildCharts derives chart specs from the analysis modules present in the
// bundle. Modules that are absent or empty contribute no chart.
func BuildCharts(bundle *types.AnalysisBundle) []ChartSpec {
	var specs []ChartSpec
	if bundle == nil {
		return specs
	}
	if bundle.Trend != nil {
		if spec, ok := trendChart(bundle.Trend); ok {
			specs = append(specs, spec)
		}
	}
	if bundle.Competition != nil {
		if spec, ok := competitionChart(bundle.Competition); ok {
			specs = append(specs, spec)
		}
	}
	if bundle.Technology != nil {
		if spec, ok := technologyChart(bundle.Technology); ok {
			specs = append(specs, spec)
		}
	}
	if bundle.Geographic != nil {
		if spec, ok := geographicChart(bundle.Geographic); ok {
			specs = append(specs, spec)
		}
	}
	return specs
}

// trendChart plots yearly application counts, years ascending.
func trendChart(t *types.TrendResult) (ChartSpec, bool) {
	if len(t.YearlyCounts) == 0 {
		return ChartSpec{}, false
	}
	years := make([]int, 0, len(t.YearlyCounts))
	for year := range t.YearlyCounts {
		years = append(years, year)
	}
	sort.Ints(years)

	spec := ChartSpec{
		ID:     "trend_chart",
		Type:   ChartLine,
		Title:  "专利申请趋势",
		XLabel: "年份",
		YLabel: "申请量",
		Labels: make([]string, 0, len(years)),
		Values: make([]float64, 0, len(years)),
	}
	for _, year := range years {
		spec.Labels = append(spec.Labels, strconv.Itoa(year))
		spec.Values = append(spec.Values, float64(t.YearlyCounts[year]))
	}
	return spec, true
}

// competitionChart shows the top applicants' patent counts as a pie.
func competitionChart(c *types.CompetitionResult) (ChartSpec, bool) {
	top := c.TopApplicants
	if len(top) == 0 {
		return ChartSpec{}, false
	}
	if len(top) > topEntryCap {
		top = top[:topEntryCap]
	}
	spec := ChartSpec{
		ID:     "competition_chart",
		Type:   ChartPie,
		Title:  "主要申请人分布",
		Labels: make([]string, 0, len(top)),
		Values: make([]float64, 0, len(top)),
	}
	for _, a := range top {
		spec.Labels = append(spec.Labels, a.Name)
		spec.Values = append(spec.Values, float64(a.PatentCount))
	}
	return spec, true
}

// technologyChart shows the top IPC prefixes as a bar chart.
func technologyChart(t *types.TechnologyResult) (ChartSpec, bool) {
	entries := t.IPCDistribution
	if len(entries) == 0 {
		return ChartSpec{}, false
	}
	if len(entries) > topEntryCap {
		entries = entries[:topEntryCap]
	}
	spec := ChartSpec{
		ID:     "technology_chart",
		Type:   ChartBar,
		Title:  "IPC 技术分布",
		XLabel: "IPC 分类",
		YLabel: "专利数量",
		Labels: make([]string, 0, len(entries)),
		Values: make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		spec.Labels = append(spec.Labels, e.Prefix)
		spec.Values = append(spec.Values, float64(e.Count))
	}
	return spec, true
}

// geographicChart shows the top filing countries as a bar chart.
func geographicChart(g *types.GeographicResult) (ChartSpec, bool) {
	entries := g.Distribution
	if len(entries) == 0 {
		return ChartSpec{}, false
	}
	if len(entries) > topEntryCap {
		entries = entries[:topEntryCap]
	}
	spec := ChartSpec{
		ID:     "geographic_chart",
		Type:   ChartBar,
		Title:  "国家/地区分布",
		XLabel: "国家/地区",
		YLabel: "专利数量",
		Labels: make([]string, 0, len(entries)),
		Values: make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		spec.Labels = append(spec.Labels, e.Country)
		spec.Values = append(spec.Values, float64(e.Count))
	}
	return spec, true
}
