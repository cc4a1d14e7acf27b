package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patlas/internal/types"
)

func TestBuildContentFullBundle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	content, err := BuildContent("AI 专利分析报告", testBundle(), now)
	require.NoError(t, err)

	assert.Equal(t, "AI 专利分析报告", content.Title)
	assert.Equal(t, now, content.GeneratedAt)
	assert.Empty(t, content.Commentary)

	assert.Contains(t, content.Summary, "本报告基于 40 件专利数据")
	assert.Contains(t, content.Summary, "发展趋势、竞争格局、技术构成、地域分布")
	assert.Contains(t, content.Summary, "专利申请总体呈上升态势")
	assert.Contains(t, content.Summary, "市场格局为中度集中")
	assert.Contains(t, content.Summary, "核心技术集中于人工智能算法、数据处理")

	require.Len(t, content.Sections, 4)
	headings := make([]string, 0, len(content.Sections))
	for _, sec := range content.Sections {
		headings = append(headings, sec.Heading)
	}
	assert.Equal(t, []string{"发展趋势分析", "竞争格局分析", "技术构成分析", "地域分布分析"}, headings)

	trend := content.Sections[0].Body
	assert.Contains(t, trend, "2020 年至 2022 年间共有 40 件")
	assert.Contains(t, trend, "总体趋势为上升,增长模式属于快速增长")
	assert.Contains(t, trend, "年均复合增长率为 26.5%")
	assert.Contains(t, trend, "预计 2023 年申请量约为 19 件")

	competition := content.Sections[1].Body
	assert.Contains(t, competition, "共识别出 12 家申请人、40 件专利")
	assert.Contains(t, competition, "HHI 指数为 0.150")
	assert.Contains(t, competition, "申请量最高的是华为技术(8 件,份额 20.0%)")

	technology := content.Sections[2].Body
	assert.Contains(t, technology, "主要技术方向为人工智能算法、数据处理")
	assert.Contains(t, technology, "IPC 分布中 G06N(人工智能)占比最高,达 45.0%")
	assert.Contains(t, technology, "关键词聚类形成 1 个技术簇")

	assert.Equal(t, "专利申请覆盖 3 个国家/地区,其中 CN 的申请量最高(占比 62.5%)。",
		content.Sections[3].Body)
}

func TestBuildContentPartialBundle(t *testing.T) {
	t.Parallel()

	bundle := &types.AnalysisBundle{
		Trend:       testBundle().Trend,
		PatentCount: 40,
	}
	content, err := BuildContent("趋势报告", bundle, time.Now())
	require.NoError(t, err)

	assert.Contains(t, content.Summary, "从发展趋势等维度展开分析")
	require.Len(t, content.Sections, 1)
	assert.Equal(t, "发展趋势分析", content.Sections[0].Heading)
}

func TestBuildContentOmitsUnavailableClauses(t *testing.T) {
	t.Parallel()

	bundle := &types.AnalysisBundle{
		Trend: &types.TrendResult{
			YearlyCounts: map[int]int{2021: 3, 2022: 4},
			Pattern:      types.PatternFluctuating,
			Direction:    types.DirectionAssessment{Direction: types.DirectionStable},
			DataPoints:   7,
			YearSpan:     [2]int{2021, 2022},
		},
		PatentCount: 7,
	}
	content, err := BuildContent("小样本", bundle, time.Now())
	require.NoError(t, err)

	body := content.Sections[0].Body
	assert.Contains(t, body, "总体趋势为平稳,增长模式属于波动起伏")
	assert.NotContains(t, body, "年均复合增长率")
	assert.NotContains(t, body, "预计")
}

func TestPatternAndDirectionLabels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		want    string
	}{
		{types.PatternRapidGrowth, "快速增长"},
		{types.PatternSteadyGrowth, "稳定增长"},
		{types.PatternModerateGrowth, "温和增长"},
		{types.PatternFluctuating, "波动起伏"},
		{types.PatternDeclining, "持续下降"},
		{types.PatternRapidDecline, "快速下滑"},
		{"exotic", "exotic"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, patternLabel(tc.pattern))
	}

	assert.Equal(t, "上升", directionLabel(types.DirectionIncreasing))
	assert.Equal(t, "下降", directionLabel(types.DirectionDecreasing))
	assert.Equal(t, "平稳", directionLabel(types.DirectionStable))
}
