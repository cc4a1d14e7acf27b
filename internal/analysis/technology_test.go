package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patlas/internal/types"
)

func newTechnology() *TechnologyAnalyzer {
	return NewTechnologyAnalyzer(TechnologyConfig{})
}

func aiPatents() []types.PatentRecord {
	return []types.PatentRecord{
		{
			Title:           "一种基于深度学习的图像识别方法",
			Abstract:        "本发明涉及人工智能领域，提出一种神经网络模型压缩算法。",
			ApplicationDate: "2022-03-01",
			IPCClasses:      []string{"G06N 3/08", "G06F 17/00"},
		},
		{
			Title:           "人工智能推理芯片及其封装结构",
			Abstract:        "一种面向深度学习推理的半导体装置。",
			ApplicationDate: "2022-08-01",
			IPCClasses:      []string{"G06N 20/00", "H01L 21/02"},
		},
		{
			Title:           "无线通信基站的信号处理系统",
			Abstract:        "涉及5G通信系统中的数据检测方法。",
			ApplicationDate: "2021-05-01",
			IPCClasses:      []string{"H04W 72/04"},
		},
		{
			Title:           "农业灌溉控制装置",
			Abstract:        "一种用于大田作物的自动化灌溉设备。",
			ApplicationDate: "2020-04-01",
			IPCClasses:      []string{"A01G 25/16"},
		},
	}
}

func TestTechnologyIPCDistribution(t *testing.T) {
	t.Parallel()

	res, err := newTechnology().Analyze(aiPatents())
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalPatents)

	byPrefix := map[string]types.IPCEntry{}
	total := 0.0
	for _, e := range res.IPCDistribution {
		byPrefix[e.Prefix] = e
		total += e.Share
	}
	assert.InDelta(t, 1.0, total, 1e-9, "shares sum to one")

	g06n := byPrefix["G06N"]
	assert.Equal(t, 2, g06n.Count)
	assert.Equal(t, "人工智能算法", g06n.Label)

	a01g := byPrefix["A01G"]
	assert.Equal(t, 1, a01g.Count)
	assert.Equal(t, "其他分类(A01G)", a01g.Label, "unknown prefixes get the fallback label")

	// Top entry has the highest count.
	assert.Equal(t, "G06N", res.IPCDistribution[0].Prefix)
}

func TestTechnologyDuplicatePrefixCountedOncePerRecord(t *testing.T) {
	t.Parallel()

	res, err := newTechnology().Analyze([]types.PatentRecord{
		{Title: "t", IPCClasses: []string{"G06F 17/00", "G06F 16/35", "G06F16/00"}},
	})
	require.NoError(t, err)
	require.Len(t, res.IPCDistribution, 1)
	assert.Equal(t, 1, res.IPCDistribution[0].Count)
}

func TestTechnologyKeywordsAndClusters(t *testing.T) {
	t.Parallel()

	res, err := newTechnology().Analyze(aiPatents())
	require.NoError(t, err)

	assert.Contains(t, res.Keywords, "深度学习")
	assert.Contains(t, res.Keywords, "人工智能")
	assert.Contains(t, res.Keywords, "基站")
	assert.Contains(t, res.Keywords, "方法", "common terms feed the keyword list")

	byArea := map[string]types.KeywordCluster{}
	for _, c := range res.Clusters {
		byArea[c.Area] = c
	}
	ai, ok := byArea["人工智能"]
	require.True(t, ok)
	assert.Contains(t, ai.Keywords, "深度学习")
	assert.Contains(t, ai.Keywords, "神经网络")

	other, ok := byArea["其他技术"]
	require.True(t, ok)
	assert.Contains(t, other.Keywords, "方法")

	// Clusters are ordered by size.
	for i := 1; i < len(res.Clusters); i++ {
		assert.GreaterOrEqual(t, res.Clusters[i-1].Size, res.Clusters[i].Size)
	}
}

func TestTechnologyMainTechnologies(t *testing.T) {
	t.Parallel()

	res, err := newTechnology().Analyze(aiPatents())
	require.NoError(t, err)

	require.NotEmpty(t, res.MainTechnologies)
	assert.LessOrEqual(t, len(res.MainTechnologies), 10)
	assert.Contains(t, res.MainTechnologies, "人工智能算法",
		"top IPC labels lead the list")

	seen := map[string]bool{}
	for _, m := range res.MainTechnologies {
		assert.False(t, seen[m], "main technologies must not repeat")
		seen[m] = true
	}
}

func TestTechnologyEvolution(t *testing.T) {
	t.Parallel()

	var records []types.PatentRecord
	add := func(date string, n int) {
		for i := 0; i < n; i++ {
			records = append(records, types.PatentRecord{
				Title:           "深度学习加速装置",
				ApplicationDate: date,
			})
		}
	}
	add("2018-01-01", 1)
	add("2019-01-01", 1)
	add("2020-01-01", 3)
	add("2021-01-01", 3)

	res, err := newTechnology().Analyze(records)
	require.NoError(t, err)

	require.Len(t, res.Evolution, 1)
	evo := res.Evolution[0]
	assert.Equal(t, "人工智能", evo.Area)
	assert.InDelta(t, 1.0, evo.EarlyAvg, 1e-9)
	assert.InDelta(t, 3.0, evo.LateAvg, 1e-9)
	assert.Equal(t, "rapid", evo.Verdict)
}

func TestEvolutionVerdictBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		early float64
		late  float64
		want  string
	}{
		{2, 4, "rapid"},
		{2, 2.4, "steady"},
		{2, 1, "declining"},
		{2, 2, "stable"},
		{0, 3, "rapid"},
		{0, 0, "stable"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evolutionVerdict(tt.early, tt.late),
			"early=%v late=%v", tt.early, tt.late)
	}
}

func TestTechnologyEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := newTechnology().Analyze(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInsufficientData, types.KindOf(err))
}

func TestIPCPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "G06F", ipcPrefix("G06F 17/00"))
	assert.Equal(t, "G06F", ipcPrefix("g06f16/35"))
	assert.Equal(t, "H04L", ipcPrefix(" h04l "))
	assert.Equal(t, "A01", ipcPrefix("A01"))
	assert.Equal(t, "", ipcPrefix("  "))
}

func TestDomainTerms(t *testing.T) {
	t.Parallel()

	terms := DomainTerms("请分析人工智能和5G基站相关的专利，重点看深度学习方向。")
	assert.Equal(t, []string{"人工智能", "深度学习", "5G", "基站"}, terms,
		"area table order, text order within an area, no duplicates")

	assert.Empty(t, DomainTerms("农业灌溉的发展历史"))
	assert.Empty(t, DomainTerms(""))
}
