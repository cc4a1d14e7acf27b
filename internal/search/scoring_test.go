package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"patlas/internal/clock"
)

func testScorer() *Scorer {
	return NewScorer(clock.NewFake(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRelevanceScoring(t *testing.T) {
	t.Parallel()

	s := testScorer()
	keywords := []string{"人工智能"}

	titleHit := Record{Title: "人工智能专利分析", Content: "无关正文"}
	contentHit := Record{Title: "年度报告", Content: "本文讨论人工智能的应用"}
	bothHit := Record{Title: "人工智能专利分析", Content: "人工智能正在重塑产业"}
	miss := Record{Title: "水利工程造价", Content: "堤坝施工方案"}

	assert.InDelta(t, 2.0/3.0, s.relevance(&titleHit, keywords), 1e-9)
	assert.InDelta(t, 1.0/3.0, s.relevance(&contentHit, keywords), 1e-9)
	assert.InDelta(t, 1.0, s.relevance(&bothHit, keywords), 1e-9)
	assert.Equal(t, 0.0, s.relevance(&miss, keywords))
}

func TestRelevanceSemanticExpansion(t *testing.T) {
	t.Parallel()

	s := testScorer()

	// No literal hit, but an expansion term appears in the title.
	rec := Record{Title: "深度学习模型压缩综述", Content: "剪枝与量化方法对比"}
	got := s.relevance(&rec, []string{"人工智能"})
	assert.InDelta(t, 1.0/3.0, got, 1e-9, "expansion title hits count as one")

	// Expansion term only in content counts at half weight.
	rec2 := Record{Title: "年度技术盘点", Content: "神经网络推理成本持续下降"}
	got2 := s.relevance(&rec2, []string{"人工智能"})
	assert.InDelta(t, 0.5/3.0, got2, 1e-9)

	// A literal hit suppresses the expansion lookup.
	rec3 := Record{Title: "人工智能与深度学习", Content: ""}
	got3 := s.relevance(&rec3, []string{"人工智能"})
	assert.InDelta(t, 2.0/3.0, got3, 1e-9)
}

func TestAuthorityScoring(t *testing.T) {
	t.Parallel()

	s := testScorer()

	assert.InDelta(t, 0.9, s.authority(&Record{Source: SourceCNKI}), 1e-9)
	assert.InDelta(t, 0.7, s.authority(&Record{Source: SourceBocha}), 1e-9)
	assert.InDelta(t, 0.5, s.authority(&Record{Source: SourceWeb}), 1e-9)
	assert.InDelta(t, 0.3, s.authority(&Record{Source: "mystery"}), 1e-9)

	degraded := Record{Source: SourceCNKI, IsDegraded: true}
	assert.InDelta(t, 0.9*0.8, s.authority(&degraded), 1e-9)

	failover := Record{Source: SourceBocha, IsFailover: true}
	assert.InDelta(t, 0.7*0.9, s.authority(&failover), 1e-9)

	both := Record{Source: SourceWeb, IsDegraded: true, IsFailover: true}
	assert.InDelta(t, 0.5*0.8*0.9, s.authority(&both), 1e-9)

	emergency := Record{Source: SourceEmergency, IsEmergencyFallback: true}
	assert.InDelta(t, 0.1, s.authority(&emergency), 1e-9)
}

func TestFreshnessScoring(t *testing.T) {
	t.Parallel()

	s := testScorer()
	tests := []struct {
		year int
		want float64
	}{
		{2026, 1.0},
		{2027, 1.0},
		{2025, 0.8},
		{2024, 0.6},
		{2023, 0.4},
		{2020, 0.3},
		{1990, 0.3},
		{0, 0.5},
	}
	for _, tt := range tests {
		rec := Record{PublishedYear: tt.year}
		assert.InDelta(t, tt.want, s.freshness(&rec), 1e-9, "year %d", tt.year)
	}
}

func TestCompletenessScoring(t *testing.T) {
	t.Parallel()

	s := testScorer()

	full := Record{
		Title: "t", URL: "u", Content: "c", Source: SourceCNKI,
		PublishedYear: 2024,
		Metadata:      map[string]interface{}{"author": "王工", "abstract": "摘要"},
	}
	assert.InDelta(t, 1.0, s.completeness(&full), 1e-9)

	requiredOnly := Record{Title: "t", URL: "u", Content: "c", Source: SourceCNKI}
	assert.InDelta(t, 0.7, s.completeness(&requiredOnly), 1e-9)

	half := Record{Title: "t", URL: "u"}
	assert.InDelta(t, 0.35, s.completeness(&half), 1e-9)
}

func TestContentQualityScoring(t *testing.T) {
	t.Parallel()

	s := testScorer()

	assert.Equal(t, 0.0, s.contentQuality(&Record{Content: ""}))

	short := Record{Content: "短"}
	long := Record{Content: strings.Repeat("本专利描述了一种数据处理系统与方法。", 40)}
	assert.Greater(t, s.contentQuality(&long), s.contentQuality(&short))
	assert.LessOrEqual(t, s.contentQuality(&long), 1.0)
}

func TestFinalScoreComposite(t *testing.T) {
	t.Parallel()

	s := testScorer()
	rec := Record{
		Title:         "人工智能专利态势分析",
		URL:           "https://cnki.example/1",
		Content:       "本文基于专利数据分析人工智能技术的发展趋势。该方法覆盖算法与系统层面。",
		Source:        SourceCNKI,
		PublishedYear: 2026,
	}
	s.Score(&rec, []string{"人工智能"})

	quality := (rec.ContentQuality + rec.Completeness) / 2
	want := 0.30*quality + 0.35*rec.Relevance + 0.20*rec.Authority + 0.15*rec.Freshness
	assert.InDelta(t, want, rec.FinalScore, 1e-9)
	assert.Greater(t, rec.FinalScore, 0.0)
	assert.LessOrEqual(t, rec.FinalScore, 1.0)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text passthrough", "纯文本，无标记。", "纯文本，无标记。"},
		{"tags removed", "<p>第一段</p><p>第二段</p>", "第一段 第二段"},
		{"script dropped", `<div>正文<script>alert("x")</script>继续</div>`, "正文 继续"},
		{"style dropped", "<style>p{color:red}</style>样式后", "样式后"},
		{"nested", "<ul><li>甲</li><li>乙</li></ul>", "甲 乙"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}
