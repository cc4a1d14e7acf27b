package search

import (
	"strings"
	"unicode/utf8"

	"patlas/internal/clock"
)

// Score weights for the final composite. Quality folds content quality and
// completeness together before weighting.
const (
	weightQuality   = 0.30
	weightRelevance = 0.35
	weightAuthority = 0.20
	weightFreshness = 0.15
)

// semanticExpansions widens relevance matching beyond literal keywords.
// Expansion hits count at half the weight of direct hits.
var semanticExpansions = map[string][]string{
	"人工智能": {"AI", "机器学习", "深度学习", "神经网络", "智能算法"},
	"机器学习": {"深度学习", "神经网络", "模型训练", "machine learning"},
	"区块链":  {"分布式账本", "智能合约", "去中心化", "blockchain"},
	"5G":   {"第五代移动通信", "无线通信", "基站", "毫米波"},
	"芯片":   {"半导体", "集成电路", "晶圆", "处理器"},
	"新能源":  {"锂电池", "光伏", "储能", "燃料电池"},
	"大数据":  {"数据挖掘", "数据分析", "数据仓库", "big data"},
	"云计算":  {"分布式计算", "虚拟化", "容器", "cloud"},
	"物联网":  {"传感器", "智能终端", "边缘计算", "IoT"},
	"自动驾驶": {"无人驾驶", "智能网联", "激光雷达", "车联网"},
}

// technicalTerms feeds the content-quality density heuristic.
var technicalTerms = []string{
	"专利", "技术", "算法", "系统", "方法", "装置", "数据", "网络",
	"芯片", "模型", "模块", "设备", "电路", "协议", "架构", "接口",
	"patent", "algorithm", "system", "method", "apparatus", "network",
}

// Scorer computes the per-dimension and final scores of a record. The clock
// pins "current year" for freshness, keeping rankings reproducible in tests.
type Scorer struct {
	clk clock.Clock
}

// NewScorer creates a Scorer on the given clock (nil means system clock).
func NewScorer(clk clock.Clock) *Scorer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Scorer{clk: clk}
}

// Score fills every score field of rec against the query keywords.
func (s *Scorer) Score(rec *Record, keywords []string) {
	rec.Relevance = s.relevance(rec, keywords)
	rec.Authority = s.authority(rec)
	rec.Freshness = s.freshness(rec)
	rec.Completeness = s.completeness(rec)
	rec.ContentQuality = s.contentQuality(rec)

	quality := (rec.ContentQuality + rec.Completeness) / 2
	rec.FinalScore = weightQuality*quality +
		weightRelevance*rec.Relevance +
		weightAuthority*rec.Authority +
		weightFreshness*rec.Freshness
}

// relevance is the keyword hit rate: a title hit weighs double a content hit,
// and semantic expansions contribute at half weight. Each keyword contributes
// at most 1 before averaging.
func (s *Scorer) relevance(rec *Record, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	title := strings.ToLower(rec.Title)
	content := strings.ToLower(rec.Content)

	total := 0.0
	for _, kw := range keywords {
		lowered := strings.ToLower(kw)
		if lowered == "" {
			continue
		}
		hits := 0.0
		if strings.Contains(title, lowered) {
			hits += 2
		}
		if strings.Contains(content, lowered) {
			hits += 1
		}
		if hits == 0 {
			for _, exp := range semanticExpansions[kw] {
				expLowered := strings.ToLower(exp)
				if strings.Contains(title, expLowered) {
					hits += 1
					break
				}
				if strings.Contains(content, expLowered) {
					hits += 0.5
					break
				}
			}
		}
		score := hits / 3
		if score > 1 {
			score = 1
		}
		total += score
	}
	return total / float64(len(keywords))
}

// authority starts from the source table and discounts degraded (×0.8) and
// failover (×0.9) paths. Emergency placeholders are pinned at 0.1.
func (s *Scorer) authority(rec *Record) float64 {
	if rec.IsEmergencyFallback {
		return 0.1
	}
	a := baseAuthority(rec.Source)
	if rec.IsDegraded {
		a *= 0.8
	}
	if rec.IsFailover {
		a *= 0.9
	}
	return a
}

// freshness scores by publication year: current year 1.0, one back 0.8, two
// back 0.6, then a 0.2-per-year decay floored at 0.3. Unknown years score a
// neutral 0.5.
func (s *Scorer) freshness(rec *Record) float64 {
	if rec.PublishedYear <= 0 {
		return 0.5
	}
	age := s.clk.Now().Year() - rec.PublishedYear
	switch {
	case age <= 0:
		return 1.0
	case age == 1:
		return 0.8
	case age == 2:
		return 0.6
	default:
		v := 1.0 - 0.2*float64(age)
		if v < 0.3 {
			v = 0.3
		}
		return v
	}
}

// completeness is 0.7 × required-field ratio + 0.3 × optional-field ratio.
// Required: title, url, content, source. Optional: published year, author,
// abstract.
func (s *Scorer) completeness(rec *Record) float64 {
	required := 0
	if rec.Title != "" {
		required++
	}
	if rec.URL != "" {
		required++
	}
	if rec.Content != "" {
		required++
	}
	if rec.Source != "" {
		required++
	}

	optional := 0
	if rec.PublishedYear > 0 {
		optional++
	}
	if rec.MetaString("author") != "" {
		optional++
	}
	if rec.MetaString("abstract") != "" {
		optional++
	}

	return 0.7*float64(required)/4 + 0.3*float64(optional)/3
}

// contentQuality blends length, sentence structure and technical-term density
// heuristics.
func (s *Scorer) contentQuality(rec *Record) float64 {
	content := rec.Content
	runes := utf8.RuneCountInString(content)
	if runes == 0 {
		return 0
	}

	length := float64(runes) / 500
	if length > 1 {
		length = 1
	}

	sentences := float64(strings.Count(content, "。") +
		strings.Count(content, ".") +
		strings.Count(content, "！") +
		strings.Count(content, "!") +
		strings.Count(content, "？") +
		strings.Count(content, "?"))
	sentenceScore := sentences / 3
	if sentenceScore > 1 {
		sentenceScore = 1
	}

	lowered := strings.ToLower(content)
	terms := 0
	for _, term := range technicalTerms {
		terms += strings.Count(lowered, strings.ToLower(term))
	}
	density := float64(terms) / 5
	if density > 1 {
		density = 1
	}

	return 0.4*length + 0.3*sentenceScore + 0.3*density
}
