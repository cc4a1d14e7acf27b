package analysis

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"patlas/internal/logging"
	"patlas/internal/types"
)

// TechnologyConfig controls the technology classifier.
type TechnologyConfig struct {
	// MaxKeywords bounds the extracted keyword list.
	MaxKeywords int
	// MainTechCap bounds main_technologies.
	MainTechCap int
	Logger      *zap.Logger
}

func (c *TechnologyConfig) applyDefaults() {
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 50
	}
	if c.MainTechCap <= 0 {
		c.MainTechCap = 10
	}
}

// TechnologyAnalyzer classifies records by IPC prefix and extracted keywords.
type TechnologyAnalyzer struct {
	cfg    TechnologyConfig
	logger *zap.Logger
}

// NewTechnologyAnalyzer creates a TechnologyAnalyzer from cfg.
func NewTechnologyAnalyzer(cfg TechnologyConfig) *TechnologyAnalyzer {
	cfg.applyDefaults()
	return &TechnologyAnalyzer{cfg: cfg, logger: logging.Named(cfg.Logger, "technology")}
}

// ipcLabels maps known 4-character IPC prefixes to readable labels.
var ipcLabels = map[string]string{
	"G06F": "计算机技术",
	"H04L": "数字信息传输",
	"G06N": "人工智能算法",
	"H04W": "无线通信网络",
	"G06Q": "商业方法与管理系统",
	"H01L": "半导体器件",
	"G06K": "数据识别与呈现",
	"H04N": "图像通信",
	"G06T": "图像数据处理",
	"G01S": "无线电定位",
}

// ipcLabelFor resolves the label for an IPC prefix, falling back to
// 其他分类(<code>).
func ipcLabelFor(prefix string) string {
	if label, ok := ipcLabels[prefix]; ok {
		return label
	}
	return fmt.Sprintf("其他分类(%s)", prefix)
}

// techArea pairs a named technology area with the extraction pattern that
// recognizes it and the seed keywords that anchor its cluster.
type techArea struct {
	name    string
	pattern *regexp.Regexp
	seeds   map[string]bool
}

func newTechArea(name string, terms ...string) techArea {
	seeds := make(map[string]bool, len(terms))
	expr := "("
	for i, term := range terms {
		seeds[term] = true
		if i > 0 {
			expr += "|"
		}
		expr += regexp.QuoteMeta(term)
	}
	expr += ")"
	return techArea{name: name, pattern: regexp.MustCompile(expr), seeds: seeds}
}

// techAreas is checked in order; keyword clustering uses the first area whose
// seed set contains the keyword.
var techAreas = []techArea{
	newTechArea("人工智能", "人工智能", "机器学习", "深度学习", "神经网络", "智能算法", "AI"),
	newTechArea("通信技术", "5G", "6G", "基站", "无线通信", "光通信", "路由", "天线"),
	newTechArea("半导体", "芯片", "半导体", "集成电路", "晶圆", "光刻", "封装"),
	newTechArea("新能源", "锂电池", "燃料电池", "光伏", "储能", "风电", "充电桩"),
	newTechArea("生物医药", "基因", "抗体", "疫苗", "制药", "生物标志物", "细胞"),
	newTechArea("智能制造", "机器人", "自动化", "数控", "工业互联网", "3D打印", "传感器"),
}

// commonTermsPattern captures generic technical vocabulary that feeds the
// keyword list but belongs to no specific area.
var commonTermsPattern = regexp.MustCompile("(算法|系统|方法|装置|设备|模块|数据|控制|检测|识别)")

// DomainTerms lists the technology-area terms occurring in text, grouped by
// area in table order and deduplicated. Unlike Analyze it works on free text,
// which makes it usable for deriving search keywords from a prose ask.
func DomainTerms(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, area := range techAreas {
		for _, m := range area.pattern.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// Analyze classifies the record set by IPC distribution, extracted keywords,
// keyword clusters, main technologies and per-area evolution.
func (a *TechnologyAnalyzer) Analyze(records []types.PatentRecord) (*types.TechnologyResult, error) {
	if len(records) == 0 {
		return nil, types.NewError(types.ErrInsufficientData,
			"technology: empty record set")
	}

	res := &types.TechnologyResult{TotalPatents: len(records)}
	res.IPCDistribution = ipcDistribution(records)

	keywordFreq := make(map[string]int)
	areaYearCounts := make(map[string]map[int]int)
	for i := range records {
		rec := &records[i]
		text := rec.Title + " " + rec.Abstract

		recArea := make(map[string]bool)
		for _, area := range techAreas {
			matches := area.pattern.FindAllString(text, -1)
			for _, m := range matches {
				keywordFreq[m]++
			}
			if len(matches) > 0 {
				recArea[area.name] = true
			}
		}
		for _, m := range commonTermsPattern.FindAllString(text, -1) {
			keywordFreq[m]++
		}

		if len(recArea) == 0 {
			continue
		}
		fd, ok := parseFilingDate(rec.ApplicationDate)
		if !ok {
			continue
		}
		for name := range recArea {
			if areaYearCounts[name] == nil {
				areaYearCounts[name] = make(map[int]int)
			}
			areaYearCounts[name][fd.Year]++
		}
	}

	res.Keywords = rankKeywords(keywordFreq, a.cfg.MaxKeywords)
	res.Clusters = clusterKeywords(res.Keywords, keywordFreq)
	res.MainTechnologies = mainTechnologies(res.IPCDistribution, res.Clusters, a.cfg.MainTechCap)
	res.Evolution = areaEvolution(areaYearCounts)

	a.logger.Debug("technology analysis complete",
		zap.Int("ipc_prefixes", len(res.IPCDistribution)),
		zap.Int("keywords", len(res.Keywords)),
		zap.Int("clusters", len(res.Clusters)))
	return res, nil
}

// ipcDistribution counts each distinct 4-character prefix once per record.
func ipcDistribution(records []types.PatentRecord) []types.IPCEntry {
	counts := make(map[string]int)
	total := 0
	for i := range records {
		seen := make(map[string]bool, len(records[i].IPCClasses))
		for _, class := range records[i].IPCClasses {
			p := ipcPrefix(class)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			counts[p]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	out := make([]types.IPCEntry, 0, len(counts))
	for prefix, count := range counts {
		out = append(out, types.IPCEntry{
			Prefix: prefix,
			Label:  ipcLabelFor(prefix),
			Count:  count,
			Share:  float64(count) / float64(total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Prefix < out[j].Prefix
	})
	return out
}

// rankKeywords orders extracted keywords by frequency, then lexically, and
// caps the list.
func rankKeywords(freq map[string]int, limit int) []string {
	out := make([]string, 0, len(freq))
	for kw := range freq {
		out = append(out, kw)
	}
	sort.Slice(out, func(i, j int) bool {
		if freq[out[i]] != freq[out[j]] {
			return freq[out[i]] > freq[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// clusterKeywords assigns each keyword to the first area whose seed set
// contains it; the rest form 其他技术. Clusters are ranked by size, then name.
func clusterKeywords(keywords []string, freq map[string]int) []types.KeywordCluster {
	grouped := make(map[string][]string)
	for _, kw := range keywords {
		assigned := false
		for _, area := range techAreas {
			if area.seeds[kw] {
				grouped[area.name] = append(grouped[area.name], kw)
				assigned = true
				break
			}
		}
		if !assigned {
			grouped["其他技术"] = append(grouped["其他技术"], kw)
		}
	}

	out := make([]types.KeywordCluster, 0, len(grouped))
	for area, kws := range grouped {
		sort.Slice(kws, func(i, j int) bool {
			if freq[kws[i]] != freq[kws[j]] {
				return freq[kws[i]] > freq[kws[j]]
			}
			return kws[i] < kws[j]
		})
		out = append(out, types.KeywordCluster{Area: area, Keywords: kws, Size: len(kws)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].Area < out[j].Area
	})
	return out
}

// mainTechnologies unions the top-3 IPC labels with the keywords of the
// largest cluster, in that order, deduplicated and capped.
func mainTechnologies(ipc []types.IPCEntry, clusters []types.KeywordCluster, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s == "" || seen[s] || len(out) >= limit {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for i, entry := range ipc {
		if i >= 3 {
			break
		}
		add(entry.Label)
	}
	if len(clusters) > 0 {
		for _, kw := range clusters[0].Keywords {
			add(kw)
		}
	}
	return out
}

// areaEvolution compares each area's early-half and late-half yearly averages
// and assigns a development verdict.
func areaEvolution(areaYearCounts map[string]map[int]int) []types.AreaEvolution {
	areas := make([]string, 0, len(areaYearCounts))
	for area := range areaYearCounts {
		areas = append(areas, area)
	}
	sort.Strings(areas)

	var out []types.AreaEvolution
	for _, area := range areas {
		counts := areaYearCounts[area]
		years := make([]int, 0, len(counts))
		for y := range counts {
			years = append(years, y)
		}
		sort.Ints(years)
		if len(years) < 2 {
			continue
		}

		half := len(years) / 2
		var early, late []float64
		for _, y := range years[:half] {
			early = append(early, float64(counts[y]))
		}
		for _, y := range years[half:] {
			late = append(late, float64(counts[y]))
		}
		earlyAvg, lateAvg := mean(early), mean(late)

		out = append(out, types.AreaEvolution{
			Area:         area,
			YearlyCounts: counts,
			EarlyAvg:     earlyAvg,
			LateAvg:      lateAvg,
			Verdict:      evolutionVerdict(earlyAvg, lateAvg),
		})
	}
	return out
}

// evolutionVerdict buckets the late/early ratio: ≥1.5 rapid, ≥1.1 steady,
// ≤0.7 declining, otherwise stable. A zero early average is rapid when the
// late half has any activity.
func evolutionVerdict(earlyAvg, lateAvg float64) string {
	if earlyAvg == 0 {
		if lateAvg > 0 {
			return "rapid"
		}
		return "stable"
	}
	ratio := lateAvg / earlyAvg
	switch {
	case ratio >= 1.5:
		return "rapid"
	case ratio >= 1.1:
		return "steady"
	case ratio <= 0.7:
		return "declining"
	default:
		return "stable"
	}
}
