package analysis

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"patlas/internal/logging"
	"patlas/internal/types"
)

// CompetitionConfig controls the competition analyzer.
type CompetitionConfig struct {
	// TopApplicants bounds the profile list and the competitor pairing.
	TopApplicants int
	// RecentYears is the trailing window for emerging-applicant detection.
	RecentYears int
	// SimilarityThreshold is the minimum IPC Jaccard for a competitor pair.
	SimilarityThreshold float64
	Logger              *zap.Logger
}

func (c *CompetitionConfig) applyDefaults() {
	if c.TopApplicants <= 0 {
		c.TopApplicants = 10
	}
	if c.RecentYears <= 0 {
		c.RecentYears = 3
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.3
	}
}

// CompetitionAnalyzer computes applicant concentration and rivalry metrics.
type CompetitionAnalyzer struct {
	cfg    CompetitionConfig
	logger *zap.Logger
}

// NewCompetitionAnalyzer creates a CompetitionAnalyzer from cfg.
func NewCompetitionAnalyzer(cfg CompetitionConfig) *CompetitionAnalyzer {
	cfg.applyDefaults()
	return &CompetitionAnalyzer{cfg: cfg, logger: logging.Named(cfg.Logger, "competition")}
}

// applicantStats accumulates one normalized applicant's footprint.
type applicantStats struct {
	name       string
	rawNames   map[string]bool
	count      int
	yearCounts map[int]int
	countries  map[string]bool
	ipc        map[string]bool
	firstYear  int
}

// Analyze computes the competition result. Every applicant listed on a
// record is credited once for it; shares are taken over the credited total.
func (a *CompetitionAnalyzer) Analyze(records []types.PatentRecord) (*types.CompetitionResult, error) {
	stats := a.collect(records)
	if len(stats) == 0 {
		return nil, types.NewError(types.ErrInsufficientData,
			"competition: no applicant names in the record set")
	}

	ordered := make([]*applicantStats, 0, len(stats))
	creditTotal := 0
	for _, st := range stats {
		ordered = append(ordered, st)
		creditTotal += st.count
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].name < ordered[j].name
	})

	shares := make([]float64, len(ordered))
	hhi := 0.0
	for i, st := range ordered {
		shares[i] = float64(st.count) / float64(creditTotal)
		hhi += shares[i] * shares[i]
	}
	counts := make([]float64, len(ordered))
	for i, st := range ordered {
		counts[i] = float64(st.count)
	}

	res := &types.CompetitionResult{
		TotalApplicants:  len(ordered),
		TotalPatents:     len(records),
		HHI:              hhi,
		CR4:              topShare(shares, 4),
		CR8:              topShare(shares, 8),
		Gini:             gini(counts),
		TypeDistribution: make(map[string]int),
	}
	res.ConcentrationLevel = concentrationLevel(res.HHI, res.CR4)

	for _, st := range ordered {
		res.TypeDistribution[classifyApplicant(st.name)]++
	}

	top := ordered
	if len(top) > a.cfg.TopApplicants {
		top = top[:a.cfg.TopApplicants]
	}
	res.TopApplicants = make([]types.ApplicantProfile, 0, len(top))
	for i, st := range top {
		res.TopApplicants = append(res.TopApplicants, types.ApplicantProfile{
			Name:          st.name,
			RawNames:      sortedKeys(st.rawNames),
			PatentCount:   st.count,
			Share:         shares[i],
			Type:          classifyApplicant(st.name),
			ActivityScore: activityScore(st),
			ActiveYears:   len(st.yearCounts),
			Countries:     len(st.countries),
			TechAreas:     len(st.ipc),
		})
	}

	res.Emerging = a.findEmerging(ordered)
	res.DirectCompetitors = a.pairCompetitors(top)
	res.Temporal = temporalCompetition(ordered)

	a.logger.Debug("competition analysis complete",
		zap.Int("applicants", res.TotalApplicants),
		zap.Float64("hhi", res.HHI),
		zap.String("level", res.ConcentrationLevel))
	return res, nil
}

// collect normalizes applicant names and accumulates per-applicant stats.
func (a *CompetitionAnalyzer) collect(records []types.PatentRecord) map[string]*applicantStats {
	stats := make(map[string]*applicantStats)
	for i := range records {
		rec := &records[i]
		year := 0
		if fd, ok := parseFilingDate(rec.ApplicationDate); ok {
			year = fd.Year
		}
		for _, raw := range rec.Applicants {
			name := NormalizeApplicant(raw)
			if name == "" {
				continue
			}
			st := stats[name]
			if st == nil {
				st = &applicantStats{
					name:       name,
					rawNames:   make(map[string]bool),
					yearCounts: make(map[int]int),
					countries:  make(map[string]bool),
					ipc:        make(map[string]bool),
				}
				stats[name] = st
			}
			st.rawNames[strings.TrimSpace(raw)] = true
			st.count++
			if year > 0 {
				st.yearCounts[year]++
				if st.firstYear == 0 || year < st.firstYear {
					st.firstYear = year
				}
			}
			if rec.Country != "" {
				st.countries[rec.Country] = true
			}
			for _, class := range rec.IPCClasses {
				if p := ipcPrefix(class); p != "" {
					st.ipc[p] = true
				}
			}
		}
	}
	return stats
}

// corporateSuffixes are stripped repeatedly from the end of applicant names
// during normalization, longest first so 股份有限公司 wins over 有限公司.
var corporateSuffixes = []string{
	"股份有限公司", "有限公司",
	"Corporation", "Company", "Limited", "Corp.", "Ltd.", "Inc.", "LLC",
	"Co.", "GmbH", "S.A.", "N.V.",
}

// NormalizeApplicant canonicalizes an applicant name: trim, strip corporate
// suffixes until none match, collapse whitespace, and drop punctuation
// (letters, digits and spaces survive; CJK counts as letters). Separator
// trimming between rounds keeps the dot so "Co., Ltd." strips fully.
func NormalizeApplicant(raw string) string {
	name := strings.TrimSpace(raw)
	for {
		name = strings.TrimRight(name, " ,，、")
		stripped := false
		for _, suffix := range corporateSuffixes {
			if len(name) < len(suffix) {
				continue
			}
			tail := name[len(name)-len(suffix):]
			if strings.EqualFold(tail, suffix) {
				name = name[:len(name)-len(suffix)]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func topShare(shares []float64, n int) float64 {
	sum := 0.0
	for i, s := range shares {
		if i >= n {
			break
		}
		sum += s
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

// concentrationLevel buckets the market per HHI and CR4.
func concentrationLevel(hhi, cr4 float64) string {
	switch {
	case hhi > 0.25 || cr4 > 0.6:
		return "高度集中"
	case hhi > 0.15 || cr4 > 0.4:
		return "中度集中"
	case hhi > 0.1 || cr4 > 0.25:
		return "适度集中"
	default:
		return "竞争充分"
	}
}

// applicantClasses drive type classification; first match wins, checked in
// order. Research institutes come before universities because 科学院 would
// otherwise match 学院.
var applicantClasses = []struct {
	label    string
	keywords []string
}{
	{"research_institute", []string{"研究院", "研究所", "科学院", "Institute", "Academy", "Research", "Laboratory"}},
	{"university", []string{"大学", "学院", "University", "College", "Univ"}},
	{"conglomerate", []string{"集团", "控股", "Group", "Holdings"}},
	{"tech_company", []string{"科技", "技术", "软件", "网络", "信息", "智能", "Technology", "Software", "Tech", "Digital"}},
	{"manufacturer", []string{"制造", "工业", "机械", "电子", "电器", "Manufacturing", "Industries", "Electronics", "Motor"}},
}

// classifyApplicant assigns the applicant type. Names without any CJK
// characters that match no class fall back to foreign_entity.
func classifyApplicant(name string) string {
	lowered := strings.ToLower(name)
	for _, class := range applicantClasses {
		for _, kw := range class.keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return class.label
			}
		}
	}
	for _, r := range name {
		if unicode.Is(unicode.Han, r) {
			return "other"
		}
	}
	if name != "" {
		return "foreign_entity"
	}
	return "other"
}

// activityScore blends filing volume, tenure, geographic reach and technical
// breadth into [0,100].
func activityScore(st *applicantStats) float64 {
	score := 0.4*math.Min(float64(st.count)/100, 1) +
		0.3*math.Min(float64(len(st.yearCounts))/10, 1) +
		0.15*math.Min(float64(len(st.countries))/5, 1) +
		0.15*math.Min(float64(len(st.ipc))/10, 1)
	return score * 100
}

// findEmerging flags applicants whose recent filings dwarf their early ones.
func (a *CompetitionAnalyzer) findEmerging(ordered []*applicantStats) []types.EmergingApplicant {
	maxYear := 0
	for _, st := range ordered {
		for y := range st.yearCounts {
			if y > maxYear {
				maxYear = y
			}
		}
	}
	if maxYear == 0 {
		return nil
	}
	cutoff := maxYear - a.cfg.RecentYears + 1

	var out []types.EmergingApplicant
	for _, st := range ordered {
		recentCount, earlyCount := 0, 0
		for y, c := range st.yearCounts {
			if y >= cutoff {
				recentCount += c
			} else {
				earlyCount += c
			}
		}
		if recentCount < 3 {
			continue
		}
		if earlyCount != 0 && recentCount <= 2*earlyCount {
			continue
		}
		kind := "rapid_growth"
		if earlyCount == 0 {
			kind = "new_entrant"
		}
		growth := (float64(recentCount-earlyCount) / math.Max(float64(earlyCount), 1)) * 100
		out = append(out, types.EmergingApplicant{
			Name:        st.name,
			RecentCount: recentCount,
			EarlyCount:  earlyCount,
			GrowthRate:  growth,
			Type:        kind,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GrowthRate != out[j].GrowthRate {
			return out[i].GrowthRate > out[j].GrowthRate
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > a.cfg.TopApplicants {
		out = out[:a.cfg.TopApplicants]
	}
	return out
}

// pairCompetitors reports top-applicant pairs whose IPC prefix sets overlap
// beyond the similarity threshold.
func (a *CompetitionAnalyzer) pairCompetitors(top []*applicantStats) []types.CompetitorPair {
	var out []types.CompetitorPair
	for i := 0; i < len(top); i++ {
		for j := i + 1; j < len(top); j++ {
			sim := jaccardSets(top[i].ipc, top[j].ipc)
			if sim <= a.cfg.SimilarityThreshold {
				continue
			}
			shared := make([]string, 0, len(top[i].ipc))
			for p := range top[i].ipc {
				if top[j].ipc[p] {
					shared = append(shared, p)
				}
			}
			sort.Strings(shared)
			out = append(out, types.CompetitorPair{
				A:          top[i].name,
				B:          top[j].name,
				Similarity: sim,
				SharedIPC:  shared,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func jaccardSets(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// temporalCompetition computes per-year concentration, entrants and activity,
// plus a combined competitiveness score with the three components weighted
// equally.
func temporalCompetition(ordered []*applicantStats) []types.YearCompetition {
	perYear := make(map[int]map[string]int)
	for _, st := range ordered {
		for y, c := range st.yearCounts {
			if perYear[y] == nil {
				perYear[y] = make(map[string]int)
			}
			perYear[y][st.name] = c
		}
	}
	if len(perYear) == 0 {
		return nil
	}

	years := make([]int, 0, len(perYear))
	for y := range perYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]types.YearCompetition, 0, len(years))
	for _, y := range years {
		applicants := perYear[y]
		total := 0
		for _, c := range applicants {
			total += c
		}
		hhi := 0.0
		if total > 0 {
			for _, c := range applicants {
				share := float64(c) / float64(total)
				hhi += share * share
			}
		}
		entrants := 0
		for _, st := range ordered {
			if st.firstYear == y {
				entrants++
			}
		}
		score := ((1 - hhi) +
			math.Min(float64(entrants)/10, 1) +
			math.Min(float64(len(applicants))/20, 1)) / 3
		out = append(out, types.YearCompetition{
			Year:             y,
			HHI:              hhi,
			NewEntrants:      entrants,
			ActiveApplicants: len(applicants),
			Score:            score,
		})
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ipcPrefix extracts the uppercase 4-character IPC prefix.
func ipcPrefix(class string) string {
	class = strings.ToUpper(strings.TrimSpace(class))
	if class == "" {
		return ""
	}
	if len(class) > 4 {
		return class[:4]
	}
	return class
}
