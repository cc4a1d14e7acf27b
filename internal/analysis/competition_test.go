package analysis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patlas/internal/types"
)

// applicantRecords fabricates count records per applicant name, all in 2022.
func applicantRecords(counts map[string]int) []types.PatentRecord {
	var out []types.PatentRecord
	for name, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, types.PatentRecord{
				ApplicationNumber: fmt.Sprintf("CN2022-%s-%d", name, i),
				Title:             "测试专利",
				Applicants:        []string{name},
				ApplicationDate:   "2022-06-15",
				IPCClasses:        []string{"G06F 17/00"},
				Country:           "CN",
			})
		}
	}
	return out
}

func newCompetition() *CompetitionAnalyzer {
	return NewCompetitionAnalyzer(CompetitionConfig{})
}

func TestCompetitionThreeApplicants(t *testing.T) {
	t.Parallel()

	res, err := newCompetition().Analyze(applicantRecords(map[string]int{
		"甲科技": 50, "乙科技": 30, "丙科技": 20,
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalApplicants)
	assert.Equal(t, 100, res.TotalPatents)
	assert.InDelta(t, 0.38, res.HHI, 1e-9)
	assert.InDelta(t, 1.0, res.CR4, 1e-9)
	assert.InDelta(t, 1.0, res.CR8, 1e-9)
	assert.InDelta(t, 0.2, res.Gini, 1e-9)
	assert.Equal(t, "高度集中", res.ConcentrationLevel)

	require.Len(t, res.TopApplicants, 3)
	assert.Equal(t, "甲科技", res.TopApplicants[0].Name)
	assert.InDelta(t, 0.5, res.TopApplicants[0].Share, 1e-9)
	assert.InDelta(t, 0.3, res.TopApplicants[1].Share, 1e-9)
	assert.InDelta(t, 0.2, res.TopApplicants[2].Share, 1e-9)
}

func TestCompetitionMetricBounds(t *testing.T) {
	t.Parallel()

	distributions := []map[string]int{
		{"a": 1},
		{"a": 1, "b": 1},
		{"a": 97, "b": 2, "c": 1},
		{"a": 5, "b": 5, "c": 5, "d": 5, "e": 5, "f": 5, "g": 5, "h": 5, "i": 5, "j": 5},
		{"a": 100, "b": 1, "c": 1, "d": 1, "e": 1},
	}
	for i, dist := range distributions {
		dist := dist
		t.Run(fmt.Sprintf("distribution_%d", i), func(t *testing.T) {
			t.Parallel()
			res, err := newCompetition().Analyze(applicantRecords(dist))
			require.NoError(t, err)

			n := float64(res.TotalApplicants)
			assert.GreaterOrEqual(t, res.HHI, 1/n-1e-9, "HHI lower bound is the uniform market")
			assert.LessOrEqual(t, res.HHI, 1.0+1e-9)
			assert.GreaterOrEqual(t, res.CR4, 0.0)
			assert.LessOrEqual(t, res.CR4, 1.0+1e-9)
			assert.GreaterOrEqual(t, res.Gini, 0.0)
			assert.LessOrEqual(t, res.Gini, 1.0)
		})
	}
}

func TestCompetitionNoApplicants(t *testing.T) {
	t.Parallel()

	_, err := newCompetition().Analyze([]types.PatentRecord{
		{ApplicationDate: "2022-01-01"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInsufficientData, types.KindOf(err))
}

func TestNormalizeApplicant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"华为技术有限公司", "华为技术"},
		{"国家电网股份有限公司", "国家电网"},
		{"  Acme Corp. ", "Acme"},
		{"Tencent Technology Co., Ltd.", "Tencent Technology"},
		{"Siemens GmbH", "Siemens"},
		{"Royal Philips N.V.", "Royal Philips"},
		{"T&T  Systems, Inc.", "TT Systems"},
		{"清华大学", "清华大学"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeApplicant(tt.in), "input %q", tt.in)
	}
}

func TestNormalizationMergesVariants(t *testing.T) {
	t.Parallel()

	records := []types.PatentRecord{
		{Applicants: []string{"华为技术有限公司"}, ApplicationDate: "2020-03-01"},
		{Applicants: []string{"华为技术"}, ApplicationDate: "2021-03-01"},
		{Applicants: []string{" 华为技术 有限公司"}, ApplicationDate: "2022-03-01"},
	}
	res, err := newCompetition().Analyze(records)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalApplicants)
	require.Len(t, res.TopApplicants, 1)
	profile := res.TopApplicants[0]
	assert.Equal(t, "华为技术", profile.Name)
	assert.Equal(t, 3, profile.PatentCount)
	assert.Equal(t, 3, profile.ActiveYears)
	assert.Len(t, profile.RawNames, 3)
}

func TestClassifyApplicant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"清华大学", "university"},
		{"中国科学院计算技术研究所", "research_institute"},
		{"中信集团", "conglomerate"},
		{"字节跳动科技", "tech_company"},
		{"三一重工机械", "manufacturer"},
		{"Qualcomm", "foreign_entity"},
		{"国家电网", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyApplicant(tt.name), "name %q", tt.name)
	}
}

func TestActivityScoreBounds(t *testing.T) {
	t.Parallel()

	big := &applicantStats{
		count:      200,
		yearCounts: map[int]int{2010: 1, 2011: 1, 2012: 1, 2013: 1, 2014: 1, 2015: 1, 2016: 1, 2017: 1, 2018: 1, 2019: 1, 2020: 1},
		countries:  map[string]bool{"CN": true, "US": true, "EP": true, "JP": true, "KR": true, "DE": true},
		ipc:        map[string]bool{"G06F": true, "G06N": true, "H04L": true, "H04W": true, "H01L": true, "G06Q": true, "G06T": true, "G06K": true, "H04N": true, "G01S": true, "A61B": true},
	}
	assert.InDelta(t, 100.0, activityScore(big), 1e-9)

	small := &applicantStats{count: 1, yearCounts: map[int]int{2022: 1}}
	got := activityScore(small)
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 10.0)
}

func TestEmergingApplicants(t *testing.T) {
	t.Parallel()

	var records []types.PatentRecord
	add := func(name, date string, n int) {
		for i := 0; i < n; i++ {
			records = append(records, types.PatentRecord{
				Applicants:      []string{name},
				ApplicationDate: date,
			})
		}
	}
	// Incumbent with long, flat history.
	for year := 2015; year <= 2024; year++ {
		add("老牌工业", fmt.Sprintf("%d-06-01", year), 5)
	}
	// New entrant: files only in the last two years.
	add("新锐智能", "2023-03-01", 2)
	add("新锐智能", "2024-03-01", 2)
	// Rapid grower: one early filing, seven recent.
	add("升势数字", "2019-05-01", 1)
	add("升势数字", "2023-05-01", 3)
	add("升势数字", "2024-05-01", 4)

	res, err := newCompetition().Analyze(records)
	require.NoError(t, err)

	byName := map[string]types.EmergingApplicant{}
	for _, e := range res.Emerging {
		byName[e.Name] = e
	}
	require.Len(t, byName, 2, "the incumbent must not be flagged")

	entrant := byName["新锐智能"]
	assert.Equal(t, "new_entrant", entrant.Type)
	assert.Equal(t, 4, entrant.RecentCount)
	assert.Equal(t, 0, entrant.EarlyCount)
	assert.InDelta(t, 400.0, entrant.GrowthRate, 1e-9)

	grower := byName["升势数字"]
	assert.Equal(t, "rapid_growth", grower.Type)
	assert.Equal(t, 7, grower.RecentCount)
	assert.Equal(t, 1, grower.EarlyCount)
	assert.InDelta(t, 600.0, grower.GrowthRate, 1e-9)
}

func TestDirectCompetitors(t *testing.T) {
	t.Parallel()

	records := []types.PatentRecord{}
	add := func(name string, n int, ipc ...string) {
		for i := 0; i < n; i++ {
			records = append(records, types.PatentRecord{
				Applicants:      []string{name},
				ApplicationDate: "2022-01-01",
				IPCClasses:      ipc,
			})
		}
	}
	add("迅视光电", 10, "G06F 17/00", "G06N 3/08", "H04L 29/06")
	add("睿图智能", 8, "G06F 1/16", "G06N 20/00")
	add("晶圆先进", 6, "H01L 21/02")

	res, err := newCompetition().Analyze(records)
	require.NoError(t, err)

	require.Len(t, res.DirectCompetitors, 1)
	pair := res.DirectCompetitors[0]
	assert.Equal(t, "迅视光电", pair.A)
	assert.Equal(t, "睿图智能", pair.B)
	assert.InDelta(t, 2.0/3.0, pair.Similarity, 1e-9)
	assert.Equal(t, []string{"G06F", "G06N"}, pair.SharedIPC)
}

func TestTemporalCompetition(t *testing.T) {
	t.Parallel()

	records := []types.PatentRecord{
		{Applicants: []string{"甲"}, ApplicationDate: "2020-01-01"},
		{Applicants: []string{"甲"}, ApplicationDate: "2021-01-01"},
		{Applicants: []string{"乙"}, ApplicationDate: "2021-06-01"},
		{Applicants: []string{"乙"}, ApplicationDate: "2022-06-01"},
		{Applicants: []string{"丙"}, ApplicationDate: "2022-09-01"},
	}
	res, err := newCompetition().Analyze(records)
	require.NoError(t, err)

	require.Len(t, res.Temporal, 3)
	assert.Equal(t, 2020, res.Temporal[0].Year)
	assert.Equal(t, 1, res.Temporal[0].ActiveApplicants)
	assert.Equal(t, 1, res.Temporal[0].NewEntrants)
	assert.InDelta(t, 1.0, res.Temporal[0].HHI, 1e-9)

	assert.Equal(t, 2021, res.Temporal[1].Year)
	assert.Equal(t, 2, res.Temporal[1].ActiveApplicants)
	assert.Equal(t, 1, res.Temporal[1].NewEntrants)
	assert.InDelta(t, 0.5, res.Temporal[1].HHI, 1e-9)

	assert.Equal(t, 2022, res.Temporal[2].Year)
	assert.Equal(t, 1, res.Temporal[2].NewEntrants)
	assert.Greater(t, res.Temporal[2].Score, res.Temporal[0].Score,
		"more players and entrants score as more competitive")
}

func TestConcentrationLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hhi  float64
		cr4  float64
		want string
	}{
		{0.38, 1.0, "高度集中"},
		{0.20, 0.3, "中度集中"},
		{0.12, 0.2, "适度集中"},
		{0.05, 0.2, "竞争充分"},
		{0.05, 0.65, "高度集中"},
		{0.05, 0.45, "中度集中"},
		{0.05, 0.3, "适度集中"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, concentrationLevel(tt.hhi, tt.cr4),
			"hhi=%v cr4=%v", tt.hhi, tt.cr4)
	}
}
