package types

import "time"

// =============================================================================
// ANALYSIS RESULTS
// =============================================================================

// AnalysisKind discriminates AnalysisResult variants.
type AnalysisKind string

const (
	AnalysisTrend       AnalysisKind = "trend"
	AnalysisCompetition AnalysisKind = "competition"
	AnalysisTechnology  AnalysisKind = "technology"
	AnalysisGeographic  AnalysisKind = "geographic"
)

// AnalysisResult is the tagged union produced by the analyzers. Exactly one
// variant pointer is non-nil, matching Kind; downstream code switches on Kind.
type AnalysisResult struct {
	Kind        AnalysisKind       `json:"kind"`
	Trend       *TrendResult       `json:"trend,omitempty"`
	Competition *CompetitionResult `json:"competition,omitempty"`
	Technology  *TechnologyResult  `json:"technology,omitempty"`
	Geographic  *GeographicResult  `json:"geographic,omitempty"`
}

// AnalysisBundle groups the variants produced by one analysis run.
type AnalysisBundle struct {
	Trend       *TrendResult       `json:"trend,omitempty"`
	Competition *CompetitionResult `json:"competition,omitempty"`
	Technology  *TechnologyResult  `json:"technology,omitempty"`
	Geographic  *GeographicResult  `json:"geographic,omitempty"`
	PatentCount int                `json:"patent_count"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Modules lists which analysis variants the bundle carries.
func (b *AnalysisBundle) Modules() []AnalysisKind {
	var out []AnalysisKind
	if b.Trend != nil {
		out = append(out, AnalysisTrend)
	}
	if b.Competition != nil {
		out = append(out, AnalysisCompetition)
	}
	if b.Technology != nil {
		out = append(out, AnalysisTechnology)
	}
	if b.Geographic != nil {
		out = append(out, AnalysisGeographic)
	}
	return out
}

// -----------------------------------------------------------------------------
// Trend
// -----------------------------------------------------------------------------

// TrendDirection is the overall movement verdict of a patent time series.
type TrendDirection string

const (
	DirectionIncreasing TrendDirection = "increasing"
	DirectionStable     TrendDirection = "stable"
	DirectionDecreasing TrendDirection = "decreasing"
)

// Growth pattern labels assigned from mean year-over-year growth.
const (
	PatternRapidGrowth    = "rapid_growth"
	PatternSteadyGrowth   = "steady_growth"
	PatternModerateGrowth = "moderate_growth"
	PatternFluctuating    = "fluctuating"
	PatternDeclining      = "declining"
	PatternRapidDecline   = "rapid_decline"
)

// PredictedYear is the forecast for a single future year across methods.
type PredictedYear struct {
	Year     int                `json:"year"`
	Methods  map[string]float64 `json:"methods"` // method name -> predicted count
	Ensemble float64            `json:"ensemble"`
	Min      float64            `json:"min"`
	Max      float64            `json:"max"`
	Std      float64            `json:"std"`
}

// SeasonalityResult reports monthly filing seasonality.
type SeasonalityResult struct {
	Present       bool            `json:"present"`
	CV            float64         `json:"cv"`
	MonthlyTotals map[int]float64 `json:"monthly_totals"` // month 1-12 -> mean count
	PeakMonth     int             `json:"peak_month"`
	TroughMonth   int             `json:"trough_month"`
}

// Outlier marks an anomalous yearly count.
type Outlier struct {
	Year       int      `json:"year"`
	Count      int      `json:"count"`
	Side       string   `json:"side"` // high | low
	ZScore     float64  `json:"z_score"`
	ByIQR      bool     `json:"by_iqr"`
	Hypothesis []string `json:"hypothesis,omitempty"`
}

// DirectionAssessment carries the weighted-vote outcome of direction
// analysis.
type DirectionAssessment struct {
	Direction  TrendDirection     `json:"direction"`
	Confidence float64            `json:"confidence"`
	Strength   float64            `json:"strength"`
	Votes      map[string]string  `json:"votes"`  // signal name -> direction
	Scores     map[string]float64 `json:"scores"` // direction -> weight sum
}

// TrendResult is the full output of the trend analyzer.
type TrendResult struct {
	YearlyCounts    map[int]int         `json:"yearly_counts"`
	MonthlyCounts   map[string]int      `json:"monthly_counts"`   // "YYYY-MM"
	QuarterlyCounts map[string]int      `json:"quarterly_counts"` // "YYYY-Qn"
	MovingAverage   map[int]float64     `json:"moving_average"`
	GrowthRates     map[int]float64     `json:"growth_rates"` // percent YoY
	MeanGrowthRate  float64             `json:"mean_growth_rate"`
	CAGR            float64             `json:"cagr"` // percent; NaN-free, 0 when invalid
	CAGRValid       bool                `json:"cagr_valid"`
	Slope           float64             `json:"slope"`
	Correlation     float64             `json:"correlation"`
	Pattern         string              `json:"pattern"`
	Direction       DirectionAssessment `json:"direction"`
	Predictions     []PredictedYear     `json:"predictions,omitempty"`
	Confidence      float64             `json:"confidence"`
	ConfidenceGrade string              `json:"confidence_grade"`
	Seasonality     *SeasonalityResult  `json:"seasonality,omitempty"`
	Outliers        []Outlier           `json:"outliers,omitempty"`
	DataPoints      int                 `json:"data_points"`
	YearSpan        [2]int              `json:"year_span"` // [first, last]
}

// -----------------------------------------------------------------------------
// Competition
// -----------------------------------------------------------------------------

// ApplicantProfile aggregates one applicant's footprint.
type ApplicantProfile struct {
	Name          string   `json:"name"`
	RawNames      []string `json:"raw_names,omitempty"`
	PatentCount   int      `json:"patent_count"`
	Share         float64  `json:"share"`
	Type          string   `json:"type"`
	ActivityScore float64  `json:"activity_score"` // [0,100]
	ActiveYears   int      `json:"active_years"`
	Countries     int      `json:"countries"`
	TechAreas     int      `json:"tech_areas"`
}

// EmergingApplicant flags a fast-rising filer.
type EmergingApplicant struct {
	Name        string  `json:"name"`
	RecentCount int     `json:"recent_count"`
	EarlyCount  int     `json:"early_count"`
	GrowthRate  float64 `json:"growth_rate"` // percent
	Type        string  `json:"type"`        // new_entrant | rapid_growth
}

// CompetitorPair reports two applicants with overlapping technology focus.
type CompetitorPair struct {
	A          string   `json:"a"`
	B          string   `json:"b"`
	Similarity float64  `json:"similarity"`
	SharedIPC  []string `json:"shared_ipc,omitempty"`
}

// YearCompetition is the per-year competition snapshot.
type YearCompetition struct {
	Year             int     `json:"year"`
	HHI              float64 `json:"hhi"`
	NewEntrants      int     `json:"new_entrants"`
	ActiveApplicants int     `json:"active_applicants"`
	Score            float64 `json:"score"` // [0,1], higher = more competitive
}

// CompetitionResult is the full output of the competition analyzer.
type CompetitionResult struct {
	TotalApplicants    int                 `json:"total_applicants"`
	TotalPatents       int                 `json:"total_patents"`
	HHI                float64             `json:"hhi"`
	CR4                float64             `json:"cr4"`
	CR8                float64             `json:"cr8"`
	Gini               float64             `json:"gini"`
	ConcentrationLevel string              `json:"concentration_level"`
	TopApplicants      []ApplicantProfile  `json:"top_applicants"`
	TypeDistribution   map[string]int      `json:"type_distribution"`
	Emerging           []EmergingApplicant `json:"emerging,omitempty"`
	DirectCompetitors  []CompetitorPair    `json:"direct_competitors,omitempty"`
	Temporal           []YearCompetition   `json:"temporal,omitempty"`
}

// -----------------------------------------------------------------------------
// Technology
// -----------------------------------------------------------------------------

// IPCEntry is one row of the IPC prefix distribution.
type IPCEntry struct {
	Prefix string  `json:"prefix"`
	Label  string  `json:"label"`
	Count  int     `json:"count"`
	Share  float64 `json:"share"`
}

// KeywordCluster groups extracted keywords under a technology area.
type KeywordCluster struct {
	Area     string   `json:"area"`
	Keywords []string `json:"keywords"`
	Size     int      `json:"size"`
}

// AreaEvolution is the per-area development verdict.
type AreaEvolution struct {
	Area         string      `json:"area"`
	YearlyCounts map[int]int `json:"yearly_counts"`
	EarlyAvg     float64     `json:"early_avg"`
	LateAvg      float64     `json:"late_avg"`
	Verdict      string      `json:"verdict"` // rapid | steady | declining | stable
}

// TechnologyResult is the full output of the technology classifier.
type TechnologyResult struct {
	IPCDistribution  []IPCEntry       `json:"ipc_distribution"`
	Keywords         []string         `json:"keywords"`
	Clusters         []KeywordCluster `json:"clusters"`
	MainTechnologies []string         `json:"main_technologies"`
	Evolution        []AreaEvolution  `json:"evolution,omitempty"`
	TotalPatents     int              `json:"total_patents"`
}

// -----------------------------------------------------------------------------
// Geographic
// -----------------------------------------------------------------------------

// CountryEntry is one row of the country distribution.
type CountryEntry struct {
	Country string  `json:"country"`
	Count   int     `json:"count"`
	Share   float64 `json:"share"`
}

// GeographicResult is the country-level distribution of filings.
type GeographicResult struct {
	Distribution []CountryEntry `json:"distribution"`
	TopCountry   string         `json:"top_country"`
	TotalPatents int            `json:"total_patents"`
}
