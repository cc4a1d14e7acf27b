// Package search implements the multi-source search aggregator: health-gated
// parallel fan-out over pluggable sources with retry, degraded-search and
// failover paths, followed by signature dedup, multi-dimension scoring,
// ranking and a diversity pass.
package search

import "time"

// SearchType selects the flavor of search a source performs.
type SearchType string

const (
	TypeGeneral  SearchType = "general"
	TypePatent   SearchType = "patent"
	TypeAcademic SearchType = "academic"
	TypeNews     SearchType = "news"
)

// Known source names. The aggregator accepts any registered source; these
// three carry authority weights and failover chains.
const (
	SourceCNKI  = "cnki"
	SourceBocha = "bocha"
	SourceWeb   = "web"

	// SourceEmergency marks placeholder records returned when every source
	// is down.
	SourceEmergency = "emergency"
)

// Query is one aggregated search request.
type Query struct {
	Keywords   []string   `json:"keywords"`
	SearchType SearchType `json:"search_type"`
	Limit      int        `json:"limit"`
	// Sources restricts the fan-out; empty means every registered source.
	Sources []string `json:"sources,omitempty"`
}

// Record is one search hit after aggregation. Score fields are filled by the
// scorer; the Is* flags record which degraded path produced the record and
// feed the authority score.
type Record struct {
	Title         string                 `json:"title"`
	URL           string                 `json:"url"`
	Content       string                 `json:"content"`
	Source        string                 `json:"source"`
	SearchType    SearchType             `json:"search_type"`
	PublishedYear int                    `json:"published_year,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	Relevance      float64 `json:"relevance_score"`
	Authority      float64 `json:"authority_score"`
	Freshness      float64 `json:"freshness_score"`
	Completeness   float64 `json:"completeness_score"`
	ContentQuality float64 `json:"content_quality_score"`
	FinalScore     float64 `json:"final_score"`

	IsDegraded          bool `json:"is_degraded,omitempty"`
	IsFailover          bool `json:"is_failover,omitempty"`
	IsEmergencyFallback bool `json:"is_emergency_fallback,omitempty"`
}

// MetaString reads a string metadata field, tolerating a nil map.
func (r *Record) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata[key].(string)
	return s
}

// setMeta writes a metadata field, allocating the map on first use.
func (r *Record) setMeta(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{}, 2)
	}
	r.Metadata[key] = value
}

// SourceReport summarizes how one source behaved during a query, for logging
// and workflow monitoring.
type SourceReport struct {
	Source   string        `json:"source"`
	Healthy  bool          `json:"healthy"`
	Records  int           `json:"records"`
	Degraded bool          `json:"degraded"`
	Failed   bool          `json:"failed"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}
