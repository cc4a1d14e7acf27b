package driver

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"patlas/internal/analysis"
	"patlas/internal/types"
)

// Analysis depth accepted on a request. Basic runs the core modules,
// standard runs all of them, deep additionally runs the analysis twice and
// cross-checks the passes.
const (
	DepthBasic    = "basic"
	DepthStandard = "standard"
	DepthDeep     = "deep"
)

// Request is the typed form of an analysis ask. Callers may fill it
// partially; Normalize derives the missing pieces before Validate judges the
// result. Field tags mirror the task payload schemas so a request that
// validates here also clears the per-stage input checks.
type Request struct {
	// Content is the natural-language ask. It feeds keyword derivation when
	// no explicit keywords arrive.
	Content string `validate:"omitempty,max=2000"`
	// Keywords drive the search stage.
	Keywords []string `validate:"required,min=1,max=20"`
	// TimeRange filters search results to a year window, "2020-2024".
	TimeRange string `validate:"omitempty"`
	// FocusAreas may name analysis modules (English or Chinese); entries
	// that do not are folded into Keywords by Normalize.
	FocusAreas []string `validate:"omitempty,max=10"`
	// Depth is one of basic, standard or deep.
	Depth string `validate:"required,oneof=basic standard deep"`
	// SearchType overrides the default patent search.
	SearchType string `validate:"omitempty,oneof=general patent academic news"`
	// Limit caps search results per source.
	Limit int `validate:"omitempty,gte=1,lte=100"`
	// Title overrides the generated report title.
	Title string `validate:"omitempty,min=2,max=200"`
	// Formats selects report export formats; empty means the driver default.
	Formats []string `validate:"omitempty,min=1"`
}

var validate = validator.New()

var timeRangePattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// timeRangeSeparators rewrites the range punctuation seen in Chinese input
// to the canonical dash and drops the year suffix, so "2020年至2024年"
// becomes "2020-2024".
var timeRangeSeparators = strings.NewReplacer(
	"～", "-",
	"~", "-",
	"—", "-",
	"至", "-",
	"年", "",
	" ", "",
)

// kindNames maps accepted focus-area spellings to analysis kinds.
var kindNames = map[string]types.AnalysisKind{
	"trend":       types.AnalysisTrend,
	"trends":      types.AnalysisTrend,
	"趋势":          types.AnalysisTrend,
	"competition": types.AnalysisCompetition,
	"竞争":          types.AnalysisCompetition,
	"technology":  types.AnalysisTechnology,
	"技术":          types.AnalysisTechnology,
	"geographic":  types.AnalysisGeographic,
	"geography":   types.AnalysisGeographic,
	"地域":          types.AnalysisGeographic,
}

// Normalize trims and deduplicates the request in place. Focus areas that
// name an analysis kind are canonicalized; the rest broaden the keyword set.
// When no keywords survive, they are derived from Content.
func (r *Request) Normalize() {
	r.Content = strings.TrimSpace(r.Content)
	r.Depth = strings.ToLower(strings.TrimSpace(r.Depth))
	if r.Depth == "" {
		r.Depth = DepthStandard
	}
	r.SearchType = strings.ToLower(strings.TrimSpace(r.SearchType))
	r.TimeRange = timeRangeSeparators.Replace(strings.TrimSpace(r.TimeRange))
	r.Title = strings.TrimSpace(r.Title)

	r.Keywords = dedupeClean(r.Keywords, false)

	var kinds []string
	for _, area := range dedupeClean(r.FocusAreas, false) {
		if kind, ok := kindNames[strings.ToLower(area)]; ok {
			kinds = appendUnique(kinds, string(kind))
			continue
		}
		r.Keywords = appendUnique(r.Keywords, area)
	}
	r.FocusAreas = kinds

	if len(r.Keywords) == 0 && r.Content != "" {
		r.Keywords = keywordsFromContent(r.Content)
	}

	r.Formats = dedupeClean(r.Formats, true)
}

// Validate reports whether the normalized request is runnable. All problems
// are folded into a single validation error.
func (r *Request) Validate() error {
	var problems []string
	if err := validate.Struct(r); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return types.WrapError(types.ErrValidation, "request validation", err)
		}
		for _, fe := range ve {
			problems = append(problems, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
		}
	}
	if r.TimeRange != "" {
		m := timeRangePattern.FindStringSubmatch(r.TimeRange)
		if m == nil {
			problems = append(problems, fmt.Sprintf("TimeRange %q must look like 2020-2024", r.TimeRange))
		} else {
			from, _ := strconv.Atoi(m[1])
			to, _ := strconv.Atoi(m[2])
			if from > to {
				problems = append(problems, fmt.Sprintf("TimeRange %q runs backwards", r.TimeRange))
			}
		}
	}
	if len(problems) > 0 {
		return types.Errorf(types.ErrValidation, "invalid request: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AnalysisKinds resolves the modules the workflow should run. Explicit focus
// areas win; otherwise depth decides, with basic limited to the trend and
// competition modules.
func (r *Request) AnalysisKinds() []types.AnalysisKind {
	if len(r.FocusAreas) > 0 {
		out := make([]types.AnalysisKind, 0, len(r.FocusAreas))
		for _, area := range r.FocusAreas {
			out = append(out, types.AnalysisKind(area))
		}
		return out
	}
	if r.Depth == DepthBasic {
		return []types.AnalysisKind{types.AnalysisTrend, types.AnalysisCompetition}
	}
	return []types.AnalysisKind{
		types.AnalysisTrend,
		types.AnalysisCompetition,
		types.AnalysisTechnology,
		types.AnalysisGeographic,
	}
}

// SeriesID keys quality history so repeated asks about one topic share a
// lineage regardless of keyword order.
func (r *Request) SeriesID() string {
	ks := append([]string(nil), r.Keywords...)
	sort.Strings(ks)
	return strings.Join(ks, "+")
}

// =============================================================================
// KEYWORD DERIVATION
// =============================================================================

const maxDerivedKeywords = 8

// boilerplate lists tokens that carry no search signal when they stand alone
// in an ask.
var boilerplate = map[string]bool{
	"帮我": true, "我想": true, "一下": true, "关于": true,
	"分析": true, "研究": true, "调研": true, "了解": true,
	"专利": true, "报告": true, "领域": true, "方向": true,
	"趋势": true, "态势": true, "现状": true, "情况": true,
	"please": true, "analyze": true, "analysis": true, "research": true,
	"patent": true, "patents": true, "report": true, "trends": true,
	"the": true, "for": true, "and": true, "about": true,
}

// keywordsFromContent derives search keywords from a prose ask. Known
// technology vocabulary wins; otherwise the text is cut on whitespace and
// punctuation and request boilerplate is dropped.
func keywordsFromContent(content string) []string {
	if terms := analysis.DomainTerms(content); len(terms) > 0 {
		if len(terms) > maxDerivedKeywords {
			terms = terms[:maxDerivedKeywords]
		}
		return terms
	}

	fields := strings.FieldsFunc(content, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 || boilerplate[strings.ToLower(f)] {
			continue
		}
		out = appendUnique(out, f)
		if len(out) == maxDerivedKeywords {
			break
		}
	}
	return out
}

func dedupeClean(in []string, lower bool) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" {
			continue
		}
		out = appendUnique(out, s)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
